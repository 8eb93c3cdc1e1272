package models

import (
	"log"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
)

// MigrateTable creates/updates the schema. The pgvector extension must exist
// before AutoMigrate sees the vector column type.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("skipping migration: db not initialized")
		return
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		log.Printf("failed to create pgvector extension: %v", err)
	}

	err := db.AutoMigrate(
		&ProductCategory{},
		&Brand{},
		&Product{},
		&ErpConnection{},
		&CatalogSyncRun{},
		&CatalogSyncError{},
	)
	if err != nil {
		log.Printf("auto migration failed: %v", err)
	}

	// ANN index for cosine search plus the keyword-rank index used by hybrid
	// search. Both are idempotent.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_products_embedding ON products
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS idx_products_fulltext ON products
		   USING gin (to_tsvector('simple', name || ' ' || coalesce(description, '')))`,
	}
	for _, ddl := range indexes {
		if err := db.Exec(ddl).Error; err != nil {
			log.Printf("failed to create index: %v", err)
		}
	}
}
