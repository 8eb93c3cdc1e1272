package main

import (
	"context"
	"flag"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/search"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

func main() {
	businessId := flag.String("business-id", "", "Business ID to backfill (required)")
	idsCSV := flag.String("ids", "", "Comma separated product ids (optional; default = all missing/stale)")
	force := flag.Bool("force", false, "Re-embed even products that already have a vector")
	batchSize := flag.Int("batch-size", 50, "Products per embedding batch")
	flag.Parse()

	if strings.TrimSpace(*businessId) == "" {
		panic("business-id is required")
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		panic("database not initialized")
	}
	logger := config.GetLogger()

	embedder, err := search.NewHttpEmbedderFromEnv()
	if err != nil {
		panic(err)
	}

	var ids []int
	for _, part := range strings.Split(*idsCSV, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			panic("bad product id: " + part)
		}
		ids = append(ids, id)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), strings.TrimSpace(*businessId))

	pipeline := search.NewEmbeddingPipeline(models.CatalogStore{}, embedder)
	pipeline.BatchSize = *batchSize

	stats, err := pipeline.UpdateBatch(ctx, ids, *force)
	if err != nil {
		panic(err)
	}

	logger.WithFields(logrus.Fields{
		"business_id": *businessId,
		"model":       embedder.ModelName(),
		"total":       stats.Total,
		"updated":     stats.Updated,
		"skipped":     stats.Skipped,
		"errors":      stats.Errors,
	}).Info("embedding backfill finished")
}
