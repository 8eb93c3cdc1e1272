package config

import (
	"os"
	"strings"
)

// HybridSearchEnabled toggles keyword-rank blending in semantic search.
// Vector-only ranking is used when this is off.
//
// Set via env:
// - HYBRID_SEARCH_ENABLED=true (default true)
func HybridSearchEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("HYBRID_SEARCH_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SyncEmbeddingRefreshEnabled controls whether a successful catalog upsert
// also queues an embedding refresh for that product. Disable when running
// large backfills where embeddings are regenerated separately.
//
// Set via env:
// - SYNC_EMBEDDING_REFRESH=false
func SyncEmbeddingRefreshEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_EMBEDDING_REFRESH")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SyncDeactivateMissing controls the post-sync pass that deactivates products
// absent from a clean full sync. Products are never hard-deleted.
//
// Set via env:
// - SYNC_DEACTIVATE_MISSING=true (default true)
func SyncDeactivateMissing() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_DEACTIVATE_MISSING")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
