package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// ProductStore is the persistence slice the pipeline needs.
// models.CatalogStore satisfies it.
type ProductStore interface {
	GetProductSearchDoc(ctx context.Context, id int) (*models.ProductSearchDoc, error)
	ProductIdsForEmbedding(ctx context.Context, ids []int, force bool) ([]int, error)
	SaveProductEmbedding(ctx context.Context, id int, vec models.Vector) error
}

type EmbeddingBatchStats struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// EmbeddingPipeline owns all writes to embedding columns. Sync never
// touches them; the pipeline never touches business fields.
type EmbeddingPipeline struct {
	store    ProductStore
	embedder Embedder
	logger   *logrus.Logger

	BatchSize int
}

func NewEmbeddingPipeline(store ProductStore, embedder Embedder) *EmbeddingPipeline {
	return &EmbeddingPipeline{
		store:     store,
		embedder:  embedder,
		logger:    config.GetLogger(),
		BatchSize: utils.EnvInt("EMBEDDING_BATCH_SIZE", 50),
	}
}

// UpdateOne embeds a single product. A product whose vector is still
// current is a no-op unless force is set, so sync hooks can call this for
// every upsert without redundant model traffic. A vector older than the
// product's last field change counts as stale and is refreshed.
func (p *EmbeddingPipeline) UpdateOne(ctx context.Context, productId int, force bool) error {
	doc, err := p.store.GetProductSearchDoc(ctx, productId)
	if err != nil {
		return err
	}
	if !force && !doc.EmbeddingStale() {
		return nil
	}

	text := BuildText(doc)
	if text == "" {
		return fmt.Errorf("product %d produced empty embedding text", productId)
	}

	vectors, err := p.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed product %d: %w", productId, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedder returned %d vectors for one input", len(vectors))
	}

	vec := models.Vector(vectors[0])
	if len(vec) != p.embedder.Dimension() {
		return fmt.Errorf("embedding dimension %d, expected %d", len(vec), p.embedder.Dimension())
	}
	// A zero vector is the upstream's way of failing quietly; storing it
	// would poison similarity ranking for this product.
	if vec.IsZero() {
		return errors.New("embedder returned an all-zero vector")
	}

	return p.store.SaveProductEmbedding(ctx, productId, vec)
}

// UpdateBatch embeds a candidate set in bounded slices. One product's
// failure never stops the batch; outcomes are aggregated in the stats.
func (p *EmbeddingPipeline) UpdateBatch(ctx context.Context, ids []int, force bool) (*EmbeddingBatchStats, error) {
	candidates, err := p.store.ProductIdsForEmbedding(ctx, ids, force)
	if err != nil {
		return nil, err
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	stats := &EmbeddingBatchStats{Total: len(candidates)}
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, id := range candidates[start:end] {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			default:
			}

			doc, err := p.store.GetProductSearchDoc(ctx, id)
			if err != nil {
				stats.Errors++
				config.LogError(p.logger, "search", "UpdateBatch", "loading product failed",
					map[string]interface{}{"productId": id}, err)
				continue
			}
			if !force && !doc.EmbeddingStale() {
				stats.Skipped++
				continue
			}
			if err := p.UpdateOne(ctx, id, force); err != nil {
				stats.Errors++
				config.LogError(p.logger, "search", "UpdateBatch", "embedding product failed",
					map[string]interface{}{"productId": id}, err)
				continue
			}
			stats.Updated++
		}
	}

	p.logger.WithFields(logrus.Fields{
		"total":   stats.Total,
		"updated": stats.Updated,
		"skipped": stats.Skipped,
		"errors":  stats.Errors,
	}).Info("embedding batch finished")

	return stats, nil
}

// SyncHook adapts the pipeline into the sync orchestrator's post-item
// callback shape: refresh the product's embedding after every write.
func (p *EmbeddingPipeline) SyncHook(ctx context.Context, productId int) error {
	if !config.SyncEmbeddingRefreshEnabled() {
		return nil
	}
	// Force because sync just rewrote the fields the text is built from.
	return p.UpdateOne(ctx, productId, true)
}
