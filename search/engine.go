package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

type VectorSearchResult struct {
	EntityId int               `json:"entityId"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
	Distance float64           `json:"distance"`
}

// SearchFilters are structural constraints applied before similarity
// ranking. All fields are optional and conjunctive.
type SearchFilters struct {
	CategoryId   int              `json:"categoryId"`
	BrandId      int              `json:"brandId"`
	MinPrice     *decimal.Decimal `json:"minPrice"`
	MaxPrice     *decimal.Decimal `json:"maxPrice"`
	MinStock     *decimal.Decimal `json:"minStock"`
	InStockOnly  bool             `json:"inStockOnly"`
	FeaturedOnly bool             `json:"featuredOnly"`
	OnSaleOnly   bool             `json:"onSaleOnly"`
}

type SearchOptions struct {
	TopK          int           `json:"topK"`
	MinScore      float64       `json:"minScore"`
	Hybrid        bool          `json:"hybrid"`
	VectorWeight  float64       `json:"vectorWeight"`
	KeywordWeight float64       `json:"keywordWeight"`
	Filters       SearchFilters `json:"filters"`
}

const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

func (o *SearchOptions) normalize() {
	if o.TopK <= 0 {
		o.TopK = config.SearchLimit
	}
	if o.VectorWeight == 0 && o.KeywordWeight == 0 {
		o.VectorWeight = DefaultVectorWeight
		o.KeywordWeight = DefaultKeywordWeight
	}
}

// VectorSearchEngine ranks active products by cosine similarity against
// their stored embeddings, optionally blended with full-text rank.
type VectorSearchEngine struct {
	embedder Embedder
	logger   *logrus.Logger
}

func NewVectorSearchEngine(embedder Embedder) *VectorSearchEngine {
	return &VectorSearchEngine{
		embedder: embedder,
		logger:   config.GetLogger(),
	}
}

type searchRow struct {
	ID           int
	Name         string
	Description  string
	Sku          string
	Price        decimal.Decimal
	Stock        decimal.Decimal
	ImageUrl     string
	CategoryName string
	BrandName    string
	Score        float64
}

// Search embeds the query text then delegates to SearchByVector. When the
// embedding model is down the request degrades to keyword-only rather
// than failing.
func (e *VectorSearchEngine) Search(ctx context.Context, query string, opts SearchOptions) ([]VectorSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query text is empty")
	}
	opts.normalize()

	vectors, err := e.embedder.EmbedTexts(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		config.LogError(e.logger, "search", "Search", "embedding unavailable, keyword fallback",
			map[string]interface{}{"query": utils.Truncate(query, 80)}, err)
		return e.KeywordSearch(ctx, query, opts)
	}

	if opts.Hybrid && config.HybridSearchEnabled() {
		return e.hybridSearch(ctx, models.Vector(vectors[0]), query, opts)
	}
	return e.SearchByVector(ctx, models.Vector(vectors[0]), opts)
}

// SearchByVector ranks by pure cosine similarity.
func (e *VectorSearchEngine) SearchByVector(ctx context.Context, vec models.Vector, opts SearchOptions) ([]VectorSearchResult, error) {
	if len(vec) == 0 || vec.IsZero() {
		return nil, errors.New("query vector is empty or zero")
	}
	opts.normalize()

	db, businessId, err := searchDB(ctx)
	if err != nil {
		return nil, err
	}

	where, args := buildFilterClauses(businessId, opts.Filters)
	where = append(where, "products.embedding IS NOT NULL")

	sql := fmt.Sprintf(`
		SELECT products.id, products.name, products.description, products.sku,
		       products.price, products.stock, products.image_url,
		       coalesce(product_categories.name, '') AS category_name,
		       coalesce(brands.name, '') AS brand_name,
		       1 - (products.embedding <=> ?::vector) AS score
		FROM products
		LEFT JOIN product_categories ON product_categories.id = products.category_id
		LEFT JOIN brands ON brands.id = products.brand_id
		WHERE %s
		ORDER BY score DESC
		LIMIT ?`, strings.Join(where, " AND "))

	queryArgs := append([]interface{}{vec}, args...)
	queryArgs = append(queryArgs, opts.TopK)

	var rows []searchRow
	if err := db.Raw(sql, queryArgs...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows(rows, opts.MinScore), nil
}

// hybridSearch blends cosine similarity with full-text rank. Weights are
// applied as supplied, not normalized; callers tuning them past 1.0 get
// proportionally inflated scores.
func (e *VectorSearchEngine) hybridSearch(ctx context.Context, vec models.Vector, query string, opts SearchOptions) ([]VectorSearchResult, error) {
	db, businessId, err := searchDB(ctx)
	if err != nil {
		return nil, err
	}

	where, args := buildFilterClauses(businessId, opts.Filters)
	where = append(where, "products.embedding IS NOT NULL")

	sql := fmt.Sprintf(`
		SELECT products.id, products.name, products.description, products.sku,
		       products.price, products.stock, products.image_url,
		       coalesce(product_categories.name, '') AS category_name,
		       coalesce(brands.name, '') AS brand_name,
		       ? * (1 - (products.embedding <=> ?::vector))
		       + ? * ts_rank(
		           to_tsvector('simple', products.name || ' ' || coalesce(products.description, '')),
		           plainto_tsquery('simple', ?)) AS score
		FROM products
		LEFT JOIN product_categories ON product_categories.id = products.category_id
		LEFT JOIN brands ON brands.id = products.brand_id
		WHERE %s
		ORDER BY score DESC
		LIMIT ?`, strings.Join(where, " AND "))

	queryArgs := append([]interface{}{opts.VectorWeight, vec, opts.KeywordWeight, query}, args...)
	queryArgs = append(queryArgs, opts.TopK)

	var rows []searchRow
	if err := db.Raw(sql, queryArgs...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows(rows, opts.MinScore), nil
}

// KeywordSearch is the degraded path when no embedding is available. It
// ranks on full-text rank alone, so scores are not comparable with
// similarity scores and MinScore is not applied.
func (e *VectorSearchEngine) KeywordSearch(ctx context.Context, query string, opts SearchOptions) ([]VectorSearchResult, error) {
	opts.normalize()

	db, businessId, err := searchDB(ctx)
	if err != nil {
		return nil, err
	}

	where, args := buildFilterClauses(businessId, opts.Filters)
	where = append(where, `to_tsvector('simple', products.name || ' ' || coalesce(products.description, '')) @@ plainto_tsquery('simple', ?)`)
	args = append(args, query)

	sql := fmt.Sprintf(`
		SELECT products.id, products.name, products.description, products.sku,
		       products.price, products.stock, products.image_url,
		       coalesce(product_categories.name, '') AS category_name,
		       coalesce(brands.name, '') AS brand_name,
		       ts_rank(
		           to_tsvector('simple', products.name || ' ' || coalesce(products.description, '')),
		           plainto_tsquery('simple', ?)) AS score
		FROM products
		LEFT JOIN product_categories ON product_categories.id = products.category_id
		LEFT JOIN brands ON brands.id = products.brand_id
		WHERE %s
		ORDER BY score DESC
		LIMIT ?`, strings.Join(where, " AND "))

	queryArgs := append([]interface{}{query}, args...)
	queryArgs = append(queryArgs, opts.TopK)

	var rows []searchRow
	if err := db.Raw(sql, queryArgs...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows(rows, 0), nil
}

func searchDB(ctx context.Context) (*gorm.DB, string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, "", errors.New("business_id is required in context")
	}
	db := config.GetDB()
	if db == nil {
		return nil, "", errors.New("database is not initialized")
	}
	return db.WithContext(ctx), businessId, nil
}

func buildFilterClauses(businessId string, filters SearchFilters) ([]string, []interface{}) {
	where := []string{"products.business_id = ?", "products.is_active = true"}
	args := []interface{}{businessId}

	if filters.CategoryId > 0 {
		where = append(where, "products.category_id = ?")
		args = append(args, filters.CategoryId)
	}
	if filters.BrandId > 0 {
		where = append(where, "products.brand_id = ?")
		args = append(args, filters.BrandId)
	}
	if filters.MinPrice != nil {
		where = append(where, "products.price >= ?")
		args = append(args, *filters.MinPrice)
	}
	if filters.MaxPrice != nil {
		where = append(where, "products.price <= ?")
		args = append(args, *filters.MaxPrice)
	}
	if filters.MinStock != nil {
		where = append(where, "products.stock >= ?")
		args = append(args, *filters.MinStock)
	}
	if filters.InStockOnly {
		where = append(where, "products.stock > 0")
	}
	if filters.FeaturedOnly {
		where = append(where, "products.is_featured = true")
	}
	if filters.OnSaleOnly {
		where = append(where, "products.is_on_sale = true")
	}
	return where, args
}

func mapRows(rows []searchRow, minScore float64) []VectorSearchResult {
	results := make([]VectorSearchResult, 0, len(rows))
	for _, row := range rows {
		if row.Score < minScore {
			continue
		}
		content := row.Name
		if row.Description != "" {
			content += " " + utils.Truncate(row.Description, 160)
		}
		results = append(results, VectorSearchResult{
			EntityId: row.ID,
			Content:  content,
			Metadata: map[string]string{
				"sku":      row.Sku,
				"name":     row.Name,
				"category": row.CategoryName,
				"brand":    row.BrandName,
				"price":    row.Price.String(),
				"stock":    row.Stock.String(),
				"imageUrl": row.ImageUrl,
			},
			Score:    row.Score,
			Distance: 1 - row.Score,
		})
	}
	return results
}
