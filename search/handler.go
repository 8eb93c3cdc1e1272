package search

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

type SearchRequest struct {
	Query   string        `json:"query" binding:"required"`
	Options SearchOptions `json:"options"`
}

type SearchResponse struct {
	Results []VectorSearchResult `json:"results"`
	Cached  bool                 `json:"cached"`
}

const searchCacheTTL = 60 * time.Second

// SearchHandler serves semantic product search. Identical queries within
// the TTL are answered from redis; embeddings change slowly enough that a
// short cache window is safe.
func SearchHandler(engine *VectorSearchEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.GetHeader("x-business-id"))
		if businessId == "" {
			businessId = strings.TrimSpace(c.Query("business_id"))
		}
		if businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}

		cacheKey := searchCacheKey(businessId, &req)
		var cached []VectorSearchResult
		if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, SearchResponse{Results: cached, Cached: true})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		results, err := engine.Search(ctx, req.Query, req.Options)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = config.SetRedisObject(cacheKey, results, searchCacheTTL)
		c.JSON(http.StatusOK, SearchResponse{Results: results, Cached: false})
	}
}

func searchCacheKey(businessId string, req *SearchRequest) string {
	raw, _ := json.Marshal(req)
	sum := sha1.Sum(raw)
	return "ProductSearch:" + businessId + ":" + hex.EncodeToString(sum[:])
}

// EmbedBatchRequest triggers an embedding refresh over HTTP, mainly for
// operators after a bulk import.
type EmbedBatchRequest struct {
	Ids   []int `json:"ids"`
	Force bool  `json:"force"`
}

func EmbedBatchHandler(pipeline *EmbeddingPipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.GetHeader("x-business-id"))
		if businessId == "" {
			businessId = strings.TrimSpace(c.Query("business_id"))
		}
		if businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req EmbedBatchRequest
		_ = c.ShouldBindJSON(&req)

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		stats, err := pipeline.UpdateBatch(ctx, req.Ids, req.Force)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
