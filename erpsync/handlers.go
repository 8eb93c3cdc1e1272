package erpsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// resolveBusinessID trusts the gateway-injected header; auth happens
// upstream. A business_id query param overrides for internal tooling.
func resolveBusinessID(c *gin.Context) (string, error) {
	if v := strings.TrimSpace(c.Query("business_id")); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(c.GetHeader("x-business-id")); v != "" {
		return v, nil
	}
	return "", errors.New("business id missing")
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		conn, err := models.GetErpConnection(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Connection: ConnectionResponse{Status: models.ErpStatusDisconnected},
			})
			return
		}

		activeCount, _ := models.CountActiveProducts(ctx)
		c.JSON(http.StatusOK, StatusResponse{
			Connection: ConnectionResponse{
				Status:    conn.Status,
				BaseURL:   conn.BaseURL,
				StoreName: conn.StoreName,
			},
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
			ActiveProducts:    activeCount,
		})
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var validationErrors validator.ValidationErrors
			if errors.As(err, &validationErrors) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		conn, err := models.GetErpConnection(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if conn == nil {
			conn = &models.ErpConnection{
				Status:        models.ErpStatusConnected,
				AuthType:      "api_token",
				AuthSecretRef: req.APIToken,
				BaseURL:       strings.TrimRight(strings.TrimSpace(req.BaseURL), "/"),
				StoreName:     strings.TrimSpace(req.StoreName),
			}
			if err := models.SaveErpConnection(ctx, conn); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":          models.ErpStatusConnected,
				"auth_type":       "api_token",
				"auth_secret_ref": req.APIToken,
				"base_url":        strings.TrimRight(strings.TrimSpace(req.BaseURL), "/"),
			}
			if name := strings.TrimSpace(req.StoreName); name != "" {
				update["store_name"] = name
			}
			if err := models.UpdateErpConnection(ctx, conn.ID, update); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		conn, err := models.GetErpConnection(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := models.UpdateErpConnection(ctx, conn.ID, map[string]interface{}{
			"status":          models.ErpStatusDisconnected,
			"auth_secret_ref": "",
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// An empty or absent body means a plain full sync.
		var req TriggerSyncRequest
		_ = c.ShouldBindJSON(&req)

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		conn, err := models.GetErpConnection(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ErpStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "catalog erp is not connected"})
			return
		}

		run := models.CatalogSyncRun{
			ConnectionId: conn.ID,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredManual,
			DryRun:       req.DryRun,
		}
		if err := models.CreateCatalogSyncRun(ctx, &run); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		payload := SyncRunPayload{
			BusinessId:    businessId,
			ConnectionId:  strconv.FormatUint(uint64(conn.ID), 10),
			SyncRunId:     strconv.FormatUint(uint64(run.ID), 10),
			CorrelationId: correlationIdFrom(c),
			DryRun:        req.DryRun,
			MaxProducts:   req.MaxProducts,
		}
		_ = PublishSyncRun(c.Request.Context(), payload)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		runs, err := models.ListCatalogSyncRuns(ctx, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		run, err := models.GetCatalogSyncRun(ctx, uint(id))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		errs, err := models.ListCatalogSyncErrors(ctx, run.ID, 200)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := SyncRunDetailResponse{SyncRunResponse: mapRunToResponse(*run)}
		for _, e := range errs {
			resp.Errors = append(resp.Errors, SyncErrorResponse{
				EntityType: e.EntityType,
				ExternalId: e.ExternalId,
				ErrorCode:  e.ErrorCode,
				Message:    e.Message,
				Retryable:  e.Retryable,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		parent, err := models.GetCatalogSyncRun(ctx, uint(id))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		run := models.CatalogSyncRun{
			ConnectionId: parent.ConnectionId,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredRetry,
			DryRun:       parent.DryRun,
			ParentRunId:  &parent.ID,
		}
		if err := models.CreateCatalogSyncRun(ctx, &run); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		payload := SyncRunPayload{
			BusinessId:    businessId,
			ConnectionId:  strconv.FormatUint(uint64(parent.ConnectionId), 10),
			SyncRunId:     strconv.FormatUint(uint64(run.ID), 10),
			CorrelationId: correlationIdFrom(c),
			DryRun:        parent.DryRun,
		}
		_ = PublishSyncRun(c.Request.Context(), payload)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

// ExportHandler streams the catalog plus recent sync errors as a workbook.
func ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		workbook, err := models.ExportCatalogXlsx(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		buf, err := workbook.WriteToBuffer()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		filename := "catalog-" + time.Now().Format("2006-01-02") + ".xlsx"
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			buf.Bytes())
	}
}

func correlationIdFrom(c *gin.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
		return id
	}
	return ""
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.CatalogSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:             run.ID,
		Status:         run.Status,
		TriggeredBy:    run.TriggeredBy,
		DryRun:         run.DryRun,
		TotalProcessed: run.TotalProcessed,
		TotalCreated:   run.TotalCreated,
		TotalUpdated:   run.TotalUpdated,
		ErrorCount:     run.ErrorCount,
		StartedAt:      formatTime(run.StartedAt),
		FinishedAt:     formatTime(run.FinishedAt),
		DurationMs:     run.DurationMs,
	}
}
