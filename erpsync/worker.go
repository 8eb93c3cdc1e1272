package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// Store is the slice of local persistence the orchestrator writes through.
// models.CatalogStore satisfies it; tests use an in-memory fake.
type Store interface {
	FindProductBySku(ctx context.Context, sku string) (*models.Product, error)
	CreateProduct(ctx context.Context, input *models.NewProduct) (*models.Product, error)
	UpdateProduct(ctx context.Context, id int, input *models.NewProduct) (*models.Product, error)
	FindCategory(ctx context.Context, externalCode, name string) (*models.ProductCategory, error)
	CreateCategory(ctx context.Context, input *models.NewProductCategory) (*models.ProductCategory, error)
	UpdateCategory(ctx context.Context, id int, input *models.NewProductCategory) (*models.ProductCategory, error)
	FindBrand(ctx context.Context, externalCode, name string) (*models.Brand, error)
	CreateBrand(ctx context.Context, input *models.NewBrand) (*models.Brand, error)
	DeactivateProductsNotIn(ctx context.Context, seenSkus []string) (int64, error)
}

// Fetcher abstracts the ERP client for the orchestrator.
type Fetcher interface {
	FetchCategories(ctx context.Context) ([]CatalogCategory, error)
	FetchItemsWithRetry(ctx context.Context, offset, limit int, timeoutOverride ...time.Duration) (*ItemsPage, error)
}

type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// PostSyncHook observes each successfully written product. Hook failures
// are logged and swallowed; an observer never fails the sync.
type PostSyncHook func(ctx context.Context, product *models.Product, item *CatalogItem, outcome UpsertOutcome) error

// SyncOrchestrator paginates the full remote catalog in bounded batches and
// upserts it into local storage. Per-item failures are accumulated; only a
// failure before the first page is fatal for the whole run.
type SyncOrchestrator struct {
	store  Store
	client Fetcher
	logger *logrus.Logger

	BatchSize   int
	MaxProducts int
	DryRun      bool
	Hook        PostSyncHook
}

func NewSyncOrchestrator(store Store, client Fetcher) *SyncOrchestrator {
	return &SyncOrchestrator{
		store:     store,
		client:    client,
		logger:    config.GetLogger(),
		BatchSize: utils.EnvInt("ERP_SYNC_BATCH_SIZE", 100),
	}
}

// SyncAll runs one complete catalog pass. The returned error is non-nil
// only for fatal pre-pagination failures (category fetch or first page);
// everything after that is reported through the SyncResult counters.
func (o *SyncOrchestrator) SyncAll(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: time.Now()}
	defer func() { result.EndTime = time.Now() }()

	batchSize := o.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	// Prime the category cache so item pages resolve against fresh names.
	// A failure here means the connection itself is broken.
	categories, err := o.client.FetchCategories(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch categories: %w", err)
	}
	if !o.DryRun {
		o.upsertCategories(ctx, categories, result)
	}

	// First page also carries the grand total; the vendor serves it slowly
	// on cold caches, so give it a stretched timeout.
	firstPage, err := o.client.FetchItemsWithRetry(ctx, 0, batchSize, 90*time.Second)
	if err != nil {
		return result, fmt.Errorf("fetch first page: %w", err)
	}

	total := firstPage.Total
	if o.MaxProducts > 0 && o.MaxProducts < total {
		total = o.MaxProducts
	}

	seenSkus := make([]string, 0, total)
	o.processPage(ctx, firstPage, result, &seenSkus)

	for offset := batchSize; offset < total; offset += batchSize {
		select {
		case <-ctx.Done():
			result.TotalErrors++
			result.Errors = append(result.Errors, fmt.Sprintf("sync cancelled at offset %d: %v", offset, ctx.Err()))
			return result, nil
		default:
		}

		page, err := o.client.FetchItemsWithRetry(ctx, offset, batchSize)
		if err != nil {
			// One lost page does not abort the run; the remaining batches
			// may still land.
			result.TotalErrors++
			result.Errors = append(result.Errors, fmt.Sprintf("batch at offset %d failed: %v", offset, err))
			config.LogError(o.logger, "erpsync", "SyncAll", "batch fetch failed",
				map[string]interface{}{"offset": offset}, err)
			continue
		}
		o.processPage(ctx, page, result, &seenSkus)
	}

	// Deactivation only after a clean, uncapped, writing run. A partial or
	// capped pass has not seen the whole catalog and must not conclude
	// absence from it.
	if !o.DryRun && o.MaxProducts == 0 && result.TotalErrors == 0 && config.SyncDeactivateMissing() {
		deactivated, err := o.store.DeactivateProductsNotIn(ctx, seenSkus)
		if err != nil {
			result.TotalErrors++
			result.Errors = append(result.Errors, fmt.Sprintf("deactivation pass failed: %v", err))
		} else if deactivated > 0 {
			o.logger.WithField("count", deactivated).Info("deactivated products missing from catalog")
		}
	}

	return result, nil
}

func (o *SyncOrchestrator) processPage(ctx context.Context, page *ItemsPage, result *SyncResult, seenSkus *[]string) {
	for i := range page.Items {
		if o.MaxProducts > 0 && result.TotalProcessed >= o.MaxProducts {
			return
		}
		item := &page.Items[i]
		result.TotalProcessed++

		outcome, product, err := o.upsertItem(ctx, item)
		if err != nil {
			result.TotalErrors++
			result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.Code, err))
			config.LogError(o.logger, "erpsync", "processPage", "item upsert failed",
				map[string]interface{}{"code": item.Code}, err)
			continue
		}

		*seenSkus = append(*seenSkus, item.Code)
		switch outcome {
		case OutcomeCreated:
			result.TotalCreated++
		case OutcomeUpdated:
			result.TotalUpdated++
		}

		if o.Hook != nil && !o.DryRun && product != nil {
			if err := o.Hook(ctx, product, item, outcome); err != nil {
				config.LogError(o.logger, "erpsync", "processPage", "post sync hook failed",
					map[string]interface{}{"code": item.Code}, err)
			}
		}
	}
}

func (o *SyncOrchestrator) upsertItem(ctx context.Context, item *CatalogItem) (UpsertOutcome, *models.Product, error) {
	input, err := MapItemToProduct(item)
	if err != nil {
		return "", nil, err
	}

	if o.DryRun {
		existing, err := o.store.FindProductBySku(ctx, input.Sku)
		if err != nil {
			return "", nil, err
		}
		if existing == nil {
			return OutcomeCreated, nil, nil
		}
		return OutcomeUpdated, nil, nil
	}

	if categoryInput := MapItemCategory(item); categoryInput != nil {
		categoryId, err := o.resolveCategory(ctx, categoryInput)
		if err != nil {
			return "", nil, fmt.Errorf("resolve category: %w", err)
		}
		input.CategoryId = categoryId
	}

	if brandInput := MapItemBrand(item); brandInput != nil {
		brandId, err := o.resolveBrand(ctx, brandInput)
		if err != nil {
			return "", nil, fmt.Errorf("resolve brand: %w", err)
		}
		input.BrandId = brandId
	}

	existing, err := o.store.FindProductBySku(ctx, input.Sku)
	if err != nil {
		return "", nil, err
	}
	if existing == nil {
		product, err := o.store.CreateProduct(ctx, input)
		if err != nil {
			return "", nil, err
		}
		return OutcomeCreated, product, nil
	}

	product, err := o.store.UpdateProduct(ctx, existing.ID, input)
	if err != nil {
		return "", nil, err
	}
	return OutcomeUpdated, product, nil
}

func (o *SyncOrchestrator) resolveCategory(ctx context.Context, input *models.NewProductCategory) (int, error) {
	existing, err := o.store.FindCategory(ctx, input.ExternalCode, input.Name)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	created, err := o.store.CreateCategory(ctx, input)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func (o *SyncOrchestrator) resolveBrand(ctx context.Context, input *models.NewBrand) (int, error) {
	existing, err := o.store.FindBrand(ctx, input.ExternalCode, input.Name)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	created, err := o.store.CreateBrand(ctx, input)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func (o *SyncOrchestrator) upsertCategories(ctx context.Context, categories []CatalogCategory, result *SyncResult) {
	for _, cat := range categories {
		if cat.Name == "" && cat.Code == "" {
			continue
		}
		name := cat.Name
		if name == "" {
			name = cat.Code
		}
		input := &models.NewProductCategory{Name: name, ExternalCode: cat.Code}
		existing, err := o.store.FindCategory(ctx, cat.Code, name)
		if err == nil && existing != nil {
			_, err = o.store.UpdateCategory(ctx, existing.ID, input)
		} else if err == nil {
			_, err = o.store.CreateCategory(ctx, input)
		}
		if err != nil {
			result.TotalErrors++
			result.Errors = append(result.Errors, fmt.Sprintf("category %s: %v", cat.Code, err))
		}
	}
}

// ProcessSyncRun executes one queued sync run delivered over pub/sub. It is
// idempotent against redelivery (terminal runs are skipped) and serialized
// per connection through a redis lock.
func ProcessSyncRun(ctx context.Context, payload SyncRunPayload, hook PostSyncHook) error {
	if payload.SyncRunId == "" || payload.BusinessId == "" {
		return errors.New("invalid sync payload")
	}
	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)
	if payload.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
	}
	logger := config.GetLogger()

	runId, err := parseUint(payload.SyncRunId)
	if err != nil {
		return fmt.Errorf("bad sync run id %q: %w", payload.SyncRunId, err)
	}

	run, err := models.GetCatalogSyncRun(ctx, runId)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		logger.WithField("syncRunId", run.ID).Info("sync run already finished, skipping redelivery")
		return nil
	}

	conn, err := models.GetErpConnection(ctx)
	if err != nil {
		return err
	}
	if conn == nil || conn.Status != models.ErpStatusConnected {
		return markRunFailed(ctx, run, errors.New("erp connection is not connected"))
	}

	lock, err := utils.ObtainSyncLock(ctx, conn.ID, 30*time.Minute)
	if err != nil {
		if errors.Is(err, utils.ErrSyncAlreadyRunning) {
			logger.WithField("connectionId", conn.ID).Warn("sync already running for connection, skipping")
			return nil
		}
		return err
	}
	defer func() { _ = lock.Release(ctx) }()

	startedAt := time.Now()
	if err := models.UpdateCatalogSyncRun(ctx, run.ID, map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}); err != nil {
		return err
	}

	cfg := CatalogClientConfigFromEnv()
	if conn.BaseURL != "" {
		cfg.BaseURL = conn.BaseURL
	}
	if conn.AuthSecretRef != "" {
		cfg.Token = conn.AuthSecretRef
	}
	client := NewCatalogClient(cfg, NewRateLimiterFromEnv())

	orchestrator := NewSyncOrchestrator(models.CatalogStore{}, client)
	orchestrator.DryRun = payload.DryRun || run.DryRun
	orchestrator.MaxProducts = payload.MaxProducts
	orchestrator.Hook = hook

	result, fatalErr := orchestrator.SyncAll(ctx)

	finishedAt := time.Now()
	status := models.SyncRunStatusSuccess
	switch {
	case fatalErr != nil, result.TotalErrors > 0 && result.TotalProcessed == 0:
		status = models.SyncRunStatusFailed
	case result.TotalErrors > 0:
		status = models.SyncRunStatusPartial
	}
	if fatalErr != nil {
		result.Errors = append(result.Errors, fatalErr.Error())
		result.TotalErrors++
	}

	statsJSON, _ := json.Marshal(result)
	if err := models.UpdateCatalogSyncRun(ctx, run.ID, map[string]interface{}{
		"status":          status,
		"finished_at":     finishedAt,
		"duration_ms":     finishedAt.Sub(startedAt).Milliseconds(),
		"total_processed": result.TotalProcessed,
		"total_created":   result.TotalCreated,
		"total_updated":   result.TotalUpdated,
		"error_count":     result.TotalErrors,
		"stats_json":      statsJSON,
	}); err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		rows := make([]models.CatalogSyncError, 0, len(result.Errors))
		for _, msg := range result.Errors {
			rows = append(rows, models.CatalogSyncError{
				SyncRunId:  run.ID,
				EntityType: "product",
				ErrorCode:  "sync_failed",
				Message:    msg,
				Retryable:  true,
			})
		}
		if err := models.CreateCatalogSyncErrors(ctx, rows); err != nil {
			config.LogError(logger, "erpsync", "ProcessSyncRun", "persisting sync errors failed",
				map[string]interface{}{"syncRunId": run.ID}, err)
		}
	}

	connUpdates := map[string]interface{}{"last_sync_at": finishedAt}
	if status == models.SyncRunStatusSuccess {
		connUpdates["last_success_sync_at"] = finishedAt
	}
	if err := models.UpdateErpConnection(ctx, conn.ID, connUpdates); err != nil {
		config.LogError(logger, "erpsync", "ProcessSyncRun", "updating connection timestamps failed",
			map[string]interface{}{"connectionId": conn.ID}, err)
	}

	logger.WithFields(logrus.Fields{
		"syncRunId": run.ID,
		"status":    status,
		"processed": result.TotalProcessed,
		"created":   result.TotalCreated,
		"updated":   result.TotalUpdated,
		"errors":    result.TotalErrors,
		"seconds":   result.DurationSeconds(),
	}).Info("catalog sync run finished")

	return nil
}

func markRunFailed(ctx context.Context, run *models.CatalogSyncRun, cause error) error {
	now := time.Now()
	_ = models.UpdateCatalogSyncRun(ctx, run.ID, map[string]interface{}{
		"status":      models.SyncRunStatusFailed,
		"finished_at": now,
		"error_count": 1,
	})
	_ = models.CreateCatalogSyncErrors(ctx, []models.CatalogSyncError{{
		SyncRunId: run.ID,
		ErrorCode: "not_connected",
		Message:   cause.Error(),
	}})
	return cause
}

func parseUint(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint(v), err
}
