package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

const (
	ErpProviderCatalog = "erp_catalog"
)

const (
	ErpStatusConnected    = "connected"
	ErpStatusDisconnected = "disconnected"
	ErpStatusError        = "error"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

type ErpConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	BusinessId        string     `gorm:"index;not null" json:"business_id"`
	Provider          string     `gorm:"index;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthSecretRef     string     `gorm:"type:text" json:"auth_secret_ref"`
	BaseURL           string     `gorm:"size:500" json:"base_url"`
	StoreName         string     `gorm:"size:255" json:"store_name"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type CatalogSyncRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	BusinessId     string     `gorm:"index;not null" json:"business_id"`
	ConnectionId   uint       `gorm:"index;not null" json:"connection_id"`
	Provider       string     `gorm:"index;size:50;not null" json:"provider"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy    string     `gorm:"size:20" json:"triggered_by"`
	DryRun         bool       `gorm:"default:false" json:"dry_run"`
	StatsJSON      []byte     `gorm:"type:json" json:"stats"`
	TotalProcessed int        `json:"total_processed"`
	TotalCreated   int        `json:"total_created"`
	TotalUpdated   int        `json:"total_updated"`
	ErrorCount     int        `json:"error_count"`
	ParentRunId    *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type CatalogSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsTerminal reports whether a run already finished; terminal runs must
// never be re-executed by a redelivered message.
func (r *CatalogSyncRun) IsTerminal() bool {
	switch r.Status {
	case SyncRunStatusSuccess, SyncRunStatusFailed, SyncRunStatusPartial:
		return true
	}
	return false
}

// GetErpConnection loads the business's catalog connection, one per
// business and provider. Returns (nil, nil) when not yet connected.
func GetErpConnection(ctx context.Context) (*ErpConnection, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var conn ErpConnection
	err = config.GetDB().WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, ErpProviderCatalog).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func SaveErpConnection(ctx context.Context, conn *ErpConnection) error {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	conn.BusinessId = businessId
	conn.Provider = ErpProviderCatalog
	return config.GetDB().WithContext(ctx).Save(conn).Error
}

func UpdateErpConnection(ctx context.Context, id uint, update map[string]interface{}) error {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	update["updated_at"] = time.Now()
	result := config.GetDB().WithContext(ctx).
		Model(&ErpConnection{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Updates(update)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func CreateCatalogSyncRun(ctx context.Context, run *CatalogSyncRun) error {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	run.BusinessId = businessId
	run.Provider = ErpProviderCatalog
	return config.GetDB().WithContext(ctx).Create(run).Error
}

func GetCatalogSyncRun(ctx context.Context, id uint) (*CatalogSyncRun, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var run CatalogSyncRun
	err = config.GetDB().WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

func UpdateCatalogSyncRun(ctx context.Context, id uint, update map[string]interface{}) error {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	update["updated_at"] = time.Now()
	result := config.GetDB().WithContext(ctx).
		Model(&CatalogSyncRun{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Updates(update)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func ListCatalogSyncRuns(ctx context.Context, limit, offset int) ([]CatalogSyncRun, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []CatalogSyncRun
	err = config.GetDB().WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&runs).Error
	return runs, err
}

func CreateCatalogSyncErrors(ctx context.Context, rows []CatalogSyncError) error {
	if len(rows) == 0 {
		return nil
	}
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	for i := range rows {
		rows[i].BusinessId = businessId
	}
	return config.GetDB().WithContext(ctx).CreateInBatches(rows, 100).Error
}

func ListCatalogSyncErrors(ctx context.Context, syncRunId uint, limit int) ([]CatalogSyncError, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	if syncRunId > 0 {
		db = db.Where("sync_run_id = ?", syncRunId)
	}
	var rows []CatalogSyncError
	err = db.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
