package erpsync

import "time"

// CatalogRef is how the ERP references lookup entities inside an item
// payload. Code is the vendor's stable external id, Name a display label.
type CatalogRef struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type PriceEntry struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type StockEntry struct {
	Location string `json:"location"`
	Quantity string `json:"quantity"`
}

// CatalogItem is the ERP's item representation. Numeric fields arrive as
// strings; the mapper normalizes them with DecimalOrZero.
type CatalogItem struct {
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Barcodes       []string     `json:"barcodes"`
	Category       CatalogRef   `json:"category"`
	Subcategory    CatalogRef   `json:"subcategory"`
	Brand          CatalogRef   `json:"brand"`
	Supplier       CatalogRef   `json:"supplier"`
	Model          string       `json:"model"`
	Specifications string       `json:"specifications"`
	Cost           string       `json:"cost"`
	TaxPercent     string       `json:"tax_percent"`
	PriceLists     []PriceEntry `json:"price_lists"`
	Stocks         []StockEntry `json:"stocks"`
	ExternalCode   string       `json:"external_code"`
	ImageURL       string       `json:"image_url"`
	IsActive       *bool        `json:"is_active"`
	CreatedAt      string       `json:"created_at"`
}

type ItemsPage struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Items  []CatalogItem `json:"items"`
}

type CatalogCategory struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ParentId string `json:"parent_id"`
}

// SyncResult accumulates counters for one full sync pass.
type SyncResult struct {
	TotalProcessed int       `json:"total_processed"`
	TotalCreated   int       `json:"total_created"`
	TotalUpdated   int       `json:"total_updated"`
	TotalErrors    int       `json:"total_errors"`
	Errors         []string  `json:"errors"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

func (r *SyncResult) DurationSeconds() float64 {
	if r.EndTime.IsZero() || r.StartTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime).Seconds()
}

// Successful means the run touched at least one item and nothing failed.
func (r *SyncResult) Successful() bool {
	return r.TotalErrors == 0 && r.TotalProcessed > 0
}

type ConnectRequest struct {
	BaseURL   string `json:"baseUrl" binding:"required,url"`
	APIToken  string `json:"apiToken" binding:"required"`
	StoreName string `json:"storeName"`
}

type TriggerSyncRequest struct {
	DryRun      bool `json:"dryRun"`
	MaxProducts int  `json:"maxProducts"`
}

type ConnectionResponse struct {
	Status    string `json:"status"`
	BaseURL   string `json:"baseUrl,omitempty"`
	StoreName string `json:"storeName,omitempty"`
}

type StatusResponse struct {
	Connection        ConnectionResponse `json:"connection"`
	LastSyncAt        *string            `json:"lastSyncAt,omitempty"`
	LastSuccessSyncAt *string            `json:"lastSuccessSyncAt,omitempty"`
	ActiveProducts    int64              `json:"activeProducts"`
}

type SyncRunResponse struct {
	ID             uint    `json:"id"`
	Status         string  `json:"status"`
	TriggeredBy    string  `json:"triggeredBy"`
	DryRun         bool    `json:"dryRun"`
	TotalProcessed int     `json:"totalProcessed"`
	TotalCreated   int     `json:"totalCreated"`
	TotalUpdated   int     `json:"totalUpdated"`
	ErrorCount     int     `json:"errorCount"`
	StartedAt      *string `json:"startedAt,omitempty"`
	FinishedAt     *string `json:"finishedAt,omitempty"`
	DurationMs     int64   `json:"durationMs"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncErrorResponse struct {
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId,omitempty"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

// PubSubPushEnvelope is the wrapper Google wraps push deliveries in.
type PubSubPushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// SyncRunPayload travels over pub/sub from TriggerSync to the worker.
type SyncRunPayload struct {
	BusinessId    string `json:"businessId"`
	ConnectionId  string `json:"connectionId"`
	SyncRunId     string `json:"syncRunId"`
	CorrelationId string `json:"correlationId"`
	DryRun        bool   `json:"dryRun"`
	MaxProducts   int    `json:"maxProducts"`
}
