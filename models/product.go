package models

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID             int    `gorm:"primary_key" json:"id"`
	BusinessId     string `gorm:"uniqueIndex:idx_products_business_sku,priority:1;not null" json:"business_id"`
	Name           string `gorm:"size:255;not null" json:"name"`
	Description    string `gorm:"type:text" json:"description"`
	Sku            string `gorm:"uniqueIndex:idx_products_business_sku,priority:2;size:100;not null" json:"sku"`
	Barcode        string `gorm:"index;size:100" json:"barcode"`
	ExternalCode   string `gorm:"index;size:100" json:"external_code"`
	CategoryId     int    `gorm:"index;default:0" json:"category_id"`
	BrandId        int    `gorm:"index;default:0" json:"brand_id"`
	SupplierName   string `gorm:"size:255" json:"supplier_name"`
	Model          string `gorm:"size:100" json:"model"`
	Specifications string `gorm:"type:text" json:"specifications"`
	AttributesJSON []byte `gorm:"type:json" json:"attributes"`
	FeaturesJSON   []byte `gorm:"type:json" json:"features"`

	Price          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	WholesalePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"wholesale_price"`
	Cost           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost"`
	TaxPercent     decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_percent"`
	Stock          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock"`

	ImageUrl   string `gorm:"size:500" json:"image_url"`
	IsActive   *bool  `gorm:"not null;default:true" json:"is_active"`
	IsFeatured *bool  `gorm:"not null;default:false" json:"is_featured"`
	IsOnSale   *bool  `gorm:"not null;default:false" json:"is_on_sale"`

	// Embedding fields are written exclusively by the embedding pipeline;
	// sync writes business fields only. This split is what keeps sync and
	// embedding refresh free of write races on the same row.
	Embedding          Vector     `gorm:"type:vector(768)" json:"-"`
	EmbeddingUpdatedAt *time.Time `json:"embedding_updated_at"`

	SyncedAt  *time.Time `json:"synced_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name           string            `json:"name" binding:"required"`
	Description    string            `json:"description"`
	Sku            string            `json:"sku" binding:"required"`
	Barcode        string            `json:"barcode"`
	ExternalCode   string            `json:"external_code"`
	CategoryId     int               `json:"category_id"`
	BrandId        int               `json:"brand_id"`
	SupplierName   string            `json:"supplier_name"`
	Model          string            `json:"model"`
	Specifications string            `json:"specifications"`
	Attributes     map[string]string `json:"attributes"`
	Features       []string          `json:"features"`
	Price          decimal.Decimal   `json:"price"`
	WholesalePrice decimal.Decimal   `json:"wholesale_price"`
	Cost           decimal.Decimal   `json:"cost"`
	TaxPercent     decimal.Decimal   `json:"tax_percent"`
	Stock          decimal.Decimal   `json:"stock"`
	ImageUrl       string            `json:"image_url"`
	IsFeatured     *bool             `json:"is_featured"`
	IsOnSale       *bool             `json:"is_on_sale"`
}

// Attributes decodes the key/value attribute column; bad JSON yields nil.
func (p *Product) Attributes() map[string]string {
	if len(p.AttributesJSON) == 0 {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(p.AttributesJSON, &out); err != nil {
		return nil
	}
	return out
}

func (p *Product) Features() []string {
	if len(p.FeaturesJSON) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(p.FeaturesJSON, &out); err != nil {
		return nil
	}
	return out
}

// SortedAttributeKeys returns attribute keys in deterministic order.
func (p *Product) SortedAttributeKeys() []string {
	attrs := p.Attributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func businessIdFromContext(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business_id is required in context")
	}
	return businessId, nil
}

func GetProductById(ctx context.Context, id int) (*Product, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var product Product
	err = config.GetDB().WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetProductBySku resolves the sync natural key. Returns (nil, nil) when the
// SKU is unknown so callers can branch create/update without errors.As noise.
func GetProductBySku(ctx context.Context, sku string) (*Product, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var product Product
	err = config.GetDB().WithContext(ctx).
		Where("business_id = ? AND sku = ?", businessId, sku).
		Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	product := Product{
		BusinessId:     businessId,
		Name:           input.Name,
		Description:    input.Description,
		Sku:            input.Sku,
		Barcode:        input.Barcode,
		ExternalCode:   input.ExternalCode,
		CategoryId:     input.CategoryId,
		BrandId:        input.BrandId,
		SupplierName:   input.SupplierName,
		Model:          input.Model,
		Specifications: input.Specifications,
		AttributesJSON: marshalOrNil(input.Attributes),
		FeaturesJSON:   marshalOrNil(input.Features),
		Price:          input.Price,
		WholesalePrice: input.WholesalePrice,
		Cost:           input.Cost,
		TaxPercent:     input.TaxPercent,
		Stock:          input.Stock,
		ImageUrl:       input.ImageUrl,
		IsActive:       utils.NewTrue(),
		IsFeatured:     boolOrFalse(input.IsFeatured),
		IsOnSale:       boolOrFalse(input.IsOnSale),
		SyncedAt:       &now,
	}
	if err := config.GetDB().WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct mutates business fields in place. Embedding columns are
// deliberately left out of the update map (pipeline ownership).
func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	update := map[string]interface{}{
		"name":            input.Name,
		"description":     input.Description,
		"barcode":         input.Barcode,
		"external_code":   input.ExternalCode,
		"category_id":     input.CategoryId,
		"brand_id":        input.BrandId,
		"supplier_name":   input.SupplierName,
		"model":           input.Model,
		"specifications":  input.Specifications,
		"attributes_json": marshalOrNil(input.Attributes),
		"features_json":   marshalOrNil(input.Features),
		"price":           input.Price,
		"wholesale_price": input.WholesalePrice,
		"cost":            input.Cost,
		"tax_percent":     input.TaxPercent,
		"stock":           input.Stock,
		"image_url":       input.ImageUrl,
		"is_active":       true,
		"synced_at":       now,
		"updated_at":      now,
	}
	if input.IsFeatured != nil {
		update["is_featured"] = *input.IsFeatured
	}
	if input.IsOnSale != nil {
		update["is_on_sale"] = *input.IsOnSale
	}

	db := config.GetDB().WithContext(ctx)
	result := db.Model(&Product{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Updates(update)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetProductById(ctx, id)
}

// DeactivateProductsNotIn flags products absent from a clean full sync.
// Rows are never hard-deleted; deactivation is the only removal path.
func DeactivateProductsNotIn(ctx context.Context, seenSkus []string) (int64, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if len(seenSkus) == 0 {
		return 0, nil
	}
	result := config.GetDB().WithContext(ctx).
		Model(&Product{}).
		Where("business_id = ? AND is_active = true AND sku NOT IN ?", businessId, seenSkus).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	return result.RowsAffected, result.Error
}

func CountActiveProducts(ctx context.Context) (int64, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	err = config.GetDB().WithContext(ctx).
		Model(&Product{}).
		Where("business_id = ? AND is_active = true", businessId).
		Count(&count).Error
	return count, err
}

// ProductIdsForEmbedding resolves the candidate set for a batch embedding run.
// Explicit ids win; otherwise missing-or-stale vectors (or every active
// product when force is set).
func ProductIdsForEmbedding(ctx context.Context, ids []int, force bool) ([]int, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx).
		Model(&Product{}).
		Where("business_id = ? AND is_active = true", businessId)

	if len(ids) > 0 {
		db = db.Where("id IN ?", ids)
	} else if !force {
		db = db.Where("embedding IS NULL OR embedding_updated_at IS NULL OR embedding_updated_at < updated_at")
	}

	var out []int
	err = db.Order("id").Pluck("id", &out).Error
	return out, err
}

// EmbeddingStale reports whether the embedding no longer reflects the
// business fields: no vector yet, or fields changed after the last refresh.
func (p *Product) EmbeddingStale() bool {
	if len(p.Embedding) == 0 || p.EmbeddingUpdatedAt == nil {
		return true
	}
	return p.EmbeddingUpdatedAt.Before(p.UpdatedAt)
}

// ProductSearchDoc is a product joined with its category and brand display
// names, the unit the embedding text builder works from.
type ProductSearchDoc struct {
	Product
	CategoryName string `json:"category_name"`
	BrandName    string `json:"brand_name"`
}

func GetProductSearchDoc(ctx context.Context, id int) (*ProductSearchDoc, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var doc ProductSearchDoc
	err = config.GetDB().WithContext(ctx).
		Table("products").
		Select("products.*, coalesce(product_categories.name, '') AS category_name, coalesce(brands.name, '') AS brand_name").
		Joins("LEFT JOIN product_categories ON product_categories.id = products.category_id").
		Joins("LEFT JOIN brands ON brands.id = products.brand_id").
		Where("products.id = ? AND products.business_id = ?", id, businessId).
		Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// SaveProductEmbedding persists the vector and refresh timestamp together.
// UpdateColumns keeps updated_at untouched: an embedding refresh is not a
// business-field change and must not re-mark the product stale.
func SaveProductEmbedding(ctx context.Context, id int, vec Vector) error {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Product{}).
			Where("id = ? AND business_id = ?", id, businessId).
			UpdateColumns(map[string]interface{}{
				"embedding":            vec,
				"embedding_updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	})
}

func marshalOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func boolOrFalse(b *bool) *bool {
	if b == nil {
		return utils.NewFalse()
	}
	return b
}
