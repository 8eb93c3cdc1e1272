package models

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"github.com/xuri/excelize/v2"
)

// ExportCatalogXlsx renders the active catalog plus the latest sync errors
// into a workbook for back-office review.
func ExportCatalogXlsx(ctx context.Context) (*excelize.File, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var products []ProductSearchDoc
	err = db.Table("products").
		Select("products.*, coalesce(product_categories.name, '') AS category_name, coalesce(brands.name, '') AS brand_name").
		Joins("LEFT JOIN product_categories ON product_categories.id = products.category_id").
		Joins("LEFT JOIN brands ON brands.id = products.brand_id").
		Where("products.business_id = ? AND products.is_active = true", businessId).
		Order("products.sku").
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Products"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"SKU", "Name", "Category", "Brand", "Price", "Cost", "Stock", "Barcode", "Synced At", "Embedding"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, p := range products {
		embeddingState := "missing"
		if p.EmbeddingUpdatedAt != nil {
			embeddingState = p.EmbeddingUpdatedAt.Format("2006-01-02 15:04")
		}
		syncedAt := ""
		if p.SyncedAt != nil {
			syncedAt = p.SyncedAt.Format("2006-01-02 15:04")
		}
		values := []any{
			p.Sku, p.Name, p.CategoryName, p.BrandName,
			p.Price.String(), p.Cost.String(), p.Stock.String(),
			p.Barcode, syncedAt, embeddingState,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	var syncErrors []CatalogSyncError
	err = db.Where("business_id = ?", businessId).
		Order("id desc").
		Limit(500).
		Find(&syncErrors).Error
	if err != nil {
		return nil, err
	}

	errSheet := "Sync Errors"
	if _, err := f.NewSheet(errSheet); err != nil {
		return nil, fmt.Errorf("failed to add error sheet: %w", err)
	}
	errHeaders := []string{"Run", "Entity", "External ID", "Code", "Message", "Retryable", "At"}
	for i, h := range errHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(errSheet, cell, h)
	}
	for row, e := range syncErrors {
		values := []any{
			e.SyncRunId, e.EntityType, e.ExternalId, e.ErrorCode,
			e.Message, e.Retryable, e.CreatedAt.Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(errSheet, cell, v)
		}
	}

	return f, nil
}
