package erpsync

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// MapItemToProduct translates one ERP item into the local product input.
// Numeric fields arrive as free-form strings and are coerced to zero on
// garbage; a missing item code is the one hard failure because SKU is the
// upsert natural key.
func MapItemToProduct(item *CatalogItem) (*models.NewProduct, error) {
	code := strings.TrimSpace(item.Code)
	if code == "" {
		return nil, fmt.Errorf("item %q has no code, cannot derive sku", item.Name)
	}

	name := strings.TrimSpace(item.Name)
	if name == "" {
		name = code
	}

	barcode := ""
	if len(item.Barcodes) > 0 {
		barcode = strings.TrimSpace(item.Barcodes[0])
	}

	product := models.NewProduct{
		Name:           name,
		Description:    strings.TrimSpace(item.Description),
		Sku:            code,
		Barcode:        barcode,
		ExternalCode:   strings.TrimSpace(item.ExternalCode),
		SupplierName:   strings.TrimSpace(item.Supplier.Name),
		Model:          strings.TrimSpace(item.Model),
		Specifications: strings.TrimSpace(item.Specifications),
		Price:          resolvePrice(item.PriceLists, "retail"),
		WholesalePrice: resolvePrice(item.PriceLists, "wholesale"),
		Cost:           utils.DecimalOrZero(item.Cost),
		TaxPercent:     utils.DecimalOrZero(item.TaxPercent),
		Stock:          sumStock(item.Stocks),
		ImageUrl:       strings.TrimSpace(item.ImageURL),
	}
	return &product, nil
}

// resolvePrice picks the price list whose name contains the wanted keyword
// (case insensitive). When no list matches, the first entry wins so items
// with a single unnamed list still carry a price.
func resolvePrice(lists []PriceEntry, keyword string) decimal.Decimal {
	for _, entry := range lists {
		if strings.Contains(strings.ToLower(entry.Name), keyword) {
			return utils.DecimalOrZero(entry.Price)
		}
	}
	if keyword == "retail" && len(lists) > 0 {
		return utils.DecimalOrZero(lists[0].Price)
	}
	return decimal.Zero
}

func sumStock(stocks []StockEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range stocks {
		total = total.Add(utils.DecimalOrZero(entry.Quantity))
	}
	return total
}

// MapItemCategory prefers the subcategory when the ERP supplies one, since
// it is the more specific classification. Returns nil when the item carries
// no category at all.
func MapItemCategory(item *CatalogItem) *models.NewProductCategory {
	ref := item.Category
	if strings.TrimSpace(item.Subcategory.Name) != "" || strings.TrimSpace(item.Subcategory.Code) != "" {
		ref = item.Subcategory
	}
	name := strings.TrimSpace(ref.Name)
	code := strings.TrimSpace(ref.Code)
	if name == "" && code == "" {
		return nil
	}
	if name == "" {
		name = code
	}
	return &models.NewProductCategory{
		Name:         name,
		ExternalCode: code,
	}
}

func MapItemBrand(item *CatalogItem) *models.NewBrand {
	name := strings.TrimSpace(item.Brand.Name)
	code := strings.TrimSpace(item.Brand.Code)
	if name == "" && code == "" {
		return nil
	}
	if name == "" {
		name = code
	}
	return &models.NewBrand{
		Name:         name,
		ExternalCode: code,
	}
}
