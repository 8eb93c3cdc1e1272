package erpsync

import "testing"

func TestMapItemToProduct_FullItem(t *testing.T) {
	item := &CatalogItem{
		Code:        "DRL-100",
		Name:        "  Cordless Drill  ",
		Description: "18V cordless drill",
		Barcodes:    []string{"885911000001", "885911000002"},
		Supplier:    CatalogRef{Name: "Main Supplier"},
		Model:       "XR-18",
		Cost:        "85000.50",
		TaxPercent:  "5",
		PriceLists: []PriceEntry{
			{Name: "Wholesale Price", Price: "95000"},
			{Name: "Retail Price", Price: "120000"},
		},
		Stocks: []StockEntry{
			{Location: "Main", Quantity: "3"},
			{Location: "Branch", Quantity: "2.5"},
		},
		ExternalCode: "EXT-77",
		ImageURL:     "https://cdn.example.com/drl-100.jpg",
	}

	product, err := MapItemToProduct(item)
	if err != nil {
		t.Fatalf("MapItemToProduct error: %v", err)
	}
	if product.Sku != "DRL-100" {
		t.Fatalf("Sku = %q", product.Sku)
	}
	if product.Name != "Cordless Drill" {
		t.Fatalf("Name = %q, expected trimmed", product.Name)
	}
	if product.Barcode != "885911000001" {
		t.Fatalf("Barcode = %q, expected first barcode", product.Barcode)
	}
	if product.Price.String() != "120000" {
		t.Fatalf("Price = %s, expected retail list", product.Price)
	}
	if product.WholesalePrice.String() != "95000" {
		t.Fatalf("WholesalePrice = %s", product.WholesalePrice)
	}
	if product.Cost.String() != "85000.5" {
		t.Fatalf("Cost = %s", product.Cost)
	}
	if product.Stock.String() != "5.5" {
		t.Fatalf("Stock = %s, expected sum across locations", product.Stock)
	}
}

func TestMapItemToProduct_MissingCodeFails(t *testing.T) {
	_, err := MapItemToProduct(&CatalogItem{Name: "No Code Item"})
	if err == nil {
		t.Fatal("expected error for item without code")
	}
}

func TestMapItemToProduct_GarbageNumbersCoerceToZero(t *testing.T) {
	item := &CatalogItem{
		Code:       "X-1",
		Cost:       "not-a-number",
		TaxPercent: "",
		PriceLists: []PriceEntry{{Name: "Retail", Price: "12,34abc"}},
		Stocks:     []StockEntry{{Quantity: "NaNANANA"}},
	}
	product, err := MapItemToProduct(item)
	if err != nil {
		t.Fatalf("MapItemToProduct error: %v", err)
	}
	if !product.Cost.IsZero() || !product.TaxPercent.IsZero() || !product.Price.IsZero() || !product.Stock.IsZero() {
		t.Fatalf("garbage numeric fields not coerced to zero: %+v", product)
	}
}

func TestMapItemToProduct_NameFallsBackToCode(t *testing.T) {
	product, err := MapItemToProduct(&CatalogItem{Code: "ONLY-CODE"})
	if err != nil {
		t.Fatalf("MapItemToProduct error: %v", err)
	}
	if product.Name != "ONLY-CODE" {
		t.Fatalf("Name = %q, expected code fallback", product.Name)
	}
}

func TestResolvePrice_FirstListWinsWhenNoRetailMatch(t *testing.T) {
	lists := []PriceEntry{{Name: "Default", Price: "500"}}
	if got := resolvePrice(lists, "retail"); got.String() != "500" {
		t.Fatalf("resolvePrice = %s, expected first entry fallback", got)
	}
	// Wholesale has no fallback; an item without a wholesale list has none.
	if got := resolvePrice(lists, "wholesale"); !got.IsZero() {
		t.Fatalf("wholesale resolvePrice = %s, expected zero", got)
	}
}

func TestMapItemCategory_PrefersSubcategory(t *testing.T) {
	item := &CatalogItem{
		Code:        "A",
		Category:    CatalogRef{Code: "CAT", Name: "Tools"},
		Subcategory: CatalogRef{Code: "SUB", Name: "Drills"},
	}
	category := MapItemCategory(item)
	if category == nil || category.Name != "Drills" || category.ExternalCode != "SUB" {
		t.Fatalf("unexpected category: %+v", category)
	}
}

func TestMapItemCategory_NilWhenAbsent(t *testing.T) {
	if category := MapItemCategory(&CatalogItem{Code: "A"}); category != nil {
		t.Fatalf("expected nil category, got %+v", category)
	}
}

func TestMapItemBrand(t *testing.T) {
	item := &CatalogItem{Code: "A", Brand: CatalogRef{Code: "MKT", Name: "Makita"}}
	brand := MapItemBrand(item)
	if brand == nil || brand.Name != "Makita" || brand.ExternalCode != "MKT" {
		t.Fatalf("unexpected brand: %+v", brand)
	}
	if brand := MapItemBrand(&CatalogItem{Code: "A"}); brand != nil {
		t.Fatalf("expected nil brand, got %+v", brand)
	}
}
