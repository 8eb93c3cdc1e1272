package models

import (
	"context"
)

// CatalogStore adapts the package-level model functions to the interfaces the
// sync orchestrator and embedding pipeline consume, so those components stay
// testable against in-memory fakes.
type CatalogStore struct{}

func (CatalogStore) FindProductBySku(ctx context.Context, sku string) (*Product, error) {
	return GetProductBySku(ctx, sku)
}

func (CatalogStore) CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	return CreateProduct(ctx, input)
}

func (CatalogStore) UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	return UpdateProduct(ctx, id, input)
}

func (CatalogStore) FindCategory(ctx context.Context, externalCode, name string) (*ProductCategory, error) {
	return FindProductCategory(ctx, externalCode, name)
}

func (CatalogStore) CreateCategory(ctx context.Context, input *NewProductCategory) (*ProductCategory, error) {
	return CreateProductCategory(ctx, input)
}

func (CatalogStore) UpdateCategory(ctx context.Context, id int, input *NewProductCategory) (*ProductCategory, error) {
	return UpdateProductCategory(ctx, id, input)
}

func (CatalogStore) FindBrand(ctx context.Context, externalCode, name string) (*Brand, error) {
	return FindBrand(ctx, externalCode, name)
}

func (CatalogStore) CreateBrand(ctx context.Context, input *NewBrand) (*Brand, error) {
	return CreateBrand(ctx, input)
}

func (CatalogStore) DeactivateProductsNotIn(ctx context.Context, seenSkus []string) (int64, error) {
	return DeactivateProductsNotIn(ctx, seenSkus)
}

func (CatalogStore) GetProductSearchDoc(ctx context.Context, id int) (*ProductSearchDoc, error) {
	return GetProductSearchDoc(ctx, id)
}

func (CatalogStore) ProductIdsForEmbedding(ctx context.Context, ids []int, force bool) ([]int, error) {
	return ProductIdsForEmbedding(ctx, ids, force)
}

func (CatalogStore) SaveProductEmbedding(ctx context.Context, id int, vec Vector) error {
	return SaveProductEmbedding(ctx, id, vec)
}
