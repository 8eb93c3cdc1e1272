package erpsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
)

type fakeStore struct {
	products   map[string]*models.Product
	categories map[string]*models.ProductCategory
	brands     map[string]*models.Brand

	nextId      int
	createCalls int
	updateCalls int

	deactivateCalled bool
	deactivateSkus   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:   map[string]*models.Product{},
		categories: map[string]*models.ProductCategory{},
		brands:     map[string]*models.Brand{},
	}
}

func (s *fakeStore) FindProductBySku(ctx context.Context, sku string) (*models.Product, error) {
	return s.products[sku], nil
}

func (s *fakeStore) CreateProduct(ctx context.Context, input *models.NewProduct) (*models.Product, error) {
	s.createCalls++
	s.nextId++
	product := &models.Product{
		ID:         s.nextId,
		Sku:        input.Sku,
		Name:       input.Name,
		CategoryId: input.CategoryId,
		BrandId:    input.BrandId,
		Price:      input.Price,
		Stock:      input.Stock,
	}
	s.products[input.Sku] = product
	return product, nil
}

func (s *fakeStore) UpdateProduct(ctx context.Context, id int, input *models.NewProduct) (*models.Product, error) {
	s.updateCalls++
	for _, product := range s.products {
		if product.ID == id {
			product.Name = input.Name
			product.Price = input.Price
			product.Stock = input.Stock
			return product, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *fakeStore) FindCategory(ctx context.Context, externalCode, name string) (*models.ProductCategory, error) {
	if c, ok := s.categories[externalCode]; ok {
		return c, nil
	}
	for _, c := range s.categories {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateCategory(ctx context.Context, input *models.NewProductCategory) (*models.ProductCategory, error) {
	s.nextId++
	c := &models.ProductCategory{ID: s.nextId, Name: input.Name, ExternalCode: input.ExternalCode}
	s.categories[input.ExternalCode] = c
	return c, nil
}

func (s *fakeStore) UpdateCategory(ctx context.Context, id int, input *models.NewProductCategory) (*models.ProductCategory, error) {
	for _, c := range s.categories {
		if c.ID == id {
			c.Name = input.Name
			return c, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *fakeStore) FindBrand(ctx context.Context, externalCode, name string) (*models.Brand, error) {
	if b, ok := s.brands[externalCode]; ok {
		return b, nil
	}
	for _, b := range s.brands {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateBrand(ctx context.Context, input *models.NewBrand) (*models.Brand, error) {
	s.nextId++
	b := &models.Brand{ID: s.nextId, Name: input.Name, ExternalCode: input.ExternalCode}
	s.brands[input.ExternalCode] = b
	return b, nil
}

func (s *fakeStore) DeactivateProductsNotIn(ctx context.Context, seenSkus []string) (int64, error) {
	s.deactivateCalled = true
	s.deactivateSkus = seenSkus
	return 0, nil
}

type fakeFetcher struct {
	items      []CatalogItem
	categories []CatalogCategory

	failOffsets map[int]error
	fetchCalls  int
}

func (f *fakeFetcher) FetchCategories(ctx context.Context) ([]CatalogCategory, error) {
	return f.categories, nil
}

func (f *fakeFetcher) FetchItemsWithRetry(ctx context.Context, offset, limit int, timeoutOverride ...time.Duration) (*ItemsPage, error) {
	f.fetchCalls++
	if err, ok := f.failOffsets[offset]; ok {
		return nil, err
	}
	end := offset + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	var items []CatalogItem
	if offset < len(f.items) {
		items = f.items[offset:end]
	}
	return &ItemsPage{Total: len(f.items), Offset: offset, Limit: limit, Items: items}, nil
}

func makeItems(n int) []CatalogItem {
	items := make([]CatalogItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, CatalogItem{
			Code: fmt.Sprintf("SKU-%d", i),
			Name: fmt.Sprintf("Item %d", i),
		})
	}
	return items
}

func newTestOrchestrator(store Store, fetcher Fetcher, batchSize int) *SyncOrchestrator {
	o := NewSyncOrchestrator(store, fetcher)
	o.BatchSize = batchSize
	return o
}

func TestSyncAll_PaginatesWholeCatalog(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{items: makeItems(3)}
	o := newTestOrchestrator(store, fetcher, 2)

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if result.TotalProcessed != 3 || result.TotalCreated != 3 || result.TotalUpdated != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// 3 items with batch size 2 means exactly two page fetches.
	if fetcher.fetchCalls != 2 {
		t.Fatalf("fetchCalls = %d, expected 2", fetcher.fetchCalls)
	}
	if !result.Successful() {
		t.Fatal("expected a successful run")
	}
}

func TestSyncAll_SecondRunUpdatesInPlace(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{items: makeItems(3)}

	o := newTestOrchestrator(store, fetcher, 10)
	if _, err := o.SyncAll(context.Background()); err != nil {
		t.Fatalf("first SyncAll error: %v", err)
	}
	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("second SyncAll error: %v", err)
	}

	if result.TotalCreated != 0 || result.TotalUpdated != 3 {
		t.Fatalf("second run created=%d updated=%d, expected 0/3", result.TotalCreated, result.TotalUpdated)
	}
	if len(store.products) != 3 {
		t.Fatalf("store holds %d products, expected 3 (no duplicates)", len(store.products))
	}
}

func TestSyncAll_PartialFailureIsolation(t *testing.T) {
	items := makeItems(5)
	items[2].Code = "" // mapping failure for item 3
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: items}, 10)

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if result.TotalProcessed != 5 {
		t.Fatalf("TotalProcessed = %d, expected 5", result.TotalProcessed)
	}
	if result.TotalErrors != 1 || len(result.Errors) != 1 {
		t.Fatalf("TotalErrors = %d, Errors = %v", result.TotalErrors, result.Errors)
	}
	if result.TotalCreated != 4 {
		t.Fatalf("TotalCreated = %d, expected the other 4 items", result.TotalCreated)
	}
}

func TestSyncAll_FailedBatchDoesNotAbortRun(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		items:       makeItems(6),
		failOffsets: map[int]error{2: errors.New("boom")},
	}
	o := newTestOrchestrator(store, fetcher, 2)

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	// Batch at offset 2 lost, batches at 0 and 4 landed.
	if result.TotalCreated != 4 {
		t.Fatalf("TotalCreated = %d, expected 4", result.TotalCreated)
	}
	if result.TotalErrors != 1 {
		t.Fatalf("TotalErrors = %d, expected 1 for the lost batch", result.TotalErrors)
	}
}

func TestSyncAll_FatalWhenFirstPageFails(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		items:       makeItems(4),
		failOffsets: map[int]error{0: &AuthError{Status: 401}},
	}
	o := newTestOrchestrator(store, fetcher, 2)

	_, err := o.SyncAll(context.Background())
	if err == nil {
		t.Fatal("expected fatal error when the first page fails")
	}
	if store.createCalls != 0 {
		t.Fatalf("createCalls = %d, expected no writes", store.createCalls)
	}
}

func TestSyncAll_DryRunSkipsWrites(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: makeItems(3)}, 10)
	o.DryRun = true

	hookCalls := 0
	o.Hook = func(ctx context.Context, product *models.Product, item *CatalogItem, outcome UpsertOutcome) error {
		hookCalls++
		return nil
	}

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if store.createCalls != 0 || store.updateCalls != 0 {
		t.Fatalf("dry run wrote: creates=%d updates=%d", store.createCalls, store.updateCalls)
	}
	if hookCalls != 0 {
		t.Fatalf("hook called %d times during dry run", hookCalls)
	}
	if result.TotalProcessed != 3 || result.TotalCreated != 3 {
		t.Fatalf("dry run still counts volume: %+v", result)
	}
	if store.deactivateCalled {
		t.Fatal("dry run must not deactivate anything")
	}
}

func TestSyncAll_MaxProductsCapsRun(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: makeItems(10)}, 3)
	o.MaxProducts = 4

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if result.TotalProcessed != 4 {
		t.Fatalf("TotalProcessed = %d, expected cap of 4", result.TotalProcessed)
	}
	if store.deactivateCalled {
		t.Fatal("capped run must not deactivate (it has not seen the whole catalog)")
	}
}

func TestSyncAll_HookFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: makeItems(2)}, 10)
	o.Hook = func(ctx context.Context, product *models.Product, item *CatalogItem, outcome UpsertOutcome) error {
		return errors.New("observer exploded")
	}

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if result.TotalErrors != 0 || result.TotalCreated != 2 {
		t.Fatalf("hook failure leaked into result: %+v", result)
	}
}

func TestSyncAll_HookSeesOutcome(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{items: makeItems(1)}
	o := newTestOrchestrator(store, fetcher, 10)

	var outcomes []UpsertOutcome
	o.Hook = func(ctx context.Context, product *models.Product, item *CatalogItem, outcome UpsertOutcome) error {
		outcomes = append(outcomes, outcome)
		return nil
	}

	if _, err := o.SyncAll(context.Background()); err != nil {
		t.Fatalf("first SyncAll error: %v", err)
	}
	if _, err := o.SyncAll(context.Background()); err != nil {
		t.Fatalf("second SyncAll error: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0] != OutcomeCreated || outcomes[1] != OutcomeUpdated {
		t.Fatalf("outcomes = %v, expected [created updated]", outcomes)
	}
}

func TestSyncAll_ResolvesCategoryAndBrand(t *testing.T) {
	store := newFakeStore()
	items := []CatalogItem{{
		Code:     "DRL-1",
		Name:     "Drill",
		Category: CatalogRef{Code: "PT", Name: "Power Tools"},
		Brand:    CatalogRef{Code: "MKT", Name: "Makita"},
	}, {
		Code:     "DRL-2",
		Name:     "Impact Driver",
		Category: CatalogRef{Code: "PT", Name: "Power Tools"},
		Brand:    CatalogRef{Code: "MKT", Name: "Makita"},
	}}
	o := newTestOrchestrator(store, &fakeFetcher{items: items}, 10)

	if _, err := o.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if len(store.categories) != 1 || len(store.brands) != 1 {
		t.Fatalf("categories=%d brands=%d, expected shared lookups deduplicated", len(store.categories), len(store.brands))
	}
	p1 := store.products["DRL-1"]
	p2 := store.products["DRL-2"]
	if p1.CategoryId == 0 || p1.CategoryId != p2.CategoryId {
		t.Fatalf("category ids not shared: %d vs %d", p1.CategoryId, p2.CategoryId)
	}
	if p1.BrandId == 0 || p1.BrandId != p2.BrandId {
		t.Fatalf("brand ids not shared: %d vs %d", p1.BrandId, p2.BrandId)
	}
}

func TestSyncAll_DeactivatesMissingAfterCleanRun(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: makeItems(2)}, 10)

	if _, err := o.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if !store.deactivateCalled {
		t.Fatal("clean full run should trigger the deactivation pass")
	}
	if len(store.deactivateSkus) != 2 {
		t.Fatalf("deactivation saw %d skus, expected 2", len(store.deactivateSkus))
	}
}

func TestSyncAll_NoDeactivationWhenErrorsPresent(t *testing.T) {
	items := makeItems(3)
	items[0].Code = ""
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: items}, 10)

	if _, err := o.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if store.deactivateCalled {
		t.Fatal("run with errors must not deactivate missing products")
	}
}

func TestSyncResult_Invariants(t *testing.T) {
	items := makeItems(5)
	items[1].Code = ""
	items[3].Code = ""
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeFetcher{items: items}, 10)

	result, err := o.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if result.TotalErrors != len(result.Errors) {
		t.Fatalf("TotalErrors=%d len(Errors)=%d", result.TotalErrors, len(result.Errors))
	}
	skipped := result.TotalProcessed - result.TotalCreated - result.TotalUpdated
	if skipped != 2 {
		t.Fatalf("skipped = %d, expected 2", skipped)
	}
	if result.Successful() {
		t.Fatal("run with errors must not report successful")
	}
	if result.DurationSeconds() < 0 {
		t.Fatalf("DurationSeconds = %f", result.DurationSeconds())
	}
}
