package search_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/search"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// End-to-end over a real pgvector instance: products are embedded through
// the pipeline, then queried through every engine path.
func TestVectorSearchEngine_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	pgName, pgPort := startPostgresContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(pgName) })

	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", pgPort)
	t.Setenv("DB_NAME", "catalog_test")
	t.Setenv("EMBEDDING_DIMENSION", "768")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-search-test")

	embedder := search.NewMockEmbedder(768)
	store := models.CatalogStore{}

	drill := createProduct(t, ctx, "DRL-1", "Cordless Drill", "compact drill for woodworking", 120000, 5)
	grinder := createProduct(t, ctx, "AGR-1", "Angle Grinder", "metal cutting grinder", 98000, 0)
	createProduct(t, ctx, "SPK-1", "Spark Plug", "motorcycle engine spark plug", 4500, 30)

	pipeline := search.NewEmbeddingPipeline(store, embedder)
	stats, err := pipeline.UpdateBatch(ctx, nil, false)
	if err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	if stats.Updated != 3 || stats.Errors != 0 {
		t.Fatalf("embedding stats: %+v", stats)
	}

	engine := search.NewVectorSearchEngine(embedder)

	t.Run("vector search ranks the closest product first", func(t *testing.T) {
		results, err := engine.Search(ctx, "Cordless Drill", search.SearchOptions{TopK: 3})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) == 0 {
			t.Fatal("no results")
		}
		if results[0].EntityId != drill.ID {
			t.Fatalf("top result = %d, expected drill %d", results[0].EntityId, drill.ID)
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Fatalf("results not sorted by score descending at %d", i)
			}
		}
		for _, r := range results {
			if r.Distance != 1-r.Score {
				t.Fatalf("distance invariant broken: %+v", r)
			}
		}
	})

	t.Run("structural filters restrict the candidate set", func(t *testing.T) {
		results, err := engine.Search(ctx, "Angle Grinder", search.SearchOptions{
			TopK:    10,
			Filters: search.SearchFilters{InStockOnly: true},
		})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, r := range results {
			if r.EntityId == grinder.ID {
				t.Fatal("out-of-stock grinder returned despite InStockOnly")
			}
		}
	})

	t.Run("price bounds", func(t *testing.T) {
		max := decimal.NewFromInt(10000)
		results, err := engine.Search(ctx, "spark plug", search.SearchOptions{
			TopK:    10,
			Filters: search.SearchFilters{MaxPrice: &max},
		})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 1 || results[0].Metadata["sku"] != "SPK-1" {
			t.Fatalf("price filter results: %+v", results)
		}
	})

	t.Run("min score drops weak matches", func(t *testing.T) {
		results, err := engine.Search(ctx, "Cordless Drill", search.SearchOptions{TopK: 10, MinScore: 0.99})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, r := range results {
			if r.Score < 0.99 {
				t.Fatalf("result below min score: %+v", r)
			}
		}
	})

	t.Run("hybrid search returns results", func(t *testing.T) {
		results, err := engine.Search(ctx, "drill woodworking", search.SearchOptions{TopK: 5, Hybrid: true})
		if err != nil {
			t.Fatalf("hybrid Search: %v", err)
		}
		if len(results) == 0 {
			t.Fatal("hybrid search returned nothing")
		}
	})

	t.Run("keyword fallback when embedder is down", func(t *testing.T) {
		broken := search.NewMockEmbedder(768)
		broken.Fail = true
		fallbackEngine := search.NewVectorSearchEngine(broken)

		results, err := fallbackEngine.Search(ctx, "spark plug", search.SearchOptions{TopK: 5})
		if err != nil {
			t.Fatalf("fallback Search: %v", err)
		}
		if len(results) != 1 || results[0].Metadata["sku"] != "SPK-1" {
			t.Fatalf("fallback results: %+v", results)
		}
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		otherCtx := utils.SetBusinessIdInContext(context.Background(), "someone-else")
		results, err := engine.Search(otherCtx, "Cordless Drill", search.SearchOptions{TopK: 5})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 0 {
			t.Fatalf("tenant isolation broken: %+v", results)
		}
	})
}

func createProduct(t *testing.T, ctx context.Context, sku, name, description string, price int64, stock int64) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku:         sku,
		Name:        name,
		Description: description,
		Price:       decimal.NewFromInt(price),
		Stock:       decimal.NewFromInt(stock),
	})
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", sku, err)
	}
	return product
}

func startPostgresContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("catalog-test-pg-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "POSTGRES_PASSWORD=testpw",
		"-e", "POSTGRES_DB=catalog_test",
		"-p", "127.0.0.1:0:5432",
		"pgvector/pgvector:pg16",
	)
	if err != nil {
		t.Fatalf("start postgres container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "5432/tcp")
	if err != nil {
		t.Fatalf("postgres docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "pg_isready", "-U", "postgres")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("postgres did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
