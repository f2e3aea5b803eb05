package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testProduct(name, category string, score int) *Product {
	return &Product{
		Name:             name,
		Category:         category,
		Subcategory:      "Gadgets",
		Description:      "A useful thing.",
		PriceLow:         9.99,
		PriceHigh:        19.99,
		TrendScore:       score,
		EngagementRate:   score,
		SalesVelocity:    score,
		SearchVolume:     score,
		GeographicSpread: score,
		SourcePlatform:   "AliExpress",
		ReferenceURLs:    []string{"https://www.aliexpress.com/wholesale?SearchText=x"},
	}
}

func TestCreateProduct(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.CreateProduct(ctx, testProduct("Magnetic Phone Mount", "Electronics", 70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero product ID")
	}

	p, err := db.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected product")
	}
	if p.Name != "Magnetic Phone Mount" || p.TrendScore != 70 {
		t.Errorf("unexpected product: %+v", p)
	}
	if len(p.ReferenceURLs) != 1 {
		t.Errorf("expected 1 reference url, got %v", p.ReferenceURLs)
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestCreateDuplicateProductCaseInsensitive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.CreateProduct(ctx, testProduct("Magnetic Phone Mount", "Electronics", 70))
	id, err := db.CreateProduct(ctx, testProduct("magnetic phone MOUNT", "Electronics", 50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Error("expected 0 for duplicate name")
	}

	n, _ := db.CountProducts(ctx)
	if n != 1 {
		t.Errorf("expected 1 product, got %d", n)
	}
}

func TestGetProductByName(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.CreateProduct(ctx, testProduct("LED Strip Lights", "Home & Kitchen", 60))

	p, err := db.GetProductByName(ctx, "  led strip LIGHTS ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.Name != "LED Strip Lights" {
		t.Errorf("expected LED Strip Lights, got %+v", p)
	}

	missing, err := db.GetProductByName(ctx, "nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown name")
	}
}

func TestRefreshProductMetrics(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, _ := db.CreateProduct(ctx, testProduct("Smart Water Bottle", "Fitness", 40))

	later := time.Now().Add(time.Hour)
	err := db.RefreshProductMetrics(ctx, id, ProductMetrics{
		TrendScore: 88, EngagementRate: 90, SalesVelocity: 85, SearchVolume: 88, GeographicSpread: 80,
	}, later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _ := db.GetProduct(ctx, id)
	if p.TrendScore != 88 || p.EngagementRate != 90 {
		t.Errorf("metrics not refreshed: %+v", p)
	}
	if !p.UpdatedAt.After(p.CreatedAt) {
		t.Errorf("expected updated_at after created_at, got %v / %v", p.UpdatedAt, p.CreatedAt)
	}
}

func TestDeleteProductCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, _ := db.CreateProduct(ctx, testProduct("Posture Corrector", "Health", 55))
	db.AppendRegions(ctx, id, []Region{{Country: "United States", Percentage: 100}})
	db.AppendTrendPoints(ctx, id, []TrendPoint{{Date: "2026-01-01", EngagementValue: 1, SalesValue: 1, SearchValue: 1}})

	deleted, err := db.DeleteProduct(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Error("expected product to be deleted")
	}

	stats, _ := db.GetStats(ctx)
	if stats.Products != 0 || stats.Regions != 0 || stats.TrendPoints != 0 {
		t.Errorf("expected empty tables, got %+v", stats)
	}

	deleted, _ = db.DeleteProduct(ctx, id)
	if deleted {
		t.Error("expected second delete to report false")
	}
}

func TestSeriesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, _ := db.CreateProduct(ctx, testProduct("Mini Projector", "Electronics", 75))

	err := db.AppendTrendPoints(ctx, id, []TrendPoint{
		{Date: "2026-01-02", EngagementValue: 20, SalesValue: 10, SearchValue: 30},
		{Date: "2026-01-01", EngagementValue: 10, SalesValue: 5, SearchValue: 15},
	})
	if err != nil {
		t.Fatalf("AppendTrendPoints: %v", err)
	}
	if err := db.AppendRegions(ctx, id, []Region{
		{Country: "Germany", Percentage: 30},
		{Country: "United States", Percentage: 70},
	}); err != nil {
		t.Fatalf("AppendRegions: %v", err)
	}
	if err := db.AppendVideos(ctx, id, []Video{
		{Title: "a", Platform: "TikTok", Views: 100, UploadDate: "2026-01-01", VideoURL: "https://tiktok.com/1"},
		{Title: "b", Platform: "YouTube", Views: 900, UploadDate: "2025-12-01", VideoURL: "https://youtube.com/2"},
	}); err != nil {
		t.Fatalf("AppendVideos: %v", err)
	}

	points, _ := db.GetTrendPoints(ctx, id)
	if len(points) != 2 || points[0].Date != "2026-01-01" {
		t.Errorf("expected ascending trend points, got %+v", points)
	}
	regions, _ := db.GetRegions(ctx, id)
	if len(regions) != 2 || regions[0].Country != "United States" {
		t.Errorf("expected largest region first, got %+v", regions)
	}
	videos, _ := db.GetVideos(ctx, id)
	if len(videos) != 2 || videos[0].Views != 900 {
		t.Errorf("expected most viewed first, got %+v", videos)
	}
}

func TestSaveProductWritesChildRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.SaveProduct(ctx, testProduct("Milk Frother", "Home & Kitchen", 70), ProductData{
		Trends:  []TrendPoint{{Date: "2026-01-01"}, {Date: "2026-01-02"}},
		Regions: []Region{{Country: "Germany", Percentage: 40}, {Country: "Japan", Percentage: 60}},
		Videos:  []Video{{Title: "Milk Frother review", Platform: "TikTok", Views: 10, UploadDate: "2026-01-02"}},
	})
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero product ID")
	}

	points, _ := db.GetTrendPoints(ctx, id)
	regions, _ := db.GetRegions(ctx, id)
	videos, _ := db.GetVideos(ctx, id)
	if len(points) != 2 || len(regions) != 2 || len(videos) != 1 {
		t.Errorf("expected 2/2/1 child rows, got %d/%d/%d", len(points), len(regions), len(videos))
	}

	again, err := db.SaveProduct(ctx, testProduct("milk frother", "Home & Kitchen", 50), ProductData{
		Regions: []Region{{Country: "France", Percentage: 100}},
	})
	if err != nil {
		t.Fatalf("SaveProduct duplicate: %v", err)
	}
	if again != 0 {
		t.Errorf("expected 0 for taken name, got %d", again)
	}
	regions, _ = db.GetRegions(ctx, id)
	if len(regions) != 2 {
		t.Errorf("expected duplicate save to leave regions alone, got %d", len(regions))
	}
}

func TestSaveProductRollsBackOnChildFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.SaveProduct(ctx, testProduct("Milk Frother", "Home & Kitchen", 70), ProductData{
		Trends:  []TrendPoint{{Date: "2026-01-01"}, {Date: "2026-01-01"}},
		Regions: []Region{{Country: "Germany", Percentage: 100}},
	})
	if err == nil {
		t.Fatal("expected unique violation for repeated trend date")
	}

	n, _ := db.CountProducts(ctx)
	if n != 0 {
		t.Fatalf("expected product insert to be rolled back, got %d products", n)
	}
	p, _ := db.GetProductByName(ctx, "Milk Frother")
	if p != nil {
		t.Errorf("expected no stored product, got %+v", p)
	}

	// The name is free again, so a later cycle can store it whole.
	id, err := db.SaveProduct(ctx, testProduct("Milk Frother", "Home & Kitchen", 70), ProductData{
		Trends:  []TrendPoint{{Date: "2026-01-01"}},
		Regions: []Region{{Country: "Germany", Percentage: 100}},
	})
	if err != nil || id == 0 {
		t.Fatalf("expected retry to succeed, got id=%d err=%v", id, err)
	}
}

func TestDuplicateTrendDateRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, _ := db.CreateProduct(ctx, testProduct("Pet Hair Remover", "Pet Supplies", 45))

	err := db.AppendTrendPoints(ctx, id, []TrendPoint{
		{Date: "2026-01-01"},
		{Date: "2026-01-01"},
	})
	if err == nil {
		t.Fatal("expected unique violation for repeated date")
	}
	points, _ := db.GetTrendPoints(ctx, id)
	if len(points) != 0 {
		t.Errorf("expected rolled back insert, got %d points", len(points))
	}
}

func TestListProductsPage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i, name := range []string{"A", "B", "C", "D", "E"} {
		cat := "Electronics"
		if i%2 == 1 {
			cat = "Fitness"
		}
		id, _ := db.CreateProduct(ctx, testProduct(name, cat, 50+i*10))
		if name == "E" {
			db.AppendRegions(ctx, id, []Region{{Country: "Japan", Percentage: 100}})
		}
	}

	page, err := db.ListProductsPage(ctx, ProductFilter{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 5 || page.Pages != 3 || len(page.Items) != 2 {
		t.Errorf("unexpected page: total=%d pages=%d items=%d", page.Total, page.Pages, len(page.Items))
	}
	if page.Items[0].Name != "E" {
		t.Errorf("expected highest score first, got %q", page.Items[0].Name)
	}

	page, _ = db.ListProductsPage(ctx, ProductFilter{Category: "Fitness", SortBy: "name", SortOrder: "asc"})
	if page.Total != 2 || page.Items[0].Name != "B" {
		t.Errorf("unexpected category page: %+v", page)
	}

	page, _ = db.ListProductsPage(ctx, ProductFilter{MinScore: 80})
	if page.Total != 2 {
		t.Errorf("expected 2 products scoring >= 80, got %d", page.Total)
	}

	page, _ = db.ListProductsPage(ctx, ProductFilter{Region: "Japan"})
	if page.Total != 1 || page.Items[0].Name != "E" {
		t.Errorf("expected region filter to match E, got %+v", page.Items)
	}

	page, _ = db.ListProductsPage(ctx, ProductFilter{SortBy: "bogus; DROP TABLE products"})
	if page.Total != 5 {
		t.Errorf("expected unknown sort to fall back, got %d", page.Total)
	}
}

func TestCategoriesAndSummary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	summary, err := db.DashboardSummary(ctx, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalProducts != 0 || summary.MostPopularCategory != nil {
		t.Errorf("expected empty summary, got %+v", summary)
	}

	db.CreateProduct(ctx, testProduct("A", "Electronics", 90))
	db.CreateProduct(ctx, testProduct("B", "Electronics", 60))
	db.CreateProduct(ctx, testProduct("C", "Beauty", 81))

	cats, _ := db.Categories(ctx)
	if len(cats) != 2 || cats[0] != "Beauty" {
		t.Errorf("unexpected categories: %v", cats)
	}

	summary, _ = db.DashboardSummary(ctx, time.Now())
	if summary.TotalProducts != 3 {
		t.Errorf("expected 3 products, got %d", summary.TotalProducts)
	}
	if summary.TrendingProducts != 2 {
		t.Errorf("expected 2 trending, got %d", summary.TrendingProducts)
	}
	if summary.AvgTrendScore != 77 {
		t.Errorf("expected avg 77, got %v", summary.AvgTrendScore)
	}
	if summary.MostPopularCategory == nil || *summary.MostPopularCategory != "Electronics" {
		t.Errorf("expected Electronics, got %v", summary.MostPopularCategory)
	}
	if summary.NewProducts24h != 3 {
		t.Errorf("expected 3 new products, got %d", summary.NewProducts24h)
	}

	summary, _ = db.DashboardSummary(ctx, time.Now().Add(48*time.Hour))
	if summary.NewProducts24h != 0 {
		t.Errorf("expected 0 new products two days later, got %d", summary.NewProducts24h)
	}
}

func TestOpenWithRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	want := &DB{}
	open := func(ctx context.Context) (*DB, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return want, nil
	}

	got, err := OpenWithRetry(context.Background(), open, 5, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("expected the opened DB")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestOpenWithRetryExhausted(t *testing.T) {
	calls := 0
	open := func(ctx context.Context) (*DB, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	_, err := OpenWithRetry(context.Background(), open, 5, time.Millisecond, nil)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 attempts, got %d", calls)
	}
}

func TestOpenWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	open := func(ctx context.Context) (*DB, error) {
		cancel()
		return nil, errors.New("connection refused")
	}

	_, err := OpenWithRetry(ctx, open, 5, time.Hour, nil)
	if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled ErrStorageUnavailable, got %v", err)
	}
}

func TestPostgresRebind(t *testing.T) {
	db := &DB{dialect: Postgres}
	got := db.rebind("SELECT * FROM products WHERE category = ? AND trend_score >= ? LIMIT ?")
	want := "SELECT * FROM products WHERE category = $1 AND trend_score >= $2 LIMIT $3"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	sqlite := &DB{dialect: SQLite}
	if q := "SELECT ?"; sqlite.rebind(q) != q {
		t.Error("sqlite queries should not be rewritten")
	}
}

func TestCreateProductPostgres(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	db := &DB{conn: conn, dialect: Postgres}

	mock.ExpectQuery(`INSERT INTO products .* VALUES \(\$1, \$2, .*\$17\)\s+ON CONFLICT \(name_key\) DO NOTHING\s+RETURNING id`).
		WithArgs("Magnetic Phone Mount", "magnetic phone mount", "Electronics", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), 70, 70, 70, 70, 70, sqlmock.AnyArg(), sqlmock.AnyArg(),
			`["https://www.aliexpress.com/wholesale?SearchText=x"]`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := db.CreateProduct(context.Background(), testProduct("Magnetic Phone Mount", "Electronics", 70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCountProductsPostgres(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	db := &DB{conn: conn, dialect: Postgres}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM products`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1000))

	n, err := db.CountProducts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1000 {
		t.Errorf("expected 1000, got %d", n)
	}
}
