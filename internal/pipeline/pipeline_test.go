package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TrendDrop/internal/config"
	"github.com/TobiSchelling/TrendDrop/internal/database"
	"github.com/TobiSchelling/TrendDrop/internal/generate"
	"github.com/TobiSchelling/TrendDrop/internal/score"
	"github.com/TobiSchelling/TrendDrop/internal/synth"
	"github.com/TobiSchelling/TrendDrop/internal/validate"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type recorder struct {
	progress []int
	stages   []Stage
	events   []ProductEvent
}

func (r *recorder) Progress(stage Stage, percent int, _ string, _ Counts) {
	r.stages = append(r.stages, stage)
	r.progress = append(r.progress, percent)
}

func (r *recorder) ProductUpdated(ev ProductEvent) {
	r.events = append(r.events, ev)
}

type stubGenerator struct {
	cands []generate.Candidate
	err   error
	calls int
}

func (g *stubGenerator) Categories(context.Context, int) ([]string, error) {
	return []string{"Home & Kitchen"}, nil
}

func (g *stubGenerator) Candidates(context.Context, generate.Request) ([]generate.Candidate, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	// Only the first batch is returned so the attempt bound is not the only exit.
	if g.calls > 1 {
		return nil, nil
	}
	return g.cands, nil
}

func candidate(name, sub string, refs ...string) generate.Candidate {
	return generate.Candidate{
		Name:          name,
		Category:      "Home & Kitchen",
		Subcategory:   sub,
		ReferenceURLs: refs,
		Metrics:       score.Metrics{Engagement: 80, SalesVelocity: 70, SearchVolume: 60, GeographicSpread: 50},
	}
}

func newPipeline(cfg config.Agent, store Store, gen generate.CandidateGenerator) *Pipeline {
	rnd := rand.New(rand.NewSource(7))
	return New(cfg, store, gen, validate.New(nil), synth.New(rnd), nil)
}

func homeKitchen(batch, maxProducts int) config.Agent {
	return config.Agent{
		BatchSize:          batch,
		CategoriesPerCycle: 1,
		Categories:         []string{"Home & Kitchen"},
		MaxProducts:        maxProducts,
	}
}

func TestRunPersistsProductsWithChildData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	gen := generate.NewStatic(rand.New(rand.NewSource(1)))
	p := newPipeline(homeKitchen(3, 1000), db, gen)
	rec := &recorder{}

	res, err := p.Run(ctx, rec)
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, 3, res.Counts.Persisted)
	assert.Equal(t, 3, res.Counts.Validated)
	assert.Equal(t, []string{"Home & Kitchen"}, res.Categories)
	require.Len(t, res.ProductIDs, 3)
	require.Len(t, rec.events, 3)

	for i, id := range res.ProductIDs {
		assert.Equal(t, id, rec.events[i].ProductID)
		assert.Equal(t, "created", rec.events[i].Action)

		prod, err := db.GetProduct(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, prod)
		assert.Equal(t, "Home & Kitchen", prod.Category)
		assert.Equal(t, score.Compute(score.Metrics{
			Engagement:       prod.EngagementRate,
			SalesVelocity:    prod.SalesVelocity,
			SearchVolume:     prod.SearchVolume,
			GeographicSpread: prod.GeographicSpread,
		}), prod.TrendScore)

		points, err := db.GetTrendPoints(ctx, id)
		require.NoError(t, err)
		assert.Len(t, points, synth.SeriesDays)

		regions, err := db.GetRegions(ctx, id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(regions), 5)
		assert.LessOrEqual(t, len(regions), 8)
		sum := 0
		for _, r := range regions {
			sum += r.Percentage
		}
		assert.Equal(t, 100, sum)

		videos, err := db.GetVideos(ctx, id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(videos), 1)
		assert.LessOrEqual(t, len(videos), 5)
	}

	for i := 1; i < len(rec.progress); i++ {
		assert.GreaterOrEqual(t, rec.progress[i], rec.progress[i-1], "progress went backwards at %d", i)
	}
	assert.Equal(t, 100, rec.progress[len(rec.progress)-1])
	assert.Equal(t, StageTrendAnalysis, rec.stages[len(rec.stages)-1])
}

func TestRunSecondCycleAddsNewNames(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	gen := generate.NewStatic(rand.New(rand.NewSource(1)))
	p := newPipeline(homeKitchen(3, 1000), db, gen)

	_, err := p.Run(ctx, nil)
	require.NoError(t, err)
	res, err := p.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Counts.Persisted)

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRunCapReached(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateProduct(ctx, &database.Product{Name: "Existing", Category: "Home & Kitchen"})
	require.NoError(t, err)

	gen := &stubGenerator{}
	rec := &recorder{}
	res, err := newPipeline(homeKitchen(3, 1), db, gen).Run(ctx, rec)
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Empty(t, res.Steps)
	assert.Zero(t, gen.calls)
	assert.Empty(t, rec.events)
}

func TestRunStopsAtCap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	gen := generate.NewStatic(rand.New(rand.NewSource(1)))

	res, err := newPipeline(homeKitchen(3, 2), db, gen).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Counts.Persisted)

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunRejectsCandidatesWithoutMarketplaceReference(t *testing.T) {
	db := openTestDB(t)
	gen := &stubGenerator{cands: []generate.Candidate{
		candidate("Milk Frother", "Kitchen Gadgets", "https://blog.example.com/frother"),
		candidate("Vegetable Chopper", "Kitchen Gadgets"),
		candidate("Bath Caddy", "Bath", "https://www.amazon.com/dp/B0TEST"),
	}}

	res, err := newPipeline(homeKitchen(3, 1000), db, gen).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Counts.Discovered)
	assert.Equal(t, 2, res.Counts.Invalid)
	assert.Equal(t, 1, res.Counts.Validated)
	assert.Equal(t, 1, res.Counts.Persisted)

	prod, err := db.GetProductByName(context.Background(), "Bath Caddy")
	require.NoError(t, err)
	require.NotNil(t, prod)
	assert.Equal(t, []string{"https://www.amazon.com/dp/B0TEST"}, prod.ReferenceURLs)
}

func TestRunRefreshesRediscoveredProductOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, err := db.CreateProduct(ctx, &database.Product{
		Name: "Milk Frother", Category: "Home & Kitchen", Subcategory: "Kitchen Gadgets",
		TrendScore: 10, EngagementRate: 10, SalesVelocity: 10, SearchVolume: 10, GeographicSpread: 10,
	})
	require.NoError(t, err)

	ref := "https://www.aliexpress.com/item/1.html"
	gen := &stubGenerator{cands: []generate.Candidate{
		candidate("milk frother", "Kitchen Gadgets", ref),
		candidate("Milk Frother", "Kitchen Gadgets", ref),
	}}
	rec := &recorder{}

	res, err := newPipeline(homeKitchen(3, 1000), db, gen).Run(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Refreshed)
	assert.Equal(t, 1, res.Counts.Duplicates)
	assert.Zero(t, res.Counts.Persisted)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "refreshed", rec.events[0].Action)
	assert.Equal(t, id, rec.events[0].ProductID)

	prod, err := db.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 80, prod.EngagementRate)
	assert.Equal(t, 70, prod.TrendScore)
}

func TestRunGenerationFailureIsNotFatal(t *testing.T) {
	db := openTestDB(t)
	gen := &stubGenerator{err: errors.New("model offline")}

	res, err := newPipeline(homeKitchen(3, 1000), db, gen).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Counts.Discovered)
	assert.Len(t, res.Steps, 3)
}

// failingStore fails SaveProduct after the first n inserts.
type failingStore struct {
	*database.DB
	n int
}

func (s *failingStore) SaveProduct(ctx context.Context, p *database.Product, data database.ProductData) (int64, error) {
	if s.n == 0 {
		return 0, errors.New("disk full")
	}
	s.n--
	return s.DB.SaveProduct(ctx, p, data)
}

// childFailStore breaks the child rows of the first saved product once.
type childFailStore struct {
	*database.DB
	broken bool
}

func (s *childFailStore) SaveProduct(ctx context.Context, p *database.Product, data database.ProductData) (int64, error) {
	if !s.broken && len(data.Trends) > 0 {
		s.broken = true
		data.Trends = append(data.Trends, data.Trends[0])
	}
	return s.DB.SaveProduct(ctx, p, data)
}

func TestRunChildWriteFailureStoresNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	gen := generate.NewStatic(rand.New(rand.NewSource(1)))
	p := newPipeline(homeKitchen(3, 1000), &childFailStore{DB: db}, gen)
	rec := &recorder{}

	_, err := p.Run(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trend points")
	assert.Empty(t, rec.events)

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a product whose child rows failed must not be stored")

	res, err := p.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Counts.Persisted)

	products, err := db.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "Milk Frother", products[0].Name)
	for _, prod := range products {
		points, err := db.GetTrendPoints(ctx, prod.ID)
		require.NoError(t, err)
		assert.Len(t, points, synth.SeriesDays, prod.Name)

		regions, err := db.GetRegions(ctx, prod.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(regions), 5, prod.Name)
		sum := 0
		for _, r := range regions {
			sum += r.Percentage
		}
		assert.Equal(t, 100, sum, prod.Name)

		videos, err := db.GetVideos(ctx, prod.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, videos, prod.Name)
	}
}

func TestRunStaticCatalogKeepsGrowing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	gen := generate.NewStatic(rand.New(rand.NewSource(1)))
	p := newPipeline(homeKitchen(10, 1000), db, gen)

	for i := 0; i < 15; i++ {
		res, err := p.Run(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, 10, res.Counts.Persisted, "cycle %d", i+1)
	}

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150, n)
}

func TestRunStorageFailureKeepsEarlierProducts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	gen := generate.NewStatic(rand.New(rand.NewSource(1)))

	res, err := newPipeline(homeKitchen(3, 1000), &failingStore{DB: db, n: 1}, gen).Run(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	failed, ok := res.Failed()
	require.True(t, ok)
	assert.Equal(t, "Trend analysis", failed.Name)
	assert.Equal(t, 1, res.Counts.Persisted)

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunHonoursCancellation(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := generate.NewStatic(rand.New(rand.NewSource(1)))
	_, err := newPipeline(homeKitchen(3, 1000), db, gen).Run(ctx, nil)
	require.Error(t, err)
}
