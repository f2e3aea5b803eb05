// Package pipeline runs one discovery cycle: generate and deduplicate
// candidates, validate their references, then score and persist them with
// their synthesized trend, region and video data.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/TrendDrop/internal/config"
	"github.com/TobiSchelling/TrendDrop/internal/database"
	"github.com/TobiSchelling/TrendDrop/internal/dedup"
	"github.com/TobiSchelling/TrendDrop/internal/generate"
	"github.com/TobiSchelling/TrendDrop/internal/score"
	"github.com/TobiSchelling/TrendDrop/internal/synth"
	"github.com/TobiSchelling/TrendDrop/internal/validate"
)

// Stage is one step of a cycle.
type Stage int

const (
	StageDiscovery Stage = iota
	StageValidation
	StageTrendAnalysis
)

func (s Stage) String() string {
	switch s {
	case StageDiscovery:
		return "Discovery"
	case StageValidation:
		return "Validation"
	case StageTrendAnalysis:
		return "Trend analysis"
	}
	return "unknown"
}

// Progress bands per stage. Each stage reports within [start, end].
var bands = map[Stage][2]int{
	StageDiscovery:     {5, 30},
	StageValidation:    {30, 60},
	StageTrendAnalysis: {60, 100},
}

// Store is the persistence surface a cycle needs. *database.DB satisfies it.
type Store interface {
	CountProducts(ctx context.Context) (int, error)
	ListProducts(ctx context.Context) ([]database.Product, error)
	SaveProduct(ctx context.Context, p *database.Product, data database.ProductData) (int64, error)
	RefreshProductMetrics(ctx context.Context, id int64, m database.ProductMetrics, now time.Time) error
}

// Counts are the running tallies of a cycle.
type Counts struct {
	Discovered int
	Duplicates int
	Validated  int
	Invalid    int
	Persisted  int
	Refreshed  int
}

// ProductEvent describes a product that was created or refreshed.
type ProductEvent struct {
	ProductID  int64  `json:"product_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	TrendScore int    `json:"trend_score"`
	Action     string `json:"action"`
}

// Observer receives progress while a cycle runs. Calls happen on the cycle goroutine.
type Observer interface {
	Progress(stage Stage, percent int, message string, counts Counts)
	ProductUpdated(ev ProductEvent)
}

// StepResult holds the result of a single stage.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full cycle.
type Result struct {
	Steps      []StepResult
	Counts     Counts
	Categories []string
	ProductIDs []int64
	// CapReached is set when the cycle stopped before discovery because the store is full.
	CapReached bool
}

// Failed returns the stage that failed, if any.
func (r *Result) Failed() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s, true
		}
	}
	return StepResult{}, false
}

// Pipeline runs discovery cycles against a store.
type Pipeline struct {
	cfg       config.Agent
	store     Store
	gen       generate.CandidateGenerator
	validator *validate.Validator
	synth     *synth.Synthesizer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a pipeline. A nil logger uses slog.Default.
func New(cfg config.Agent, store Store, gen generate.CandidateGenerator, v *validate.Validator, s *synth.Synthesizer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.CategoriesPerCycle <= 0 {
		cfg.CategoriesPerCycle = 10
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		gen:       gen,
		validator: v,
		synth:     s,
		logger:    logger,
		now:       time.Now,
	}
}

// cycle carries per-run state between stages.
type cycle struct {
	obs        Observer
	counts     Counts
	index      *dedup.Index
	accepted   []generate.Candidate
	refreshes  []refresh
	validated  []generate.Candidate
	categories []string
	productIDs []int64
}

type refresh struct {
	id        int64
	candidate generate.Candidate
}

// Run executes one cycle. The returned error is the failing stage's error;
// products committed before the failure stay committed.
func (p *Pipeline) Run(ctx context.Context, obs Observer) (*Result, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	r := &Result{}

	count, err := p.store.CountProducts(ctx)
	if err != nil {
		step := StepResult{Name: StageDiscovery.String(), Err: fmt.Errorf("counting products: %w", err)}
		r.Steps = append(r.Steps, step)
		return r, step.Err
	}
	if p.cfg.MaxProducts > 0 && count >= p.cfg.MaxProducts {
		p.logger.Info("product cap reached, skipping discovery", "count", count, "max_products", p.cfg.MaxProducts)
		r.CapReached = true
		return r, nil
	}
	remaining := -1
	if p.cfg.MaxProducts > 0 {
		remaining = p.cfg.MaxProducts - count
	}

	c := &cycle{obs: obs}
	stages := []struct {
		stage Stage
		run   func(context.Context, *cycle) (string, error)
	}{
		{StageDiscovery, func(ctx context.Context, c *cycle) (string, error) { return p.runDiscovery(ctx, c, remaining) }},
		{StageValidation, p.runValidation},
		{StageTrendAnalysis, p.runTrendAnalysis},
	}
	for _, s := range stages {
		summary, err := s.run(ctx, c)
		step := StepResult{Name: s.stage.String(), Summary: summary, Err: err}
		r.Steps = append(r.Steps, step)
		if err != nil {
			r.Counts, r.Categories, r.ProductIDs = c.counts, c.categories, c.productIDs
			return r, fmt.Errorf("%s: %w", s.stage, err)
		}
	}
	r.Counts, r.Categories, r.ProductIDs = c.counts, c.categories, c.productIDs
	return r, nil
}

// report maps done/total onto the stage's band.
func (c *cycle) report(stage Stage, done, total int, msg string) {
	b := bands[stage]
	pct := b[0]
	if total > 0 {
		pct = b[0] + (b[1]-b[0])*done/total
	}
	c.obs.Progress(stage, pct, msg, c.counts)
}

func (p *Pipeline) categories(ctx context.Context) ([]string, error) {
	n := p.cfg.CategoriesPerCycle
	if len(p.cfg.Categories) > 0 {
		cats := p.cfg.Categories
		if len(cats) > n {
			cats = cats[:n]
		}
		return cats, nil
	}
	cats, err := p.gen.Categories(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		cats = generate.DefaultCategories()
		if len(cats) > n {
			cats = cats[:n]
		}
	}
	return cats, nil
}

func (p *Pipeline) runDiscovery(ctx context.Context, c *cycle, remaining int) (string, error) {
	c.report(StageDiscovery, 0, 1, "Loading existing products")
	existing, err := p.store.ListProducts(ctx)
	if err != nil {
		return "", fmt.Errorf("loading existing products: %w", err)
	}
	c.index = dedup.NewIndex(existing)
	d := dedup.New(c.index)

	exclude := make([]string, 0, len(existing))
	for _, e := range existing {
		exclude = append(exclude, e.Name)
	}

	cats, err := p.categories(ctx)
	if err != nil {
		return "", fmt.Errorf("choosing categories: %w", err)
	}
	c.categories = cats
	p.logger.Info("discovery started", "categories", len(cats), "existing", c.index.Len())

	for i, cat := range cats {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		target := p.cfg.BatchSize
		if remaining >= 0 {
			left := remaining - len(c.accepted)
			if left <= 0 {
				break
			}
			target = min(target, left)
		}

		accepted, attempts := 0, 0
		for accepted < target && attempts < 3*target {
			cands, err := p.gen.Candidates(ctx, generate.Request{Category: cat, Count: target - accepted, Exclude: exclude})
			if err != nil {
				p.logger.Warn("candidate generation failed", "phase", "discovery", "category", cat, "error", err)
				break
			}
			if len(cands) == 0 {
				break
			}
			for _, cand := range cands {
				if accepted >= target || attempts >= 3*target {
					break
				}
				attempts++
				c.counts.Discovered++
				if cand.Category == "" {
					cand.Category = cat
				}
				res := d.Check(cand)
				switch res.Verdict {
				case dedup.Accept:
					accepted++
					c.accepted = append(c.accepted, cand)
					exclude = append(exclude, cand.Name)
				case dedup.Rediscovered:
					c.refreshes = append(c.refreshes, refresh{id: res.ExistingID, candidate: cand})
				default:
					c.counts.Duplicates++
					p.logger.Debug("duplicate candidate", "name", cand.Name, "key", res.Key)
				}
			}
		}
		c.report(StageDiscovery, i+1, len(cats), fmt.Sprintf("Discovered %d candidates in %s", accepted, cat))
	}

	return fmt.Sprintf("Discovered %d candidates (%d duplicates, %d rediscovered)",
		len(c.accepted), c.counts.Duplicates, len(c.refreshes)), nil
}

func (p *Pipeline) runValidation(ctx context.Context, c *cycle) (string, error) {
	c.report(StageValidation, 0, 1, "Validating references")
	for i, cand := range c.accepted {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		refs, err := p.validator.References(cand.ReferenceURLs)
		if err != nil {
			c.counts.Invalid++
			p.logger.Info("candidate rejected", "phase", "validation", "name", cand.Name, "error", err)
		} else {
			cand.ReferenceURLs = refs
			c.validated = append(c.validated, cand)
			c.counts.Validated++
		}
		c.report(StageValidation, i+1, len(c.accepted), fmt.Sprintf("Validated %d of %d", i+1, len(c.accepted)))
	}
	return fmt.Sprintf("Validated %d candidates, %d rejected", c.counts.Validated, c.counts.Invalid), nil
}

func (p *Pipeline) runTrendAnalysis(ctx context.Context, c *cycle) (string, error) {
	c.report(StageTrendAnalysis, 0, 1, "Analyzing trends")
	total := len(c.validated) + len(c.refreshes)
	done := 0

	for _, cand := range c.validated {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := p.persist(ctx, cand)
		if err != nil {
			return "", err
		}
		done++
		if id == 0 {
			c.counts.Duplicates++
			p.logger.Info("product already stored", "name", cand.Name)
			continue
		}
		c.counts.Persisted++
		c.productIDs = append(c.productIDs, id)
		c.index.Add(id, cand.Name, cand.Category, cand.Subcategory, cand.ReferenceURLs)
		c.obs.ProductUpdated(ProductEvent{
			ProductID:  id,
			Name:       cand.Name,
			Category:   cand.Category,
			TrendScore: score.Compute(cand.Metrics.Normalize()),
			Action:     "created",
		})
		c.report(StageTrendAnalysis, done, total, fmt.Sprintf("Saved %s", cand.Name))
	}

	for _, rf := range c.refreshes {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		m := rf.candidate.Metrics.Normalize()
		sc := score.Compute(m)
		err := p.store.RefreshProductMetrics(ctx, rf.id, database.ProductMetrics{
			TrendScore:       sc,
			EngagementRate:   m.Engagement,
			SalesVelocity:    m.SalesVelocity,
			SearchVolume:     m.SearchVolume,
			GeographicSpread: m.GeographicSpread,
		}, p.now())
		if err != nil {
			return "", err
		}
		done++
		c.counts.Refreshed++
		c.obs.ProductUpdated(ProductEvent{
			ProductID:  rf.id,
			Name:       rf.candidate.Name,
			Category:   rf.candidate.Category,
			TrendScore: sc,
			Action:     "refreshed",
		})
		c.report(StageTrendAnalysis, done, total, fmt.Sprintf("Refreshed %s", rf.candidate.Name))
	}

	return fmt.Sprintf("Saved %d products, refreshed %d", c.counts.Persisted, c.counts.Refreshed), nil
}

// persist writes one product and its child data atomically. It returns 0 when the name is taken.
func (p *Pipeline) persist(ctx context.Context, cand generate.Candidate) (int64, error) {
	m := cand.Metrics.Normalize()
	now := p.now()
	prod := &database.Product{
		Name:             cand.Name,
		Category:         cand.Category,
		Subcategory:      cand.Subcategory,
		Description:      cand.Description,
		PriceLow:         cand.PriceLow,
		PriceHigh:        cand.PriceHigh,
		TrendScore:       score.Compute(m),
		EngagementRate:   m.Engagement,
		SalesVelocity:    m.SalesVelocity,
		SearchVolume:     m.SearchVolume,
		GeographicSpread: m.GeographicSpread,
		SourcePlatform:   cand.SourcePlatform,
		ImageURL:         cand.ImageURL,
		ReferenceURLs:    cand.ReferenceURLs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return p.store.SaveProduct(ctx, prod, database.ProductData{
		Trends:  p.synth.TrendSeries(m),
		Regions: p.synth.Regions(),
		Videos:  p.synth.Videos(cand.Name),
	})
}

type nopObserver struct{}

func (nopObserver) Progress(Stage, int, string, Counts) {}
func (nopObserver) ProductUpdated(ProductEvent)         {}
