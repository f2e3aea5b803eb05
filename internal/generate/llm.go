package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TobiSchelling/TrendDrop/internal/llm"
	"github.com/TobiSchelling/TrendDrop/internal/score"
)

const categoriesPrompt = `You are a dropshipping market analyst. List %d product categories that are trending right now for online stores.

Respond with ONLY a JSON array of category names, for example:
["Home & Kitchen", "Pet Supplies"]`

const candidatesPrompt = `You are a dropshipping market analyst. Suggest %d trending products in the category "%s".
%s
Respond with ONLY a JSON array. Each element must have:
- "name": short product name
- "subcategory": subcategory within %s
- "description": one or two sentences
- "price_low", "price_high": typical retail price range in USD
- "engagement_rate", "sales_velocity", "search_volume", "geographic_spread": integers 1-100
- "reference_urls": marketplace search or listing URLs (aliexpress.com, cjdropshipping.com, amazon.com, temu.com, etsy.com)`

// Recently seen names are listed in the prompt; older ones are still filtered locally.
const maxExcludeInPrompt = 40

// LLMGenerator prompts a language model and falls back to another generator
// whenever the provider fails or returns nothing usable.
type LLMGenerator struct {
	provider  llm.Provider
	fallback  CandidateGenerator
	rnd       Rand
	maxTokens int
	logger    *slog.Logger
}

// NewLLMGenerator creates an LLM-backed generator.
func NewLLMGenerator(provider llm.Provider, fallback CandidateGenerator, rnd Rand, maxTokens int, logger *slog.Logger) *LLMGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMGenerator{provider: provider, fallback: fallback, rnd: rnd, maxTokens: maxTokens, logger: logger}
}

// Categories asks the model for n categories.
func (g *LLMGenerator) Categories(ctx context.Context, n int) ([]string, error) {
	cats, err := g.categories(ctx, n)
	if err != nil {
		g.logger.Warn("category generation failed, using fallback", "error", err)
		return g.fallback.Categories(ctx, n)
	}
	return cats, nil
}

func (g *LLMGenerator) categories(ctx context.Context, n int) ([]string, error) {
	text, err := g.provider.Generate(ctx, fmt.Sprintf(categoriesPrompt, n), g.maxTokens)
	if err != nil {
		return nil, err
	}

	var raw []string
	if err := llm.DecodeJSON(text, &raw); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var cats []string
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" || len(c) > 80 || seen[nameKey(c)] {
			continue
		}
		seen[nameKey(c)] = true
		cats = append(cats, c)
		if len(cats) == n {
			break
		}
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("no usable categories in response")
	}
	return cats, nil
}

type llmProduct struct {
	Name             string   `json:"name"`
	Subcategory      string   `json:"subcategory"`
	Description      string   `json:"description"`
	PriceLow         float64  `json:"price_low"`
	PriceHigh        float64  `json:"price_high"`
	EngagementRate   int      `json:"engagement_rate"`
	SalesVelocity    int      `json:"sales_velocity"`
	SearchVolume     int      `json:"search_volume"`
	GeographicSpread int      `json:"geographic_spread"`
	ReferenceURLs    []string `json:"reference_urls"`
}

// Candidates asks the model for req.Count products in req.Category.
func (g *LLMGenerator) Candidates(ctx context.Context, req Request) ([]Candidate, error) {
	out, err := g.candidates(ctx, req)
	if err != nil {
		g.logger.Warn("candidate generation failed, using fallback", "category", req.Category, "error", err)
		return g.fallback.Candidates(ctx, req)
	}
	return out, nil
}

func (g *LLMGenerator) candidates(ctx context.Context, req Request) ([]Candidate, error) {
	avoid := ""
	if len(req.Exclude) > 0 {
		names := req.Exclude
		if len(names) > maxExcludeInPrompt {
			names = names[len(names)-maxExcludeInPrompt:]
		}
		avoid = "Do not suggest any of these existing products: " + strings.Join(names, ", ") + "\n"
	}

	text, err := g.provider.Generate(ctx, fmt.Sprintf(candidatesPrompt, req.Count, req.Category, avoid, req.Category), g.maxTokens)
	if err != nil {
		return nil, err
	}

	var raw []llmProduct
	if err := llm.DecodeJSON(text, &raw); err != nil {
		var wrapped struct {
			Products []llmProduct `json:"products"`
		}
		if err2 := llm.DecodeJSON(text, &wrapped); err2 != nil {
			return nil, err
		}
		raw = wrapped.Products
	}

	exclude := make(map[string]bool, len(req.Exclude))
	for _, n := range req.Exclude {
		exclude[nameKey(n)] = true
	}

	var out []Candidate
	for _, p := range raw {
		name := strings.TrimSpace(p.Name)
		if name == "" || exclude[nameKey(name)] {
			continue
		}
		exclude[nameKey(name)] = true
		out = append(out, g.toCandidate(req.Category, name, p))
		if len(out) == req.Count {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable candidates in response")
	}
	return out, nil
}

func (g *LLMGenerator) toCandidate(category, name string, p llmProduct) Candidate {
	m := score.Metrics{
		Engagement:       p.EngagementRate,
		SalesVelocity:    p.SalesVelocity,
		SearchVolume:     p.SearchVolume,
		GeographicSpread: p.GeographicSpread,
	}.Normalize()

	low, high := p.PriceLow, p.PriceHigh
	if low <= 0 {
		low = round2(5 + g.rnd.Float64()*45)
	}
	if high < low {
		high = round2(low * (1.2 + g.rnd.Float64()*1.3))
	}

	sub := strings.TrimSpace(p.Subcategory)
	if sub == "" {
		sub = "General"
	}
	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		desc = Describe(name, category, sub, score.Compute(m))
	}

	return Candidate{
		Name:           name,
		Category:       category,
		Subcategory:    sub,
		Description:    desc,
		PriceLow:       low,
		PriceHigh:      high,
		SourcePlatform: Platforms[g.rnd.Intn(len(Platforms))],
		ImageURL:       fmt.Sprintf("https://picsum.photos/id/%d/500/500", 1+g.rnd.Intn(1000)),
		ReferenceURLs:  p.ReferenceURLs,
		Metrics:        m,
	}
}
