// Package generate proposes product categories and candidate products.
package generate

import (
	"context"
	"log/slog"

	"github.com/TobiSchelling/TrendDrop/internal/config"
	"github.com/TobiSchelling/TrendDrop/internal/llm"
	"github.com/TobiSchelling/TrendDrop/internal/score"
)

// Candidate is a product descriptor that has not been persisted yet.
type Candidate struct {
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	Subcategory    string        `json:"subcategory"`
	Description    string        `json:"description"`
	PriceLow       float64       `json:"price_low"`
	PriceHigh      float64       `json:"price_high"`
	SourcePlatform string        `json:"source_platform"`
	ImageURL       string        `json:"image_url"`
	ReferenceURLs  []string      `json:"reference_urls"`
	Metrics        score.Metrics `json:"metrics"`
}

// Request asks for Count candidates in Category, avoiding names in Exclude.
type Request struct {
	Category string
	Count    int
	Exclude  []string
}

// CandidateGenerator proposes categories and candidates.
type CandidateGenerator interface {
	Categories(ctx context.Context, n int) ([]string, error)
	Candidates(ctx context.Context, req Request) ([]Candidate, error)
}

// Rand is the random source used for synthesized attributes.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// New assembles the generator chain: the static catalog, an LLM in front of it
// when provider is non-nil, and feed hints when feeds are configured.
func New(cfg config.Generation, provider llm.Provider, rnd Rand, logger *slog.Logger) CandidateGenerator {
	var g CandidateGenerator = NewStatic(rnd)
	if provider != nil {
		g = NewLLMGenerator(provider, g, rnd, cfg.MaxTokens, logger)
	}
	if len(cfg.Feeds) > 0 {
		g = NewFeedHints(g, cfg.Feeds, logger)
	}
	return g
}
