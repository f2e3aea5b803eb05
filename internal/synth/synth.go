// Package synth derives the trend series, regional split and media records of a product.
package synth

import (
	"time"
)

// Rand is the random source behind every synthesized value.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Countries regions are drawn from.
var Countries = []string{
	"United States", "United Kingdom", "Canada", "Australia", "Germany",
	"France", "Italy", "Spain", "Japan", "South Korea", "Brazil", "Mexico",
	"India", "South Africa", "Netherlands", "Sweden", "Norway",
}

// Platforms is the closed set of media platforms.
var Platforms = []string{"TikTok", "Instagram", "YouTube", "Facebook", "Pinterest"}

// Synthesizer produces child datasets for accepted products.
type Synthesizer struct {
	rnd       Rand
	now       func() time.Time
	countries []string
	platforms []string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// WithCountries overrides the country pool.
func WithCountries(c []string) Option {
	return func(s *Synthesizer) { s.countries = c }
}

// WithPlatforms overrides the platform pool.
func WithPlatforms(p []string) Option {
	return func(s *Synthesizer) { s.platforms = p }
}

// New creates a Synthesizer drawing from rnd.
func New(rnd Rand, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		rnd:       rnd,
		now:       time.Now,
		countries: Countries,
		platforms: Platforms,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// between returns a uniform value in [lo, hi].
func (s *Synthesizer) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rnd.Intn(hi-lo+1)
}
