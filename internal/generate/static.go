package generate

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/TobiSchelling/TrendDrop/internal/score"
)

// Static generates candidates from the built-in catalog. Names are produced
// in a fixed order; only prices, metrics and media attributes are random.
type Static struct {
	rnd Rand
}

// NewStatic creates a static generator drawing attributes from rnd.
func NewStatic(rnd Rand) *Static {
	return &Static{rnd: rnd}
}

// Categories returns the first n catalog categories.
func (s *Static) Categories(_ context.Context, n int) ([]string, error) {
	all := DefaultCategories()
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	return all[:n], nil
}

// Candidates returns up to req.Count candidates whose names are not in req.Exclude.
func (s *Static) Candidates(ctx context.Context, req Request) ([]Candidate, error) {
	seed := seedFor(req.Category)
	exclude := make(map[string]bool, len(req.Exclude))
	for _, n := range req.Exclude {
		exclude[nameKey(n)] = true
	}

	prefixes := namePrefixes(seed)
	// Every k yields a distinct name, so the limit only guards absurd counts.
	limit := req.Count + len(exclude) + len(seed.products)
	var out []Candidate
	for k := 0; len(out) < req.Count && k < limit; k++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name, sub := variantName(seed, prefixes, k)
		if exclude[nameKey(name)] {
			continue
		}
		exclude[nameKey(name)] = true
		out = append(out, s.candidate(seed.name, sub, name))
	}
	return out, nil
}

// variantName returns the k-th name of a category and its subcategory. The
// first pass uses the base names. Every later pass puts a fresh prefix word in
// front of them and rotates subcategories, so no two names share a
// category:subcategory:first-word key.
func variantName(seed categorySeed, prefixes []string, k int) (name, subcategory string) {
	per := len(seed.products)
	i, round := k%per, k/per
	base := seed.products[i]
	subcategory = seed.subcategories[(i+round)%len(seed.subcategories)]
	if round == 0 {
		return base, subcategory
	}

	n := round - 1
	prefix := prefixes[n%len(prefixes)]
	if rep := n / len(prefixes); rep > 0 {
		prefix = fmt.Sprintf("%s-%d", prefix, rep+1)
	}
	return prefix + " " + base, subcategory
}

// namePrefixes lists the single-word prefixes for a category: variants, then
// finishes, then finish-variant pairs. Words that start a base name are left
// out.
func namePrefixes(seed categorySeed) []string {
	taken := make(map[string]bool, len(seed.products))
	for _, p := range seed.products {
		taken[strings.ToLower(firstWord(p))] = true
	}
	out := make([]string, 0, len(variants)+len(finishes)*(len(variants)+1))
	add := func(w string) {
		if !taken[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	for _, v := range variants {
		add(v)
	}
	for _, f := range finishes {
		add(f)
	}
	for _, f := range finishes {
		for _, v := range variants {
			add(f + "-" + v)
		}
	}
	return out
}

func (s *Static) candidate(category, subcategory, name string) Candidate {
	m := score.Metrics{
		Engagement:       20 + s.rnd.Intn(81),
		SalesVelocity:    20 + s.rnd.Intn(81),
		SearchVolume:     20 + s.rnd.Intn(81),
		GeographicSpread: 1 + s.rnd.Intn(100),
	}
	low := round2(5 + s.rnd.Float64()*45)
	high := round2(low * (1.2 + s.rnd.Float64()*1.3))

	return Candidate{
		Name:           name,
		Category:       category,
		Subcategory:    subcategory,
		Description:    Describe(name, category, subcategory, score.Compute(m)),
		PriceLow:       low,
		PriceHigh:      high,
		SourcePlatform: Platforms[s.rnd.Intn(len(Platforms))],
		ImageURL:       fmt.Sprintf("https://picsum.photos/id/%d/500/500", 1+s.rnd.Intn(1000)),
		ReferenceURLs:  SearchURLs(name),
		Metrics:        m,
	}
}

// Describe renders the markdown product description.
func Describe(name, category, subcategory string, trendScore int) string {
	return fmt.Sprintf("**Trending %s** in the *%s* category.\n\n"+
		"This %s product has been gaining popularity with a trend score of %d.",
		name, category, subcategory, trendScore)
}

// SearchURLs returns wholesale search links for a product name.
func SearchURLs(name string) []string {
	q := url.QueryEscape(name)
	return []string{
		"https://www.aliexpress.com/wholesale?SearchText=" + q,
		"https://cjdropshipping.com/search?q=" + q,
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
