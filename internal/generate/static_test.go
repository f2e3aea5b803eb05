package generate

import (
	"context"
	"math/rand"
	"strings"
	"testing"
)

func newTestStatic() *Static {
	return NewStatic(rand.New(rand.NewSource(1)))
}

func TestStaticCategories(t *testing.T) {
	g := newTestStatic()
	cats, err := g.Categories(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Electronics", "Home & Kitchen", "Fashion"}
	for i, c := range want {
		if cats[i] != c {
			t.Errorf("category %d = %q, want %q", i, cats[i], c)
		}
	}

	all, _ := g.Categories(context.Background(), 50)
	if len(all) != len(catalog) {
		t.Errorf("expected %d categories, got %d", len(catalog), len(all))
	}
}

func TestStaticCandidates(t *testing.T) {
	g := newTestStatic()
	cands, err := g.Candidates(context.Background(), Request{Category: "Home & Kitchen", Count: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	if cands[0].Name != "Milk Frother" {
		t.Errorf("expected first base name, got %q", cands[0].Name)
	}
	for _, c := range cands {
		if c.Category != "Home & Kitchen" {
			t.Errorf("unexpected category %q", c.Category)
		}
		if c.PriceLow <= 0 || c.PriceHigh < c.PriceLow {
			t.Errorf("bad price range %v-%v", c.PriceLow, c.PriceHigh)
		}
		if len(c.ReferenceURLs) != 2 || !strings.HasPrefix(c.ReferenceURLs[0], "https://www.aliexpress.com/") {
			t.Errorf("unexpected reference urls %v", c.ReferenceURLs)
		}
		for _, v := range []int{c.Metrics.Engagement, c.Metrics.SalesVelocity, c.Metrics.SearchVolume, c.Metrics.GeographicSpread} {
			if v < 1 || v > 100 {
				t.Errorf("metric %d out of range", v)
			}
		}
		if !strings.Contains(c.Description, c.Name) {
			t.Errorf("description %q does not mention name", c.Description)
		}
	}
}

func TestStaticCandidatesExclude(t *testing.T) {
	g := newTestStatic()
	cands, _ := g.Candidates(context.Background(), Request{
		Category: "Home & Kitchen",
		Count:    2,
		Exclude:  []string{"MILK FROTHER", "vegetable chopper"},
	})
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Name != "Silicone Baking Mats" {
		t.Errorf("expected excluded names to be skipped, got %q", cands[0].Name)
	}
}

func TestStaticCandidatesDistinctAcrossRounds(t *testing.T) {
	g := newTestStatic()
	cands, _ := g.Candidates(context.Background(), Request{Category: "Electronics", Count: 120})
	if len(cands) != 120 {
		t.Fatalf("expected 120 candidates, got %d", len(cands))
	}

	names := make(map[string]bool)
	keys := make(map[string]bool)
	for _, c := range cands {
		if names[nameKey(c.Name)] {
			t.Errorf("duplicate name %q", c.Name)
		}
		names[nameKey(c.Name)] = true
		keys[c.Subcategory+":"+firstWord(c.Name)] = true
	}
	if len(keys) < 100 {
		t.Errorf("expected mostly distinct subcategory/first-word keys, got %d", len(keys))
	}
}

func TestStaticUnknownCategory(t *testing.T) {
	g := newTestStatic()
	cands, _ := g.Candidates(context.Background(), Request{Category: "Garden Tools", Count: 2})
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Category != "Garden Tools" || cands[0].Subcategory != "Best Sellers" {
		t.Errorf("unexpected generic candidate %+v", cands[0])
	}
}

func TestStaticDeterministic(t *testing.T) {
	a, _ := NewStatic(rand.New(rand.NewSource(42))).Candidates(context.Background(), Request{Category: "Beauty", Count: 4})
	b, _ := NewStatic(rand.New(rand.NewSource(42))).Candidates(context.Background(), Request{Category: "Beauty", Count: 4})
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Metrics != b[i].Metrics || a[i].PriceLow != b[i].PriceLow {
			t.Errorf("candidate %d differs between equal seeds", i)
		}
	}
}

func TestVariantName(t *testing.T) {
	seed := seedFor("Electronics")
	prefixes := namePrefixes(seed)
	if prefixes[0] != "Portable" {
		t.Fatalf("expected prefixes matching base first words to be skipped, got %q first", prefixes[0])
	}
	if name, _ := variantName(seed, prefixes, 5); name != "Portable Magnetic Phone Mount" {
		t.Errorf("unexpected round-1 name %q", name)
	}
	if name, _ := variantName(seed, prefixes, 5*(len(variants)-1)); name != "Black Magnetic Phone Mount" {
		t.Errorf("unexpected finish name %q", name)
	}
	if name, _ := variantName(seed, prefixes, 5*(len(prefixes)+1)); name != "Portable-2 Magnetic Phone Mount" {
		t.Errorf("unexpected repeated-prefix name %q", name)
	}
}
