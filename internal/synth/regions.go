package synth

import "github.com/TobiSchelling/TrendDrop/internal/database"

const (
	minRegions      = 5
	maxRegions      = 8
	minPrimaryShare = 30
	maxPrimaryShare = 60
	minShare        = 5
)

// defaultRegions is used when the country pool cannot supply five regions.
var defaultRegions = []database.Region{
	{Country: "United States", Percentage: 40},
	{Country: "United Kingdom", Percentage: 20},
	{Country: "Germany", Percentage: 15},
	{Country: "Canada", Percentage: 15},
	{Country: "Australia", Percentage: 10},
}

// Regions returns 5-8 distinct countries whose percentages sum to exactly 100.
// The first is the primary market; the last takes the remainder.
func (s *Synthesizer) Regions() []database.Region {
	if len(s.countries) < minRegions {
		out := make([]database.Region, len(defaultRegions))
		copy(out, defaultRegions)
		return out
	}

	n := s.between(minRegions, maxRegions)
	if n > len(s.countries) {
		n = len(s.countries)
	}
	countries := s.pick(n)

	regions := make([]database.Region, n)
	remaining := 100
	for i := 0; i < n-1; i++ {
		left := n - 1 - i
		var share int
		if i == 0 {
			share = s.between(minPrimaryShare, maxPrimaryShare)
		} else {
			hi := remaining - left*minShare
			if half := remaining / 2; half < hi {
				hi = half
			}
			share = s.between(minShare, hi)
		}
		regions[i] = database.Region{Country: countries[i], Percentage: share}
		remaining -= share
	}
	regions[n-1] = database.Region{Country: countries[n-1], Percentage: remaining}
	return regions
}

// pick returns n distinct countries using a partial Fisher-Yates shuffle.
func (s *Synthesizer) pick(n int) []string {
	pool := make([]string, len(s.countries))
	copy(pool, s.countries)
	for i := 0; i < n; i++ {
		j := i + s.rnd.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}
