// Package score computes the composite trend score of a product.
package score

import "math"

// Component weights. They sum to 1.
const (
	EngagementWeight = 0.4
	SalesWeight      = 0.3
	SearchWeight     = 0.2
	GeographicWeight = 0.1
)

// Metrics are the component signals of a product, each in [1,100].
type Metrics struct {
	Engagement       int `json:"engagement_rate"`
	SalesVelocity    int `json:"sales_velocity"`
	SearchVolume     int `json:"search_volume"`
	GeographicSpread int `json:"geographic_spread"`
}

// Compute returns the weighted composite score rounded and clamped to [1,100].
func Compute(m Metrics) int {
	raw := float64(m.Engagement)*EngagementWeight +
		float64(m.SalesVelocity)*SalesWeight +
		float64(m.SearchVolume)*SearchWeight +
		float64(m.GeographicSpread)*GeographicWeight
	return int(math.Round(clamp(raw, 1, 100)))
}

// Clamp bounds a single metric to [1,100].
func Clamp(v int) int {
	return int(clamp(float64(v), 1, 100))
}

// Normalize clamps every component to [1,100]. Stored products keep the
// normalized components, and their score is computed from those, so for
// out-of-range input Compute(m.Normalize()) can differ from Compute(m).
func (m Metrics) Normalize() Metrics {
	return Metrics{
		Engagement:       Clamp(m.Engagement),
		SalesVelocity:    Clamp(m.SalesVelocity),
		SearchVolume:     Clamp(m.SearchVolume),
		GeographicSpread: Clamp(m.GeographicSpread),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
