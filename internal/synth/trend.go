package synth

import (
	"math"
	"time"

	"github.com/TobiSchelling/TrendDrop/internal/database"
	"github.com/TobiSchelling/TrendDrop/internal/score"
)

// SeriesDays is the length of a synthesized trend series.
const SeriesDays = 30

const (
	baseShare   = 0.55
	maxBoost    = 0.9
	minVariance = 0.8
	maxVariance = 1.2
)

// Acceleration is the momentum multiplier for a point daysAgo days before
// today. It rises strictly from 1 at the oldest point to 1+maxBoost today.
func Acceleration(daysAgo int) float64 {
	progress := float64(SeriesDays-1-daysAgo) / float64(SeriesDays-1)
	return 1 + maxBoost*progress*progress
}

// TrendSeries returns SeriesDays daily points ending today, oldest first.
func (s *Synthesizer) TrendSeries(m score.Metrics) []database.TrendPoint {
	today := s.now().UTC().Truncate(24 * time.Hour)
	points := make([]database.TrendPoint, 0, SeriesDays)
	for daysAgo := SeriesDays - 1; daysAgo >= 0; daysAgo-- {
		accel := Acceleration(daysAgo)
		points = append(points, database.TrendPoint{
			Date:            today.AddDate(0, 0, -daysAgo).Format("2006-01-02"),
			EngagementValue: s.trendValue(m.Engagement, accel),
			SalesValue:      s.trendValue(m.SalesVelocity, accel),
			SearchValue:     s.trendValue(m.SearchVolume, accel),
		})
	}
	return points
}

func (s *Synthesizer) trendValue(metric int, accel float64) int {
	variance := minVariance + s.rnd.Float64()*(maxVariance-minVariance)
	v := int(math.Round(float64(metric) * baseShare * accel * variance))
	if v < 1 {
		return 1
	}
	return v
}
