package quality

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/stats"
)

type Trend string

const (
	TrendImproving        Trend = "IMPROVING"
	TrendDeclining        Trend = "DECLINING"
	TrendStable           Trend = "STABLE"
	TrendInsufficientData Trend = "INSUFFICIENT_DATA"
)

type BatchReport struct {
	TotalReadings       int
	ValidReadings       int
	ReliableReadings    int
	InvalidReadings     int
	AverageQualityScore float64
	PassRate            float64
	ReliabilityRate     float64
	IssueSummary        map[string]int
	Timestamp           time.Time
}

// ValidateBatch validates each reading under its own location and summarises
// the results. Issues are counted by the field or check that raised them.
func (c *Checker) ValidateBatch(readings []models.Reading) BatchReport {
	report := BatchReport{
		TotalReadings: len(readings),
		IssueSummary:  make(map[string]int),
		Timestamp:     c.now(),
	}
	if len(readings) == 0 {
		return report
	}

	var scores []float64
	for _, r := range readings {
		res := c.Validate(r.LocationID, r)
		scores = append(scores, res.QualityScore)
		if res.IsValid {
			report.ValidReadings++
		}
		if res.IsReliable {
			report.ReliableReadings++
		}
		for _, issue := range res.Issues {
			kind, _, _ := strings.Cut(issue, ":")
			report.IssueSummary[kind]++
		}
	}

	n := float64(len(readings))
	report.InvalidReadings = len(readings) - report.ValidReadings
	report.AverageQualityScore = round1(stats.Mean(scores))
	report.PassRate = round1(float64(report.ValidReadings) / n * 100)
	report.ReliabilityRate = round1(float64(report.ReliableReadings) / n * 100)
	return report
}

type LocationQuality struct {
	LocationID   string
	AverageScore float64
	MinScore     float64
	MaxScore     float64
	CurrentScore float64
	Samples      int
	Trend        Trend
	HasBaseline  bool
}

type Summary struct {
	LocationsWithBaselines int
	LocationsTracked       int
	Locations              []LocationQuality
	Timestamp              time.Time
}

// Report summarises score history for every tracked location.
func (c *Checker) Report() Summary {
	c.mu.RLock()
	ids := make([]string, 0, len(c.locations))
	for id := range c.locations {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	summary := Summary{Timestamp: c.now()}
	for _, id := range ids {
		lq, ok := c.LocationQuality(id)
		if !ok {
			continue
		}
		if lq.HasBaseline {
			summary.LocationsWithBaselines++
		}
		if lq.Samples > 0 {
			summary.LocationsTracked++
			summary.Locations = append(summary.Locations, lq)
		}
	}
	return summary
}

// LocationQuality returns the score history summary for one location.
func (c *Checker) LocationQuality(locationID string) (LocationQuality, bool) {
	c.mu.RLock()
	st, ok := c.locations[locationID]
	c.mu.RUnlock()
	if !ok {
		return LocationQuality{}, false
	}

	st.mu.Lock()
	scores := st.scores.Items()
	hasBaseline := st.baseline != nil
	st.mu.Unlock()

	lq := LocationQuality{
		LocationID:  locationID,
		Samples:     len(scores),
		Trend:       scoreTrend(scores),
		HasBaseline: hasBaseline,
	}
	if len(scores) == 0 {
		return lq, true
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	lq.AverageScore = round1(stats.Mean(scores))
	lq.MinScore = round1(lo)
	lq.MaxScore = round1(hi)
	lq.CurrentScore = round1(scores[len(scores)-1])
	return lq, true
}

func scoreTrend(scores []float64) Trend {
	if len(scores) < 10 {
		return TrendInsufficientData
	}
	n := len(scores)
	diff := stats.Mean(scores[n-5:]) - stats.Mean(scores[n-10:n-5])
	switch {
	case diff > 3:
		return TrendImproving
	case diff < -3:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
