package forecast

import (
	"math"

	"github.com/lox/dustwatch/internal/models"
)

// riskPeriods finds contiguous runs of hours at or above the HIGH threshold.
// A run still open at the end of the horizon is closed there.
func riskPeriods(hourly []models.HourlyPrediction) []models.RiskPeriod {
	var periods []models.RiskPeriod
	start := -1
	closeRun := func(end int) {
		peak := 0.0
		for _, h := range hourly[start:end] {
			peak = math.Max(peak, h.Value)
		}
		periods = append(periods, models.RiskPeriod{
			StartHour:      start,
			EndHour:        end,
			StartTime:      hourly[start].Time,
			EndTime:        hourly[end-1].Time,
			DurationHours:  end - start,
			Peak:           peak,
			Severity:       models.ClassifyRisk(peak),
			Recommendation: models.Recommendation(peak),
		})
		start = -1
	}

	for i, h := range hourly {
		elevated := h.Value >= models.HighThreshold
		switch {
		case elevated && start < 0:
			start = i
		case !elevated && start >= 0:
			closeRun(i)
		}
	}
	if start >= 0 {
		closeRun(len(hourly))
	}
	return periods
}

func summarize(hourly []models.HourlyPrediction) models.ForecastSummary {
	if len(hourly) == 0 {
		return models.ForecastSummary{}
	}

	s := models.ForecastSummary{
		PeakValue: hourly[0].Value,
		PeakTime:  hourly[0].Time,
		MinValue:  hourly[0].Value,
	}
	var total float64
	for i, h := range hourly {
		v := h.Value
		total += v
		if v > s.PeakValue {
			s.PeakValue, s.PeakHour, s.PeakTime = v, i, h.Time
		}
		s.MinValue = math.Min(s.MinValue, v)
		if v >= models.ModerateThreshold {
			s.HoursAboveModerate++
		}
		if v >= models.HighThreshold {
			s.HoursAboveHigh++
		}
		if v >= models.SevereThreshold {
			s.HoursAboveSevere++
		}
	}
	s.MeanValue = total / float64(len(hourly))
	return s
}

// Truncate returns a copy of f limited to its first hours hourly values, with
// risk periods and summary recomputed. f is returned unchanged when it is
// already short enough.
func Truncate(f *models.Forecast, hours int) *models.Forecast {
	if f == nil || hours <= 0 || hours >= len(f.Hourly) {
		return f
	}
	out := *f
	out.Hourly = f.Hourly[:hours:hours]
	out.RiskPeriods = riskPeriods(out.Hourly)
	out.Summary = summarize(out.Hourly)
	return &out
}
