package forecast

import (
	"math"
	"time"

	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/stats"
)

// conditions are the current values the models project forward from, with
// missing measurements replaced by neutral defaults.
type conditions struct {
	dust          float64
	wind          float64
	windDirection float64
	humidity      float64
	temperature   float64
	visibility    float64
	forecast      []float64
}

func conditionsFrom(r models.Reading) conditions {
	return conditions{
		dust:          models.ValueOr(r.Dust, baselineDust),
		wind:          models.ValueOr(r.WindSpeed, 10),
		windDirection: models.ValueOr(r.WindDirection, 0),
		humidity:      models.ValueOr(r.Humidity, 40),
		temperature:   models.ValueOr(r.Temperature, 35),
		visibility:    models.ValueOr(r.Visibility, 10000),
		forecast:      r.ForecastDust,
	}
}

type learnedPatterns struct {
	hourly          map[int]float64
	windCorrelation float64
	baseline        float64
}

// run carries everything a single forecast pass needs. Times are in the
// ensemble's local zone so diurnal and weekly factors line up with local
// clocks.
type run struct {
	now     time.Time
	hours   int
	cur     conditions
	recent  []float64
	learned *learnedPatterns
	normal  func() float64
}

func (r *run) at(i int) time.Time {
	return r.now.Add(time.Duration(i) * time.Hour)
}

func floor0(v float64) float64 {
	return math.Max(0, v)
}

func (r *run) pattern() []float64 {
	out := make([]float64, r.hours)
	current := seasonal(r.now)*diurnal(r.now)*weekly(r.now) + 0.001
	for i := range out {
		t := r.at(i)
		factor := seasonal(t) * diurnal(t) * weekly(t) / current
		smoothing := 0.85 + 0.15*math.Exp(-float64(i)*0.05)
		out[i] = floor0(r.cur.dust*factor*smoothing + baselineDust*(1-smoothing))
	}
	return out
}

func (r *run) weather() []float64 {
	c := r.cur

	var windFactor float64
	switch {
	case c.wind > 20:
		windFactor = 1 + math.Log(c.wind/15)*0.4
	case c.wind > 10:
		windFactor = 1 + (c.wind-10)/50
	default:
		windFactor = 0.9 + c.wind/100
	}
	humidityFactor := math.Max(0.7, 1.2-c.humidity/150)
	tempFactor := 1 + math.Max(0, c.temperature-30)/80
	visFactor := 1 + math.Max(0, (10000-c.visibility)/20000)
	combined := windFactor * directionFactor(c.windDirection) * humidityFactor * tempFactor * visFactor

	out := make([]float64, r.hours)
	for i := range out {
		decay := math.Pow(0.985, float64(i))
		out[i] = floor0(c.dust*combined*decay + baselineDust*(1-decay))
	}
	return out
}

// persistence extrapolates the recent trend with momentum, regressing toward
// the baseline as the horizon grows.
func (r *run) persistence() []float64 {
	var trend, momentum float64
	if v := r.recent; len(v) >= 6 {
		n := len(v)
		short := (v[n-1] - v[n-6]) / 6
		mid := (v[n-1] - v[0]) / float64(n)
		trend = short*0.6 + mid*0.4
		if n >= 12 {
			old := (v[n-6] - v[n-12]) / 6
			momentum = (short - old) * 0.3
		}
	}

	out := make([]float64, r.hours)
	for i := range out {
		x := float64(i)
		p := r.cur.dust + trend*x*math.Pow(0.92, x) + momentum*x*x*math.Pow(0.85, x)*0.1
		reg := math.Min(1, 0.015*x)
		out[i] = floor0(p*(1-reg) + baselineDust*reg)
	}
	return out
}

func (r *run) climatology() []float64 {
	out := make([]float64, r.hours)
	for i := range out {
		t := r.at(i)
		m := t.Month() - 1
		noise := r.normal() * monthlyStds[m] * 0.1
		out[i] = floor0(monthlyMeans[m]*diurnal(t)*weekly(t) + noise)
	}
	return out
}

func (r *run) apiForecast() []float64 {
	out := make([]float64, r.hours)
	for i := range out {
		x := float64(i)
		if i < len(r.cur.forecast) && !math.IsNaN(r.cur.forecast[i]) {
			w := math.Max(0.5, 1-x*0.02)
			out[i] = floor0(r.cur.forecast[i]*w + r.cur.dust*(1-w))
			continue
		}
		decay := math.Pow(0.98, x)
		out[i] = floor0(r.cur.dust*decay + baselineDust*(1-decay))
	}
	return out
}

func (r *run) learnedPattern() []float64 {
	out := make([]float64, r.hours)
	lp := r.learned
	for i := range out {
		x := float64(i)
		if lp == nil {
			decay := math.Pow(0.97, x)
			out[i] = floor0(r.cur.dust*decay + baselineDust*(1-decay))
			continue
		}
		hourAvg, ok := lp.hourly[r.at(i).Hour()]
		if !ok {
			hourAvg = lp.baseline
		}
		blend := math.Max(0.3, 1-x*0.015)
		p := r.cur.dust*blend + hourAvg*(1-blend)
		p *= 1 + lp.windCorrelation*(r.cur.wind-15)/50
		out[i] = floor0(p)
	}
	return out
}

// metaEnsemble takes, per hour, the median of the other models after an IQR
// outlier filter.
func metaEnsemble(members [][]float64, hours int) []float64 {
	out := make([]float64, hours)
	hour := make([]float64, len(members))
	for i := range out {
		for m, preds := range members {
			hour[m] = preds[i]
		}
		q1 := stats.Percentile(hour, 25)
		q3 := stats.Percentile(hour, 75)
		iqr := q3 - q1
		lo, hi := q1-1.5*iqr, q3+1.5*iqr

		var kept []float64
		for _, p := range hour {
			if p >= lo && p <= hi {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			out[i] = floor0(stats.Median(kept))
		} else {
			out[i] = floor0(stats.Mean(hour))
		}
	}
	return out
}

// predictAll runs every model and returns their outputs indexed by Model.
func (r *run) predictAll() [NumModels][]float64 {
	var out [NumModels][]float64
	out[ModelPattern] = r.pattern()
	out[ModelWeather] = r.weather()
	out[ModelPersistence] = r.persistence()
	out[ModelClimatology] = r.climatology()
	out[ModelAPIForecast] = r.apiForecast()
	out[ModelLearnedPattern] = r.learnedPattern()
	out[ModelMetaEnsemble] = metaEnsemble(out[:ModelMetaEnsemble], r.hours)
	return out
}
