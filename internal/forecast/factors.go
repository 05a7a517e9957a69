package forecast

import "time"

const baselineDust = 30.0

// Monthly dust multipliers, January first.
var seasonalFactors = [12]float64{
	0.72, 0.78, 0.92, 1.15, 1.35, 1.48, 1.42, 1.38, 1.22, 0.98, 0.82, 0.73,
}

// Monday first.
var weeklyFactors = [7]float64{1.02, 1.03, 1.04, 1.03, 0.95, 0.96, 0.97}

// Monthly climatological dust mean and standard deviation, January first.
var (
	monthlyMeans = [12]float64{22, 25, 32, 42, 58, 68, 62, 57, 47, 36, 28, 22}
	monthlyStds  = [12]float64{8, 10, 15, 18, 22, 25, 23, 20, 18, 14, 10, 8}
)

var diurnalFactors = func() [24]float64 {
	var f [24]float64
	for h := range f {
		x := float64(h)
		switch {
		case h < 5:
			f[h] = 0.65 + x*0.02
		case h < 8:
			f[h] = 0.75 + (x-5)*0.08
		case h < 11:
			f[h] = 0.99 + (x-8)*0.07
		case h < 15:
			f[h] = 1.20 + (x-11)*0.05
		case h < 18:
			f[h] = 1.35 - (x-15)*0.05
		case h < 21:
			f[h] = 1.20 - (x-18)*0.10
		default:
			f[h] = 0.90 - (x-21)*0.08
		}
	}
	return f
}()

func seasonal(t time.Time) float64 { return seasonalFactors[t.Month()-1] }

func diurnal(t time.Time) float64 { return diurnalFactors[t.Hour()] }

// weekly maps Go's Sunday-first weekday onto the Monday-first table.
func weekly(t time.Time) float64 { return weeklyFactors[(int(t.Weekday())+6)%7] }

// directionFactor weights wind direction in 5 degree buckets. Southwesterly
// winds off the desert carry the most dust, onshore northerlies the least.
func directionFactor(deg float64) float64 {
	b := (int(deg) / 5) * 5 % 360
	if b < 0 {
		b += 360
	}
	switch {
	case b >= 200 && b <= 260:
		return 1.45
	case (b >= 180 && b < 200) || (b > 260 && b <= 290):
		return 1.30
	case (b >= 150 && b < 180) || (b > 290 && b <= 320):
		return 1.15
	case b > 320 || b < 30:
		return 0.75
	default:
		return 0.90
	}
}
