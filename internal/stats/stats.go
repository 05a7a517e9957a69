// Package stats holds the small descriptive statistics shared by the quality,
// fusion, forecast and accuracy packages.
package stats

import (
	"math"
	"sort"
)

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the population standard deviation.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func MeanStd(xs []float64) (float64, float64) {
	return Mean(xs), StdDev(xs)
}

// Percentile uses linear interpolation between closest ranks, p in [0,100].
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func Median(xs []float64) float64 {
	return Percentile(xs, 50)
}

// TrimmedMeanStd drops the lowest and highest tenth of the values before
// computing mean and population standard deviation.
func TrimmedMeanStd(xs []float64) (float64, float64) {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	trim := len(sorted) / 10
	if trim > 0 {
		sorted = sorted[trim : len(sorted)-trim]
	}
	return MeanStd(sorted)
}

// Pearson returns the correlation coefficient of paired samples, or 0 when
// either series has no variance.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
