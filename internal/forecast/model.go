package forecast

import (
	"fmt"
	"math"
)

// Model identifies one member of the ensemble. The numeric order is fixed and
// Weights is indexed by it.
type Model int

const (
	ModelPattern Model = iota
	ModelWeather
	ModelPersistence
	ModelClimatology
	ModelAPIForecast
	ModelLearnedPattern
	ModelMetaEnsemble

	NumModels = 7
)

var Models = [NumModels]Model{
	ModelPattern, ModelWeather, ModelPersistence, ModelClimatology,
	ModelAPIForecast, ModelLearnedPattern, ModelMetaEnsemble,
}

var modelNames = [NumModels]string{
	"pattern",
	"weather",
	"persistence",
	"climatology",
	"api_forecast",
	"learned_pattern",
	"meta_ensemble",
}

func (m Model) String() string {
	if m < 0 || int(m) >= NumModels {
		return fmt.Sprintf("model(%d)", int(m))
	}
	return modelNames[m]
}

// ParseModel returns the model with the given name.
func ParseModel(name string) (Model, error) {
	for i, n := range modelNames {
		if n == name {
			return Model(i), nil
		}
	}
	return 0, fmt.Errorf("unknown model %q", name)
}

type Weights [NumModels]float64

func DefaultWeights() Weights {
	return Weights{0.22, 0.20, 0.15, 0.12, 0.10, 0.12, 0.09}
}

// Normalized scales the weights to sum to 1. All-zero weights are returned
// unchanged.
func (w Weights) Normalized() Weights {
	var total float64
	for _, v := range w {
		total += v
	}
	if total <= 0 || math.IsNaN(total) {
		return w
	}
	for i := range w {
		w[i] /= total
	}
	return w
}

func (w Weights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Map keys the weights by model name.
func (w Weights) Map() map[string]float64 {
	out := make(map[string]float64, NumModels)
	for _, m := range Models {
		out[m.String()] = w[m]
	}
	return out
}

// blend moves current toward target weights at rate lr. Models without an
// observed error keep their current weight before renormalisation.
func blend(current Weights, errs map[Model]float64, lr float64) Weights {
	var total float64
	scores := make(map[Model]float64, len(errs))
	for m, e := range errs {
		if m < 0 || int(m) >= NumModels || math.IsNaN(e) || e < 0 {
			continue
		}
		s := 1 / (e + 0.1)
		scores[m] = s
		total += s
	}
	if total == 0 {
		return current
	}

	next := current
	for m, s := range scores {
		next[m] = current[m]*(1-lr) + (s/total)*lr
	}
	return next.Normalized()
}
