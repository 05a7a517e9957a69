package forecast

// kalman is a scalar Kalman filter used to smooth the near-term ensemble
// output. The first measurement initialises the estimate.
type kalman struct {
	processVariance     float64
	measurementVariance float64
	estimate            float64
	errorEstimate       float64
	initialized         bool
}

func newKalman() *kalman {
	return &kalman{
		processVariance:     1e-3,
		measurementVariance: 1e-1,
		errorEstimate:       1,
	}
}

func (k *kalman) update(measurement float64) float64 {
	if !k.initialized {
		k.estimate = measurement
		k.initialized = true
		return measurement
	}

	predictionError := k.errorEstimate + k.processVariance
	gain := predictionError / (predictionError + k.measurementVariance)
	k.estimate += gain * (measurement - k.estimate)
	k.errorEstimate = (1 - gain) * predictionError
	return k.estimate
}
