package nn

import "math"

// Activation selects the element-wise nonlinearity applied inside a
// block. The zero value is ReLU.
type Activation int

const (
	ReLU Activation = iota
	SELU
)

// selu constants from Klambauer et al. 2017.
const (
	seluAlpha = 1.6732632423543772
	seluScale = 1.0507009873554805
)

// Apply runs the nonlinearity in place.
func (a Activation) Apply(x []float64) {
	switch a {
	case SELU:
		for i, v := range x {
			if v < 0 {
				v = seluAlpha * (math.Exp(v) - 1)
			}
			x[i] = seluScale * v
		}
	default:
		for i, v := range x {
			if v < 0 {
				x[i] = 0
			}
		}
	}
}

func (a Activation) String() string {
	if a == SELU {
		return "selu"
	}
	return "relu"
}

// ActivationByName maps a config string to an Activation.
// Unknown names fall back to ReLU.
func ActivationByName(name string) Activation {
	if name == "selu" {
		return SELU
	}
	return ReLU
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Swish is x * sigmoid(x), used inside squeeze-excite blocks.
func Swish(x float64) float64 {
	return x * Sigmoid(x)
}

// Softmax converts a row of scores to probabilities in place.
// -Inf entries come out as exactly 0.
func Softmax(row []float64) {
	maxVal := math.Inf(-1)
	for _, v := range row {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for i, v := range row {
		e := math.Exp(v - maxVal)
		row[i] = e
		sum += e
	}
	for i := range row {
		row[i] /= sum
	}
}

// LogSoftmax converts a row of scores to log-probabilities in place.
func LogSoftmax(row []float64) {
	maxVal := math.Inf(-1)
	for _, v := range row {
		if v > maxVal {
			maxVal = v
		}
	}
	sumExp := 0.0
	for _, v := range row {
		sumExp += math.Exp(v - maxVal)
	}
	logSum := maxVal + math.Log(sumExp)
	for i := range row {
		row[i] -= logSum
	}
}

// ArgMax returns the index of the largest value in row.
func ArgMax(row []float64) int {
	best, bestVal := 0, math.Inf(-1)
	for i, v := range row {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}
