// Package nn provides the layer primitives the acoustic backbone and
// decoding heads are realized from: 1-D convolution, batch
// normalization, linear and embedding projections, GRU recurrence and
// a self-attention encoder layer.
//
// All parameters are flat float64 slices with documented row-major
// layouts. Forward passes are inference-path only: dropout rates are
// carried as metadata for external trainers but never applied.
package nn

import (
	"math"
	"math/rand"
	"sync"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(1))
)

// SeedInit reseeds the parameter initialization source. The assembler
// calls this once per model, so identical configurations realize
// identical initial parameters.
func SeedInit(seed int64) {
	rngMu.Lock()
	rng = rand.New(rand.NewSource(seed))
	rngMu.Unlock()
}

// XavierInit fills w with Glorot-scaled normal noise.
func XavierInit(w []float64, fanIn, fanOut int) {
	scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
	rngMu.Lock()
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	rngMu.Unlock()
}

// HeInit fills w with He-scaled normal noise (for ReLU stacks).
func HeInit(w []float64, fanIn int) {
	scale := math.Sqrt(2.0 / float64(fanIn))
	rngMu.Lock()
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	rngMu.Unlock()
}

// Param is one named parameter slice. Data aliases the live storage,
// so writing into it mutates the owning layer.
type Param struct {
	Name string
	Data []float64
}

// Prefix returns params with name prefixed by p and a dot.
func Prefix(p string, params []Param) []Param {
	out := make([]Param, len(params))
	for i, pr := range params {
		out[i] = Param{Name: p + "." + pr.Name, Data: pr.Data}
	}
	return out
}
