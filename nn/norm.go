package nn

import (
	"fmt"
	"math"

	"github.com/vbarna/amnet-go/internal/tensor"
)

const bnEps = 1e-5

// BatchNorm1d normalizes per channel with running statistics. Only the
// inference path is implemented: the running mean and variance are
// loaded from a checkpoint, never updated here.
type BatchNorm1d struct {
	Channels int

	Gamma []float64
	Beta  []float64
	Mean  []float64
	Var   []float64
}

// NewBatchNorm1d returns an identity-initialized norm over n channels.
func NewBatchNorm1d(n int) *BatchNorm1d {
	bn := &BatchNorm1d{
		Channels: n,
		Gamma:    make([]float64, n),
		Beta:     make([]float64, n),
		Mean:     make([]float64, n),
		Var:      make([]float64, n),
	}
	for i := 0; i < n; i++ {
		bn.Gamma[i] = 1
		bn.Var[i] = 1
	}
	return bn
}

// Forward normalizes x in place and returns it. x is (batch, Channels, time).
func (bn *BatchNorm1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.D1 != bn.Channels {
		panic(fmt.Sprintf("nn: batchnorm expects %d channels, got %d", bn.Channels, x.D1))
	}
	for c := 0; c < bn.Channels; c++ {
		scale := bn.Gamma[c] / math.Sqrt(bn.Var[c]+bnEps)
		shift := bn.Beta[c] - bn.Mean[c]*scale
		for b := 0; b < x.D0; b++ {
			row := x.Vec(b, c)
			for t := range row {
				row[t] = row[t]*scale + shift
			}
		}
	}
	return x
}

// Params exposes the norm's storage under the given name.
func (bn *BatchNorm1d) Params(name string) []Param {
	return []Param{
		{Name: name + ".weight", Data: bn.Gamma},
		{Name: name + ".bias", Data: bn.Beta},
		{Name: name + ".running_mean", Data: bn.Mean},
		{Name: name + ".running_var", Data: bn.Var},
	}
}

// LayerNorm normalizes the last dimension of a row vector.
type LayerNorm struct {
	Dim   int
	Gamma []float64
	Beta  []float64
}

func NewLayerNorm(dim int) *LayerNorm {
	ln := &LayerNorm{
		Dim:   dim,
		Gamma: make([]float64, dim),
		Beta:  make([]float64, dim),
	}
	for i := range ln.Gamma {
		ln.Gamma[i] = 1
	}
	return ln
}

// Apply normalizes row in place. len(row) must equal Dim.
func (ln *LayerNorm) Apply(row []float64) {
	mean := 0.0
	for _, v := range row {
		mean += v
	}
	mean /= float64(len(row))
	varSum := 0.0
	for _, v := range row {
		d := v - mean
		varSum += d * d
	}
	inv := 1.0 / math.Sqrt(varSum/float64(len(row))+bnEps)
	for i, v := range row {
		row[i] = (v-mean)*inv*ln.Gamma[i] + ln.Beta[i]
	}
}

// Params exposes the norm's storage under the given name.
func (ln *LayerNorm) Params(name string) []Param {
	return []Param{
		{Name: name + ".weight", Data: ln.Gamma},
		{Name: name + ".bias", Data: ln.Beta},
	}
}
