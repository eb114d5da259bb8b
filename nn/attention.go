package nn

import (
	"fmt"
	"math"

	"github.com/vbarna/amnet-go/internal/tensor"
)

// SelfAttentionLayer is one post-norm transformer encoder layer:
// multi-head self-attention, residual add, layer norm, position-wise
// feed-forward, residual add, layer norm.
type SelfAttentionLayer struct {
	Dim, Heads int

	Q, K, V, O *Linear
	FF1, FF2   *Linear
	Norm1      *LayerNorm
	Norm2      *LayerNorm
}

// NewSelfAttentionLayer builds a layer over dim features with the given
// head count and feed-forward expansion factor. heads must divide dim.
func NewSelfAttentionLayer(dim, heads, girth int) *SelfAttentionLayer {
	if dim%heads != 0 {
		panic(fmt.Sprintf("nn: attention heads %d do not divide dim %d", heads, dim))
	}
	return &SelfAttentionLayer{
		Dim:   dim,
		Heads: heads,
		Q:     NewLinear(dim, dim, true),
		K:     NewLinear(dim, dim, true),
		V:     NewLinear(dim, dim, true),
		O:     NewLinear(dim, dim, true),
		FF1:   NewLinear(dim, girth*dim, true),
		FF2:   NewLinear(girth*dim, dim, true),
		Norm1: NewLayerNorm(dim),
		Norm2: NewLayerNorm(dim),
	}
}

// Forward transforms a (steps, Dim) row-major sequence in place and
// returns it. Positions at or beyond valid are masked out of the
// attention; valid <= 0 means all positions are valid.
func (l *SelfAttentionLayer) Forward(x []float64, steps, valid int) []float64 {
	if valid <= 0 || valid > steps {
		valid = steps
	}
	d := l.Dim
	headDim := d / l.Heads
	scale := 1.0 / math.Sqrt(float64(headDim))

	q := l.Q.Forward(x, steps)
	k := l.K.Forward(x, steps)
	v := l.V.Forward(x, steps)

	ctx := make([]float64, steps*d)
	scores := make([]float64, steps)
	for h := 0; h < l.Heads; h++ {
		off := h * headDim
		for ti := 0; ti < steps; ti++ {
			qi := q[ti*d+off : ti*d+off+headDim]
			for tj := 0; tj < valid; tj++ {
				kj := k[tj*d+off : tj*d+off+headDim]
				s := 0.0
				for e := 0; e < headDim; e++ {
					s += qi[e] * kj[e]
				}
				scores[tj] = s * scale
			}
			Softmax(scores[:valid])
			out := ctx[ti*d+off : ti*d+off+headDim]
			for tj := 0; tj < valid; tj++ {
				w := scores[tj]
				vj := v[tj*d+off : tj*d+off+headDim]
				for e := 0; e < headDim; e++ {
					out[e] += w * vj[e]
				}
			}
		}
	}

	attn := l.O.Forward(ctx, steps)
	for i := range x {
		x[i] += attn[i]
	}
	for t := 0; t < steps; t++ {
		l.Norm1.Apply(x[t*d : (t+1)*d])
	}

	ff := l.FF1.Forward(x, steps)
	ReLU.Apply(ff)
	ff = l.FF2.Forward(ff, steps)
	for i := range x {
		x[i] += ff[i]
	}
	for t := 0; t < steps; t++ {
		l.Norm2.Apply(x[t*d : (t+1)*d])
	}
	return x
}

// ForwardBatch runs the layer over each batch item of a (batch, Dim,
// time) tensor, transposing through a (time, Dim) scratch sequence.
// The result is a fresh tensor; the input is left untouched, so
// callers may keep tapping it after the layer ran. lengths gives
// per-item valid lengths; nil means fully valid.
func (l *SelfAttentionLayer) ForwardBatch(x *tensor.Tensor, lengths []int) *tensor.Tensor {
	batch, d, steps := x.D0, x.D1, x.D2
	if d != l.Dim {
		panic(fmt.Sprintf("nn: attention expects %d features, got %d", l.Dim, d))
	}
	y := tensor.New(batch, d, steps)
	seq := make([]float64, steps*d)
	for b := 0; b < batch; b++ {
		for c := 0; c < d; c++ {
			row := x.Vec(b, c)
			for t := 0; t < steps; t++ {
				seq[t*d+c] = row[t]
			}
		}
		valid := steps
		if lengths != nil {
			valid = lengths[b]
		}
		l.Forward(seq, steps, valid)
		for c := 0; c < d; c++ {
			row := y.Vec(b, c)
			for t := 0; t < steps; t++ {
				row[t] = seq[t*d+c]
			}
		}
	}
	return y
}

// Params exposes the layer's storage under the given name.
func (l *SelfAttentionLayer) Params(name string) []Param {
	var ps []Param
	ps = append(ps, l.Q.Params(name+".q")...)
	ps = append(ps, l.K.Params(name+".k")...)
	ps = append(ps, l.V.Params(name+".v")...)
	ps = append(ps, l.O.Params(name+".o")...)
	ps = append(ps, l.FF1.Params(name+".ff1")...)
	ps = append(ps, l.FF2.Params(name+".ff2")...)
	ps = append(ps, l.Norm1.Params(name+".norm1")...)
	ps = append(ps, l.Norm2.Params(name+".norm2")...)
	return ps
}
