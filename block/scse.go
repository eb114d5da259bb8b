package block

import (
	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// SCSE is channel squeeze-excite attention: global average pool over
// time, a reduce projection with swish, an expand projection with
// sigmoid, then a per-channel rescale of the feature map.
type SCSE struct {
	Channels int
	Reduce   *nn.Linear
	Expand   *nn.Linear
}

// NewSCSE builds squeeze-excite over channels with the given reduction
// ratio (minimum inner width 1).
func NewSCSE(channels, ratio int) *SCSE {
	if ratio < 1 {
		ratio = 8
	}
	inner := channels / ratio
	if inner < 1 {
		inner = 1
	}
	return &SCSE{
		Channels: channels,
		Reduce:   nn.NewLinear(channels, inner, true),
		Expand:   nn.NewLinear(inner, channels, true),
	}
}

// Forward rescales x in place and returns it. x is (batch, Channels, time).
func (s *SCSE) Forward(x *tensor.Tensor) *tensor.Tensor {
	pooled := make([]float64, s.Channels)
	for b := 0; b < x.D0; b++ {
		for c := 0; c < s.Channels; c++ {
			row := x.Vec(b, c)
			sum := 0.0
			for _, v := range row {
				sum += v
			}
			pooled[c] = sum / float64(len(row))
		}
		z := s.Reduce.ForwardVec(pooled)
		for i, v := range z {
			z[i] = nn.Swish(v)
		}
		gate := s.Expand.ForwardVec(z)
		for c := 0; c < s.Channels; c++ {
			g := nn.Sigmoid(gate[c])
			row := x.Vec(b, c)
			for t := range row {
				row[t] *= g
			}
		}
	}
	return x
}

// Params exposes both projections under the given name.
func (s *SCSE) Params(name string) []nn.Param {
	ps := s.Reduce.Params(name + ".reduce")
	return append(ps, s.Expand.Params(name+".expand")...)
}
