package model

import (
	"fmt"

	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// denoiseStage is one decoder block of the denoising head: reduce
// channels, upsample to the next tap's resolution, refine, expand to
// the tap's channel count. The tap merge is an element-wise add.
type denoiseStage struct {
	Reduce *nn.Conv1d
	Up     *nn.Conv1d
	Expand *nn.Conv1d
}

func newDenoiseStage(in, out int) *denoiseStage {
	narrow := in / 4
	if narrow < 1 {
		narrow = 1
	}
	return &denoiseStage{
		Reduce: nn.NewConv1d(in, narrow, 1, 1, 0, 1, 1, true),
		Up:     nn.NewConv1d(narrow, narrow, 3, 1, 1, 1, 1, true),
		Expand: nn.NewConv1d(narrow, out, 1, 1, 0, 1, 1, true),
	}
}

// run upsamples through the stage to targetT channels=out.
func (s *denoiseStage) run(x *tensor.Tensor, targetT int) *tensor.Tensor {
	y := s.Reduce.Forward(x)
	y = nearestUpsample(y, targetT)
	y = s.Up.Forward(y)
	nn.ReLU.Apply(y.Data)
	return s.Expand.Forward(y)
}

func (s *denoiseStage) params(name string) []nn.Param {
	ps := s.Reduce.Params(name + ".reduce")
	ps = append(ps, s.Up.Params(name+".up")...)
	return append(ps, s.Expand.Params(name+".expand")...)
}

// Denoiser reconstructs a sigmoid mask over the input spectrogram from
// the four encoder segment taps, coarsest tap first, LinkNet style:
// each stage upsamples and element-wise adds the matching tap, and the
// last stage returns to input resolution and channel count.
type Denoiser struct {
	Stages [4]*denoiseStage
	Refine *nn.Conv1d
}

// NewDenoiser wires decoder stages for segment channel widths chs
// (tap order: finest to coarsest) down to inputCh spectrogram channels.
func NewDenoiser(chs [4]int, inputCh int) *Denoiser {
	d := &Denoiser{Refine: nn.NewConv1d(inputCh, inputCh, 3, 1, 1, 1, 1, true)}
	d.Stages[0] = newDenoiseStage(chs[3], chs[2])
	d.Stages[1] = newDenoiseStage(chs[2], chs[1])
	d.Stages[2] = newDenoiseStage(chs[1], chs[0])
	d.Stages[3] = newDenoiseStage(chs[0], inputCh)
	return d
}

// Forward consumes the original input (batch, channels, time) and the
// four segment taps in forward order, returning a (batch, channels,
// time) mask in (0,1).
func (d *Denoiser) Forward(x *tensor.Tensor, taps []*tensor.Tensor) *tensor.Tensor {
	if len(taps) != 4 {
		panic(fmt.Sprintf("model: denoiser needs 4 taps, got %d", len(taps)))
	}
	y := taps[3]
	for i, tap := range []*tensor.Tensor{taps[2], taps[1], taps[0]} {
		y = d.Stages[i].run(y, tap.D2)
		if y.D1 != tap.D1 {
			panic(fmt.Sprintf("model: denoiser tap channel mismatch %d vs %d", y.D1, tap.D1))
		}
		for j := range y.Data {
			y.Data[j] += tap.Data[j]
		}
	}
	y = d.Stages[3].run(y, x.D2)
	y = d.Refine.Forward(y)
	for i, v := range y.Data {
		y.Data[i] = nn.Sigmoid(v)
	}
	return y
}

// Params exposes the decoder storage under the given name.
func (d *Denoiser) Params(name string) []nn.Param {
	var ps []nn.Param
	for i, s := range d.Stages {
		ps = append(ps, s.params(nameIdx(name+".stage", i))...)
	}
	return append(ps, d.Refine.Params(name+".refine")...)
}

// nearestUpsample stretches the time axis to targetT by nearest
// neighbor. targetT equal to the current length is a copy-free no-op.
func nearestUpsample(x *tensor.Tensor, targetT int) *tensor.Tensor {
	if x.D2 == targetT {
		return x
	}
	y := tensor.New(x.D0, x.D1, targetT)
	for b := 0; b < x.D0; b++ {
		for c := 0; c < x.D1; c++ {
			src := x.Vec(b, c)
			dst := y.Vec(b, c)
			for t := 0; t < targetT; t++ {
				dst[t] = src[t*x.D2/targetT]
			}
		}
	}
	return y
}
