// Package block provides the convolutional building blocks the
// backbone is assembled from: plain and residual convolution blocks,
// separable repeat blocks, and the squeeze-excite channel attention
// that can be attached to either.
//
// Blocks operate on (batch, channels, time) tensors. Each block
// reports the ordered convolutions that affect temporal length via
// LengthConvs, so output lengths can be projected without running the
// block on data. Pointwise mix convolutions and the squeeze-excite
// internals never change length and are excluded from that list.
package block

import (
	"fmt"

	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// Kind distinguishes the structural block families.
type Kind int

const (
	Conv Kind = iota
	ResidualConv
	SeparableConv
)

func (k Kind) String() string {
	switch k {
	case ResidualConv:
		return "residual-conv"
	case SeparableConv:
		return "separable-conv"
	default:
		return "conv"
	}
}

// LayerSpec is the immutable structural record of one block. It is
// produced once at assembly time and never mutated afterwards.
type LayerSpec struct {
	Kind          Kind
	In, Out       int
	Kernel        int
	Stride        int
	Dilation      int
	Pad           int
	Groups        int
	SqueezeExcite bool
	Skip          bool
}

// Block is one backbone stage: a structural spec, the ordered
// length-bearing convolutions, a batched forward pass, and the named
// parameter storage for checkpointing.
type Block interface {
	Spec() LayerSpec
	LengthConvs() []*nn.Conv1d
	Forward(x *tensor.Tensor) *tensor.Tensor
	Params(name string) []nn.Param
}

// Options carries the knobs shared by all block constructors.
type Options struct {
	BatchNorm  bool
	Activation nn.Activation
	Dropout    float64
	SERatio    int
	Repeat     int
}

// effectiveGroups falls back to ungrouped convolution when the group
// count does not divide both channel counts.
func effectiveGroups(in, out, groups int) int {
	if groups < 1 {
		return 1
	}
	if in%groups != 0 || out%groups != 0 {
		return 1
	}
	return groups
}

// ConvBlock is conv + batch norm + activation, optionally with
// squeeze-excite and a residual skip around the whole block.
type ConvBlock struct {
	spec LayerSpec

	Conv    *nn.Conv1d
	Norm    *nn.BatchNorm1d
	Act     nn.Activation
	Dropout float64
	SE      *SCSE
}

// NewConvBlock realizes spec as a single-convolution block.
func NewConvBlock(spec LayerSpec, opts Options) *ConvBlock {
	if spec.Skip && (spec.In != spec.Out || spec.Stride != 1) {
		panic(fmt.Sprintf("block: skip requires matching shapes, got %d->%d stride %d", spec.In, spec.Out, spec.Stride))
	}
	groups := effectiveGroups(spec.In, spec.Out, spec.Groups)
	b := &ConvBlock{
		spec:    spec,
		Conv:    nn.NewConv1d(spec.In, spec.Out, spec.Kernel, spec.Stride, spec.Pad, spec.Dilation, groups, true),
		Act:     opts.Activation,
		Dropout: opts.Dropout,
	}
	if opts.BatchNorm {
		b.Norm = nn.NewBatchNorm1d(spec.Out)
	}
	if spec.SqueezeExcite {
		b.SE = NewSCSE(spec.Out, opts.SERatio)
	}
	return b
}

func (b *ConvBlock) Spec() LayerSpec { return b.spec }

func (b *ConvBlock) LengthConvs() []*nn.Conv1d { return []*nn.Conv1d{b.Conv} }

func (b *ConvBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := b.Conv.Forward(x)
	if b.Norm != nil {
		y = b.Norm.Forward(y)
	}
	b.Act.Apply(y.Data)
	if b.SE != nil {
		y = b.SE.Forward(y)
	}
	if b.spec.Skip {
		if y.D1 != x.D1 || y.D2 != x.D2 {
			panic(fmt.Sprintf("block: skip shape mismatch (%d,%d) vs (%d,%d)", x.D1, x.D2, y.D1, y.D2))
		}
		for i := range y.Data {
			y.Data[i] += x.Data[i]
		}
	}
	return y
}

func (b *ConvBlock) Params(name string) []nn.Param {
	ps := b.Conv.Params(name + ".conv")
	if b.Norm != nil {
		ps = append(ps, b.Norm.Params(name+".norm")...)
	}
	if b.SE != nil {
		ps = append(ps, b.SE.Params(name+".se")...)
	}
	return ps
}

// sepUnit is one repeat of a separable block: a grouped convolution
// followed by a pointwise mix convolution, each with its own norm and
// activation, with squeeze-excite between them when enabled.
type sepUnit struct {
	Depth *nn.Conv1d
	Norm1 *nn.BatchNorm1d
	SE    *SCSE
	Mix   *nn.Conv1d
	Norm2 *nn.BatchNorm1d
}

// SeparableBlock chains Repeat separable units. Only the first unit
// carries the LayerSpec stride; later units keep channel count and
// length. The skip connection, when present, wraps the whole chain.
type SeparableBlock struct {
	spec    LayerSpec
	Act     nn.Activation
	Dropout float64
	Units   []*sepUnit
}

// NewSeparableBlock realizes spec as a chain of opts.Repeat units
// (minimum one).
func NewSeparableBlock(spec LayerSpec, opts Options) *SeparableBlock {
	if spec.Skip && (spec.In != spec.Out || spec.Stride != 1) {
		panic(fmt.Sprintf("block: skip requires matching shapes, got %d->%d stride %d", spec.In, spec.Out, spec.Stride))
	}
	repeat := opts.Repeat
	if repeat < 1 {
		repeat = 1
	}
	b := &SeparableBlock{spec: spec, Act: opts.Activation, Dropout: opts.Dropout}
	for i := 0; i < repeat; i++ {
		in, stride, pad := spec.In, spec.Stride, spec.Pad
		if i > 0 {
			in, stride = spec.Out, 1
			pad = spec.Dilation * (spec.Kernel - 1) / 2
		}
		u := &sepUnit{
			Depth: nn.NewConv1d(in, spec.Out, spec.Kernel, stride, pad, spec.Dilation, effectiveGroups(in, spec.Out, spec.Groups), false),
			Mix:   nn.NewConv1d(spec.Out, spec.Out, 1, 1, 0, 1, 1, false),
		}
		if opts.BatchNorm {
			u.Norm1 = nn.NewBatchNorm1d(spec.Out)
			u.Norm2 = nn.NewBatchNorm1d(spec.Out)
		}
		if spec.SqueezeExcite {
			u.SE = NewSCSE(spec.Out, opts.SERatio)
		}
		b.Units = append(b.Units, u)
	}
	return b
}

func (b *SeparableBlock) Spec() LayerSpec { return b.spec }

func (b *SeparableBlock) LengthConvs() []*nn.Conv1d {
	convs := make([]*nn.Conv1d, len(b.Units))
	for i, u := range b.Units {
		convs[i] = u.Depth
	}
	return convs
}

func (b *SeparableBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := x
	for _, u := range b.Units {
		y = u.Depth.Forward(y)
		if u.Norm1 != nil {
			y = u.Norm1.Forward(y)
		}
		b.Act.Apply(y.Data)
		if u.SE != nil {
			y = u.SE.Forward(y)
		}
		y = u.Mix.Forward(y)
		if u.Norm2 != nil {
			y = u.Norm2.Forward(y)
		}
		b.Act.Apply(y.Data)
	}
	if b.spec.Skip {
		if y.D1 != x.D1 || y.D2 != x.D2 {
			panic(fmt.Sprintf("block: skip shape mismatch (%d,%d) vs (%d,%d)", x.D1, x.D2, y.D1, y.D2))
		}
		for i := range y.Data {
			y.Data[i] += x.Data[i]
		}
	}
	return y
}

func (b *SeparableBlock) Params(name string) []nn.Param {
	var ps []nn.Param
	for i, u := range b.Units {
		prefix := fmt.Sprintf("%s.u%d", name, i)
		ps = append(ps, u.Depth.Params(prefix+".depth")...)
		if u.Norm1 != nil {
			ps = append(ps, u.Norm1.Params(prefix+".norm1")...)
		}
		if u.SE != nil {
			ps = append(ps, u.SE.Params(prefix+".se")...)
		}
		ps = append(ps, u.Mix.Params(prefix+".mix")...)
		if u.Norm2 != nil {
			ps = append(ps, u.Norm2.Params(prefix+".norm2")...)
		}
	}
	return ps
}

// New realizes spec with the family picked by spec.Kind.
func New(spec LayerSpec, opts Options) Block {
	if spec.Kind == SeparableConv {
		return NewSeparableBlock(spec, opts)
	}
	return NewConvBlock(spec, opts)
}
