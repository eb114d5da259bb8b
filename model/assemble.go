package model

import (
	"fmt"
	"hash/fnv"

	"github.com/vbarna/amnet-go/block"
	"github.com/vbarna/amnet-go/nn"
)

// bottleneckScale is the channel reduction factor of the inverted
// bottleneck projection pair.
const bottleneckScale = 4

// stageRepeats is the per-stage repeat factor inside separable blocks.
var stageRepeats = [3]int{2, 2, 1}

// bridgeKernel is the large-kernel width of the epilog bridge blocks
// that expand backbone channels to the head's hidden size.
const bridgeKernel = 31

// Assemble realizes the two configuration records as a model:
// an ordered backbone block sequence and exactly one decoding head.
// Structure is fully determined by the configs; randomness only
// touches initial parameter values. Invalid configurations are
// rejected here, never deferred to the forward pass.
func Assemble(bc BackboneConfig, dc DecoderConfig) (*Model, error) {
	bc = bc.withDefaults()
	dc = dc.withDefaults()
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	nn.SeedInit(initSeed(bc, dc))

	m := &Model{Backbone: bc, Decoder: dc}
	act := bc.activation()
	pad := bc.Kernel / 2

	family := block.Conv
	if bc.Separable {
		family = block.SeparableConv
	}
	baseOpts := block.Options{
		BatchNorm:  bc.BatchNorm,
		Activation: act,
		Dropout:    bc.Dropout,
		SERatio:    bc.SERatio,
	}

	width := bc.BaseWidth
	if bc.WidthGrowth {
		width = bc.BaseWidth / 2
	}

	// Prolog: always stride 2, never residual (its channel counts differ).
	m.Blocks = append(m.Blocks, block.NewConvBlock(block.LayerSpec{
		Kind: block.Conv, In: bc.InputChannels, Out: width,
		Kernel: bc.Kernel, Stride: 2, Dilation: 1, Pad: pad, Groups: 1,
	}, baseOpts))
	cur := width

	if bc.InvertedBottleneck {
		narrow := cur / bottleneckScale
		m.Blocks = append(m.Blocks, block.NewConvBlock(block.LayerSpec{
			Kind: block.Conv, In: cur, Out: narrow,
			Kernel: 1, Stride: 1, Dilation: 1, Pad: 0, Groups: 1,
		}, baseOpts))
		cur = narrow
	}

	perStage := bc.BlockDepth / 3
	for stage := 0; stage < 3; stage++ {
		if bc.stageDownsampled(stage) {
			// Dedicated non-residual stride-2 block ahead of the
			// residual chain: residual sums only ever span stride-1,
			// same-shape blocks.
			opts := baseOpts
			opts.Repeat = 1
			m.Blocks = append(m.Blocks, block.New(block.LayerSpec{
				Kind: family, In: cur, Out: cur,
				Kernel: bc.Kernel, Stride: 2, Dilation: 1, Pad: pad,
				Groups: bc.Groups, SqueezeExcite: bc.SqueezeExcite,
			}, opts))
		}
		for sub := 0; sub < perStage; sub++ {
			dil := 1
			if bc.stageDilated(stage) && (sub == 1 || sub == 2) {
				dil = 2
			}
			kind := family
			if !bc.Separable && bc.SkipConnections {
				kind = block.ResidualConv
			}
			opts := baseOpts
			opts.Repeat = stageRepeats[stage]
			m.Blocks = append(m.Blocks, block.New(block.LayerSpec{
				Kind: kind, In: cur, Out: cur,
				Kernel: bc.Kernel, Stride: 1, Dilation: dil,
				Pad: dil * (bc.Kernel - 1) / 2,
				Groups: bc.Groups, SqueezeExcite: bc.SqueezeExcite,
				Skip: bc.SkipConnections,
			}, opts))
		}
		if stage == 1 && bc.WidthGrowth {
			m.Blocks = append(m.Blocks, block.NewConvBlock(block.LayerSpec{
				Kind: block.Conv, In: cur, Out: cur * 2,
				Kernel: bc.Kernel, Stride: 1, Dilation: 1, Pad: pad, Groups: 1,
			}, baseOpts))
			cur *= 2
		}
		m.segEnds[stage] = len(m.Blocks)
	}

	if bc.InvertedBottleneck {
		m.Blocks = append(m.Blocks, block.NewConvBlock(block.LayerSpec{
			Kind: block.Conv, In: cur, Out: cur * bottleneckScale,
			Kernel: 1, Stride: 1, Dilation: 1, Pad: 0, Groups: 1,
		}, baseOpts))
		cur *= bottleneckScale
	}

	// Epilog bridge: expand to the head's hidden width. The pointwise
	// head gets a second, kernel-1 bridge on top.
	m.Blocks = append(m.Blocks, block.NewConvBlock(block.LayerSpec{
		Kind: block.Conv, In: cur, Out: dc.Hidden,
		Kernel: bridgeKernel, Stride: 1, Dilation: 1, Pad: bridgeKernel / 2, Groups: 1,
	}, baseOpts))
	if dc.Kind == Pointwise {
		m.Blocks = append(m.Blocks, block.NewConvBlock(block.LayerSpec{
			Kind: block.Conv, In: dc.Hidden, Out: dc.Hidden,
			Kernel: 1, Stride: 1, Dilation: 1, Pad: 0, Groups: 1,
		}, baseOpts))
	}
	m.segEnds[3] = len(m.Blocks)

	m.assertStrideProduct()

	switch dc.Kind {
	case Pointwise:
		m.Head = NewPointwiseHead(dc)
	case RecurrentCTC:
		m.Head = NewRecurrentHead(dc)
	case TransformerCTC:
		m.Head = NewTransformerHead(dc)
	case Attention:
		m.Head = NewAttentionHead(dc, dc.Hidden)
	case DoubleSupervision:
		m.Head = NewDoubleHead(dc)
	}
	return m, nil
}

// initSeed derives the parameter initialization seed from the
// configuration pair, so assembling the same configs twice yields the
// same initial parameters.
func initSeed(bc BackboneConfig, dc DecoderConfig) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%+v|%+v", bc, dc)
	return int64(h.Sum64())
}

// assertStrideProduct checks the realized internal stride product
// against the configured downsample factor. A mismatch is an
// assembler bug, not a runtime condition.
func (m *Model) assertStrideProduct() {
	product := 1
	for _, b := range m.Blocks {
		for _, c := range b.LengthConvs() {
			product *= c.Stride
		}
	}
	want := 2 * m.Backbone.Downsample // prolog stride times internal strides
	if product != want {
		panic(fmt.Sprintf("model: assembled stride product %d, want %d", product, want))
	}
	for _, b := range m.Blocks {
		spec := b.Spec()
		if spec.Skip && (spec.In != spec.Out || spec.Stride != 1) {
			panic(fmt.Sprintf("model: skip block with shape change %d->%d stride %d", spec.In, spec.Out, spec.Stride))
		}
	}
}
