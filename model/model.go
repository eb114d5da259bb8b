package model

import (
	"fmt"

	"github.com/vbarna/amnet-go/block"
	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// Model is an assembled acoustic model: the backbone block sequence,
// exactly one decoding head, and the optional auxiliary heads added by
// migration. A model instance is exclusively owned by its caller; no
// state is shared across instances, so concurrent use of distinct
// instances needs no locking.
type Model struct {
	Backbone BackboneConfig
	Decoder  DecoderConfig

	Blocks []block.Block
	Head   Head

	PhonemeHead    *nn.Linear
	PhonemeCount   int
	Denoiser       *Denoiser
	BackboneFrozen bool

	// segEnds marks the block index ending each of the four encoder
	// segments (prolog+stage0, stage1, stage2, bridge epilog). The
	// denoising decoder taps segment outputs.
	segEnds [4]int
}

// Output bundles one forward pass's results. CTC-style heads fill
// Logits with (time, batch, vocab) log-probabilities; the attention
// head fills it with (batch, steps, vocab). Lengths is the projected
// valid length per batch item. The remaining fields are present only
// when the corresponding auxiliary head exists.
type Output struct {
	Logits  *tensor.Tensor
	Lengths []int

	CTCLogits     *tensor.Tensor
	PhonemeLogits *tensor.Tensor
	DenoiseMask   *tensor.Tensor
}

// Forward runs the backbone and head in inference mode. x is
// (batch, input_channels, time); lengths gives per-item valid input
// frames and may be nil when every item spans the full time axis.
func (m *Model) Forward(x *tensor.Tensor, lengths []int) (*Output, error) {
	enc, taps, err := m.forwardBackbone(x)
	if err != nil {
		return nil, err
	}
	projected := m.projectBatch(x, lengths)
	out := &Output{Lengths: projected}

	switch h := m.Head.(type) {
	case *AttentionHead:
		out.Logits = h.Dec.Inference(enc, projected)
	case *DoubleHead:
		ctc, states := h.Encode(enc)
		out.CTCLogits = ctc
		out.Logits = h.Dec.Inference(states, projected)
	case CTCHead:
		out.Logits = h.Logits(enc, projected)
	default:
		return nil, configErrorf("decoder.kind", "head %q has no inference path", string(m.Head.Kind()))
	}

	if m.PhonemeHead != nil {
		out.PhonemeLogits = projectFrames(enc, m.PhonemeHead)
	}
	if m.Denoiser != nil {
		out.DenoiseMask = m.Denoiser.Forward(x, taps)
	}
	return out, nil
}

// TrainBatch runs the autoregressive head teacher-forced: step t
// consumes targets[b][t] as the previous token, for exactly
// len(targets[b]) steps. All target rows must share one length.
// Only attention and double-supervision models support this mode.
func (m *Model) TrainBatch(x *tensor.Tensor, lengths []int, targets [][]int) (*Output, error) {
	enc, _, err := m.forwardBackbone(x)
	if err != nil {
		return nil, err
	}
	projected := m.projectBatch(x, lengths)
	out := &Output{Lengths: projected}

	switch h := m.Head.(type) {
	case *AttentionHead:
		logits, err := h.Dec.TrainBatch(enc, projected, targets)
		if err != nil {
			return nil, err
		}
		out.Logits = logits
	case *DoubleHead:
		ctc, states := h.Encode(enc)
		out.CTCLogits = ctc
		logits, err := h.Dec.TrainBatch(states, projected, targets)
		if err != nil {
			return nil, err
		}
		out.Logits = logits
	default:
		return nil, configErrorf("decoder.kind", "kind %q has no teacher-forced mode", string(m.Decoder.Kind))
	}
	return out, nil
}

// forwardBackbone runs the block sequence, capturing the four segment
// outputs when a denoiser is attached.
func (m *Model) forwardBackbone(x *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	if x.D1 != m.Backbone.InputChannels {
		return nil, nil, fmt.Errorf("model: input has %d channels, want %d", x.D1, m.Backbone.InputChannels)
	}
	var taps []*tensor.Tensor
	y := x
	for i, b := range m.Blocks {
		y = b.Forward(y)
		if m.Denoiser != nil {
			for _, end := range m.segEnds {
				if i+1 == end {
					taps = append(taps, y)
				}
			}
		}
	}
	return y, taps, nil
}

// projectBatch maps input lengths through the backbone. A nil lengths
// vector means every item spans x's full time axis.
func (m *Model) projectBatch(x *tensor.Tensor, lengths []int) []int {
	if lengths == nil {
		lengths = make([]int, x.D0)
		for i := range lengths {
			lengths[i] = x.D2
		}
	}
	return ProjectLengths(m.Blocks, lengths)
}

// ProjectLength maps one input length through this model's backbone.
func (m *Model) ProjectLength(l int) int {
	return ProjectLength(m.Blocks, l)
}

// NamedParams returns every parameter slice in the model under a
// stable hierarchical name. Slices alias live storage.
func (m *Model) NamedParams() []nn.Param {
	var ps []nn.Param
	for i, b := range m.Blocks {
		ps = append(ps, b.Params(fmt.Sprintf("backbone.b%d", i))...)
	}
	ps = append(ps, m.Head.Params("head")...)
	if m.PhonemeHead != nil {
		ps = append(ps, m.PhonemeHead.Params("phoneme")...)
	}
	if m.Denoiser != nil {
		ps = append(ps, m.Denoiser.Params("denoise")...)
	}
	return ps
}

// backboneParams covers only the backbone blocks, for the migration
// idempotence guarantees.
func (m *Model) backboneParams() []nn.Param {
	var ps []nn.Param
	for i, b := range m.Blocks {
		ps = append(ps, b.Params(fmt.Sprintf("backbone.b%d", i))...)
	}
	return ps
}

// projectFrames applies a per-frame linear projection with log-softmax
// rows, producing (time, batch, out) from (batch, hidden, time).
func projectFrames(enc *tensor.Tensor, proj *nn.Linear) *tensor.Tensor {
	batch, hidden, steps := enc.D0, enc.D1, enc.D2
	out := tensor.New(steps, batch, proj.Out)
	feat := make([]float64, hidden)
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			for c := 0; c < hidden; c++ {
				feat[c] = enc.At(b, c, t)
			}
			row := out.Vec(t, b)
			copy(row, proj.ForwardVec(feat))
			nn.LogSoftmax(row)
		}
	}
	return out
}
