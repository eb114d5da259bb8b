package model

import (
	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// DoubleHead supervises the backbone twice: a small bidirectional GRU
// sub-decoder emits CTC logits from its hidden states, and the same
// hidden states feed an attention sequence decoder as encoder input.
// The CTC vocabulary excludes the sos/eos pair the attention
// vocabulary carries, so its size is always the attention size minus
// one (sos doubles as the CTC blank row's counterpart and never
// appears in CTC output).
type DoubleHead struct {
	Rnn     []*nn.BiGRU
	CTCProj *nn.Linear
	Dec     *AttnDecoder
}

// doubleRNNLayers is the fixed depth of the CTC sub-decoder.
const doubleRNNLayers = 2

func NewDoubleHead(dc DecoderConfig) *DoubleHead {
	h := &DoubleHead{
		CTCProj: nn.NewLinear(dc.Hidden, dc.VocabSize-1, true),
		Dec:     NewAttnDecoder(dc, dc.Hidden),
	}
	for i := 0; i < doubleRNNLayers; i++ {
		h.Rnn = append(h.Rnn, nn.NewBiGRU(dc.Hidden, dc.Hidden, i > 0))
	}
	return h
}

func (h *DoubleHead) Kind() DecoderKind { return DoubleSupervision }

// CTCVocab is the sub-decoder's output vocabulary size.
func (h *DoubleHead) CTCVocab() int { return h.CTCProj.Out }

// Encode runs the sub-decoder and returns its CTC log-probabilities
// (time, batch, vocab-1) together with the hidden-state sequence
// (batch, hidden, time) the attention decoder consumes.
func (h *DoubleHead) Encode(enc *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	states := enc
	for _, l := range h.Rnn {
		states = l.Forward(states)
	}
	return projectFrames(states, h.CTCProj), states
}

func (h *DoubleHead) Params(name string) []nn.Param {
	var ps []nn.Param
	for i, l := range h.Rnn {
		ps = append(ps, l.Params(nameIdx(name+".rnn", i))...)
	}
	ps = append(ps, h.CTCProj.Params(name+".ctc")...)
	return append(ps, h.Dec.Params(name+".dec")...)
}
