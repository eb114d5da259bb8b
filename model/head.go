package model

import (
	"fmt"

	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// Head is one decoding-head strategy. Concrete heads add their own
// forward entry points; CTC-style heads implement CTCHead.
type Head interface {
	Kind() DecoderKind
	Params(name string) []nn.Param
}

// CTCHead is a stateless map from backbone states (batch, hidden,
// time) to per-step class log-probabilities (time, batch, vocab).
// Temporal length is never changed.
type CTCHead interface {
	Head
	Logits(enc *tensor.Tensor, lengths []int) *tensor.Tensor
}

// PointwiseHead is the plainest CTC head: the backbone's two bridge
// blocks have already expanded width, so only the vocabulary
// projection remains.
type PointwiseHead struct {
	Proj *nn.Linear
}

func NewPointwiseHead(dc DecoderConfig) *PointwiseHead {
	return &PointwiseHead{Proj: nn.NewLinear(dc.Hidden, dc.VocabSize, true)}
}

func (h *PointwiseHead) Kind() DecoderKind { return Pointwise }

func (h *PointwiseHead) Logits(enc *tensor.Tensor, lengths []int) *tensor.Tensor {
	return projectFrames(enc, h.Proj)
}

func (h *PointwiseHead) Params(name string) []nn.Param {
	return h.Proj.Params(name + ".proj")
}

// RecurrentHead stacks bidirectional GRU layers atop the backbone,
// summing the two directions, then projects to the vocabulary.
// Layers after the first carry a per-channel input norm.
type RecurrentHead struct {
	Layers []*nn.BiGRU
	Proj   *nn.Linear
}

func NewRecurrentHead(dc DecoderConfig) *RecurrentHead {
	h := &RecurrentHead{Proj: nn.NewLinear(dc.Hidden, dc.VocabSize, true)}
	for i := 0; i < dc.NumLayers; i++ {
		h.Layers = append(h.Layers, nn.NewBiGRU(dc.Hidden, dc.Hidden, i > 0))
	}
	return h
}

func (h *RecurrentHead) Kind() DecoderKind { return RecurrentCTC }

func (h *RecurrentHead) Logits(enc *tensor.Tensor, lengths []int) *tensor.Tensor {
	y := enc
	for _, l := range h.Layers {
		y = l.Forward(y)
	}
	return projectFrames(y, h.Proj)
}

func (h *RecurrentHead) Params(name string) []nn.Param {
	var ps []nn.Param
	for i, l := range h.Layers {
		ps = append(ps, l.Params(nameIdx(name+".rnn", i))...)
	}
	return append(ps, h.Proj.Params(name+".proj")...)
}

// TransformerHead stacks self-attention encoder layers atop the
// backbone, masking padded positions, then projects to the vocabulary.
type TransformerHead struct {
	Layers []*nn.SelfAttentionLayer
	Proj   *nn.Linear
}

func NewTransformerHead(dc DecoderConfig) *TransformerHead {
	h := &TransformerHead{Proj: nn.NewLinear(dc.Hidden, dc.VocabSize, true)}
	for i := 0; i < dc.NumLayers; i++ {
		h.Layers = append(h.Layers, nn.NewSelfAttentionLayer(dc.Hidden, dc.Heads, dc.Girth))
	}
	return h
}

func (h *TransformerHead) Kind() DecoderKind { return TransformerCTC }

func (h *TransformerHead) Logits(enc *tensor.Tensor, lengths []int) *tensor.Tensor {
	y := enc
	for _, l := range h.Layers {
		y = l.ForwardBatch(y, lengths)
	}
	return projectFrames(y, h.Proj)
}

func (h *TransformerHead) Params(name string) []nn.Param {
	var ps []nn.Param
	for i, l := range h.Layers {
		ps = append(ps, l.Params(nameIdx(name+".attn", i))...)
	}
	return append(ps, h.Proj.Params(name+".proj")...)
}

// AttentionHead wraps the autoregressive sequence decoder.
type AttentionHead struct {
	Dec *AttnDecoder
}

// NewAttentionHead builds the decoder over encoder states of width
// encDim (the backbone bridge width, or a sub-decoder's hidden width).
func NewAttentionHead(dc DecoderConfig, encDim int) *AttentionHead {
	return &AttentionHead{Dec: NewAttnDecoder(dc, encDim)}
}

func (h *AttentionHead) Kind() DecoderKind { return Attention }

func (h *AttentionHead) Params(name string) []nn.Param {
	return h.Dec.Params(name + ".dec")
}

func nameIdx(name string, i int) string {
	return fmt.Sprintf("%s.%d", name, i)
}
