package model

import (
	"fmt"
	"math"

	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/nn"
)

// AttnDecoder is the autoregressive sequence decoder: a recurrent
// bridge over the encoder states produces attention keys and the
// initial hidden state, then each step attends over the keys with an
// additive score, advances a GRU stack and emits a log-probability
// row over the vocabulary.
//
// The decoder has two entry modes. TrainBatch unrolls exactly
// len(targets[b]) steps feeding ground-truth previous tokens.
// Inference unrolls exactly one step per encoder frame feeding back
// its own argmax, with an explicit all-probability-on-sos row
// prepended so both modes align at the same temporal index. Neither
// mode stops early on eos; every sequence in a batch runs to the cap.
type AttnDecoder struct {
	Vocab, Embed, Hidden int
	SOS, EOS             int

	Emb    *nn.Embedding
	Bridge *nn.StackedGRU
	WKey   *nn.Linear
	WQuery *nn.Linear
	Energy *nn.Linear
	Cell   *nn.StackedGRU
	PreOut *nn.Linear
	Gen    *nn.Linear
}

// NewAttnDecoder builds a decoder whose bridge consumes encoder states
// of width encDim.
func NewAttnDecoder(dc DecoderConfig, encDim int) *AttnDecoder {
	h := dc.Hidden
	return &AttnDecoder{
		Vocab:  dc.VocabSize,
		Embed:  dc.EmbedSize,
		Hidden: h,
		SOS:    dc.SOSIndex,
		EOS:    dc.EOSIndex,
		Emb:    nn.NewEmbedding(dc.VocabSize, dc.EmbedSize),
		Bridge: nn.NewStackedGRU(encDim, h, dc.NumLayers),
		WKey:   nn.NewLinear(h, h, false),
		WQuery: nn.NewLinear(h, h, true),
		Energy: nn.NewLinear(h, 1, false),
		Cell:   nn.NewStackedGRU(dc.EmbedSize+h, h, dc.NumLayers),
		PreOut: nn.NewLinear(dc.EmbedSize+2*h, h, false),
		Gen:    nn.NewLinear(h, dc.VocabSize, true),
	}
}

// DecoderState is the mutable per-call decode state: one hidden slab
// per GRU layer, the last emitted (or teacher-forced) token per batch
// item, and the step counter. It lives only within one decode call.
type DecoderState struct {
	Hidden    [][]float64
	LastToken []int
	Step      int
}

// decodeCtx holds the per-call encoder products every step reads.
type decodeCtx struct {
	keys     *tensor.Tensor // (batch, time, hidden)
	projKeys *tensor.Tensor // WKey applied to keys
	valid    []int
}

// encode runs the bridge over the encoder states (batch, encDim, time)
// and returns the attention context plus the initial decode state.
func (d *AttnDecoder) encode(enc *tensor.Tensor, lengths []int) (*decodeCtx, *DecoderState) {
	batch, dim, steps := enc.D0, enc.D1, enc.D2
	keys := tensor.New(batch, steps, d.Hidden)
	hidden := d.Bridge.NewState(batch)

	xt := make([]float64, batch*dim)
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			for c := 0; c < dim; c++ {
				xt[b*dim+c] = enc.At(b, c, t)
			}
		}
		top := d.Bridge.Step(xt, hidden, batch)
		for b := 0; b < batch; b++ {
			copy(keys.Vec(b, t), top[b*d.Hidden:(b+1)*d.Hidden])
		}
	}

	projKeys := tensor.New(batch, steps, d.Hidden)
	for b := 0; b < batch; b++ {
		copy(projKeys.Block(b), d.WKey.Forward(keys.Block(b), steps))
	}

	valid := make([]int, batch)
	for b := range valid {
		v := steps
		if lengths != nil && lengths[b] > 0 && lengths[b] < steps {
			v = lengths[b]
		}
		valid[b] = v
	}

	// The bridge's final hidden state seeds the decoder stack.
	state := &DecoderState{Hidden: hidden, LastToken: make([]int, batch)}
	return &decodeCtx{keys: keys, projKeys: projKeys, valid: valid}, state
}

// step advances every batch item one token and returns the (batch,
// vocab) log-probability rows for this step.
func (d *AttnDecoder) step(ctx *decodeCtx, state *DecoderState) []float64 {
	batch, steps := ctx.keys.D0, ctx.keys.D1
	h := d.Hidden

	emb := make([]float64, batch*d.Embed)
	for b, tok := range state.LastToken {
		copy(emb[b*d.Embed:(b+1)*d.Embed], d.Emb.Lookup(tok))
	}

	query := d.WQuery.Forward(state.Hidden[len(state.Hidden)-1], batch)

	// Additive attention: score = energy(tanh(Wk*key + Wq*query)),
	// padded positions forced to zero probability via -Inf.
	context := make([]float64, batch*h)
	scores := make([]float64, steps)
	scratch := make([]float64, h)
	for b := 0; b < batch; b++ {
		q := query[b*h : (b+1)*h]
		for t := 0; t < steps; t++ {
			if t >= ctx.valid[b] {
				scores[t] = math.Inf(-1)
				continue
			}
			pk := ctx.projKeys.Vec(b, t)
			for i := range scratch {
				scratch[i] = math.Tanh(pk[i] + q[i])
			}
			scores[t] = d.Energy.ForwardVec(scratch)[0]
		}
		nn.Softmax(scores)
		cb := context[b*h : (b+1)*h]
		for t := 0; t < ctx.valid[b]; t++ {
			w := scores[t]
			key := ctx.keys.Vec(b, t)
			for i := range cb {
				cb[i] += w * key[i]
			}
		}
	}

	rnnIn := make([]float64, batch*(d.Embed+h))
	for b := 0; b < batch; b++ {
		copy(rnnIn[b*(d.Embed+h):], emb[b*d.Embed:(b+1)*d.Embed])
		copy(rnnIn[b*(d.Embed+h)+d.Embed:], context[b*h:(b+1)*h])
	}
	out := d.Cell.Step(rnnIn, state.Hidden, batch)

	preIn := make([]float64, batch*(d.Embed+2*h))
	stride := d.Embed + 2*h
	for b := 0; b < batch; b++ {
		copy(preIn[b*stride:], emb[b*d.Embed:(b+1)*d.Embed])
		copy(preIn[b*stride+d.Embed:], out[b*h:(b+1)*h])
		copy(preIn[b*stride+d.Embed+h:], context[b*h:(b+1)*h])
	}
	pre := d.PreOut.Forward(preIn, batch)

	logits := d.Gen.Forward(pre, batch)
	for b := 0; b < batch; b++ {
		nn.LogSoftmax(logits[b*d.Vocab : (b+1)*d.Vocab])
	}
	state.Step++
	return logits
}

// TrainBatch unrolls the decoder teacher-forced for exactly T steps,
// where T is the shared length of every targets row: step t consumes
// targets[b][t] as the previous token. Output is (batch, T, vocab)
// log-probabilities.
func (d *AttnDecoder) TrainBatch(enc *tensor.Tensor, lengths []int, targets [][]int) (*tensor.Tensor, error) {
	if len(targets) != enc.D0 {
		return nil, fmt.Errorf("model: %d target rows for batch of %d", len(targets), enc.D0)
	}
	steps := len(targets[0])
	if steps == 0 {
		return nil, fmt.Errorf("model: empty target sequence")
	}
	for b, row := range targets {
		if len(row) != steps {
			return nil, fmt.Errorf("model: target row %d has %d tokens, want %d", b, len(row), steps)
		}
		for _, tok := range row {
			if tok < 0 || tok >= d.Vocab {
				return nil, fmt.Errorf("model: target token %d out of range [0,%d)", tok, d.Vocab)
			}
		}
	}

	ctx, state := d.encode(enc, lengths)
	out := tensor.New(enc.D0, steps, d.Vocab)
	for t := 0; t < steps; t++ {
		for b := range targets {
			state.LastToken[b] = targets[b][t]
		}
		logits := d.step(ctx, state)
		for b := 0; b < enc.D0; b++ {
			copy(out.Vec(b, t), logits[b*d.Vocab:(b+1)*d.Vocab])
		}
	}
	return out, nil
}

// Inference decodes greedily for exactly one step per encoder frame,
// feeding each step's argmax back as the next input. Row 0 of the
// output is a raw probability row with all mass on sos; rows 1..M are
// log-probabilities, so the result has M+1 rows for M encoder frames.
func (d *AttnDecoder) Inference(enc *tensor.Tensor, lengths []int) *tensor.Tensor {
	batch, frames := enc.D0, enc.D2
	ctx, state := d.encode(enc, lengths)
	out := tensor.New(batch, frames+1, d.Vocab)
	for b := 0; b < batch; b++ {
		out.Set(b, 0, d.SOS, 1)
		state.LastToken[b] = d.SOS
	}
	for t := 1; t <= frames; t++ {
		logits := d.step(ctx, state)
		for b := 0; b < batch; b++ {
			row := logits[b*d.Vocab : (b+1)*d.Vocab]
			copy(out.Vec(b, t), row)
			state.LastToken[b] = nn.ArgMax(row)
		}
	}
	return out
}

// Params exposes the decoder's storage under the given name.
func (d *AttnDecoder) Params(name string) []nn.Param {
	var ps []nn.Param
	ps = append(ps, d.Emb.Params(name+".emb")...)
	ps = append(ps, d.Bridge.Params(name+".bridge")...)
	ps = append(ps, d.WKey.Params(name+".wkey")...)
	ps = append(ps, d.WQuery.Params(name+".wquery")...)
	ps = append(ps, d.Energy.Params(name+".energy")...)
	ps = append(ps, d.Cell.Params(name+".cell")...)
	ps = append(ps, d.PreOut.Params(name+".preout")...)
	ps = append(ps, d.Gen.Params(name+".gen")...)
	return ps
}
