// Package amnet assembles configurable acoustic models for speech
// recognition: a convolutional backbone feeding one of several
// decoding heads, with consistent length projection through the
// downsampling stack and in-place checkpoint migration for models
// that gain capabilities after training.
package amnet

import (
	"fmt"
	"os"
	"strings"

	"github.com/vbarna/amnet-go/checkpoint"
	"github.com/vbarna/amnet-go/internal/tensor"
	"github.com/vbarna/amnet-go/label"
	"github.com/vbarna/amnet-go/model"
	"github.com/vbarna/amnet-go/nn"
)

// Pipeline is the top-level inference pipeline: an assembled model
// plus the label alphabet its output indexes into.
type Pipeline struct {
	Model    *model.Model
	Alphabet *label.Alphabet
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAlphabet attaches the label alphabet used for decoding.
func WithAlphabet(ab *label.Alphabet) Option {
	return func(p *Pipeline) {
		p.Alphabet = ab
	}
}

// New assembles a pipeline from a named preset.
func New(preset string, opts ...Option) (*Pipeline, error) {
	pr, err := model.PresetByName(preset)
	if err != nil {
		return nil, err
	}
	m, err := pr.Assemble()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Model: m}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewFromConfigs assembles a pipeline from explicit configuration
// records.
func NewFromConfigs(bc model.BackboneConfig, dc model.DecoderConfig, opts ...Option) (*Pipeline, error) {
	m, err := model.Assemble(bc, dc)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Model: m}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load reads a checkpoint file and rebuilds its pipeline.
func Load(path string, opts ...Option) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	m, err := checkpoint.Load(f)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Model: m}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Save writes the pipeline's model as a checkpoint file.
func (p *Pipeline) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	return checkpoint.Save(f, p.Model)
}

// Result is one batch forward pass: per-item log-probability rows and
// the projected valid length per item.
type Result struct {
	Logits  [][][]float64
	Lengths []int
}

// Forward runs the model on a batch of feature maps, each a
// (channels, time) matrix. Shorter items are zero-padded to the
// longest; lengths reports the projected valid frames per item.
func (p *Pipeline) Forward(batch [][][]float64) (*Result, error) {
	x, lengths, err := p.batchTensor(batch)
	if err != nil {
		return nil, err
	}
	out, err := p.Model.Forward(x, lengths)
	if err != nil {
		return nil, err
	}
	return &Result{Logits: splitLogits(out.Logits, p.Model.Decoder.Kind), Lengths: out.Lengths}, nil
}

// Transcribe runs one feature map through the model and greedily
// decodes the CTC output against the attached alphabet.
func (p *Pipeline) Transcribe(features [][]float64) (string, error) {
	if p.Alphabet == nil {
		return "", fmt.Errorf("amnet: no alphabet attached")
	}
	res, err := p.Forward([][][]float64{features})
	if err != nil {
		return "", err
	}
	return p.decodeGreedy(res.Logits[0], res.Lengths[0])
}

// decodeGreedy collapses repeated argmax labels, drops blanks and
// expands the double-char placeholder into a repeat of the previous
// symbol.
func (p *Pipeline) decodeGreedy(rows [][]float64, length int) (string, error) {
	ab := p.Alphabet
	var sb strings.Builder
	prev := ab.Blank()
	var lastEmitted string
	if length > len(rows) {
		length = len(rows)
	}
	for t := 0; t < length; t++ {
		idx := nn.ArgMax(rows[t])
		if idx == prev {
			continue
		}
		prev = idx
		// Control labels never surface in a transcript.
		if idx == ab.Blank() || idx == ab.SOS() || idx == ab.EOS() || idx >= ab.Size() {
			continue
		}
		lab := ab.Label(idx)
		if idx == ab.DoubleChar() && lastEmitted != "" {
			sb.WriteString(lastEmitted)
			continue
		}
		sb.WriteString(lab)
		lastEmitted = lab
	}
	return sb.String(), nil
}

// batchTensor pads the items into one (batch, channels, time) tensor.
func (p *Pipeline) batchTensor(batch [][][]float64) (*tensor.Tensor, []int, error) {
	if len(batch) == 0 {
		return nil, nil, fmt.Errorf("amnet: empty batch")
	}
	channels := p.Model.Backbone.InputChannels
	maxT := 0
	lengths := make([]int, len(batch))
	for i, item := range batch {
		if len(item) != channels {
			return nil, nil, fmt.Errorf("amnet: item %d has %d channels, want %d", i, len(item), channels)
		}
		lengths[i] = len(item[0])
		for c, row := range item {
			if len(row) != lengths[i] {
				return nil, nil, fmt.Errorf("amnet: item %d channel %d has ragged length", i, c)
			}
		}
		if lengths[i] > maxT {
			maxT = lengths[i]
		}
	}
	x := tensor.New(len(batch), channels, maxT)
	for i, item := range batch {
		for c, row := range item {
			copy(x.Vec(i, c), row)
		}
	}
	return x, lengths, nil
}

// splitLogits unpacks the head output into per-item step rows. CTC
// heads emit (time, batch, vocab); the attention path emits
// (batch, steps, vocab).
func splitLogits(logits *tensor.Tensor, kind model.DecoderKind) [][][]float64 {
	if kind == model.Attention || kind == model.DoubleSupervision {
		out := make([][][]float64, logits.D0)
		for b := range out {
			rows := make([][]float64, logits.D1)
			for t := range rows {
				rows[t] = append([]float64(nil), logits.Vec(b, t)...)
			}
			out[b] = rows
		}
		return out
	}
	out := make([][][]float64, logits.D1)
	for b := range out {
		rows := make([][]float64, logits.D0)
		for t := range rows {
			rows[t] = append([]float64(nil), logits.Vec(t, b)...)
		}
		out[b] = rows
	}
	return out
}
