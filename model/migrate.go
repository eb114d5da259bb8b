package model

import (
	"log/slog"

	"github.com/vbarna/amnet-go/label"
	"github.com/vbarna/amnet-go/nn"
)

// AddPhonemeHead attaches an auxiliary pointwise projection emitting
// count phoneme classes from the shared backbone. Backbone parameters
// are never touched. Calling again with the same count is a no-op;
// a different count is rejected.
func (m *Model) AddPhonemeHead(count int) error {
	if count <= 0 {
		return configErrorf("migration.phoneme", "class count must be positive, got %d", count)
	}
	if m.PhonemeHead != nil {
		if m.PhonemeCount == count {
			return nil
		}
		return configErrorf("migration.phoneme", "model already has a %d-class phoneme head, cannot replace with %d", m.PhonemeCount, count)
	}
	m.PhonemeHead = nn.NewLinear(m.Decoder.Hidden, count, true)
	m.PhonemeCount = count
	return nil
}

// DenoiseOptions configures the denoising migration. FreezeBackbone
// nil keeps the default policy of freezing the pretrained acoustic
// representation.
type DenoiseOptions struct {
	FreezeBackbone *bool
}

// AddDenoiser attaches the U-Net-style denoising decoder over the four
// backbone segments. It requires the separable backbone without an
// inverted bottleneck and a pointwise head; anything else is rejected
// with the model left unmodified. Calling again is a no-op.
func (m *Model) AddDenoiser(opts DenoiseOptions) error {
	if m.Denoiser != nil {
		return nil
	}
	if !m.Backbone.Separable || m.Backbone.InvertedBottleneck {
		return configErrorf("migration.denoise", "requires a separable backbone without inverted bottleneck")
	}
	if m.Decoder.Kind != Pointwise {
		return configErrorf("migration.denoise", "requires a pointwise head, model has %q", string(m.Decoder.Kind))
	}

	var chs [4]int
	for i, end := range m.segEnds {
		chs[i] = m.Blocks[end-1].Spec().Out
	}
	m.Denoiser = NewDenoiser(chs, m.Backbone.InputChannels)

	freeze := true
	if opts.FreezeBackbone != nil {
		freeze = *opts.FreezeBackbone
	}
	m.BackboneFrozen = freeze
	if freeze {
		slog.Info("freezing backbone for denoising", "blocks", len(m.Blocks))
	}
	return nil
}

// AddSeqDecoder swaps a recurrent-CTC head for a freshly initialized
// attention sequence decoder, reusing the backbone unchanged. Only a
// model whose current head is recurrent-CTC qualifies.
func (m *Model) AddSeqDecoder(ab *label.Alphabet, numLayers int, dropout float64) error {
	if m.Decoder.Kind != RecurrentCTC {
		return configErrorf("migration.seqdecoder", "requires a recurrent-ctc head, model has %q", string(m.Decoder.Kind))
	}
	dc := m.Decoder
	dc.Kind = Attention
	dc.VocabSize = ab.Size()
	dc.SOSIndex = ab.SOS()
	dc.EOSIndex = ab.EOS()
	if numLayers > 0 {
		dc.NumLayers = numLayers
	}
	dc.Dropout = dropout
	dc = dc.withDefaults()
	if err := dc.Validate(); err != nil {
		return err
	}
	m.Head = NewAttentionHead(dc, dc.Hidden)
	m.Decoder = dc
	return nil
}
