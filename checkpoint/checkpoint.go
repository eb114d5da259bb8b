// Package checkpoint persists assembled models as versioned msgpack
// packages: both configuration records, explicit feature flags for
// every migration, and the named parameter blob. Loading reconstructs
// the architecture from configs and flags first and only then fills
// parameters, so a flag or shape mismatch fails the load instead of
// silently producing a structurally different model.
package checkpoint

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vbarna/amnet-go/model"
)

// Version is the current package format version. Unknown versions are
// rejected at read time.
const Version = 1

// Package is the persisted form of an assembled model.
type Package struct {
	Version   int       `msgpack:"version"`
	ID        string    `msgpack:"id"`
	CreatedAt time.Time `msgpack:"created_at"`

	Backbone model.BackboneConfig `msgpack:"backbone"`
	Decoder  model.DecoderConfig  `msgpack:"decoder"`

	HasPhonemeHead bool `msgpack:"has_phoneme_head"`
	PhonemeCount   int  `msgpack:"phoneme_count"`
	HasDenoiser    bool `msgpack:"has_denoiser"`
	HasSeqDecoder  bool `msgpack:"has_seq_decoder"`
	BackboneFrozen bool `msgpack:"backbone_frozen"`

	Params map[string][]float64 `msgpack:"params"`
}

// New snapshots m into a package. Parameter data is deep-copied, so
// later model mutation does not leak into the snapshot.
func New(m *model.Model) *Package {
	p := &Package{
		Version:        Version,
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Backbone:       m.Backbone,
		Decoder:        m.Decoder,
		HasPhonemeHead: m.PhonemeHead != nil,
		PhonemeCount:   m.PhonemeCount,
		HasDenoiser:    m.Denoiser != nil,
		HasSeqDecoder:  m.Decoder.Kind == model.Attention || m.Decoder.Kind == model.DoubleSupervision,
		BackboneFrozen: m.BackboneFrozen,
		Params:         make(map[string][]float64),
	}
	for _, pr := range m.NamedParams() {
		data := make([]float64, len(pr.Data))
		copy(data, pr.Data)
		p.Params[pr.Name] = data
	}
	return p
}

// Save writes m as a package to w.
func Save(w io.Writer, m *model.Model) error {
	if err := msgpack.NewEncoder(w).Encode(New(m)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Read decodes a package from r without building a model.
func Read(r io.Reader) (*Package, error) {
	var p Package
	if err := msgpack.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("read checkpoint: unsupported version %d, want %d", p.Version, Version)
	}
	return &p, nil
}

// Build reconstructs the model a package describes: assemble from the
// configs, replay the flagged migrations, then fill every parameter
// slice from the blob. Any inconsistency between flags, configs and
// parameter shapes fails the build.
func Build(p *Package) (*model.Model, error) {
	m, err := model.Assemble(p.Backbone, p.Decoder)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint model: %w", err)
	}

	seqKind := m.Decoder.Kind == model.Attention || m.Decoder.Kind == model.DoubleSupervision
	if p.HasSeqDecoder != seqKind {
		return nil, fmt.Errorf("build checkpoint model: seq-decoder flag %v disagrees with decoder kind %q", p.HasSeqDecoder, string(m.Decoder.Kind))
	}
	if p.HasPhonemeHead {
		if err := m.AddPhonemeHead(p.PhonemeCount); err != nil {
			return nil, fmt.Errorf("build checkpoint model: %w", err)
		}
	}
	if p.HasDenoiser {
		freeze := p.BackboneFrozen
		if err := m.AddDenoiser(model.DenoiseOptions{FreezeBackbone: &freeze}); err != nil {
			return nil, fmt.Errorf("build checkpoint model: %w", err)
		}
	}
	m.BackboneFrozen = p.BackboneFrozen

	params := m.NamedParams()
	if len(params) != len(p.Params) {
		return nil, fmt.Errorf("build checkpoint model: blob has %d parameters, model has %d", len(p.Params), len(params))
	}
	for _, pr := range params {
		blob, ok := p.Params[pr.Name]
		if !ok {
			return nil, fmt.Errorf("build checkpoint model: missing parameter %q", pr.Name)
		}
		if len(blob) != len(pr.Data) {
			return nil, fmt.Errorf("build checkpoint model: parameter %q has %d values, want %d", pr.Name, len(blob), len(pr.Data))
		}
		copy(pr.Data, blob)
	}
	return m, nil
}

// Load reads a package from r and builds its model.
func Load(r io.Reader) (*model.Model, error) {
	p, err := Read(r)
	if err != nil {
		return nil, err
	}
	return Build(p)
}
