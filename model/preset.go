package model

import (
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-yaml"
)

// Preset is one named architecture variant: a backbone and decoder
// configuration pair, optionally with the denoising head attached at
// assembly time. The historical variant zoo collapses into this
// closed table; each name is one value, not one code path.
type Preset struct {
	Name     string         `yaml:"name"`
	Backbone BackboneConfig `yaml:"backbone"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Denoise  bool           `yaml:"denoise,omitempty"`
}

// Assemble realizes the preset, applying the denoising migration when
// the preset asks for it.
func (p Preset) Assemble() (*Model, error) {
	m, err := Assemble(p.Backbone, p.Decoder)
	if err != nil {
		return nil, err
	}
	if p.Denoise {
		if err := m.AddDenoiser(DenoiseOptions{}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func separableBackbone(groups int) BackboneConfig {
	return BackboneConfig{
		BaseWidth:       512,
		BlockDepth:      12,
		Kernel:          7,
		Downsample:      4,
		Groups:          groups,
		Separable:       true,
		SkipConnections: true,
		SqueezeExcite:   true,
		BatchNorm:       true,
		Dropout:         0.1,
	}
}

func pointwiseDecoder() DecoderConfig {
	return DecoderConfig{Kind: Pointwise, Hidden: 1024, VocabSize: 33}
}

var presets = map[string]Preset{
	"separable-down8-g8": {
		Backbone: separableBackbone(8),
		Decoder:  pointwiseDecoder(),
	},
	"separable-down8-g12": {
		Backbone: separableBackbone(12),
		Decoder:  pointwiseDecoder(),
	},
	"separable-dilated-g8": {
		Backbone: func() BackboneConfig {
			b := separableBackbone(8)
			b.DilatedStages = []int{1, 2}
			return b
		}(),
		Decoder: pointwiseDecoder(),
	},
	"separable-selu": {
		Backbone: func() BackboneConfig {
			b := separableBackbone(8)
			b.Activation = "selu"
			b.BatchNorm = false
			return b
		}(),
		Decoder: pointwiseDecoder(),
	},
	"separable-no-skip": {
		Backbone: func() BackboneConfig {
			b := separableBackbone(8)
			b.SkipConnections = false
			return b
		}(),
		Decoder: pointwiseDecoder(),
	},
	"inverted-bottleneck": {
		Backbone: func() BackboneConfig {
			b := separableBackbone(8)
			b.InvertedBottleneck = true
			return b
		}(),
		Decoder: pointwiseDecoder(),
	},
	"plain-gru": {
		Backbone: BackboneConfig{
			BaseWidth:  512,
			BlockDepth: 9,
			Kernel:     7,
			Downsample: 2,
			BatchNorm:  true,
		},
		Decoder: DecoderConfig{Kind: RecurrentCTC, Hidden: 512, NumLayers: 3, VocabSize: 33},
	},
	"attention": {
		Backbone: separableBackbone(8),
		Decoder:  DecoderConfig{Kind: Attention, Hidden: 512, VocabSize: 35, Dropout: 0.1},
	},
	"double-supervision": {
		Backbone: separableBackbone(8),
		Decoder:  DecoderConfig{Kind: DoubleSupervision, Hidden: 512, VocabSize: 35, Dropout: 0.1},
	},
	"transformer-g8": {
		Backbone: separableBackbone(8),
		Decoder:  DecoderConfig{Kind: TransformerCTC, Hidden: 512, NumLayers: 4, VocabSize: 33},
	},
	"transformer-g12": {
		Backbone: separableBackbone(12),
		Decoder:  DecoderConfig{Kind: TransformerCTC, Hidden: 512, NumLayers: 4, VocabSize: 33},
	},
	"transformer-g16": {
		Backbone: separableBackbone(16),
		Decoder:  DecoderConfig{Kind: TransformerCTC, Hidden: 512, NumLayers: 4, VocabSize: 33},
	},
	"transformer-variable-width": {
		Backbone: func() BackboneConfig {
			b := separableBackbone(8)
			b.WidthGrowth = true
			return b
		}(),
		Decoder: DecoderConfig{Kind: TransformerCTC, Hidden: 512, NumLayers: 4, VocabSize: 33},
	},
	"denoise": {
		Backbone: separableBackbone(8),
		Decoder:  pointwiseDecoder(),
		Denoise:  true,
	},
}

// PresetNames lists every known preset in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PresetByName looks up a named preset.
func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, configErrorf("preset", "unknown preset %q", name)
	}
	p.Name = name
	return p, nil
}

// LoadPreset reads a YAML preset definition.
func LoadPreset(r io.Reader) (Preset, error) {
	var p Preset
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return Preset{}, fmt.Errorf("load preset: %w", err)
	}
	return p, nil
}

// DumpPreset writes the preset as YAML.
func DumpPreset(w io.Writer, p Preset) error {
	if err := yaml.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("dump preset: %w", err)
	}
	return nil
}
