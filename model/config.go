// Package model assembles acoustic models from declarative
// configuration: a convolutional backbone built from the block
// library, exactly one decoding head, and the migrations that extend
// a trained model with new capabilities in place.
package model

import (
	"fmt"

	"github.com/vbarna/amnet-go/nn"
)

// DecoderKind names the closed set of decoding-head variants.
type DecoderKind string

const (
	Pointwise         DecoderKind = "pointwise"
	RecurrentCTC      DecoderKind = "recurrent-ctc"
	TransformerCTC    DecoderKind = "transformer-ctc"
	Attention         DecoderKind = "attention"
	DoubleSupervision DecoderKind = "double-supervision"
)

func validKind(k DecoderKind) bool {
	switch k {
	case Pointwise, RecurrentCTC, TransformerCTC, Attention, DoubleSupervision:
		return true
	}
	return false
}

// needsVocabTokens reports whether the kind decodes autoregressively
// and therefore needs sos/eos indices.
func (k DecoderKind) needsVocabTokens() bool {
	return k == Attention || k == DoubleSupervision
}

// ConfigError reports an invalid configuration or an unmet migration
// precondition. It is always raised before any model state changes.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("model: invalid configuration: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BackboneConfig drives generation of the ordered backbone block
// sequence. BlockDepth counts residual blocks across all three stages,
// so it must be divisible by 3. Downsample is the product of the
// internal stride-2 insertions; the mandatory stride-2 prolog doubles
// it, so the realized temporal reduction is 2*Downsample.
type BackboneConfig struct {
	InputChannels int  `yaml:"input_channels" msgpack:"input_channels"`
	BaseWidth     int  `yaml:"base_width" msgpack:"base_width"`
	BlockDepth    int  `yaml:"block_depth" msgpack:"block_depth"`
	Kernel        int  `yaml:"kernel" msgpack:"kernel"`
	Downsample    int  `yaml:"downsample" msgpack:"downsample"`
	DilatedStages []int `yaml:"dilated_stages,omitempty" msgpack:"dilated_stages"`
	Groups        int  `yaml:"groups" msgpack:"groups"`
	Separable     bool `yaml:"separable" msgpack:"separable"`
	WidthGrowth   bool `yaml:"width_growth" msgpack:"width_growth"`

	InvertedBottleneck bool    `yaml:"inverted_bottleneck" msgpack:"inverted_bottleneck"`
	SkipConnections    bool    `yaml:"skip_connections" msgpack:"skip_connections"`
	SqueezeExcite      bool    `yaml:"squeeze_excite" msgpack:"squeeze_excite"`
	SERatio            int     `yaml:"se_ratio,omitempty" msgpack:"se_ratio"`
	BatchNorm          bool    `yaml:"batch_norm" msgpack:"batch_norm"`
	Activation         string  `yaml:"activation,omitempty" msgpack:"activation"`
	Dropout            float64 `yaml:"dropout,omitempty" msgpack:"dropout"`
}

// withDefaults fills unset fields without mutating the receiver.
func (c BackboneConfig) withDefaults() BackboneConfig {
	if c.InputChannels == 0 {
		c.InputChannels = 161
	}
	if c.Kernel == 0 {
		c.Kernel = 7
	}
	if c.Downsample == 0 {
		c.Downsample = 1
	}
	if c.Groups == 0 {
		c.Groups = 1
	}
	if c.SERatio == 0 {
		c.SERatio = 8
	}
	if c.Activation == "" {
		c.Activation = "relu"
	}
	return c
}

// Validate rejects configurations the assembler cannot realize.
func (c BackboneConfig) Validate() error {
	if c.BaseWidth <= 0 {
		return configErrorf("backbone.base_width", "must be positive, got %d", c.BaseWidth)
	}
	if c.WidthGrowth && c.BaseWidth%2 != 0 {
		return configErrorf("backbone.base_width", "width growth needs an even width, got %d", c.BaseWidth)
	}
	if c.BlockDepth <= 0 || c.BlockDepth%3 != 0 {
		return configErrorf("backbone.block_depth", "must be a positive multiple of 3, got %d", c.BlockDepth)
	}
	if c.Kernel <= 0 || c.Kernel%2 == 0 {
		return configErrorf("backbone.kernel", "must be odd and positive, got %d", c.Kernel)
	}
	switch c.Downsample {
	case 1, 2, 4:
	default:
		return configErrorf("backbone.downsample", "must be 1, 2 or 4, got %d", c.Downsample)
	}
	for _, s := range c.DilatedStages {
		if s < 0 || s > 2 {
			return configErrorf("backbone.dilated_stages", "stage index %d out of range [0,2]", s)
		}
	}
	if c.Groups < 1 {
		return configErrorf("backbone.groups", "must be at least 1, got %d", c.Groups)
	}
	if c.InvertedBottleneck && c.BaseWidth%bottleneckScale != 0 {
		return configErrorf("backbone.base_width", "inverted bottleneck needs width divisible by %d, got %d", bottleneckScale, c.BaseWidth)
	}
	return nil
}

func (c BackboneConfig) activation() nn.Activation {
	return nn.ActivationByName(c.Activation)
}

func (c BackboneConfig) stageDilated(stage int) bool {
	for _, s := range c.DilatedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// stageDownsampled reports whether an extra stride-2 block is inserted
// at the head of the stage.
func (c BackboneConfig) stageDownsampled(stage int) bool {
	switch c.Downsample {
	case 2:
		return stage == 1
	case 4:
		return stage == 1 || stage == 2
	}
	return false
}

// DecoderConfig selects and sizes the decoding head. Hidden is the
// head's working width, which the backbone's bridge blocks expand to.
// VocabSize, SOSIndex and EOSIndex matter only for autoregressive
// kinds; CTC-only kinds emit VocabSize classes and ignore the indices.
type DecoderConfig struct {
	Kind      DecoderKind `yaml:"kind" msgpack:"kind"`
	Hidden    int         `yaml:"hidden" msgpack:"hidden"`
	NumLayers int         `yaml:"num_layers" msgpack:"num_layers"`
	Dropout   float64     `yaml:"dropout,omitempty" msgpack:"dropout"`
	VocabSize int         `yaml:"vocab_size" msgpack:"vocab_size"`
	SOSIndex  int         `yaml:"sos_index,omitempty" msgpack:"sos_index"`
	EOSIndex  int         `yaml:"eos_index,omitempty" msgpack:"eos_index"`

	EmbedSize int `yaml:"embed_size,omitempty" msgpack:"embed_size"`
	Heads     int `yaml:"heads,omitempty" msgpack:"heads"`
	Girth     int `yaml:"girth,omitempty" msgpack:"girth"`
}

func (c DecoderConfig) withDefaults() DecoderConfig {
	if c.NumLayers == 0 {
		c.NumLayers = 2
	}
	if c.EmbedSize == 0 {
		c.EmbedSize = 256
	}
	if c.Heads == 0 {
		c.Heads = 8
	}
	if c.Girth == 0 {
		c.Girth = 4
	}
	if c.needsVocabTokens() {
		if c.SOSIndex == 0 && c.EOSIndex == 0 && c.VocabSize >= 2 {
			c.SOSIndex = c.VocabSize - 2
			c.EOSIndex = c.VocabSize - 1
		}
	}
	return c
}

func (c DecoderConfig) needsVocabTokens() bool { return c.Kind.needsVocabTokens() }

// Validate rejects head configurations the assembler cannot realize.
func (c DecoderConfig) Validate() error {
	if !validKind(c.Kind) {
		return configErrorf("decoder.kind", "unknown kind %q", string(c.Kind))
	}
	if c.Hidden <= 0 {
		return configErrorf("decoder.hidden", "must be positive, got %d", c.Hidden)
	}
	if c.NumLayers <= 0 {
		return configErrorf("decoder.num_layers", "must be positive, got %d", c.NumLayers)
	}
	if c.VocabSize <= 0 {
		return configErrorf("decoder.vocab_size", "must be positive, got %d", c.VocabSize)
	}
	if c.needsVocabTokens() {
		if c.VocabSize < 3 {
			return configErrorf("decoder.vocab_size", "autoregressive decoding needs at least 3 labels, got %d", c.VocabSize)
		}
		if c.SOSIndex == c.EOSIndex {
			return configErrorf("decoder.sos_index", "sos and eos must be distinct, both are %d", c.SOSIndex)
		}
		if c.SOSIndex < 0 || c.SOSIndex >= c.VocabSize || c.EOSIndex < 0 || c.EOSIndex >= c.VocabSize {
			return configErrorf("decoder.sos_index", "sos %d / eos %d out of range [0,%d)", c.SOSIndex, c.EOSIndex, c.VocabSize)
		}
	}
	if c.Kind == TransformerCTC && c.Hidden%c.Heads != 0 {
		return configErrorf("decoder.heads", "%d heads do not divide hidden %d", c.Heads, c.Hidden)
	}
	return nil
}
