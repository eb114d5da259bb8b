package model

import (
	"testing"

	"github.com/vbarna/amnet-go/internal/tensor"
)

// The projected length must match the realized backbone frame for
// frame, for every configuration family and a spread of input lengths.
func TestProjectionMatchesRealizedBackbone(t *testing.T) {
	configs := map[string]BackboneConfig{
		"separable":     tinyBackbone(),
		"plain":         func() BackboneConfig { b := tinyBackbone(); b.Separable = false; return b }(),
		"down4-dilated": func() BackboneConfig { b := tinyBackbone(); b.Downsample = 4; b.DilatedStages = []int{1}; b.BlockDepth = 9; return b }(),
		"no-downsample": func() BackboneConfig { b := tinyBackbone(); b.Downsample = 1; return b }(),
		"width-growth":  func() BackboneConfig { b := tinyBackbone(); b.WidthGrowth = true; return b }(),
		"bottleneck":    func() BackboneConfig { b := tinyBackbone(); b.InvertedBottleneck = true; return b }(),
	}
	for name, bc := range configs {
		m, err := Assemble(bc, tinyDecoder(Pointwise))
		if err != nil {
			t.Fatalf("%s: Assemble: %v", name, err)
		}
		for _, l := range []int{1, 7, 100, 263} {
			x := tensor.New(1, bc.InputChannels, l)
			for i := range x.Data {
				x.Data[i] = float64(i%11) * 0.1
			}
			enc, _, err := m.forwardBackbone(x)
			if err != nil {
				t.Fatalf("%s L=%d: forward: %v", name, l, err)
			}
			if got := m.ProjectLength(l); got != enc.D2 {
				t.Fatalf("%s: ProjectLength(%d) = %d, realized backbone gives %d", name, l, got, enc.D2)
			}
		}
	}
}

func TestProjectLengthsVector(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	got := ProjectLengths(m.Blocks, []int{100, 40, 1})
	for i, l := range []int{100, 40, 1} {
		if got[i] != m.ProjectLength(l) {
			t.Fatalf("ProjectLengths[%d] = %d, want %d", i, got[i], m.ProjectLength(l))
		}
	}
}

// Lengths are projected identically no matter which head is attached.
func TestProjectionHeadIndependentForSharedBackbone(t *testing.T) {
	bc := tinyBackbone()
	ctc, err := Assemble(bc, tinyDecoder(RecurrentCTC))
	if err != nil {
		t.Fatalf("Assemble recurrent: %v", err)
	}
	attn, err := Assemble(bc, tinyDecoder(Attention))
	if err != nil {
		t.Fatalf("Assemble attention: %v", err)
	}
	for _, l := range []int{13, 200} {
		if ctc.ProjectLength(l) != attn.ProjectLength(l) {
			t.Fatalf("heads disagree on projection of %d: %d vs %d",
				l, ctc.ProjectLength(l), attn.ProjectLength(l))
		}
	}
}
