package model

import (
	"errors"
	"testing"

	"github.com/vbarna/amnet-go/label"
)

func snapshotBackbone(m *Model) map[string][]float64 {
	snap := make(map[string][]float64)
	for _, p := range m.backboneParams() {
		snap[p.Name] = append([]float64(nil), p.Data...)
	}
	return snap
}

func backboneEquals(t *testing.T, m *Model, snap map[string][]float64) {
	t.Helper()
	params := m.backboneParams()
	if len(params) != len(snap) {
		t.Fatalf("backbone parameter count changed: %d vs %d", len(params), len(snap))
	}
	for _, p := range params {
		old, ok := snap[p.Name]
		if !ok {
			t.Fatalf("new backbone parameter %q appeared", p.Name)
		}
		for i := range p.Data {
			if p.Data[i] != old[i] {
				t.Fatalf("backbone parameter %q changed at %d", p.Name, i)
			}
		}
	}
}

func TestAddPhonemeHeadIdempotent(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	snap := snapshotBackbone(m)

	if err := m.AddPhonemeHead(5); err != nil {
		t.Fatalf("AddPhonemeHead: %v", err)
	}
	if err := m.AddPhonemeHead(5); err != nil {
		t.Fatalf("second AddPhonemeHead: %v", err)
	}
	backboneEquals(t, m, snap)
	if m.PhonemeCount != 5 || m.PhonemeHead == nil {
		t.Fatalf("phoneme head not attached: count %d", m.PhonemeCount)
	}

	if err := m.AddPhonemeHead(9); err == nil {
		t.Fatal("AddPhonemeHead accepted a conflicting class count")
	}

	out, err := m.Forward(testInput(8, 1, 20), nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.PhonemeLogits == nil || out.PhonemeLogits.D2 != 5 {
		t.Fatalf("phoneme output %v, want 5 classes", out.PhonemeLogits)
	}
}

// The phoneme head shares the backbone: its logits must come from the
// raw backbone output no matter which primary head is attached, even
// one that transforms the encoder states before its own projection.
func TestPhonemeHeadTapsBackboneOutput(t *testing.T) {
	for _, kind := range []DecoderKind{Pointwise, TransformerCTC, RecurrentCTC} {
		dc := tinyDecoder(kind)
		m, err := Assemble(tinyBackbone(), dc)
		if err != nil {
			t.Fatalf("%s: Assemble: %v", kind, err)
		}
		if err := m.AddPhonemeHead(5); err != nil {
			t.Fatalf("%s: AddPhonemeHead: %v", kind, err)
		}
		x := testInput(8, 1, 30)
		enc, _, err := m.forwardBackbone(x.Clone())
		if err != nil {
			t.Fatalf("%s: forwardBackbone: %v", kind, err)
		}
		want := projectFrames(enc, m.PhonemeHead)

		out, err := m.Forward(x, nil)
		if err != nil {
			t.Fatalf("%s: Forward: %v", kind, err)
		}
		for i := range want.Data {
			if out.PhonemeLogits.Data[i] != want.Data[i] {
				t.Fatalf("%s: phoneme logits diverge from backbone projection at %d: got %v, want %v",
					kind, i, out.PhonemeLogits.Data[i], want.Data[i])
			}
		}
	}
}

func TestAddDenoiserPrecondition(t *testing.T) {
	// Non-separable backbone: rejected, model unmodified.
	bc := tinyBackbone()
	bc.Separable = false
	m, err := Assemble(bc, tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	snap := snapshotBackbone(m)
	err = m.AddDenoiser(DenoiseOptions{})
	if err == nil {
		t.Fatal("AddDenoiser accepted a non-separable backbone")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T, want *ConfigError", err)
	}
	if m.Denoiser != nil || m.BackboneFrozen {
		t.Fatal("failed migration modified the model")
	}
	backboneEquals(t, m, snap)

	// Wrong head kind.
	m2, err := Assemble(tinyBackbone(), tinyDecoder(Attention))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := m2.AddDenoiser(DenoiseOptions{}); err == nil {
		t.Fatal("AddDenoiser accepted an attention head")
	}
}

func TestAddDenoiserQualifyingModel(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := m.AddDenoiser(DenoiseOptions{}); err != nil {
		t.Fatalf("AddDenoiser: %v", err)
	}
	if !m.BackboneFrozen {
		t.Fatal("default policy must freeze the backbone")
	}
	if err := m.AddDenoiser(DenoiseOptions{}); err != nil {
		t.Fatalf("repeated AddDenoiser: %v", err)
	}

	x := testInput(8, 2, 32)
	out, err := m.Forward(x, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.DenoiseMask == nil {
		t.Fatal("no denoise mask emitted")
	}
	if out.DenoiseMask.D0 != 2 || out.DenoiseMask.D1 != 8 || out.DenoiseMask.D2 != 32 {
		t.Fatalf("mask shape %v, want tensor(2, 8, 32)", out.DenoiseMask)
	}
	for i, v := range out.DenoiseMask.Data {
		if v <= 0 || v >= 1 {
			t.Fatalf("mask[%d] = %v outside (0,1)", i, v)
		}
	}
}

func TestAddDenoiserUnfrozenPolicy(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	freeze := false
	if err := m.AddDenoiser(DenoiseOptions{FreezeBackbone: &freeze}); err != nil {
		t.Fatalf("AddDenoiser: %v", err)
	}
	if m.BackboneFrozen {
		t.Fatal("explicit unfrozen policy ignored")
	}
}

func TestAddSeqDecoderSwapsHead(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(RecurrentCTC))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	snap := snapshotBackbone(m)
	ab := label.FromPieces([]string{"a", "b", "c"})
	if err := m.AddSeqDecoder(ab, 1, 0); err != nil {
		t.Fatalf("AddSeqDecoder: %v", err)
	}
	if m.Decoder.Kind != Attention {
		t.Fatalf("decoder kind %q after migration", string(m.Decoder.Kind))
	}
	if m.Decoder.VocabSize != ab.Size() || m.Decoder.SOSIndex != ab.SOS() || m.Decoder.EOSIndex != ab.EOS() {
		t.Fatalf("decoder config %+v does not follow alphabet", m.Decoder)
	}
	backboneEquals(t, m, snap)

	// Second call: the head is no longer recurrent-ctc, so the
	// precondition fails.
	if err := m.AddSeqDecoder(ab, 1, 0); err == nil {
		t.Fatal("AddSeqDecoder accepted a non-recurrent head")
	}

	out, err := m.Forward(testInput(8, 1, 24), nil)
	if err != nil {
		t.Fatalf("Forward after migration: %v", err)
	}
	if out.Logits.D1 != m.ProjectLength(24)+1 {
		t.Fatalf("migrated head produced %d rows", out.Logits.D1)
	}
}

func TestAddSeqDecoderRejectsOtherHeads(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	ab := label.FromPieces([]string{"a"})
	if err := m.AddSeqDecoder(ab, 1, 0); err == nil {
		t.Fatal("AddSeqDecoder accepted a pointwise head")
	}
}
