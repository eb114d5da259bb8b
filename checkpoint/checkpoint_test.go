package checkpoint

import (
	"bytes"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vbarna/amnet-go/model"
)

func tinyModel(t *testing.T, kind model.DecoderKind) *model.Model {
	t.Helper()
	m, err := model.Assemble(model.BackboneConfig{
		InputChannels: 8,
		BaseWidth:     8,
		BlockDepth:    3,
		Downsample:    2,
		Groups:        2,
		Separable:     true,
		BatchNorm:     true,
	}, model.DecoderConfig{Kind: kind, Hidden: 16, NumLayers: 1, VocabSize: 7, EmbedSize: 8})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return m
}

func TestRoundTripRestoresParameters(t *testing.T) {
	m := tinyModel(t, model.Pointwise)
	if err := m.AddPhonemeHead(4); err != nil {
		t.Fatalf("AddPhonemeHead: %v", err)
	}
	if err := m.AddDenoiser(model.DenoiseOptions{}); err != nil {
		t.Fatalf("AddDenoiser: %v", err)
	}

	var buf bytes.Buffer
	if err := Save(&buf, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.PhonemeCount != 4 || got.Denoiser == nil || !got.BackboneFrozen {
		t.Fatalf("features not restored: phoneme %d, denoiser %v, frozen %v",
			got.PhonemeCount, got.Denoiser != nil, got.BackboneFrozen)
	}

	want := m.NamedParams()
	have := got.NamedParams()
	if len(want) != len(have) {
		t.Fatalf("parameter count %d, want %d", len(have), len(want))
	}
	byName := make(map[string][]float64, len(have))
	for _, p := range have {
		byName[p.Name] = p.Data
	}
	for _, p := range want {
		data, ok := byName[p.Name]
		if !ok {
			t.Fatalf("parameter %q missing after load", p.Name)
		}
		if len(data) != len(p.Data) {
			t.Fatalf("parameter %q length %d, want %d", p.Name, len(data), len(p.Data))
		}
		for i := range data {
			if data[i] != p.Data[i] {
				t.Fatalf("parameter %q differs at %d", p.Name, i)
			}
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m := tinyModel(t, model.Pointwise)
	p := New(m)
	params := m.NamedParams()
	params[0].Data[0] += 100
	if p.Params[params[0].Name][0] == params[0].Data[0] {
		t.Fatal("package aliases live model storage")
	}
}

func TestSeqDecoderFlagMismatchFailsLoad(t *testing.T) {
	m := tinyModel(t, model.Attention)
	p := New(m)
	p.HasSeqDecoder = false
	if _, err := Build(p); err == nil {
		t.Fatal("Build accepted a seq-decoder flag mismatch")
	}
}

func TestParameterShapeMismatchFailsLoad(t *testing.T) {
	m := tinyModel(t, model.Pointwise)
	p := New(m)
	for name := range p.Params {
		p.Params[name] = p.Params[name][:len(p.Params[name])-1]
		break
	}
	if _, err := Build(p); err == nil {
		t.Fatal("Build accepted a truncated parameter")
	}
}

func TestMissingParameterFailsLoad(t *testing.T) {
	m := tinyModel(t, model.Pointwise)
	p := New(m)
	for name := range p.Params {
		delete(p.Params, name)
		break
	}
	if _, err := Build(p); err == nil {
		t.Fatal("Build accepted a missing parameter")
	}
}

func TestUnknownVersionFailsRead(t *testing.T) {
	m := tinyModel(t, model.Pointwise)
	p := New(m)
	p.Version = 99
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Read(&buf); err == nil {
		t.Fatal("Read accepted an unknown version")
	}
}

func TestDenoiserPreconditionEnforcedAtBuild(t *testing.T) {
	m := tinyModel(t, model.Attention)
	p := New(m)
	p.HasDenoiser = true
	if _, err := Build(p); err == nil {
		t.Fatal("Build attached a denoiser to an attention model")
	}
}
