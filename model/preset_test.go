package model

import (
	"bytes"
	"reflect"
	"testing"
)

func TestAllPresetsAssemble(t *testing.T) {
	for _, name := range PresetNames() {
		p, err := PresetByName(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		m, err := p.Assemble()
		if err != nil {
			t.Fatalf("%s: Assemble: %v", name, err)
		}
		if string(m.Decoder.Kind) == "" {
			t.Fatalf("%s: no head kind", name)
		}
		if p.Denoise && m.Denoiser == nil {
			t.Fatalf("%s: denoise preset without denoiser", name)
		}
	}
}

func TestPresetByNameUnknown(t *testing.T) {
	if _, err := PresetByName("wav2vec"); err == nil {
		t.Fatal("PresetByName accepted an unknown name")
	}
}

func TestPresetYAMLRoundTrip(t *testing.T) {
	p, err := PresetByName("double-supervision")
	if err != nil {
		t.Fatalf("PresetByName: %v", err)
	}
	var buf bytes.Buffer
	if err := DumpPreset(&buf, p); err != nil {
		t.Fatalf("DumpPreset: %v", err)
	}
	got, err := LoadPreset(&buf)
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	if !reflect.DeepEqual(p, got) {
		t.Fatalf("round trip changed preset:\nhave %+v\nwant %+v", got, p)
	}
}

func TestPresetNamesSortedAndStable(t *testing.T) {
	names := PresetNames()
	if len(names) < 10 {
		t.Fatalf("only %d presets", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %q before %q", names[i-1], names[i])
		}
	}
}
