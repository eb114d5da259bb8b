package amnet

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/vbarna/amnet-go/label"
	"github.com/vbarna/amnet-go/model"
)

func tinyPipeline(t *testing.T) *Pipeline {
	t.Helper()
	ab := label.FromPieces([]string{"a", "b"})
	p, err := NewFromConfigs(model.BackboneConfig{
		InputChannels: 8,
		BaseWidth:     8,
		BlockDepth:    3,
		Downsample:    2,
		Separable:     true,
		BatchNorm:     true,
	}, model.DecoderConfig{
		Kind:      model.Pointwise,
		Hidden:    16,
		VocabSize: ab.CTCSize(),
	}, WithAlphabet(ab))
	if err != nil {
		t.Fatalf("NewFromConfigs: %v", err)
	}
	return p
}

func features(channels, frames int) [][]float64 {
	f := make([][]float64, channels)
	for c := range f {
		f[c] = make([]float64, frames)
		for i := range f[c] {
			f[c][i] = math.Cos(float64(c*frames+i) * 0.7)
		}
	}
	return f
}

func TestForwardPadsRaggedBatch(t *testing.T) {
	p := tinyPipeline(t)
	res, err := p.Forward([][][]float64{features(8, 40), features(8, 17)})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(res.Logits) != 2 {
		t.Fatalf("%d items in result, want 2", len(res.Logits))
	}
	if res.Lengths[0] != p.Model.ProjectLength(40) || res.Lengths[1] != p.Model.ProjectLength(17) {
		t.Fatalf("lengths %v not projected per item", res.Lengths)
	}
	if len(res.Logits[0]) != p.Model.ProjectLength(40) {
		t.Fatalf("item 0 has %d rows, want %d", len(res.Logits[0]), p.Model.ProjectLength(40))
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	p := tinyPipeline(t)
	if _, err := p.Forward(nil); err == nil {
		t.Fatal("Forward accepted an empty batch")
	}
	if _, err := p.Forward([][][]float64{features(5, 10)}); err == nil {
		t.Fatal("Forward accepted wrong channel count")
	}
	bad := features(8, 10)
	bad[3] = bad[3][:7]
	if _, err := p.Forward([][][]float64{bad}); err == nil {
		t.Fatal("Forward accepted ragged channels")
	}
}

func TestTranscribeProducesLabels(t *testing.T) {
	p := tinyPipeline(t)
	text, err := p.Transcribe(features(8, 60))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	// Content depends on random initialization; the decode must only
	// emit known labels and never the blank.
	for _, r := range text {
		s := string(r)
		found := false
		for _, l := range p.Alphabet.Labels() {
			if s == l && l != label.BlankLabel {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("transcript %q contains unknown symbol %q", text, s)
		}
	}
}

func TestTranscribeNeedsAlphabet(t *testing.T) {
	p := tinyPipeline(t)
	p.Alphabet = nil
	if _, err := p.Transcribe(features(8, 20)); err == nil {
		t.Fatal("Transcribe ran without an alphabet")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := tinyPipeline(t)
	path := filepath.Join(t.TempDir(), "model.ckpt")
	if err := p.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	q, err := Load(path, WithAlphabet(p.Alphabet))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := p.Transcribe(features(8, 30))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	b, err := q.Transcribe(features(8, 30))
	if err != nil {
		t.Fatalf("Transcribe after load: %v", err)
	}
	if a != b {
		t.Fatalf("loaded model transcribes %q, original %q", b, a)
	}
}

func TestNewUnknownPreset(t *testing.T) {
	if _, err := New("conformer-xxl"); err == nil {
		t.Fatal("New accepted an unknown preset")
	}
}
