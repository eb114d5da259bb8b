package model

import (
	"math"
	"testing"

	"github.com/vbarna/amnet-go/internal/tensor"
)

func attnModel(t *testing.T) *Model {
	t.Helper()
	m, err := Assemble(tinyBackbone(), tinyDecoder(Attention))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return m
}

func testInput(channels, batch, l int) *tensor.Tensor {
	x := tensor.New(batch, channels, l)
	for i := range x.Data {
		x.Data[i] = math.Sin(float64(i) * 0.3)
	}
	return x
}

func TestTrainBatchRowCount(t *testing.T) {
	m := attnModel(t)
	x := testInput(8, 2, 40)
	targets := [][]int{{5, 1, 2, 3}, {5, 2, 2, 6}}
	out, err := m.TrainBatch(x, nil, targets)
	if err != nil {
		t.Fatalf("TrainBatch: %v", err)
	}
	if out.Logits.D0 != 2 || out.Logits.D1 != 4 || out.Logits.D2 != 7 {
		t.Fatalf("TrainBatch output %v, want tensor(2, 4, 7)", out.Logits)
	}
	for b := 0; b < 2; b++ {
		for s := 0; s < 4; s++ {
			sum := 0.0
			for _, v := range out.Logits.Vec(b, s) {
				sum += math.Exp(v)
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("row (%d,%d) probabilities sum to %v", b, s, sum)
			}
		}
	}
}

func TestTrainBatchRejectsRaggedTargets(t *testing.T) {
	m := attnModel(t)
	x := testInput(8, 2, 20)
	if _, err := m.TrainBatch(x, nil, [][]int{{5, 1}, {5}}); err == nil {
		t.Fatal("TrainBatch accepted ragged targets")
	}
	if _, err := m.TrainBatch(x, nil, [][]int{{5, 9}, {5, 1}}); err == nil {
		t.Fatal("TrainBatch accepted out-of-vocabulary token")
	}
}

func TestInferencePrependsOneHotSOS(t *testing.T) {
	m := attnModel(t)
	x := testInput(8, 2, 40)
	out, err := m.Forward(x, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	frames := m.ProjectLength(40)
	if out.Logits.D1 != frames+1 {
		t.Fatalf("inference produced %d rows for %d frames, want %d", out.Logits.D1, frames, frames+1)
	}
	sos := m.Decoder.SOSIndex
	for b := 0; b < 2; b++ {
		row := out.Logits.Vec(b, 0)
		for i, v := range row {
			want := 0.0
			if i == sos {
				want = 1
			}
			if v != want {
				t.Fatalf("row 0[%d] = %v, want %v (one-hot at sos %d)", i, v, want, sos)
			}
		}
		// Remaining rows are log-probabilities.
		for s := 1; s <= frames; s++ {
			sum := 0.0
			for _, v := range out.Logits.Vec(b, s) {
				sum += math.Exp(v)
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("row (%d,%d) probabilities sum to %v", b, s, sum)
			}
		}
	}
}

// No early stop: a short item still decodes to the shared cap, its
// attention simply masked to its own valid frames.
func TestInferenceRunsFullCapForShortItems(t *testing.T) {
	m := attnModel(t)
	x := testInput(8, 2, 40)
	out, err := m.Forward(x, []int{40, 9})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Logits.D0 != 2 || out.Logits.D1 != m.ProjectLength(40)+1 {
		t.Fatalf("short item changed output shape: %v", out.Logits)
	}
	if out.Lengths[1] != m.ProjectLength(9) {
		t.Fatalf("Lengths[1] = %d, want %d", out.Lengths[1], m.ProjectLength(9))
	}
}

func TestInferenceDeterministic(t *testing.T) {
	m := attnModel(t)
	x := testInput(8, 1, 30)
	a, err := m.Forward(x, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	b, err := m.Forward(x.Clone(), nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range a.Logits.Data {
		if a.Logits.Data[i] != b.Logits.Data[i] {
			t.Fatalf("same input decoded differently at %d", i)
		}
	}
}

func TestPreOutputProjectionHasNoBias(t *testing.T) {
	m := attnModel(t)
	dec := m.Head.(*AttentionHead).Dec
	if dec.PreOut.B != nil {
		t.Fatal("pre-output projection carries a bias")
	}
}

func TestTrainModeRejectedForCTCKinds(t *testing.T) {
	m, err := Assemble(tinyBackbone(), tinyDecoder(Pointwise))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if _, err := m.TrainBatch(testInput(8, 1, 20), nil, [][]int{{1, 2}}); err == nil {
		t.Fatal("TrainBatch accepted a pointwise model")
	}
}
