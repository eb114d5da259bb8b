// Package label defines the output alphabet contract shared by all
// decoding heads: the ordered label list and the reserved indices for
// the CTC blank, the repeated-symbol placeholder, and the sequence
// start/end markers.
//
// Index conventions:
//
//	0            CTC blank
//	1 .. n-5     sub-word pieces
//	n-4          "2" (repeated-symbol placeholder)
//	n-3          " " (word separator)
//	n-2          sos
//	n-1          eos
//
// CTC-style heads use the alphabet without sos/eos; the attention
// head uses the full alphabet. Hence CTCSize() == Size()-1.
package label

import "fmt"

// SOSLabel and EOSLabel are the display strings for the sequence
// start and end markers.
const (
	BlankLabel  = "_"
	DoubleLabel = "2"
	SpaceLabel  = " "
	SOSLabel    = "<sos>"
	EOSLabel    = "<eos>"
)

// Alphabet is an immutable ordered label set.
type Alphabet struct {
	labels []string
}

// FromPieces builds an alphabet from sub-word pieces, adding the
// reserved symbols in the canonical order: blank first, then the
// pieces, then the repeated-symbol placeholder, the word separator,
// and finally sos and eos.
func FromPieces(pieces []string) *Alphabet {
	labels := make([]string, 0, len(pieces)+5)
	labels = append(labels, BlankLabel)
	labels = append(labels, pieces...)
	labels = append(labels, DoubleLabel, SpaceLabel, SOSLabel, EOSLabel)
	return &Alphabet{labels: labels}
}

// New wraps an already ordered label list. The list must contain at
// least blank, sos and eos (3 labels).
func New(labels []string) (*Alphabet, error) {
	if len(labels) < 3 {
		return nil, fmt.Errorf("label: alphabet needs at least 3 labels, got %d", len(labels))
	}
	cp := make([]string, len(labels))
	copy(cp, labels)
	return &Alphabet{labels: cp}, nil
}

// Size returns the full (attention) vocabulary size.
func (a *Alphabet) Size() int { return len(a.labels) }

// CTCSize returns the CTC vocabulary size: the full size minus one,
// since CTC heads have no use for a separate sos.
func (a *Alphabet) CTCSize() int { return len(a.labels) - 1 }

// Blank returns the CTC blank index. Index 0 is reserved for it.
func (a *Alphabet) Blank() int { return 0 }

// SOS returns the start-of-sequence index (second highest).
func (a *Alphabet) SOS() int { return len(a.labels) - 2 }

// EOS returns the end-of-sequence index (highest).
func (a *Alphabet) EOS() int { return len(a.labels) - 1 }

// DoubleChar returns the repeated-symbol placeholder index, or -1 if
// the alphabet was built without one.
func (a *Alphabet) DoubleChar() int {
	for i, l := range a.labels {
		if l == DoubleLabel {
			return i
		}
	}
	return -1
}

// Label returns the display string for index i.
func (a *Alphabet) Label(i int) string { return a.labels[i] }

// Labels returns a copy of the ordered label list.
func (a *Alphabet) Labels() []string {
	cp := make([]string, len(a.labels))
	copy(cp, a.labels)
	return cp
}
