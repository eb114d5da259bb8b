package nn

import (
	"fmt"

	"github.com/vbarna/amnet-go/internal/tensor"
)

// Linear is a fully connected layer. W is (Out, In) row-major; the
// forward pass computes y = x*Wᵀ + b for row-major x of shape (rows, In).
type Linear struct {
	In, Out int
	W       []float64
	B       []float64
}

// NewLinear allocates a Xavier-initialized linear layer.
func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{In: in, Out: out, W: make([]float64, out*in)}
	XavierInit(l.W, in, out)
	if bias {
		l.B = make([]float64, out)
	}
	return l
}

// Forward multiplies rows many input vectors. x must hold rows*In values.
func (l *Linear) Forward(x []float64, rows int) []float64 {
	if len(x) != rows*l.In {
		panic(fmt.Sprintf("nn: linear expects %d values, got %d", rows*l.In, len(x)))
	}
	y := make([]float64, rows*l.Out)
	if l.B != nil {
		for r := 0; r < rows; r++ {
			copy(y[r*l.Out:(r+1)*l.Out], l.B)
		}
		tensor.Gemm(false, true, rows, l.Out, l.In, 1, x, l.In, l.W, l.In, 1, y, l.Out)
	} else {
		tensor.Gemm(false, true, rows, l.Out, l.In, 1, x, l.In, l.W, l.In, 0, y, l.Out)
	}
	return y
}

// ForwardVec is Forward for a single row.
func (l *Linear) ForwardVec(x []float64) []float64 {
	return l.Forward(x, 1)
}

// Params exposes the trainable storage under the given name.
func (l *Linear) Params(name string) []Param {
	ps := []Param{{Name: name + ".weight", Data: l.W}}
	if l.B != nil {
		ps = append(ps, Param{Name: name + ".bias", Data: l.B})
	}
	return ps
}

// Embedding maps token ids to dense rows. W is (Vocab, Dim) row-major.
type Embedding struct {
	Vocab, Dim int
	W          []float64
}

func NewEmbedding(vocab, dim int) *Embedding {
	e := &Embedding{Vocab: vocab, Dim: dim, W: make([]float64, vocab*dim)}
	XavierInit(e.W, vocab, dim)
	return e
}

// Lookup returns the row for id. The slice aliases the embedding table.
func (e *Embedding) Lookup(id int) []float64 {
	if id < 0 || id >= e.Vocab {
		panic(fmt.Sprintf("nn: embedding id %d out of range [0,%d)", id, e.Vocab))
	}
	return e.W[id*e.Dim : (id+1)*e.Dim]
}

// Params exposes the table under the given name.
func (e *Embedding) Params(name string) []Param {
	return []Param{{Name: name + ".weight", Data: e.W}}
}
