package nn

import (
	"math"
	"strconv"

	"github.com/vbarna/amnet-go/internal/tensor"
)

// GRUCell is a single gated recurrent unit layer. Gate weights are
// packed (reset, update, candidate) along the first axis: Wi is
// (3*Hidden, In) and Wh is (3*Hidden, Hidden), both row-major.
type GRUCell struct {
	In, Hidden int

	Wi, Wh []float64
	Bi, Bh []float64
}

func NewGRUCell(in, hidden int) *GRUCell {
	c := &GRUCell{
		In:     in,
		Hidden: hidden,
		Wi:     make([]float64, 3*hidden*in),
		Wh:     make([]float64, 3*hidden*hidden),
		Bi:     make([]float64, 3*hidden),
		Bh:     make([]float64, 3*hidden),
	}
	XavierInit(c.Wi, in, hidden)
	XavierInit(c.Wh, hidden, hidden)
	return c
}

// Step advances the cell one time step for a batch of rows. x is
// (rows, In), h is (rows, Hidden) and is updated in place.
func (c *GRUCell) Step(x []float64, h []float64, rows int) {
	hid := c.Hidden
	gi := make([]float64, rows*3*hid)
	gh := make([]float64, rows*3*hid)
	for r := 0; r < rows; r++ {
		copy(gi[r*3*hid:(r+1)*3*hid], c.Bi)
		copy(gh[r*3*hid:(r+1)*3*hid], c.Bh)
	}
	tensor.Gemm(false, true, rows, 3*hid, c.In, 1, x, c.In, c.Wi, c.In, 1, gi, 3*hid)
	tensor.Gemm(false, true, rows, 3*hid, hid, 1, h, hid, c.Wh, hid, 1, gh, 3*hid)

	for r := 0; r < rows; r++ {
		i := gi[r*3*hid : (r+1)*3*hid]
		g := gh[r*3*hid : (r+1)*3*hid]
		hr := h[r*hid : (r+1)*hid]
		for j := 0; j < hid; j++ {
			reset := Sigmoid(i[j] + g[j])
			update := Sigmoid(i[hid+j] + g[hid+j])
			cand := math.Tanh(i[2*hid+j] + reset*g[2*hid+j])
			hr[j] = (1-update)*cand + update*hr[j]
		}
	}
}

// Params exposes the cell's storage under the given name.
func (c *GRUCell) Params(name string) []Param {
	return []Param{
		{Name: name + ".weight_ih", Data: c.Wi},
		{Name: name + ".weight_hh", Data: c.Wh},
		{Name: name + ".bias_ih", Data: c.Bi},
		{Name: name + ".bias_hh", Data: c.Bh},
	}
}

// StackedGRU runs several GRU layers in sequence, each feeding the next.
type StackedGRU struct {
	Layers []*GRUCell
}

// NewStackedGRU builds layers cells: the first maps in to hidden, the
// rest map hidden to hidden.
func NewStackedGRU(in, hidden, layers int) *StackedGRU {
	s := &StackedGRU{Layers: make([]*GRUCell, layers)}
	for i := range s.Layers {
		d := hidden
		if i == 0 {
			d = in
		}
		s.Layers[i] = NewGRUCell(d, hidden)
	}
	return s
}

// Hidden is the per-layer state width.
func (s *StackedGRU) Hidden() int { return s.Layers[0].Hidden }

// NewState allocates zeroed hidden state, one (rows, Hidden) slab per layer.
func (s *StackedGRU) NewState(rows int) [][]float64 {
	h := make([][]float64, len(s.Layers))
	for i := range h {
		h[i] = make([]float64, rows*s.Hidden())
	}
	return h
}

// Step advances all layers one time step. x is (rows, in); the return
// value aliases the top layer's hidden state.
func (s *StackedGRU) Step(x []float64, h [][]float64, rows int) []float64 {
	cur := x
	for i, cell := range s.Layers {
		cell.Step(cur, h[i], rows)
		cur = h[i]
	}
	return cur
}

// Params exposes all layers' storage under the given name.
func (s *StackedGRU) Params(name string) []Param {
	var ps []Param
	for i, cell := range s.Layers {
		ps = append(ps, cell.Params(name+".l"+strconv.Itoa(i))...)
	}
	return ps
}

// BiGRU is a bidirectional GRU layer whose two directions are summed,
// with an optional batch norm over the input features.
type BiGRU struct {
	Fwd, Bwd *GRUCell
	Norm     *BatchNorm1d
}

// NewBiGRU builds a bidirectional cell pair over in features. When norm
// is true the input is batch-normalized per feature channel first.
func NewBiGRU(in, hidden int, norm bool) *BiGRU {
	b := &BiGRU{Fwd: NewGRUCell(in, hidden), Bwd: NewGRUCell(in, hidden)}
	if norm {
		b.Norm = NewBatchNorm1d(in)
	}
	return b
}

// Forward consumes x of shape (batch, in, time) and returns
// (batch, hidden, time) with forward and backward passes summed.
func (b *BiGRU) Forward(x *tensor.Tensor) *tensor.Tensor {
	if b.Norm != nil {
		x = b.Norm.Forward(x)
	}
	batch, in, steps := x.D0, x.D1, x.D2
	hid := b.Fwd.Hidden
	y := tensor.New(batch, hid, steps)

	xt := make([]float64, batch*in)
	gather := func(t int) {
		for bi := 0; bi < batch; bi++ {
			for c := 0; c < in; c++ {
				xt[bi*in+c] = x.At(bi, c, t)
			}
		}
	}
	scatter := func(t int, h []float64) {
		for bi := 0; bi < batch; bi++ {
			for c := 0; c < hid; c++ {
				y.Data[(bi*hid+c)*steps+t] += h[bi*hid+c]
			}
		}
	}

	hf := make([]float64, batch*hid)
	for t := 0; t < steps; t++ {
		gather(t)
		b.Fwd.Step(xt, hf, batch)
		scatter(t, hf)
	}
	hb := make([]float64, batch*hid)
	for t := steps - 1; t >= 0; t-- {
		gather(t)
		b.Bwd.Step(xt, hb, batch)
		scatter(t, hb)
	}
	return y
}

// Params exposes both directions under the given name.
func (b *BiGRU) Params(name string) []Param {
	ps := b.Fwd.Params(name + ".fwd")
	ps = append(ps, b.Bwd.Params(name+".bwd")...)
	if b.Norm != nil {
		ps = append(ps, b.Norm.Params(name+".norm")...)
	}
	return ps
}
