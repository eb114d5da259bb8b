package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Tensor is a dense rank-3 float64 array in row-major order.
// The meaning of the axes is documented per call site: the
// convolutional path uses (batch, channels, time), the recurrent
// path uses (batch, time, features).
type Tensor struct {
	Data       []float64
	D0, D1, D2 int
}

// New allocates a zero-filled tensor with the given dimensions.
func New(d0, d1, d2 int) *Tensor {
	return &Tensor{
		Data: make([]float64, d0*d1*d2),
		D0:   d0, D1: d1, D2: d2,
	}
}

// At returns the element at (i, j, k).
func (t *Tensor) At(i, j, k int) float64 {
	return t.Data[(i*t.D1+j)*t.D2+k]
}

// Set stores v at (i, j, k).
func (t *Tensor) Set(i, j, k int, v float64) {
	t.Data[(i*t.D1+j)*t.D2+k] = v
}

// Vec returns the contiguous innermost slice at (i, j).
func (t *Tensor) Vec(i, j int) []float64 {
	off := (i*t.D1 + j) * t.D2
	return t.Data[off : off+t.D2]
}

// Block returns the contiguous (D1 × D2) slab for outer index i.
func (t *Tensor) Block(i int) []float64 {
	off := i * t.D1 * t.D2
	return t.Data[off : off+t.D1*t.D2]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := New(t.D0, t.D1, t.D2)
	copy(c.Data, t.Data)
	return c
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%d, %d, %d)", t.D0, t.D1, t.D2)
}

// Gemm performs C = alpha*op(A)*op(B) + beta*C on row-major matrices,
// where op(X) = X when trans is false and X^T otherwise. m, n, k are
// the dimensions of the product: op(A) is (m × k), op(B) is (k × n).
func Gemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	ta, tb := blas.NoTrans, blas.NoTrans
	ga := blas64.General{Rows: m, Cols: k, Stride: lda, Data: a}
	if transA {
		ta = blas.Trans
		ga.Rows, ga.Cols = k, m
	}
	gb := blas64.General{Rows: k, Cols: n, Stride: ldb, Data: b}
	if transB {
		tb = blas.Trans
		gb.Rows, gb.Cols = n, k
	}
	gc := blas64.General{Rows: m, Cols: n, Stride: ldc, Data: c}
	blas64.Gemm(ta, tb, alpha, ga, gb, beta, gc)
}
