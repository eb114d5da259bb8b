package nn

import (
	"fmt"

	"github.com/vbarna/amnet-go/internal/tensor"
)

// Conv1d is a 1-D convolution over (batch, channels, time) tensors.
//
// W is laid out (Out, In/Groups, Kernel) row-major. B may be nil for a
// bias-free convolution.
type Conv1d struct {
	In, Out  int
	Kernel   int
	Stride   int
	Pad      int
	Dilation int
	Groups   int

	W []float64
	B []float64
}

// NewConv1d allocates a convolution with Xavier-initialized weights.
// groups must divide both in and out.
func NewConv1d(in, out, kernel, stride, pad, dilation, groups int, bias bool) *Conv1d {
	if groups < 1 {
		groups = 1
	}
	if in%groups != 0 || out%groups != 0 {
		panic(fmt.Sprintf("nn: conv groups %d does not divide channels %d/%d", groups, in, out))
	}
	c := &Conv1d{
		In:       in,
		Out:      out,
		Kernel:   kernel,
		Stride:   stride,
		Pad:      pad,
		Dilation: dilation,
		Groups:   groups,
		W:        make([]float64, out*(in/groups)*kernel),
	}
	fanIn := (in / groups) * kernel
	fanOut := (out / groups) * kernel
	XavierInit(c.W, fanIn, fanOut)
	if bias {
		c.B = make([]float64, out)
	}
	return c
}

// OutLen maps an input length to the output length of this convolution.
func (c *Conv1d) OutLen(l int) int {
	return (l+2*c.Pad-c.Dilation*(c.Kernel-1)-1)/c.Stride + 1
}

// Forward applies the convolution to x with shape (batch, In, time) and
// returns (batch, Out, OutLen(time)).
func (c *Conv1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.D1 != c.In {
		panic(fmt.Sprintf("nn: conv expects %d channels, got %d", c.In, x.D1))
	}
	batch, tIn := x.D0, x.D2
	tOut := c.OutLen(tIn)
	y := tensor.New(batch, c.Out, tOut)

	inPerG := c.In / c.Groups
	outPerG := c.Out / c.Groups
	wStride := inPerG * c.Kernel

	for b := 0; b < batch; b++ {
		for g := 0; g < c.Groups; g++ {
			for ocRel := 0; ocRel < outPerG; ocRel++ {
				oc := g*outPerG + ocRel
				w := c.W[oc*wStride : (oc+1)*wStride]
				dst := y.Vec(b, oc)
				bias := 0.0
				if c.B != nil {
					bias = c.B[oc]
				}
				for to := 0; to < tOut; to++ {
					sum := bias
					base := to*c.Stride - c.Pad
					for icRel := 0; icRel < inPerG; icRel++ {
						src := x.Vec(b, g*inPerG+icRel)
						wRow := w[icRel*c.Kernel : (icRel+1)*c.Kernel]
						for k := 0; k < c.Kernel; k++ {
							ti := base + k*c.Dilation
							if ti < 0 || ti >= tIn {
								continue
							}
							sum += wRow[k] * src[ti]
						}
					}
					dst[to] = sum
				}
			}
		}
	}
	return y
}

// Params exposes the trainable storage under the given name.
func (c *Conv1d) Params(name string) []Param {
	ps := []Param{{Name: name + ".weight", Data: c.W}}
	if c.B != nil {
		ps = append(ps, Param{Name: name + ".bias", Data: c.B})
	}
	return ps
}
