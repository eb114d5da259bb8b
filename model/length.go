package model

import "github.com/vbarna/amnet-go/block"

// ProjectLength folds the convolution output-length formula over every
// length-bearing convolution in the block sequence, in order. It is a
// pure function over backbone structure: parameter values and batch
// data are never touched, and it matches the realized backbone's
// output length frame for frame. Normalization, activation,
// squeeze-excite and pointwise mix convolutions are identity on
// length and do not participate.
func ProjectLength(blocks []block.Block, l int) int {
	for _, b := range blocks {
		for _, c := range b.LengthConvs() {
			l = c.OutLen(l)
		}
	}
	return l
}

// ProjectLengths maps a full length vector through the backbone.
func ProjectLengths(blocks []block.Block, lengths []int) []int {
	out := make([]int, len(lengths))
	for i, l := range lengths {
		out[i] = ProjectLength(blocks, l)
	}
	return out
}
