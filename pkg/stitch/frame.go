// Package stitch turns stacks of independently labeled 2D masks into
// self-consistent 3D label volumes. It provides the slice-pair matcher,
// which establishes correspondences between instance labels of adjacent
// slices through an optimal-transport assignment over overlap costs, and
// the single-axis stitcher, which walks a stack and propagates globally
// scoped instance IDs along the matched lineages.
package stitch

import (
	"gonum.org/v1/gonum/mat"

	"cellstitch3d/internal/models"
)

// Frame wraps one label mask with the per-label bookkeeping the matcher
// needs: the sorted label set, pixel counts, and a label-to-index map for
// addressing the overlap and cost matrices. Index 0 of those matrices is
// always the background.
type Frame struct {
	Mask *models.Mask

	// Labels is the sorted set of nonzero labels in the mask
	Labels []uint32

	// Sizes holds the pixel count of each nonzero label
	Sizes map[uint32]int

	// Background is the background pixel count
	Background int

	index map[uint32]int
}

// NewFrame analyzes a mask and prepares it for matching.
func NewFrame(m *models.Mask) *Frame {
	f := &Frame{
		Mask:  m,
		Sizes: make(map[uint32]int),
		index: make(map[uint32]int),
	}
	for _, v := range m.Data {
		if v == 0 {
			f.Background++
		} else {
			f.Sizes[v]++
		}
	}
	f.Labels = m.Labels()
	for i, lbl := range f.Labels {
		f.index[lbl] = i
	}
	return f
}

// IsEmpty reports whether the frame contains no instances.
func (f *Frame) IsEmpty() bool {
	return len(f.Labels) == 0
}

// matrixIndex returns the row/column a label occupies in the overlap and
// cost matrices; background maps to 0.
func (f *Frame) matrixIndex(label uint32) int {
	if label == 0 {
		return 0
	}
	return f.index[label] + 1
}

// Overlap counts the pixels shared by every pair of labels across two
// frames of identical shape. The result is indexed by matrix index, so
// entry (0, 0) is the shared background and entry (i, j) with i, j > 0 the
// overlap of the i-th label of a with the j-th label of b.
func Overlap(a, b *Frame) [][]int64 {
	n := len(a.Labels) + 1
	m := len(b.Labels) + 1
	overlap := make([][]int64, n)
	for i := range overlap {
		overlap[i] = make([]int64, m)
	}
	for k, va := range a.Mask.Data {
		vb := b.Mask.Data[k]
		overlap[a.matrixIndex(va)][b.matrixIndex(vb)]++
	}
	return overlap
}

// CostMatrix converts an overlap table into a 1-IoU cost matrix. Pairs
// with no shared pixels get the maximum cost of 1.
func CostMatrix(overlap [][]int64) *mat.Dense {
	n := len(overlap)
	m := len(overlap[0])

	rowSizes := make([]int64, n)
	colSizes := make([]int64, m)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			rowSizes[i] += overlap[i][j]
			colSizes[j] += overlap[i][j]
		}
	}

	cost := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			inter := overlap[i][j]
			if inter == 0 {
				cost.Set(i, j, 1)
				continue
			}
			union := rowSizes[i] + colSizes[j] - inter
			cost.Set(i, j, 1-float64(inter)/float64(union))
		}
	}
	return cost
}
