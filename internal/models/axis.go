package models

import "fmt"

// Axis identifies one of the three orthogonal stitching directions. Each
// axis names the plane its 2D masks live in: an AxisXY stack consists of
// xy planes stacked along z, an AxisYZ stack of yz planes stacked along x,
// and an AxisXZ stack of xz planes stacked along y.
type Axis int

const (
	AxisXY Axis = iota
	AxisYZ
	AxisXZ
)

// Axes lists the three stitching directions in canonical order. AxisXY is
// the anchor axis used for deterministic tie-breaking during fusion.
var Axes = []Axis{AxisXY, AxisYZ, AxisXZ}

// String returns the lowercase plane name of the axis.
func (a Axis) String() string {
	switch a {
	case AxisXY:
		return "xy"
	case AxisYZ:
		return "yz"
	case AxisXZ:
		return "xz"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// StackShape returns the (slices, rows, cols) dimensions an axis stack
// must have for a canonical volume of the given extents.
func (a Axis) StackShape(width, height, depth int) (slices, rows, cols int) {
	switch a {
	case AxisXY:
		return depth, height, width
	case AxisYZ:
		return width, height, depth
	case AxisXZ:
		return height, width, depth
	}
	return 0, 0, 0
}

// stackIndex maps a canonical voxel (x, y, z) to its (slice, row, col)
// position in an axis stack.
func (a Axis) stackIndex(x, y, z int) (slice, row, col int) {
	switch a {
	case AxisXY:
		return z, y, x
	case AxisYZ:
		return x, y, z
	default: // AxisXZ
		return y, x, z
	}
}

// ToCanonical reorients a stitched axis-stack volume, whose slices are
// indexed (slice, row, col) along this axis, into the canonical (z, y, x)
// orientation with the given extents.
func (a Axis) ToCanonical(stack *Volume, width, height, depth int) *Volume {
	if a == AxisXY {
		return stack.Clone()
	}
	out := NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				s, r, c := a.stackIndex(x, y, z)
				// stack volume stores slices along its own depth axis
				out.Set(x, y, z, stack.At(c, r, s))
			}
		}
	}
	return out
}

// ExtractStack cuts a canonical volume into the ordered 2D slice stack for
// the given axis. Used to derive per-axis mask stacks from a volume, e.g.
// when building synthetic inputs.
func ExtractStack(v *Volume, a Axis) []*Mask {
	slices, rows, cols := a.StackShape(v.Width, v.Height, v.Depth)
	stack := make([]*Mask, slices)
	for i := range stack {
		stack[i] = NewMask(cols, rows)
	}
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				s, r, c := a.stackIndex(x, y, z)
				stack[s].Set(c, r, v.At(x, y, z))
			}
		}
	}
	return stack
}
