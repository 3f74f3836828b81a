// Package models defines the label mask and label volume types shared by
// the stitching pipeline. Masks and volumes store instance labels as
// non-negative integers in flat row-major arrays: 0 is background, every
// positive value identifies one instance.
package models

import "sort"

// Mask represents a single 2D label mask produced by the upstream 2D
// segmenter. Labels are only meaningful within this mask: the same numeric
// value in another slice is an unrelated instance until the stitcher has
// established a correspondence.
type Mask struct {
	// Data is the label grid in row-major order, indexed [y*Width+x]
	Data []uint32

	// Width and Height are the mask dimensions in pixels
	Width  int
	Height int
}

// NewMask creates an all-background mask with the given dimensions.
func NewMask(width, height int) *Mask {
	return &Mask{
		Data:   make([]uint32, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the label at pixel (x, y).
func (m *Mask) At(x, y int) uint32 {
	return m.Data[y*m.Width+x]
}

// Set assigns the label at pixel (x, y).
func (m *Mask) Set(x, y int, label uint32) {
	m.Data[y*m.Width+x] = label
}

// IsEmpty reports whether the mask contains no instances at all.
func (m *Mask) IsEmpty() bool {
	for _, v := range m.Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// Labels returns the sorted set of instance labels present in the mask,
// excluding background.
func (m *Mask) Labels() []uint32 {
	seen := make(map[uint32]struct{})
	for _, v := range m.Data {
		if v != 0 {
			seen[v] = struct{}{}
		}
	}
	labels := make([]uint32, 0, len(seen))
	for v := range seen {
		labels = append(labels, v)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// MaxLabel returns the highest label value in the mask, or 0 if empty.
func (m *Mask) MaxLabel() uint32 {
	var max uint32
	for _, v := range m.Data {
		if v > max {
			max = v
		}
	}
	return max
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.Width, m.Height)
	copy(out.Data, m.Data)
	return out
}

// Volume represents a 3D instance label volume in the canonical (z, y, x)
// orientation. Positive values are instance IDs valid across the whole
// volume.
type Volume struct {
	// Data is the label grid in slice-major order, indexed
	// [(z*Height+y)*Width+x]
	Data []uint32

	// Width, Height and Depth are the volume dimensions in voxels
	// (x, y and z extents respectively)
	Width  int
	Height int
	Depth  int
}

// NewVolume creates an all-background volume with the given dimensions.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]uint32, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// At returns the label at voxel (x, y, z).
func (v *Volume) At(x, y, z int) uint32 {
	return v.Data[(z*v.Height+y)*v.Width+x]
}

// Set assigns the label at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, label uint32) {
	v.Data[(z*v.Height+y)*v.Width+x] = label
}

// Slice returns the z-th xy plane as a mask sharing the volume's backing
// array. Writing through the returned mask writes into the volume.
func (v *Volume) Slice(z int) *Mask {
	n := v.Width * v.Height
	return &Mask{
		Data:   v.Data[z*n : (z+1)*n],
		Width:  v.Width,
		Height: v.Height,
	}
}

// SetSlice copies the mask into the z-th xy plane of the volume.
func (v *Volume) SetSlice(z int, m *Mask) {
	n := v.Width * v.Height
	copy(v.Data[z*n:(z+1)*n], m.Data)
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Width, v.Height, v.Depth)
	copy(out.Data, v.Data)
	return out
}

// SameShape reports whether two volumes have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// MaxLabel returns the highest instance ID in the volume, or 0 if empty.
func (v *Volume) MaxLabel() uint32 {
	var max uint32
	for _, val := range v.Data {
		if val > max {
			max = val
		}
	}
	return max
}

// Labels returns the sorted set of instance IDs present in the volume,
// excluding background.
func (v *Volume) Labels() []uint32 {
	seen := make(map[uint32]struct{})
	for _, val := range v.Data {
		if val != 0 {
			seen[val] = struct{}{}
		}
	}
	labels := make([]uint32, 0, len(seen))
	for val := range seen {
		labels = append(labels, val)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
