// Package postprocess cleans up a fused label volume: filling holes left
// by slice-wise segmentation, discarding noise-sized instances, folding
// single-slice oversegmentation fragments back into their neighbours, and
// optionally restricting instances to those backed by a nuclei channel.
package postprocess

import (
	"sort"

	"cellstitch3d/internal/models"
	"cellstitch3d/pkg/stitch"
)

// Params controls the cleanup passes.
type Params struct {
	// MinInstanceSize removes instances with fewer voxels; 0 disables
	// the size filter.
	MinInstanceSize int

	// FillHoles closes 2D holes inside each instance, slice by slice.
	FillHoles bool

	// CorrectOverseg folds instances that exist in only a single z
	// slice into the best-overlapping instance of the neighbouring
	// slice.
	CorrectOverseg bool
}

// DefaultParams returns the cleanup settings used when none are
// configured. The minimum size matches the reference behavior of
// discarding instances under 15 voxels.
func DefaultParams() Params {
	return Params{
		MinInstanceSize: 15,
		FillHoles:       true,
		CorrectOverseg:  true,
	}
}

// Apply runs the configured cleanup passes in place and returns the
// volume for chaining. The caller is expected to relabel densely
// afterwards; removal and folding leave gaps in the ID set.
func Apply(v *models.Volume, p Params) *models.Volume {
	if p.MinInstanceSize > 0 || p.FillHoles {
		fillHolesAndRemoveSmall(v, p)
	}
	if p.CorrectOverseg {
		correctOverseg(v)
	}
	return v
}

// bounds is an inclusive 3D bounding box.
type bounds struct {
	x0, x1, y0, y1, z0, z1 int
}

// instanceBounds collects voxel counts and bounding boxes per instance.
func instanceBounds(v *models.Volume) (map[uint32]int, map[uint32]*bounds) {
	counts := make(map[uint32]int)
	boxes := make(map[uint32]*bounds)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				id := v.At(x, y, z)
				if id == 0 {
					continue
				}
				counts[id]++
				b, ok := boxes[id]
				if !ok {
					boxes[id] = &bounds{x, x, y, y, z, z}
					continue
				}
				if x < b.x0 {
					b.x0 = x
				}
				if x > b.x1 {
					b.x1 = x
				}
				if y < b.y0 {
					b.y0 = y
				}
				if y > b.y1 {
					b.y1 = y
				}
				if z < b.z0 {
					b.z0 = z
				}
				if z > b.z1 {
					b.z1 = z
				}
			}
		}
	}
	return counts, boxes
}

// fillHolesAndRemoveSmall drops instances below the size threshold and
// closes 2D holes in the survivors slice by slice within each instance's
// bounding box.
func fillHolesAndRemoveSmall(v *models.Volume, p Params) {
	counts, boxes := instanceBounds(v)

	if p.MinInstanceSize > 0 {
		small := make(map[uint32]bool)
		for id, n := range counts {
			if n < p.MinInstanceSize {
				small[id] = true
				delete(boxes, id)
			}
		}
		if len(small) > 0 {
			for i, id := range v.Data {
				if small[id] {
					v.Data[i] = 0
				}
			}
		}
	}

	if !p.FillHoles {
		return
	}
	for _, id := range sortedKeys(boxes) {
		b := boxes[id]
		for z := b.z0; z <= b.z1; z++ {
			fillSliceHoles(v, id, b, z)
		}
	}
}

// fillSliceHoles assigns to the instance every background-connected
// region inside the bounding box of one slice that cannot reach the box
// border, i.e. a hole fully enclosed by the instance.
func fillSliceHoles(v *models.Volume, id uint32, b *bounds, z int) {
	w := b.x1 - b.x0 + 1
	h := b.y1 - b.y0 + 1

	// reachable[i] marks non-instance pixels connected to the box border
	reachable := make([]bool, w*h)
	queue := make([][2]int, 0, 2*(w+h))

	push := func(x, y int) {
		i := y*w + x
		if !reachable[i] && v.At(b.x0+x, b.y0+y, z) != id {
			reachable[i] = true
			queue = append(queue, [2]int{x, y})
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		x, y := c[0], c[1]
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !reachable[y*w+x] {
				v.Set(b.x0+x, b.y0+y, z, id)
			}
		}
	}
}

// correctOverseg relabels instances confined to a single z slice using
// the best-overlapping label of the neighbouring slice, which repairs the
// typical oversegmentation failure of slice-wise 2D models.
func correctOverseg(v *models.Volume) {
	_, boxes := instanceBounds(v)

	for _, id := range sortedKeys(boxes) {
		b := boxes[id]
		if b.z0 != b.z1 {
			continue
		}
		z := b.z0
		ref := z - 1
		if z == 0 {
			ref = z + 1
		}
		if ref < 0 || ref >= v.Depth {
			continue
		}

		// overlap histogram against the reference slice, background
		// included so isolated fragments can dissolve
		overlap := make(map[uint32]int)
		for y := b.y0; y <= b.y1; y++ {
			for x := b.x0; x <= b.x1; x++ {
				if v.At(x, y, z) == id {
					overlap[v.At(x, y, ref)]++
				}
			}
		}
		var winner uint32
		var winCount int
		for _, cand := range sortedKeys32(overlap) {
			if n := overlap[cand]; n > winCount {
				winner = cand
				winCount = n
			}
		}
		for y := b.y0; y <= b.y1; y++ {
			for x := b.x0; x <= b.x1; x++ {
				if v.At(x, y, z) == id {
					v.Set(x, y, z, winner)
				}
			}
		}
	}
}

// FilterNuclei keeps only instances that overlap at least one nonzero
// voxel of the nuclei volume, zeroing the rest. Instances are judged in
// ascending ID order; relabeling is left to the caller.
func FilterNuclei(v, nuclei *models.Volume) *models.Volume {
	keep := make(map[uint32]bool)
	for i, id := range v.Data {
		if id != 0 && nuclei.Data[i] != 0 {
			keep[id] = true
		}
	}
	for i, id := range v.Data {
		if id != 0 && !keep[id] {
			v.Data[i] = 0
		}
	}
	return v
}

// RelabelDense rewrites instance IDs as a dense run starting after the
// registry's last issued ID, in ascending old-ID order.
func RelabelDense(v *models.Volume, reg *stitch.Registry) *models.Volume {
	remap := make(map[uint32]uint32)
	for _, id := range v.Labels() {
		remap[id] = reg.Next()
	}
	for i, id := range v.Data {
		if id != 0 {
			v.Data[i] = remap[id]
		}
	}
	return v
}

func sortedKeys(m map[uint32]*bounds) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKeys32(m map[uint32]int) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
