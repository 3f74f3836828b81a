package stitch

import (
	"fmt"

	"cellstitch3d/internal/models"
)

// DefaultIoUThreshold is the minimum IoU a greedy match needs to inherit
// a lineage.
const DefaultIoUThreshold = 0.25

// StitchAxisIoU is the cheap alternative to transport matching: each
// instance greedily inherits the ID of the predecessor with the highest
// IoU above the threshold, with no split or merge reasoning. It is less
// robust to under- and over-segmentation but considerably faster, and is
// kept for parity checks against the transport stitcher.
func StitchAxisIoU(axis models.Axis, stack []*models.Mask, reg *Registry, threshold float64) (*models.Volume, error) {
	if len(stack) == 0 {
		return nil, fmt.Errorf("stitch: %s stack is empty", axis)
	}

	width := stack[0].Width
	height := stack[0].Height
	for i, m := range stack {
		if m.Width != width || m.Height != height {
			return nil, &ShapeMismatchError{
				Axis: axis, Slice: i,
				WantW: width, WantH: height,
				GotW: m.Width, GotH: m.Height,
			}
		}
	}

	out := models.NewVolume(width, height, len(stack))
	var prev *Frame

	for s, mask := range stack {
		cur := NewFrame(mask)
		if cur.IsEmpty() {
			continue
		}

		relabeled := models.NewMask(width, height)
		assign := make(map[uint32]uint32, len(cur.Labels))

		if prev == nil {
			for _, lbl := range cur.Labels {
				assign[lbl] = reg.Next()
			}
		} else {
			overlap := Overlap(prev, cur)
			cost := CostMatrix(overlap)
			for j, lbl := range cur.Labels {
				col := j + 1
				best := -1
				var bestOv int64
				for i := range prev.Labels {
					row := i + 1
					if ov := overlap[row][col]; ov > bestOv {
						best = row
						bestOv = ov
					}
				}
				if best >= 0 && 1-cost.At(best, col) >= threshold {
					assign[lbl] = prev.Labels[best-1]
				} else {
					assign[lbl] = reg.Next()
				}
			}
		}

		for i, v := range mask.Data {
			if v != 0 {
				relabeled.Data[i] = assign[v]
			}
		}
		out.SetSlice(s, relabeled)
		prev = NewFrame(relabeled)
	}
	return out, nil
}
