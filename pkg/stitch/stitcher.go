package stitch

import (
	"fmt"
	"sort"

	"cellstitch3d/internal/models"
)

// ShapeMismatchError reports a slice whose dimensions disagree with the
// rest of its stack. It is fatal: the stitcher aborts the axis rather than
// cropping or padding.
type ShapeMismatchError struct {
	Axis         models.Axis
	Slice        int
	WantW, WantH int
	GotW, GotH   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("stitch: %s slice %d has shape %dx%d, stack declares %dx%d",
		e.Axis, e.Slice, e.GotW, e.GotH, e.WantW, e.WantH)
}

// StitchParams controls the single-axis stitching walk.
type StitchParams struct {
	Match MatchParams

	// SplitSensitivity decides when fragments matching the same
	// predecessor are treated as a genuine split. If the combined
	// fragment area exceeds SplitSensitivity times the predecessor area,
	// only the largest fragment keeps the lineage; the rest start new
	// ones. Below it, all fragments inherit the predecessor's ID.
	SplitSensitivity float64
}

// DefaultStitchParams returns the stitching thresholds used when none are
// configured.
func DefaultStitchParams() StitchParams {
	return StitchParams{
		Match:            DefaultMatchParams(),
		SplitSensitivity: 1.5,
	}
}

// StitchAxis relabels an ordered stack of 2D masks into one consistent
// axis volume. The first non-empty slice's labels each receive a fresh ID
// from the registry; every later slice is matched against the last
// non-empty already-relabeled slice and inherits, splits or starts
// lineages according to the correspondence. Empty slices contribute no
// correspondences and are skipped. The returned volume is in stack
// orientation: slice index along depth, rows along height, columns along
// width.
func StitchAxis(axis models.Axis, stack []*models.Mask, reg *Registry, p StitchParams) (*models.Volume, error) {
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
	var prev *Frame // last non-empty relabeled slice

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
			corr, err := MatchFrames(prev, cur, p.Match)
			if err != nil {
				return nil, fmt.Errorf("stitch: %s slice %d: %w", axis, s, err)
			}
			resolveSlice(corr, prev, cur, p, reg, assign)
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

// resolveSlice turns a correspondence into the label assignment for the
// current slice, applying the split policy and allocating fresh IDs for
// appearances. Fresh IDs are handed out in ascending current-label order
// so the walk is deterministic.
func resolveSlice(corr *Correspondence, prev, cur *Frame, p StitchParams, reg *Registry, assign map[uint32]uint32) {
	// group accepted pairs by predecessor to expose splits
	byPred := make(map[uint32][]MatchPair)
	for _, pair := range corr.Pairs {
		byPred[pair.From] = append(byPred[pair.From], pair)
	}

	preds := make([]uint32, 0, len(byPred))
	for id := range byPred {
		preds = append(preds, id)
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i] < preds[j] })

	needFresh := make(map[uint32]bool)
	for _, pred := range preds {
		frags := byPred[pred]
		if len(frags) == 1 {
			assign[frags[0].To] = pred
			continue
		}

		combined := 0
		for _, f := range frags {
			combined += cur.Sizes[f.To]
		}
		if float64(combined) <= p.SplitSensitivity*float64(prev.Sizes[pred]) {
			// fragments still account for roughly the ancestor's area:
			// keep them as one instance
			for _, f := range frags {
				assign[f.To] = pred
			}
			continue
		}

		// genuine split: the largest fragment keeps the lineage, ties
		// broken by lowest label
		keeper := frags[0].To
		for _, f := range frags[1:] {
			if cur.Sizes[f.To] > cur.Sizes[keeper] ||
				(cur.Sizes[f.To] == cur.Sizes[keeper] && f.To < keeper) {
				keeper = f.To
			}
		}
		for _, f := range frags {
			if f.To == keeper {
				assign[f.To] = pred
			} else {
				needFresh[f.To] = true
			}
		}
	}

	for _, lbl := range corr.Appeared {
		needFresh[lbl] = true
	}
	for _, lbl := range cur.Labels {
		if needFresh[lbl] {
			assign[lbl] = reg.Next()
		}
	}
}
