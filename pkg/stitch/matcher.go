package stitch

import (
	"fmt"

	"cellstitch3d/pkg/transport"
)

// MatchParams controls when a slice-pair correspondence is accepted.
type MatchParams struct {
	// MaxMatchCost is the highest 1-IoU cost still accepted as a match.
	// The default of 0.5 requires majority overlap.
	MaxMatchCost float64

	// MinMassFraction accepts a pair regardless of cost when the
	// transported mass reaches this fraction of the smaller instance.
	// This is what lets merges and splits survive the cost gate: a
	// predecessor absorbed into a larger successor has poor IoU but
	// transports nearly all of its mass.
	MinMassFraction float64
}

// DefaultMatchParams returns the matching thresholds used when none are
// configured.
func DefaultMatchParams() MatchParams {
	return MatchParams{
		MaxMatchCost:    0.5,
		MinMassFraction: 0.5,
	}
}

// MatchPair records one accepted correspondence between an instance in
// slice k (From) and an instance in slice k+1 (To).
type MatchPair struct {
	From uint32
	To   uint32

	// Cost is the 1-IoU cost of the pair
	Cost float64

	// Overlap is the number of shared pixels
	Overlap int64

	// Mass is the pixel mass the transport plan moved between the pair
	Mass float64
}

// Correspondence is the outcome of matching two adjacent slices. Each
// successor label appears in at most one pair; predecessors may appear in
// several pairs when an instance splits.
type Correspondence struct {
	Pairs []MatchPair

	// Appeared lists successor labels with no accepted predecessor
	Appeared []uint32

	// Disappeared lists predecessor labels with no accepted successor
	Disappeared []uint32
}

// Empty reports whether the correspondence contains no accepted pairs.
func (c *Correspondence) Empty() bool {
	return len(c.Pairs) == 0
}

// MatchFrames computes the correspondence between the instances of two
// adjacent slices of identical shape. The pixel masses of all labels,
// background included, are distributed by an exact optimal-transport plan
// over the 1-IoU cost matrix; each successor then selects the predecessor
// that sent it the most mass. Candidates without spatial overlap are never
// considered. Ties are broken by larger overlap, then lower label value.
func MatchFrames(a, b *Frame, p MatchParams) (*Correspondence, error) {
	if a.Mask.Width != b.Mask.Width || a.Mask.Height != b.Mask.Height {
		return nil, fmt.Errorf("stitch: mask shapes differ: %dx%d vs %dx%d",
			a.Mask.Width, a.Mask.Height, b.Mask.Width, b.Mask.Height)
	}

	corr := &Correspondence{}
	if a.IsEmpty() || b.IsEmpty() {
		corr.Appeared = append(corr.Appeared, b.Labels...)
		corr.Disappeared = append(corr.Disappeared, a.Labels...)
		return corr, nil
	}

	overlap := Overlap(a, b)
	cost := CostMatrix(overlap)

	supplies := make([]float64, len(a.Labels)+1)
	supplies[0] = float64(a.Background)
	for i, lbl := range a.Labels {
		supplies[i+1] = float64(a.Sizes[lbl])
	}
	demands := make([]float64, len(b.Labels)+1)
	demands[0] = float64(b.Background)
	for j, lbl := range b.Labels {
		demands[j+1] = float64(b.Sizes[lbl])
	}

	plan, err := transport.Plan(supplies, demands, cost)
	if err != nil {
		return nil, fmt.Errorf("stitch: transport plan failed: %w", err)
	}

	matchedFrom := make(map[uint32]bool)
	for j, lblB := range b.Labels {
		col := j + 1

		// best predecessor by transported mass; background competes for
		// the mass but never becomes a predecessor
		bestRow := -1
		var bestMass float64
		var bestOv int64
		for i := range a.Labels {
			row := i + 1
			ov := overlap[row][col]
			if ov == 0 {
				continue
			}
			mass := plan.At(row, col)
			if mass <= 0 {
				continue
			}
			if bestRow < 0 || mass > bestMass || (mass == bestMass && ov > bestOv) {
				bestRow = row
				bestMass = mass
				bestOv = ov
			}
		}
		if bestRow < 0 {
			corr.Appeared = append(corr.Appeared, lblB)
			continue
		}

		lblA := a.Labels[bestRow-1]
		c := cost.At(bestRow, col)
		smaller := a.Sizes[lblA]
		if b.Sizes[lblB] < smaller {
			smaller = b.Sizes[lblB]
		}
		if c > p.MaxMatchCost && bestMass < p.MinMassFraction*float64(smaller) {
			corr.Appeared = append(corr.Appeared, lblB)
			continue
		}

		corr.Pairs = append(corr.Pairs, MatchPair{
			From:    lblA,
			To:      lblB,
			Cost:    c,
			Overlap: bestOv,
			Mass:    bestMass,
		})
		matchedFrom[lblA] = true
	}

	for _, lblA := range a.Labels {
		if !matchedFrom[lblA] {
			corr.Disappeared = append(corr.Disappeared, lblA)
		}
	}
	return corr, nil
}
