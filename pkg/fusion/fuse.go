// Package fusion merges the three independently stitched axis volumes
// into the final 3D instance segmentation. Each axis volume is internally
// consistent but biased by its own slicing direction; a true instance
// shows up as a consistent region from every viewing direction while
// stitching errors are direction-dependent. The fuser therefore keeps
// what at least two of the three axes agree on and resolves the rest by
// overlap-fraction claims.
//
// The xy volume is the canonical anchor: accepted xy components are
// relabeled first in ascending ID order, followed by instances visible
// only to the yz and xz axes, so identical inputs always produce
// byte-identical output.
package fusion

import (
	"fmt"
	"sort"

	"cellstitch3d/internal/models"
	"cellstitch3d/pkg/stitch"
)

// Params controls the consensus decisions.
type Params struct {
	// MinVotes is the number of axes that must agree before a voxel is
	// assigned by majority; 2 of 3 by default. Raising it to 3 keeps
	// only voxels every axis agrees on.
	MinVotes int

	// MinOverlapFraction is the overlap threshold for cross-axis
	// component correspondence: two components correspond only if their
	// shared voxels reach this fraction of the smaller component.
	MinOverlapFraction float64
}

// DefaultParams returns the consensus thresholds used when none are
// configured.
func DefaultParams() Params {
	return Params{
		MinVotes:           2,
		MinOverlapFraction: 0.25,
	}
}

// Stats summarizes how the fuser decided the volume.
type Stats struct {
	// MajorityVoxels were assigned by direct >=MinVotes agreement
	MajorityVoxels int

	// ResolvedVoxels had no majority and were assigned by the highest
	// overlap-fraction claim
	ResolvedVoxels int

	// BackgroundVoxels ended up unlabeled
	BackgroundVoxels int

	// PrimaryInstances is the count of accepted xy-anchored instances,
	// SecondaryInstances the count of yz/xz-only instances admitted
	// without xy support
	PrimaryInstances   int
	SecondaryInstances int

	// FusedInstances is the final instance count after compaction
	FusedInstances int
}

// axisPair is a cross-axis component overlap key.
type axisPair struct {
	a, b uint32
}

// Fuse merges three canonical axis volumes of identical shape into one
// final volume with dense instance IDs issued by reg. Pass a fresh
// registry to obtain IDs starting at 1.
func Fuse(xy, yz, xz *models.Volume, reg *stitch.Registry, p Params) (*models.Volume, Stats, error) {
	var stats Stats
	if !xy.SameShape(yz) || !xy.SameShape(xz) {
		return nil, stats, fmt.Errorf(
			"fusion: axis volume shapes differ: xy %dx%dx%d, yz %dx%dx%d, xz %dx%dx%d",
			xy.Width, xy.Height, xy.Depth,
			yz.Width, yz.Height, yz.Depth,
			xz.Width, xz.Height, xz.Depth)
	}

	sizeXY := componentSizes(xy)
	sizeYZ := componentSizes(yz)
	sizeXZ := componentSizes(xz)

	// pairwise component overlaps in one pass
	ovXYYZ := make(map[axisPair]int)
	ovXYXZ := make(map[axisPair]int)
	ovYZXZ := make(map[axisPair]int)
	for i, a := range xy.Data {
		b, c := yz.Data[i], xz.Data[i]
		if a != 0 && b != 0 {
			ovXYYZ[axisPair{a, b}]++
		}
		if a != 0 && c != 0 {
			ovXYXZ[axisPair{a, c}]++
		}
		if b != 0 && c != 0 {
			ovYZXZ[axisPair{b, c}]++
		}
	}

	bestYZofXY := bestCounterparts(ovXYYZ, sizeXY, sizeYZ, p.MinOverlapFraction, false)
	bestXYofYZ := bestCounterparts(ovXYYZ, sizeYZ, sizeXY, p.MinOverlapFraction, true)
	bestXZofXY := bestCounterparts(ovXYXZ, sizeXY, sizeXZ, p.MinOverlapFraction, false)
	bestXYofXZ := bestCounterparts(ovXYXZ, sizeXZ, sizeXY, p.MinOverlapFraction, true)
	bestXZofYZ := bestCounterparts(ovYZXZ, sizeYZ, sizeXZ, p.MinOverlapFraction, false)
	bestYZofXZ := bestCounterparts(ovYZXZ, sizeXZ, sizeYZ, p.MinOverlapFraction, true)

	// a component is a real instance when it is the best-overlapping
	// candidate of at least MinVotes axes (its own axis included)
	accepted := make(map[uint32]bool)
	for _, a := range sortedIDs(sizeXY) {
		votes := 1
		if q := bestYZofXY[a]; q != 0 && bestXYofYZ[q] == a {
			votes++
		}
		if r := bestXZofXY[a]; r != 0 && bestXYofXZ[r] == a {
			votes++
		}
		if votes >= p.MinVotes {
			accepted[a] = true
		}
	}

	// instances the xy stitching missed entirely but the other two axes
	// mutually agree on
	secondary := make(map[uint32]bool)
	for _, q := range sortedIDs(sizeYZ) {
		if bestXYofYZ[q] != 0 {
			continue
		}
		r := bestXZofYZ[q]
		if r != 0 && bestYZofXZ[r] == q && bestXYofXZ[r] == 0 {
			secondary[q] = true
		}
	}

	// provisional anchor indexing: accepted xy ascending, then secondary
	// yz ascending
	anchorOf := make(map[uint32]uint32)     // xy id -> provisional index
	secAnchorOf := make(map[uint32]uint32)  // yz id -> provisional index
	anchorSize := []int{0}                  // provisional index -> component size
	for _, a := range sortedIDs(sizeXY) {
		if accepted[a] {
			anchorOf[a] = uint32(len(anchorSize))
			anchorSize = append(anchorSize, sizeXY[a])
		}
	}
	stats.PrimaryInstances = len(anchorOf)
	for _, q := range sortedIDs(sizeYZ) {
		if secondary[q] {
			secAnchorOf[q] = uint32(len(anchorSize))
			anchorSize = append(anchorSize, sizeYZ[q])
		}
	}
	stats.SecondaryInstances = len(secAnchorOf)

	assigned := make([]uint32, len(xy.Data)) // provisional anchor indices
	voxelCount := make([]int, len(anchorSize))

	for i := range xy.Data {
		a, q, r := xy.Data[i], yz.Data[i], xz.Data[i]

		zeros := 0
		if a == 0 {
			zeros++
		}
		if q == 0 {
			zeros++
		}
		if r == 0 {
			zeros++
		}
		if zeros >= p.MinVotes {
			stats.BackgroundVoxels++
			continue
		}

		// direct majority on the anchor's component correspondence
		if a != 0 && accepted[a] {
			votes := 1
			if q != 0 && (bestYZofXY[a] == q || bestXYofYZ[q] == a) {
				votes++
			}
			if r != 0 && (bestXZofXY[a] == r || bestXYofXZ[r] == a) {
				votes++
			}
			if votes >= p.MinVotes {
				idx := anchorOf[a]
				assigned[i] = idx
				voxelCount[idx]++
				stats.MajorityVoxels++
				continue
			}
		}
		if q != 0 && secondary[q] {
			votes := 1
			if r != 0 && (bestXZofYZ[q] == r || bestYZofXZ[r] == q) {
				votes++
			}
			if votes >= p.MinVotes {
				idx := secAnchorOf[q]
				assigned[i] = idx
				voxelCount[idx]++
				stats.MajorityVoxels++
				continue
			}
		}

		// three-way disagreement: the instance whose axis components
		// claim the highest overlap fraction at this voxel wins; ties go
		// to the globally larger candidate, then the lower anchor index
		bestIdx := uint32(0)
		var bestScore float64
		consider := func(idx uint32, score float64) {
			if idx == 0 || score <= 0 {
				return
			}
			if bestIdx == 0 || score > bestScore ||
				(score == bestScore && anchorSize[idx] > anchorSize[bestIdx]) ||
				(score == bestScore && anchorSize[idx] == anchorSize[bestIdx] && idx < bestIdx) {
				bestIdx = idx
				bestScore = score
			}
		}

		if a != 0 && accepted[a] {
			score := 1.0
			if q != 0 {
				score += float64(ovXYYZ[axisPair{a, q}]) / float64(sizeYZ[q])
			}
			if r != 0 {
				score += float64(ovXYXZ[axisPair{a, r}]) / float64(sizeXZ[r])
			}
			consider(anchorOf[a], score)
		}
		if q != 0 {
			if a1 := bestXYofYZ[q]; a1 != 0 && accepted[a1] && a1 != a {
				score := float64(ovXYYZ[axisPair{a1, q}]) / float64(sizeYZ[q])
				if r != 0 {
					score += float64(ovXYXZ[axisPair{a1, r}]) / float64(sizeXZ[r])
				}
				consider(anchorOf[a1], score)
			}
			if secondary[q] {
				score := 1.0
				if r != 0 {
					score += float64(ovYZXZ[axisPair{q, r}]) / float64(sizeXZ[r])
				}
				consider(secAnchorOf[q], score)
			}
		}
		if r != 0 {
			if a2 := bestXYofXZ[r]; a2 != 0 && accepted[a2] && a2 != a {
				score := float64(ovXYXZ[axisPair{a2, r}]) / float64(sizeXZ[r])
				if q != 0 {
					score += float64(ovXYYZ[axisPair{a2, q}]) / float64(sizeYZ[q])
				}
				consider(anchorOf[a2], score)
			}
			if q2 := bestYZofXZ[r]; q2 != 0 && secondary[q2] && q2 != q {
				score := float64(ovYZXZ[axisPair{q2, r}]) / float64(sizeXZ[r])
				consider(secAnchorOf[q2], score)
			}
		}

		if bestIdx == 0 {
			stats.BackgroundVoxels++
			continue
		}
		assigned[i] = bestIdx
		voxelCount[bestIdx]++
		stats.ResolvedVoxels++
	}

	// compaction: dense final IDs in provisional anchor order, skipping
	// anchors that received no voxels
	final := make([]uint32, len(anchorSize))
	for idx := 1; idx < len(anchorSize); idx++ {
		if voxelCount[idx] > 0 {
			final[idx] = reg.Next()
			stats.FusedInstances++
		}
	}

	out := models.NewVolume(xy.Width, xy.Height, xy.Depth)
	for i, idx := range assigned {
		if idx != 0 {
			out.Data[i] = final[idx]
		}
	}
	return out, stats, nil
}

// componentSizes counts the voxels of every component in an axis volume.
func componentSizes(v *models.Volume) map[uint32]int {
	sizes := make(map[uint32]int)
	for _, id := range v.Data {
		if id != 0 {
			sizes[id]++
		}
	}
	return sizes
}

// bestCounterparts selects, for every component on one side of an overlap
// table, the component on the other side it overlaps most, subject to the
// overlap threshold. Ties prefer the larger counterpart, then the lower
// ID, so the result does not depend on map iteration order.
func bestCounterparts(ov map[axisPair]int, sizeFrom, sizeTo map[uint32]int, minFrac float64, reversed bool) map[uint32]uint32 {
	type best struct {
		id    uint32
		count int
	}
	bests := make(map[uint32]best)
	for pair, n := range ov {
		from, to := pair.a, pair.b
		if reversed {
			from, to = pair.b, pair.a
		}
		smaller := sizeFrom[from]
		if sizeTo[to] < smaller {
			smaller = sizeTo[to]
		}
		if float64(n) < minFrac*float64(smaller) {
			continue
		}
		cur, ok := bests[from]
		if !ok ||
			n > cur.count ||
			(n == cur.count && sizeTo[to] > sizeTo[cur.id]) ||
			(n == cur.count && sizeTo[to] == sizeTo[cur.id] && to < cur.id) {
			bests[from] = best{id: to, count: n}
		}
	}
	out := make(map[uint32]uint32, len(bests))
	for from, b := range bests {
		out[from] = b.id
	}
	return out
}

// sortedIDs returns the component IDs of a size map in ascending order.
func sortedIDs(sizes map[uint32]int) []uint32 {
	ids := make([]uint32, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
