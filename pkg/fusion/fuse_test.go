package fusion

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellstitch3d/internal/models"
	"cellstitch3d/pkg/stitch"
)

// fillBox labels the inclusive box [x0,x1] x [y0,y1] x [z0,z1].
func fillBox(v *models.Volume, id uint32, x0, x1, y0, y1, z0, z1 int) {
	for z := z0; z <= z1; z++ {
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				v.Set(x, y, z, id)
			}
		}
	}
}

func countNonzero(v *models.Volume) int {
	n := 0
	for _, id := range v.Data {
		if id != 0 {
			n++
		}
	}
	return n
}

func TestFuseUnanimous(t *testing.T) {
	t.Parallel()

	// the same region under three different axis numberings becomes one
	// instance with ID 1
	xy := models.NewVolume(8, 4, 3)
	yz := models.NewVolume(8, 4, 3)
	xz := models.NewVolume(8, 4, 3)
	fillBox(xy, 3, 1, 5, 0, 2, 0, 2)
	fillBox(yz, 7, 1, 5, 0, 2, 0, 2)
	fillBox(xz, 2, 1, 5, 0, 2, 0, 2)

	out, stats, err := Fuse(xy, yz, xz, stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PrimaryInstances)
	assert.Equal(t, 0, stats.SecondaryInstances)
	assert.Equal(t, 1, stats.FusedInstances)
	assert.Equal(t, 45, stats.MajorityVoxels)
	assert.Equal(t, 0, stats.ResolvedVoxels)

	assert.Equal(t, uint32(1), out.At(3, 1, 1))
	assert.Equal(t, uint32(0), out.At(0, 0, 0))
	assert.Equal(t, 45, countNonzero(out))
}

func TestFuseMajorityExtent(t *testing.T) {
	t.Parallel()

	// two axes extend the instance to x=5, the third stops at x=3; the
	// majority extent wins
	xy := models.NewVolume(8, 4, 3)
	yz := models.NewVolume(8, 4, 3)
	xz := models.NewVolume(8, 4, 3)
	fillBox(xy, 1, 0, 5, 0, 2, 0, 2)
	fillBox(yz, 1, 0, 5, 0, 2, 0, 2)
	fillBox(xz, 1, 0, 3, 0, 2, 0, 2)

	out, stats, err := Fuse(xy, yz, xz, stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FusedInstances)
	assert.Equal(t, uint32(1), out.At(5, 0, 0), "majority extent kept")
	assert.Equal(t, uint32(1), out.At(0, 0, 0))
	assert.Equal(t, 54, countNonzero(out))
}

func TestFuseRejectsSingleAxisEvidence(t *testing.T) {
	t.Parallel()

	// a region only one axis sees is noise
	xy := models.NewVolume(6, 6, 2)
	yz := models.NewVolume(6, 6, 2)
	xz := models.NewVolume(6, 6, 2)
	fillBox(xy, 9, 0, 2, 0, 2, 0, 1)

	out, stats, err := Fuse(xy, yz, xz, stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.FusedInstances)
	assert.Equal(t, uint32(0), out.MaxLabel())
	assert.Equal(t, 6*6*2, stats.BackgroundVoxels)
}

func TestFuseSecondaryInstance(t *testing.T) {
	t.Parallel()

	// yz and xz mutually agree on an instance the xy stitching missed
	xy := models.NewVolume(8, 4, 3)
	yz := models.NewVolume(8, 4, 3)
	xz := models.NewVolume(8, 4, 3)
	fillBox(yz, 4, 2, 5, 1, 3, 0, 2)
	fillBox(xz, 6, 2, 5, 1, 3, 0, 2)

	out, stats, err := Fuse(xy, yz, xz, stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.PrimaryInstances)
	assert.Equal(t, 1, stats.SecondaryInstances)
	assert.Equal(t, 1, stats.FusedInstances)
	assert.Equal(t, uint32(1), out.At(3, 2, 1))
	assert.Equal(t, 4*3*3, countNonzero(out))
}

func TestFuseDenseIDsAndDeterminism(t *testing.T) {
	t.Parallel()

	build := func() (*models.Volume, *models.Volume, *models.Volume) {
		xy := models.NewVolume(8, 4, 2)
		yz := models.NewVolume(8, 4, 2)
		xz := models.NewVolume(8, 4, 2)
		// two instances under unrelated per-axis numberings
		fillBox(xy, 10, 0, 2, 0, 3, 0, 1)
		fillBox(xy, 99, 4, 6, 0, 3, 0, 1)
		fillBox(yz, 5, 0, 2, 0, 3, 0, 1)
		fillBox(yz, 8, 4, 6, 0, 3, 0, 1)
		fillBox(xz, 2, 0, 2, 0, 3, 0, 1)
		fillBox(xz, 1, 4, 6, 0, 3, 0, 1)
		return xy, yz, xz
	}

	xy, yz, xz := build()
	out, stats, err := Fuse(xy, yz, xz, stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FusedInstances)
	assert.Equal(t, []uint32{1, 2}, out.Labels(), "dense IDs")
	// lower xy anchor ID compacts first
	assert.Equal(t, uint32(1), out.At(0, 0, 0))
	assert.Equal(t, uint32(2), out.At(4, 0, 0))

	xy2, yz2, xz2 := build()
	again, _, err := Fuse(xy2, yz2, xz2, stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(out.Data, again.Data), "fusion not deterministic")
}

func TestFuseEmptyVolumes(t *testing.T) {
	t.Parallel()

	xy := models.NewVolume(4, 4, 4)
	out, stats, err := Fuse(xy, models.NewVolume(4, 4, 4), models.NewVolume(4, 4, 4),
		stitch.NewRegistry(0), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.FusedInstances)
	assert.Equal(t, 64, stats.BackgroundVoxels)
	assert.Equal(t, uint32(0), out.MaxLabel())
}

func TestFuseShapeMismatch(t *testing.T) {
	t.Parallel()

	_, _, err := Fuse(models.NewVolume(4, 4, 4), models.NewVolume(4, 4, 3),
		models.NewVolume(4, 4, 4), stitch.NewRegistry(0), DefaultParams())
	require.Error(t, err)
}
