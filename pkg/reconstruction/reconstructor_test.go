package reconstruction

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellstitch3d/internal/models"
	"cellstitch3d/pkg/stitch"
)

// groundTruth builds a 10x8x6 volume with two well-separated cells.
func groundTruth() *models.Volume {
	v := models.NewVolume(10, 8, 6)
	for z := 0; z <= 2; z++ {
		for y := 1; y <= 3; y++ {
			for x := 1; x <= 3; x++ {
				v.Set(x, y, z, 1)
			}
		}
	}
	for z := 3; z <= 5; z++ {
		for y := 5; y <= 7; y++ {
			for x := 6; x <= 8; x++ {
				v.Set(x, y, z, 2)
			}
		}
	}
	return v
}

// stacksFor slices the ground truth into the three axis stacks, renaming
// the labels per axis so no numbering is shared between stacks.
func stacksFor(v *models.Volume) *Input {
	relabel := func(m map[uint32]uint32) *models.Volume {
		c := v.Clone()
		for i, id := range c.Data {
			if id != 0 {
				c.Data[i] = m[id]
			}
		}
		return c
	}
	return &Input{
		XY: models.ExtractStack(relabel(map[uint32]uint32{1: 6, 2: 2}), models.AxisXY),
		YZ: models.ExtractStack(relabel(map[uint32]uint32{1: 3, 2: 5}), models.AxisYZ),
		XZ: models.ExtractStack(relabel(map[uint32]uint32{1: 9, 2: 4}), models.AxisXZ),
	}
}

func TestProcessRecoversInstances(t *testing.T) {
	t.Parallel()

	truth := groundTruth()
	r := NewReconstructor(nil)
	out, err := r.Process(stacksFor(truth))
	require.NoError(t, err)

	require.Equal(t, []uint32{1, 2}, out.Labels())
	// the reconstruction matches the ground truth voxel for voxel
	assert.Equal(t, uint32(1), out.At(2, 2, 1))
	assert.Equal(t, uint32(2), out.At(7, 6, 4))
	diff := 0
	for i := range truth.Data {
		want := truth.Data[i]
		if out.Data[i] != want {
			diff++
		}
	}
	assert.Zero(t, diff, "voxels differing from ground truth")

	m := r.Metrics()
	assert.Equal(t, 2, m.FusedInstances)
	assert.Equal(t, map[string]int{"xy": 2, "yz": 2, "xz": 2}, m.AxisInstances)
	assert.InDelta(t, 27.0, m.MeanInstanceSize, 1e-9)
	assert.InDelta(t, 54.0/480.0, m.ForegroundFraction, 1e-9)
	assert.InDelta(t, 1.0, m.MajorityFraction, 1e-9)
}

func TestProcessIoUMethod(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.Method = MethodIoU
	out, err := NewReconstructor(p).Process(stacksFor(groundTruth()))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, out.Labels())
}

func TestProcessDeterministic(t *testing.T) {
	t.Parallel()

	first, err := NewReconstructor(nil).Process(stacksFor(groundTruth()))
	require.NoError(t, err)
	for run := 0; run < 3; run++ {
		again, err := NewReconstructor(nil).Process(stacksFor(groundTruth()))
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(first.Data, again.Data), "run %d differs", run)
	}
}

func TestProcessEmptyMasks(t *testing.T) {
	t.Parallel()

	in := stacksFor(models.NewVolume(10, 8, 6))
	r := NewReconstructor(nil)
	out, err := r.Process(in)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), out.MaxLabel())
	assert.Equal(t, 0, r.Metrics().FusedInstances)
}

func TestProcessNucleiFilter(t *testing.T) {
	t.Parallel()

	in := stacksFor(groundTruth())
	// a nucleus only inside the first cell
	nuclei := models.NewVolume(10, 8, 6)
	nuclei.Set(2, 2, 1, 1)
	in.Nuclei = nuclei

	out, err := NewReconstructor(nil).Process(in)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1}, out.Labels())
	assert.Equal(t, uint32(1), out.At(2, 2, 1))
	assert.Equal(t, uint32(0), out.At(7, 6, 4))
}

func TestProcessStackShapeMismatch(t *testing.T) {
	t.Parallel()

	in := stacksFor(groundTruth())
	in.YZ[0] = models.NewMask(5, 8) // yz slices must be 6x8

	_, err := NewReconstructor(nil).Process(in)
	require.Error(t, err)
	var mismatch *stitch.ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, models.AxisYZ, mismatch.Axis)
	assert.Equal(t, 5, mismatch.GotW)
}

func TestProcessMissingStacks(t *testing.T) {
	t.Parallel()

	_, err := NewReconstructor(nil).Process(&Input{})
	require.Error(t, err)
	_, err = NewReconstructor(nil).Process(nil)
	require.Error(t, err)
}

func TestProcessUnknownMethod(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.Method = "voronoi"
	_, err := NewReconstructor(p).Process(stacksFor(groundTruth()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stitching method")
}

func TestAxisVolumesRetained(t *testing.T) {
	t.Parallel()

	r := NewReconstructor(nil)
	_, err := r.Process(stacksFor(groundTruth()))
	require.NoError(t, err)

	for _, axis := range models.Axes {
		vol := r.AxisVolume(axis)
		require.NotNil(t, vol, "%s axis volume", axis)
		assert.Equal(t, 10, vol.Width)
		assert.Equal(t, 8, vol.Height)
		assert.Equal(t, 6, vol.Depth)
		assert.Len(t, vol.Labels(), 2, "%s axis instances", axis)
	}
}
