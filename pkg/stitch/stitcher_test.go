package stitch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellstitch3d/internal/models"
)

// rectMask builds a width x height mask with one labeled rectangle.
func rectMask(width, height, x0, y0, x1, y1 int, label uint32) *models.Mask {
	m := models.NewMask(width, height)
	fillRect(m, x0, y0, x1, y1, label)
	return m
}

// sliceLabels returns the nonzero labels present in plane z.
func sliceLabels(v *models.Volume, z int) []uint32 {
	return v.Slice(z).Labels()
}

func TestStitchAxisContinuity(t *testing.T) {
	t.Parallel()

	// the same region labeled with arbitrary values per slice becomes a
	// single lineage
	stack := []*models.Mask{
		rectMask(6, 4, 1, 1, 3, 2, 7),
		rectMask(6, 4, 1, 1, 3, 2, 3),
		rectMask(6, 4, 1, 1, 3, 2, 9),
	}
	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, stack, reg, DefaultStitchParams())
	require.NoError(t, err)

	assert.Equal(t, uint32(1), reg.Last())
	for z := 0; z < 3; z++ {
		assert.Equal(t, []uint32{1}, sliceLabels(vol, z), "slice %d", z)
		assert.Equal(t, uint32(1), vol.At(2, 1, z))
		assert.Equal(t, uint32(0), vol.At(0, 0, z))
	}
}

func TestStitchAxisAppearance(t *testing.T) {
	t.Parallel()

	first := rectMask(6, 4, 0, 0, 2, 3, 5)
	second := rectMask(6, 4, 0, 0, 2, 3, 5)
	fillRect(second, 4, 0, 5, 3, 8) // new instance, no predecessor

	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, []*models.Mask{first, second}, reg, DefaultStitchParams())
	require.NoError(t, err)

	assert.Equal(t, []uint32{1}, sliceLabels(vol, 0))
	assert.Equal(t, []uint32{1, 2}, sliceLabels(vol, 1))
	assert.Equal(t, uint32(1), vol.At(0, 0, 1))
	assert.Equal(t, uint32(2), vol.At(4, 0, 1))
}

func TestStitchAxisSkipsEmptySlices(t *testing.T) {
	t.Parallel()

	// an empty slice does not break a lineage: the walk resumes against
	// the last populated slice
	stack := []*models.Mask{
		rectMask(6, 4, 1, 1, 3, 2, 4),
		models.NewMask(6, 4),
		rectMask(6, 4, 1, 1, 3, 2, 8),
	}
	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, stack, reg, DefaultStitchParams())
	require.NoError(t, err)

	assert.Equal(t, uint32(1), reg.Last())
	assert.Equal(t, []uint32{1}, sliceLabels(vol, 0))
	assert.Empty(t, sliceLabels(vol, 1))
	assert.Equal(t, []uint32{1}, sliceLabels(vol, 2))
}

func TestStitchAxisMergeKeepsLargerLineage(t *testing.T) {
	t.Parallel()

	first := models.NewMask(6, 2)
	fillRect(first, 0, 0, 1, 1, 1) // 4 px
	fillRect(first, 2, 0, 5, 1, 2) // 8 px
	second := rectMask(6, 2, 0, 0, 5, 1, 1)

	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, []*models.Mask{first, second}, reg, DefaultStitchParams())
	require.NoError(t, err)

	// the merged instance continues the larger predecessor and no
	// spurious lineage is started
	assert.Equal(t, uint32(2), reg.Last())
	assert.Equal(t, []uint32{1, 2}, sliceLabels(vol, 0))
	assert.Equal(t, []uint32{2}, sliceLabels(vol, 1))
}

func TestStitchAxisFragmentsInheritBelowSensitivity(t *testing.T) {
	t.Parallel()

	// fragments whose combined area still accounts for the ancestor stay
	// one instance
	first := rectMask(6, 2, 0, 0, 5, 1, 9)
	second := models.NewMask(6, 2)
	fillRect(second, 0, 0, 2, 1, 3)
	fillRect(second, 3, 0, 5, 1, 4)

	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, []*models.Mask{first, second}, reg, DefaultStitchParams())
	require.NoError(t, err)

	assert.Equal(t, uint32(1), reg.Last())
	assert.Equal(t, []uint32{1}, sliceLabels(vol, 1))
}

func TestStitchAxisGenuineSplit(t *testing.T) {
	t.Parallel()

	first := rectMask(6, 2, 0, 0, 5, 1, 9)
	second := models.NewMask(6, 2)
	fillRect(second, 0, 0, 2, 1, 3)
	fillRect(second, 3, 0, 5, 1, 4)

	p := DefaultStitchParams()
	p.SplitSensitivity = 0.9

	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, []*models.Mask{first, second}, reg, p)
	require.NoError(t, err)

	// equal fragment sizes: the lower label keeps the lineage
	assert.Equal(t, uint32(2), reg.Last())
	assert.Equal(t, uint32(1), vol.At(0, 0, 1))
	assert.Equal(t, uint32(2), vol.At(5, 0, 1))
	assert.Equal(t, []uint32{1, 2}, sliceLabels(vol, 1))
}

func TestStitchAxisShapeMismatch(t *testing.T) {
	t.Parallel()

	stack := []*models.Mask{
		models.NewMask(6, 4),
		models.NewMask(6, 5),
	}
	_, err := StitchAxis(models.AxisYZ, stack, NewRegistry(0), DefaultStitchParams())
	require.Error(t, err)

	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, models.AxisYZ, mismatch.Axis)
	assert.Equal(t, 1, mismatch.Slice)
	assert.Equal(t, 5, mismatch.GotH)
}

func TestStitchAxisEmptyStack(t *testing.T) {
	t.Parallel()

	_, err := StitchAxis(models.AxisXY, nil, NewRegistry(0), DefaultStitchParams())
	require.Error(t, err)
}

func TestStitchAxisAllEmptySlices(t *testing.T) {
	t.Parallel()

	stack := []*models.Mask{
		models.NewMask(4, 4),
		models.NewMask(4, 4),
	}
	reg := NewRegistry(0)
	vol, err := StitchAxis(models.AxisXY, stack, reg, DefaultStitchParams())
	require.NoError(t, err)

	assert.Equal(t, uint32(0), reg.Last())
	assert.Equal(t, uint32(0), vol.MaxLabel())
}

func TestRegistrySequence(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	assert.Equal(t, uint32(1), reg.Next())
	assert.Equal(t, uint32(2), reg.Next())
	assert.Equal(t, uint32(2), reg.Last())

	reg.Reset(10)
	assert.Equal(t, uint32(11), reg.Next())
}
