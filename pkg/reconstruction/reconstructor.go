// Package reconstruction orchestrates the full stitching pipeline: three
// independent single-axis stitching walks run in parallel, a join, the
// cross-axis consensus fusion, and the cleanup passes that produce the
// final densely labeled volume.
package reconstruction

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"cellstitch3d/internal/models"
	"cellstitch3d/pkg/config"
	"cellstitch3d/pkg/fusion"
	"cellstitch3d/pkg/postprocess"
	"cellstitch3d/pkg/stitch"
)

// Method names for the slice-pair matcher.
const (
	MethodTransport = "transport"
	MethodIoU       = "iou"
)

// Params holds the reconstruction parameters.
type Params struct {
	// Method selects the slice-pair matcher: MethodTransport or
	// MethodIoU
	Method string

	// Stitch configures the transport matcher and split policy
	Stitch stitch.StitchParams

	// IoUThreshold is the acceptance threshold when Method is MethodIoU
	IoUThreshold float64

	// Fusion configures the cross-axis consensus
	Fusion fusion.Params

	// Post configures volume cleanup after fusion
	Post postprocess.Params

	// Verbose enables progress output
	Verbose bool
}

// DefaultParams returns the pipeline defaults.
func DefaultParams() *Params {
	return &Params{
		Method:       MethodTransport,
		Stitch:       stitch.DefaultStitchParams(),
		IoUThreshold: stitch.DefaultIoUThreshold,
		Fusion:       fusion.DefaultParams(),
		Post:         postprocess.DefaultParams(),
	}
}

// ParamsFromConfig maps a loaded configuration onto pipeline parameters.
func ParamsFromConfig(cfg *config.Config) *Params {
	p := DefaultParams()
	p.Method = cfg.Stitching.Method
	p.Stitch.Match.MaxMatchCost = cfg.Stitching.MaxMatchCost
	p.Stitch.Match.MinMassFraction = cfg.Stitching.MinMassFraction
	p.Stitch.SplitSensitivity = cfg.Stitching.SplitSensitivity
	p.IoUThreshold = cfg.Stitching.IoUThreshold
	p.Fusion.MinVotes = cfg.Fusion.MinVotes
	p.Fusion.MinOverlapFraction = cfg.Fusion.MinOverlapFraction
	p.Post.MinInstanceSize = cfg.Postprocessing.MinInstanceSize
	p.Post.FillHoles = cfg.Postprocessing.FillHoles
	p.Post.CorrectOverseg = cfg.Postprocessing.CorrectOversegmentation
	p.Verbose = cfg.Output.Verbose
	return p
}

// Input carries the three per-axis mask stacks produced by the upstream
// 2D segmenter, each indexed (slice, row, col) with the slice index along
// its own stitching direction, plus an optional nuclei volume in
// canonical orientation used to reject instances without a nucleus.
type Input struct {
	XY, YZ, XZ []*models.Mask
	Nuclei     *models.Volume
}

// Metrics summarizes a finished reconstruction.
type Metrics struct {
	// AxisInstances counts the instances each axis volume proposed
	AxisInstances map[string]int

	// FusedInstances is the final instance count
	FusedInstances int

	// MeanInstanceSize and InstanceSizeStdDev describe the voxel size
	// distribution of the final instances
	MeanInstanceSize   float64
	InstanceSizeStdDev float64

	// ForegroundFraction is the labeled share of the output volume
	ForegroundFraction float64

	// MajorityFraction is the share of labeled voxels decided by direct
	// cross-axis majority rather than disagreement resolution
	MajorityFraction float64
}

// Reconstructor runs the stitching pipeline.
type Reconstructor struct {
	params *Params

	// canonical axis volumes retained after Process for inspection
	axisVolumes map[models.Axis]*models.Volume

	metrics Metrics
}

// NewReconstructor creates a reconstructor with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	if params == nil {
		params = DefaultParams()
	}
	return &Reconstructor{
		params:      params,
		axisVolumes: make(map[models.Axis]*models.Volume),
	}
}

// Process runs the complete pipeline and returns the final label volume:
// background 0, instances densely numbered from 1. The three axis
// stitchers run as independent goroutines with axis-scoped ID registries;
// IDs only become globally unique in the fusion relabeling. Any shape
// disagreement aborts the whole run with no partial output.
func (r *Reconstructor) Process(in *Input) (*models.Volume, error) {
	width, height, depth, err := r.validate(in)
	if err != nil {
		return nil, err
	}

	if r.params.Verbose {
		fmt.Printf("Stitching %dx%dx%d volume along three axes (%s matching)...\n",
			width, height, depth, r.params.Method)
	}

	stacks := map[models.Axis][]*models.Mask{
		models.AxisXY: in.XY,
		models.AxisYZ: in.YZ,
		models.AxisXZ: in.XZ,
	}

	var g errgroup.Group
	results := make([]*models.Volume, len(models.Axes))
	for _, axis := range models.Axes {
		axis := axis
		g.Go(func() error {
			reg := stitch.NewRegistry(0)
			var vol *models.Volume
			var err error
			switch r.params.Method {
			case MethodIoU:
				vol, err = stitch.StitchAxisIoU(axis, stacks[axis], reg, r.params.IoUThreshold)
			case MethodTransport, "":
				vol, err = stitch.StitchAxis(axis, stacks[axis], reg, r.params.Stitch)
			default:
				return fmt.Errorf("reconstruction: unknown stitching method %q", r.params.Method)
			}
			if err != nil {
				return err
			}
			results[axis] = axis.ToCanonical(vol, width, height, depth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, axis := range models.Axes {
		r.axisVolumes[axis] = results[axis]
	}

	if r.params.Verbose {
		for _, axis := range models.Axes {
			fmt.Printf("  %s axis proposed %d instances\n", axis, len(results[axis].Labels()))
		}
		fmt.Println("Fusing axis volumes by cross-axis consensus...")
	}

	fused, fstats, err := fusion.Fuse(
		results[models.AxisXY], results[models.AxisYZ], results[models.AxisXZ],
		stitch.NewRegistry(0), r.params.Fusion)
	if err != nil {
		return nil, err
	}

	postprocess.Apply(fused, r.params.Post)
	if in.Nuclei != nil {
		if !fused.SameShape(in.Nuclei) {
			return nil, fmt.Errorf("reconstruction: nuclei volume is %dx%dx%d, want %dx%dx%d",
				in.Nuclei.Width, in.Nuclei.Height, in.Nuclei.Depth, width, height, depth)
		}
		postprocess.FilterNuclei(fused, in.Nuclei)
	}

	// cleanup can vacate IDs; the final registry pass restores density
	postprocess.RelabelDense(fused, stitch.NewRegistry(0))

	r.collectMetrics(fused, fstats)
	if r.params.Verbose {
		fmt.Printf("Reconstruction produced %d instances\n", r.metrics.FusedInstances)
	}
	return fused, nil
}

// validate checks the three stacks against each other and returns the
// canonical volume extents.
func (r *Reconstructor) validate(in *Input) (width, height, depth int, err error) {
	if in == nil || len(in.XY) == 0 || len(in.YZ) == 0 || len(in.XZ) == 0 {
		return 0, 0, 0, fmt.Errorf("reconstruction: all three axis stacks are required")
	}

	width = in.XY[0].Width
	height = in.XY[0].Height
	depth = len(in.XY)

	for _, axis := range []models.Axis{models.AxisYZ, models.AxisXZ} {
		stack := in.YZ
		if axis == models.AxisXZ {
			stack = in.XZ
		}
		slices, rows, cols := axis.StackShape(width, height, depth)
		if len(stack) != slices || stack[0].Height != rows || stack[0].Width != cols {
			return 0, 0, 0, &stitch.ShapeMismatchError{
				Axis: axis, Slice: 0,
				WantW: cols, WantH: rows,
				GotW: stack[0].Width, GotH: stack[0].Height,
			}
		}
	}
	return width, height, depth, nil
}

// collectMetrics derives the summary statistics of a finished run.
func (r *Reconstructor) collectMetrics(fused *models.Volume, fstats fusion.Stats) {
	m := Metrics{
		AxisInstances:  make(map[string]int, len(models.Axes)),
		FusedInstances: fstats.FusedInstances,
	}
	for _, axis := range models.Axes {
		m.AxisInstances[axis.String()] = len(r.axisVolumes[axis].Labels())
	}

	sizes := make(map[uint32]int)
	foreground := 0
	for _, id := range fused.Data {
		if id != 0 {
			sizes[id]++
			foreground++
		}
	}
	m.FusedInstances = len(sizes)
	if len(fused.Data) > 0 {
		m.ForegroundFraction = float64(foreground) / float64(len(fused.Data))
	}
	if labeled := fstats.MajorityVoxels + fstats.ResolvedVoxels; labeled > 0 {
		m.MajorityFraction = float64(fstats.MajorityVoxels) / float64(labeled)
	}
	if len(sizes) > 0 {
		values := make([]float64, 0, len(sizes))
		for _, id := range fused.Labels() {
			values = append(values, float64(sizes[id]))
		}
		m.MeanInstanceSize = stat.Mean(values, nil)
		if len(values) > 1 {
			m.InstanceSizeStdDev = stat.StdDev(values, nil)
		}
	}
	r.metrics = m
}

// Metrics returns the statistics of the last Process run.
func (r *Reconstructor) Metrics() Metrics {
	return r.metrics
}

// AxisVolume returns the canonical single-axis volume stitched for an
// axis during the last Process run, or nil before any run.
func (r *Reconstructor) AxisVolume(axis models.Axis) *models.Volume {
	return r.axisVolumes[axis]
}
