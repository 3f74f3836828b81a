package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"cellstitch3d/internal/models"
	"cellstitch3d/pkg/config"
	"cellstitch3d/pkg/maskio"
	"cellstitch3d/pkg/reconstruction"
)

func main() {
	// Parse command line arguments
	xyDir := flag.String("xy", "", "Directory containing xy-plane mask slices (stacked along z)")
	yzDir := flag.String("yz", "", "Directory containing yz-plane mask slices (stacked along x)")
	xzDir := flag.String("xz", "", "Directory containing xz-plane mask slices (stacked along y)")
	nucleiPath := flag.String("nuclei", "", "Optional raw nuclei volume used to filter instances")
	configPath := flag.String("config", "cellstitch3d.yaml", "Path to YAML configuration file")
	outputDir := flag.String("output", "stitched_masks", "Directory for the final volume slices")
	rawPath := flag.String("raw", "", "Optional path for a raw uint32 volume dump")
	format := flag.String("format", "png", "Slice image format: png or tiff")
	flag.Parse()

	// Validate inputs
	if *xyDir == "" || *yzDir == "" || *xzDir == "" {
		flag.Usage()
		log.Fatal("all three mask stack directories (-xy, -yz, -xz) are required")
	}

	// Load configuration, falling back to defaults when absent
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	params := reconstruction.ParamsFromConfig(cfg)

	fmt.Println("================================")
	fmt.Println("CELLSTITCH3D: 3D INSTANCE SEGMENTATION FROM ORTHOGONAL 2D MASK STACKS")
	fmt.Println("================================")

	// Load the three axis stacks
	input := &reconstruction.Input{}
	for _, in := range []struct {
		dir   string
		stack *[]*models.Mask
		axis  models.Axis
	}{
		{*xyDir, &input.XY, models.AxisXY},
		{*yzDir, &input.YZ, models.AxisYZ},
		{*xzDir, &input.XZ, models.AxisXZ},
	} {
		stack, err := maskio.LoadStack(in.dir)
		if err != nil {
			log.Fatalf("Failed to load %s stack: %v", in.axis, err)
		}
		fmt.Printf("Loaded %d %s slices (%dx%d) from %s\n",
			len(stack), in.axis, stack[0].Width, stack[0].Height, in.dir)
		*in.stack = stack
	}

	if *nucleiPath != "" {
		nuclei, err := maskio.LoadVolumeRaw(*nucleiPath)
		if err != nil {
			log.Fatalf("Failed to load nuclei volume: %v", err)
		}
		input.Nuclei = nuclei
	}

	// Run the stitching pipeline
	fmt.Println("Starting 3D reconstruction...")
	startTime := time.Now()
	reconstructor := reconstruction.NewReconstructor(params)
	volume, err := reconstructor.Process(input)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	// Display the run summary
	metrics := reconstructor.Metrics()
	fmt.Printf("\nReconstruction completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Instances per axis: xy=%d yz=%d xz=%d\n",
		metrics.AxisInstances["xy"], metrics.AxisInstances["yz"], metrics.AxisInstances["xz"])
	fmt.Printf("Final instances: %d\n", metrics.FusedInstances)
	fmt.Printf("Mean instance size: %.1f voxels (stddev %.1f)\n",
		metrics.MeanInstanceSize, metrics.InstanceSizeStdDev)
	fmt.Printf("Foreground fraction: %.3f\n", metrics.ForegroundFraction)
	fmt.Printf("Majority-vote fraction: %.3f\n", metrics.MajorityFraction)

	// Save results
	if err := maskio.SaveStack(*outputDir, volume, *format); err != nil {
		log.Fatalf("Failed to save output slices: %v", err)
	}
	fmt.Printf("Final volume slices saved to: %s\n", *outputDir)

	if *rawPath != "" {
		if err := maskio.SaveVolumeRaw(*rawPath, volume); err != nil {
			log.Fatalf("Failed to save raw volume: %v", err)
		}
		fmt.Printf("Raw volume saved to: %s\n", *rawPath)
	}

	if cfg.Output.SaveAxisVolumes {
		for _, axis := range models.Axes {
			dir := filepath.Join(*outputDir, fmt.Sprintf("axis_%s", axis))
			if err := maskio.SaveStack(dir, reconstructor.AxisVolume(axis), *format); err != nil {
				log.Printf("Warning: failed to save %s axis volume: %v", axis, err)
			}
		}
		fmt.Println("Intermediate axis volumes saved alongside the final result")
	}
}
