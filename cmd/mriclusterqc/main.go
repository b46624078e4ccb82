package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"mriclusterqc/internal/logger"
	"mriclusterqc/pkg/config"
	"mriclusterqc/pkg/pipeline"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mriclusterqc", flag.ContinueOnError)

	// Parse command line arguments
	inputFile := fs.String("input", "", "NIfTI volume to inspect (.nii or .nii.gz)")
	configPath := fs.String("config", "", "YAML configuration file")
	outputDir := fs.String("out", "", "Output directory (default: directory of the input)")
	stdMultiplier := fs.Float64("std", 0, "Standard deviations below the mean intensity to flag")
	minSize := fs.Int("min-size", 0, "Discard clusters with this many voxels or fewer")
	policy := fs.String("policy", "", "Boundary policy: strict or tolerant")
	maxBackground := fs.Int("max-bg", 0, "Background neighbours a voxel may have under the tolerant policy")
	overlays := fs.Bool("overlays", false, "Save JPEG overlays through each cluster centre")
	jsonLogs := fs.Bool("json-logs", false, "Log JSON lines instead of console output")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	writeConfig := fs.String("write-config", "", "Write the default configuration to this path and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			return exitError
		}
		return exitOK
	}

	// Validate inputs
	if *inputFile == "" {
		fs.Usage()
		return exitUsage
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.ReadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return exitError
		}
		cfg = loaded
	}

	// Flags given explicitly override the configuration file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "std":
			cfg.Detection.StdMultiplier = *stdMultiplier
		case "min-size":
			cfg.Detection.MinClusterSize = *minSize
		case "policy":
			cfg.Detection.Policy = *policy
		case "max-bg":
			cfg.Detection.MaxBackgroundNeighbors = *maxBackground
		case "overlays":
			cfg.Output.SaveOverlays = *overlays
		case "json-logs":
			cfg.Output.JSONLogs = *jsonLogs
		case "verbose":
			cfg.Output.Verbose = *verbose
		case "out":
			cfg.Output.Dir = *outputDir
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	log := logger.NewConsole(level)
	if cfg.Output.JSONLogs {
		log = logger.New(os.Stderr, level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	params := &pipeline.Params{
		InputFile: *inputFile,
		OutputDir: cfg.Output.Dir,
		Config:    cfg,
	}

	startTime := time.Now()
	res, err := pipeline.New(params, log).Process(ctx)
	if err != nil {
		log.Error("main", err, logger.Fields{"input": *inputFile})
		return exitError
	}

	if res.Empty() {
		fmt.Printf("No clusters found (flagged voxels: %d, discovered clusters: %d)\n", res.Flagged, res.Discovered)
		return exitOK
	}

	fmt.Printf("\nFound %d cluster(s) in %.2f seconds\n", len(res.Records), time.Since(startTime).Seconds())
	if res.Threshold.Adjusted() {
		fmt.Printf("Multiplier relaxed from %.1f to %.1f (threshold %.3f)\n",
			res.Threshold.Requested, res.Threshold.Effective, res.Threshold.Value)
	}
	for _, r := range res.Records {
		fmt.Printf("  %d\t%d voxels\tcentre %s\n", r.Index, r.Count, r.Centroid)
	}
	if res.Outputs.Mask != "" {
		fmt.Printf("Mask volume: %s\n", res.Outputs.Mask)
	}
	if res.Outputs.Table != "" {
		fmt.Printf("Cluster table: %s\n", res.Outputs.Table)
	}
	return exitOK
}
