// Package pipeline runs cluster quality control on one MRI volume: load,
// derive the threshold, detect and filter clusters, then write the mask
// stack, the cluster table, the run record and optional overlays.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mriclusterqc/internal/logger"
	"mriclusterqc/internal/models"
	"mriclusterqc/pkg/cluster"
	"mriclusterqc/pkg/config"
	"mriclusterqc/pkg/mask"
	"mriclusterqc/pkg/nifti"
	"mriclusterqc/pkg/report"
	"mriclusterqc/pkg/threshold"
	"mriclusterqc/pkg/visualization"
	"mriclusterqc/pkg/volume"
)

const component = "pipeline"

// Params holds the inputs of a run
type Params struct {
	// InputFile is the NIfTI image (.nii or .nii.gz) to inspect
	InputFile string

	// OutputDir receives all outputs. Empty means the input's directory.
	OutputDir string

	// Config carries detection, threshold and output settings
	Config *config.Config
}

// Outputs lists the files a run wrote
type Outputs struct {
	Mask       string
	Table      string
	Multiplier string
	RunRecord  string
	Overlays   []string
}

// Result is the outcome of a run. A result without records is a
// successful run that found nothing.
type Result struct {
	RunID      string
	Stats      threshold.Statistics
	Threshold  threshold.Result
	Flagged    int
	Discovered int
	Records    []cluster.Record
	Outputs    Outputs
}

// Empty reports whether no cluster survived filtering
func (r *Result) Empty() bool {
	return len(r.Records) == 0
}

// Pipeline runs cluster detection for a single input
type Pipeline struct {
	params *Params
	log    *logger.Logger
}

// New creates a pipeline. A nil logger discards output.
func New(params *Params, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{params: params, log: log}
}

// Process runs the complete pipeline on the input file
func (p *Pipeline) Process(ctx context.Context) (*Result, error) {
	cfg := p.params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	outDir := p.params.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(p.params.InputFile)
	}

	started := time.Now()
	runID := uuid.NewString()
	log := p.log.With(logger.Fields{"run": runID})

	// Step 1: Load the volume
	log.Info(component, "loading volume", logger.Fields{"input": p.params.InputFile})
	img, err := nifti.Read(p.params.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load volume: %w", err)
	}
	d := img.Volume.Dims
	log.Debug(component, "volume loaded", logger.Fields{"x": d.X, "y": d.Y, "z": d.Z})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Steps 2-5: threshold, detect, prune, filter
	res, err := Detect(ctx, img.Volume, cfg, log)
	if err != nil {
		return nil, err
	}
	res.RunID = runID

	// Nothing past thresholding when the volume had no signal
	if res.Stats.Count == 0 {
		return res, nil
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Step 6: Record the multiplier actually used
	if err := report.SaveMultiplier(outDir, res.Threshold.Effective); err != nil {
		return nil, err
	}
	res.Outputs.Multiplier = filepath.Join(outDir, report.MultiplierFile)

	// Step 7: Mask, table and overlays for the survivors
	if res.Empty() {
		log.Info(component, "no clusters survived filtering", logger.Fields{
			"flagged":    res.Flagged,
			"discovered": res.Discovered,
		})
	} else if err := p.writeOutputs(ctx, outDir, img, cfg, res, log); err != nil {
		return nil, err
	}

	// Step 8: Run record
	pol, _ := cfg.BoundaryPolicy()
	rec := &report.RunRecord{
		RunID:               runID,
		Input:               p.params.InputFile,
		Started:             started.UTC(),
		Duration:            time.Since(started).Round(time.Millisecond).String(),
		RequestedMultiplier: res.Threshold.Requested,
		EffectiveMultiplier: res.Threshold.Effective,
		Threshold:           res.Threshold.Value,
		MinClusterSize:      cfg.Detection.MinClusterSize,
		Policy:              pol.String(),
		FlaggedVoxels:       res.Flagged,
		DiscoveredClusters:  res.Discovered,
		Clusters:            report.Summaries(res.Records),
	}
	res.Outputs.RunRecord = filepath.Join(outDir, report.RunFile)
	if err := rec.Save(res.Outputs.RunRecord); err != nil {
		return nil, err
	}

	log.Info(component, "run complete", logger.Fields{
		"clusters": len(res.Records),
		"elapsed":  time.Since(started).String(),
	})
	return res, nil
}

// writeOutputs saves the mask stack, the table and the overlays
func (p *Pipeline) writeOutputs(ctx context.Context, outDir string, img *nifti.Image, cfg *config.Config, res *Result, log *logger.Logger) error {
	if cfg.Output.SaveMask {
		stack, err := mask.Assemble(img.Volume.Dims, res.Records)
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, report.MaskFile)
		if err := stack.Save(path, img.Header); err != nil {
			return err
		}
		res.Outputs.Mask = path
		log.Info(component, "mask saved", logger.Fields{"path": path, "channels": stack.Channels})
	}

	if cfg.Output.SaveReport {
		path := filepath.Join(outDir, report.TableFile(res.Threshold.Effective, cfg.Detection.MinClusterSize))
		if err := report.SaveTSV(path, res.Records); err != nil {
			return err
		}
		res.Outputs.Table = path
		log.Info(component, "report saved", logger.Fields{"path": path})
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if cfg.Output.SaveOverlays {
		viewer := visualization.NewViewer(img.Volume, cfg.Output.OverlayScale)
		paths, err := viewer.SaveClusterOverlays(filepath.Join(outDir, "cluster_overlays"), res.Records)
		res.Outputs.Overlays = paths
		if err != nil {
			// overlay failures are logged, not returned
			log.Warning(component, "failed to save overlays", logger.Fields{"error": err.Error()})
		}
	}
	return nil
}

// Detect runs thresholding and cluster detection on an in-memory volume.
// A volume without positive voxels yields an empty result, not an error.
func Detect(ctx context.Context, vol *models.Volume, cfg *config.Config, log *logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := cfg.BoundaryPolicy()

	grid, err := volume.FromVolume(vol)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	// Step 2: Global intensity statistics
	stats, err := threshold.Stats(grid)
	if errors.Is(err, threshold.ErrNoSignal) {
		log.Warning(component, "volume has no signal, nothing to cluster", nil)
		res.Threshold = threshold.Result{
			Requested: cfg.Detection.StdMultiplier,
			Effective: cfg.Detection.StdMultiplier,
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Stats = stats

	// Step 3: Threshold, relaxed when it comes out negative
	thr, err := threshold.Adapt(stats, cfg.Detection.StdMultiplier, cfg.ThresholdOptions())
	if err != nil {
		return nil, err
	}
	res.Threshold = thr
	fields := logger.Fields{
		"mean":       stats.Mean,
		"std":        stats.StdDev,
		"threshold":  thr.Value,
		"multiplier": thr.Effective,
	}
	if thr.Adjusted() {
		fields["requested"] = thr.Requested
		log.Warning(component, "multiplier relaxed to keep threshold non-negative", fields)
	} else {
		log.Info(component, "threshold computed", fields)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 4: Cluster discovery and boundary pruning
	engine, err := cluster.NewEngine(cluster.Options{Policy: policy, Workers: cfg.Detection.Workers})
	if err != nil {
		return nil, err
	}
	detection, err := engine.Detect(grid, thr.Value)
	if err != nil {
		return nil, fmt.Errorf("cluster detection failed: %w", err)
	}
	res.Flagged = detection.Flagged
	res.Discovered = len(detection.Clusters)
	log.Info(component, "clusters discovered", logger.Fields{
		"flagged":  res.Flagged,
		"clusters": res.Discovered,
		"policy":   policy.String(),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 5: Size and centroid filtering
	records, err := engine.Filter(detection.Clusters, cfg.Detection.MinClusterSize)
	if err != nil {
		return nil, err
	}
	res.Records = records
	log.Info(component, "clusters filtered", logger.Fields{
		"survivors": len(records),
		"minSize":   cfg.Detection.MinClusterSize,
	})
	return res, nil
}
