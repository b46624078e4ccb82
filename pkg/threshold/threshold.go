// Package threshold derives the low-intensity cutoff from global volume
// statistics: threshold = mean - k*std over the non-background voxels.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoSignal is returned when the volume has no positive voxels
	ErrNoSignal = errors.New("volume has no positive-intensity voxels")

	// ErrInvalidMultiplier is returned for a NaN, infinite or negative multiplier
	ErrInvalidMultiplier = errors.New("invalid standard-deviation multiplier")

	// ErrInvalidOptions is returned for a relaxation step or floor outside
	// the accepted range
	ErrInvalidOptions = errors.New("invalid relaxation options")
)

const (
	// MinStep is the smallest accepted relaxation step
	MinStep = 1e-3

	// MaxSteps bounds the number of relaxations a single Adapt may apply
	MaxSteps = 100000
)

// Source exposes the voxel intensities statistics are computed over
type Source interface {
	Len() int
	At(idx int) float64
}

// Statistics summarizes the positive voxels of a volume
type Statistics struct {
	Mean   float64
	StdDev float64
	Count  int
}

// Compute returns mean - k*std
func (s Statistics) Compute(k float64) float64 {
	return s.Mean - k*s.StdDev
}

// Stats computes the mean and population standard deviation of the strictly
// positive voxels of src.
func Stats(src Source) (Statistics, error) {
	values := make([]float64, 0, src.Len())
	for i := 0; i < src.Len(); i++ {
		if v := src.At(i); v > 0 {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return Statistics{}, ErrNoSignal
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Statistics{Mean: mean, StdDev: std, Count: len(values)}, nil
}

// Options controls adaptive relaxation of the multiplier
type Options struct {
	// Adaptive enables relaxation when the threshold comes out negative
	Adaptive bool

	// Step is subtracted from the multiplier on each relaxation
	Step float64

	// Floor stops relaxation once the multiplier drops below it
	Floor float64
}

// DefaultOptions relaxes by 0.1 down to a multiplier of 1
func DefaultOptions() Options {
	return Options{Adaptive: true, Step: 0.1, Floor: 1}
}

// Result is the threshold actually used and how it was reached
type Result struct {
	// Value is the intensity threshold
	Value float64

	// Requested is the multiplier asked for
	Requested float64

	// Effective is the multiplier that produced Value
	Effective float64

	// Steps is the number of relaxations applied
	Steps int
}

// Adjusted reports whether the multiplier was relaxed
func (r Result) Adjusted() bool {
	return r.Steps > 0
}

// Adapt computes mean - k*std and, when that is negative and relaxation is
// enabled, lowers k by opts.Step while the threshold stays negative and
// k >= opts.Floor. The threshold may still be negative on return; such a
// threshold flags nothing.
func Adapt(s Statistics, requested float64, opts Options) (Result, error) {
	if math.IsNaN(requested) || math.IsInf(requested, 0) || requested < 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidMultiplier, requested)
	}
	if opts.Adaptive {
		if err := opts.Validate(requested); err != nil {
			return Result{}, err
		}
	}

	res := Result{Requested: requested, Effective: requested, Value: s.Compute(requested)}
	if !opts.Adaptive {
		return res, nil
	}
	for res.Value < 0 && res.Effective >= opts.Floor {
		res.Steps++
		// derived from the requested value so repeated steps do not drift
		res.Effective = roundNano(requested - float64(res.Steps)*opts.Step)
		res.Value = s.Compute(res.Effective)
	}
	return res, nil
}

// Validate checks that relaxing from requested down to the floor takes at
// most MaxSteps steps of at least MinStep.
func (o Options) Validate(requested float64) error {
	if math.IsNaN(o.Step) || o.Step < MinStep {
		return fmt.Errorf("%w: step %v is below %v", ErrInvalidOptions, o.Step, MinStep)
	}
	if math.IsNaN(o.Floor) || math.IsInf(o.Floor, 0) || o.Floor < 0 {
		return fmt.Errorf("%w: floor %v must be finite and non-negative", ErrInvalidOptions, o.Floor)
	}
	if (requested-o.Floor)/o.Step > MaxSteps {
		return fmt.Errorf("%w: relaxing %v to %v by %v needs more than %d steps",
			ErrInvalidOptions, requested, o.Floor, o.Step, MaxSteps)
	}
	return nil
}

func roundNano(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
