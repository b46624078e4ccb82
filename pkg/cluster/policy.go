package cluster

import (
	"fmt"
	"strings"
)

// PolicyMode selects how background neighbours exclude a cluster voxel
type PolicyMode int

const (
	// Strict excludes a voxel with any background neighbour
	Strict PolicyMode = iota

	// Tolerant excludes a voxel only when more than MaxBackground of its
	// neighbours are background
	Tolerant
)

// DefaultMaxBackground is the tolerant limit used when none is configured
const DefaultMaxBackground = 2

func (m PolicyMode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Tolerant:
		return "tolerant"
	default:
		return fmt.Sprintf("PolicyMode(%d)", int(m))
	}
}

// ParsePolicyMode converts a configuration string into a PolicyMode
func ParsePolicyMode(s string) (PolicyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return Strict, nil
	case "tolerant":
		return Tolerant, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, s)
	}
}

// BoundaryPolicy is the boundary-adjacency rule applied to every cluster
// member after the partition is complete.
type BoundaryPolicy struct {
	Mode PolicyMode

	// MaxBackground is the number of background neighbours a voxel may have
	// under the tolerant mode. Ignored by the strict mode.
	MaxBackground int
}

// StrictPolicy returns the "any background neighbour" rule
func StrictPolicy() BoundaryPolicy {
	return BoundaryPolicy{Mode: Strict}
}

// TolerantPolicy returns the "more than k background neighbours" rule
func TolerantPolicy(k int) BoundaryPolicy {
	return BoundaryPolicy{Mode: Tolerant, MaxBackground: k}
}

// Validate checks the policy parameters
func (p BoundaryPolicy) Validate() error {
	switch p.Mode {
	case Strict:
		return nil
	case Tolerant:
		if p.MaxBackground < 0 || p.MaxBackground > 26 {
			return fmt.Errorf("%w: tolerant limit %d outside [0, 26]", ErrInvalidPolicy, p.MaxBackground)
		}
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, p.Mode)
	}
}

// limit is the largest background-neighbour count a kept voxel may have
func (p BoundaryPolicy) limit() int {
	if p.Mode == Tolerant {
		return p.MaxBackground
	}
	return 0
}

// Excludes reports whether a voxel with the given number of background
// neighbours is dropped by the policy.
func (p BoundaryPolicy) Excludes(background int) bool {
	return background > p.limit()
}

func (p BoundaryPolicy) String() string {
	if p.Mode == Tolerant {
		return fmt.Sprintf("tolerant(>%d)", p.MaxBackground)
	}
	return p.Mode.String()
}
