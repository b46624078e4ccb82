// Package mask stacks per-cluster binary masks into a single 4D volume.
package mask

import (
	"fmt"

	"mriclusterqc/internal/models"
	"mriclusterqc/pkg/cluster"
	"mriclusterqc/pkg/nifti"
)

// Stack holds one binary channel per cluster record. Channels are stored
// one after another, so the channel index is the slowest-varying axis.
type Stack struct {
	Dims     models.Dims
	Channels int
	Data     []uint8
}

// Assemble builds one channel per record, in record order. It returns nil
// when there are no records.
func Assemble(dims models.Dims, records []cluster.Record) (*Stack, error) {
	if len(records) == 0 {
		return nil, nil
	}
	plane := dims.Len()
	s := &Stack{
		Dims:     dims,
		Channels: len(records),
		Data:     make([]uint8, plane*len(records)),
	}
	for ch, rec := range records {
		channel := s.Channel(ch)
		for _, c := range rec.Voxels {
			if !dims.Contains(c) {
				return nil, fmt.Errorf("cluster %d voxel %v outside volume %dx%dx%d",
					rec.Index, c, dims.X, dims.Y, dims.Z)
			}
			channel[dims.Index(c)] = 1
		}
	}
	return s, nil
}

// Channel returns the mask of channel ch
func (s *Stack) Channel(ch int) []uint8 {
	plane := s.Dims.Len()
	return s.Data[ch*plane : (ch+1)*plane]
}

// Save writes the stack as a 4D uint8 NIfTI image with the spatial
// metadata of geometry. Saving a nil stack does nothing.
func (s *Stack) Save(path string, geometry nifti.Header) error {
	if s == nil {
		return nil
	}
	h, err := nifti.NewHeader(geometry, []int{s.Dims.X, s.Dims.Y, s.Dims.Z, s.Channels}, nifti.DTUint8)
	if err != nil {
		return fmt.Errorf("failed to build mask header: %w", err)
	}
	h.CalMin = 0
	h.CalMax = 1
	if err := nifti.WriteFile(path, h, s.Data); err != nil {
		return fmt.Errorf("failed to write mask volume: %w", err)
	}
	return nil
}
