package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"mriclusterqc/internal/models"
	"mriclusterqc/pkg/cluster"
)

// clusterColor is the overlay colour for cluster voxels
var clusterColor = color.RGBA{R: 255, G: 32, B: 32, A: 255}

// Viewer renders slices of an intensity volume with detected clusters
// painted on top, for visual review of the detections.
type Viewer struct {
	// volume is the intensity volume being reviewed
	volume *models.Volume

	// peak is the largest intensity, used to normalize slices to 16 bits
	peak float64

	// scale is the integer upscaling factor applied to overlays
	scale int
}

// NewViewer creates a viewer over vol. Overlays are upscaled by scale
// (values below 1 mean no scaling).
func NewViewer(vol *models.Volume, scale int) *Viewer {
	peak := 0.0
	for _, v := range vol.Data {
		if v > peak {
			peak = v
		}
	}
	if scale < 1 {
		scale = 1
	}
	return &Viewer{volume: vol, peak: peak, scale: scale}
}

// planeSize returns the width and height of a slice along axis and the
// number of slices along it
func (v *Viewer) planeSize(axis string) (w, h, n int, err error) {
	d := v.volume.Dims
	switch axis {
	case "x", "X":
		return d.Z, d.Y, d.X, nil
	case "y", "Y":
		return d.X, d.Z, d.Y, nil
	case "z", "Z":
		return d.X, d.Y, d.Z, nil
	default:
		return 0, 0, 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// voxelAt maps a pixel of a slice along axis at position pos to a voxel
func voxelAt(axis string, pos, px, py int) models.Coordinate {
	switch axis {
	case "x", "X":
		return models.Coordinate{X: pos, Y: py, Z: px}
	case "y", "Y":
		return models.Coordinate{X: px, Y: pos, Z: py}
	default:
		return models.Coordinate{X: px, Y: py, Z: pos}
	}
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis, normalized to the volume's peak intensity
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	w, h, n, err := v.planeSize(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	if v.peak <= 0 {
		return img, nil
	}
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			value := v.volume.At(voxelAt(axis, position, px, py)) / v.peak
			img.SetGray16(px, py, color.Gray16{Y: uint16(math.Max(0, math.Min(65535, value*65535)))})
		}
	}
	return img, nil
}

// Overlay renders the slice at position with the voxels that lie in it
// painted in the cluster colour, upscaled by the viewer's scale factor
func (v *Viewer) Overlay(axis string, position int, voxels []models.Coordinate) (image.Image, error) {
	gray, err := v.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	b := gray.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, gray, image.Point{}, draw.Src)

	for _, c := range voxels {
		var px, py, pos int
		switch axis {
		case "x", "X":
			px, py, pos = c.Z, c.Y, c.X
		case "y", "Y":
			px, py, pos = c.X, c.Z, c.Y
		default:
			px, py, pos = c.X, c.Y, c.Z
		}
		if pos == position {
			rgba.SetRGBA(px, py, clusterColor)
		}
	}

	if v.scale == 1 {
		return rgba, nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, b.Dx()*v.scale, b.Dy()*v.scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), rgba, b, draw.Src, nil)
	return scaled, nil
}

// SaveSlice saves an image as a JPEG
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return file.Close()
}

// SaveClusterOverlays writes one axial overlay through the centroid of
// each record and returns the written paths
func (v *Viewer) SaveClusterOverlays(outputDir string, records []cluster.Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(records))
	for _, rec := range records {
		z := rec.Centroid.Z
		img, err := v.Overlay("z", z, rec.Voxels)
		if err != nil {
			return paths, fmt.Errorf("cluster %d: %w", rec.Index, err)
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("cluster_%03d_z%03d.jpg", rec.Index, z))
		if err := SaveSlice(img, filename); err != nil {
			return paths, fmt.Errorf("cluster %d: %w", rec.Index, err)
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
