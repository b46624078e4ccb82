// Package report writes the per-cluster summary table and the run record.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mriclusterqc/pkg/cluster"
)

// Header is the first line of the cluster table
const Header = "Cluster_Index\tN_Voxels\tCenter_Coordinate"

const (
	// MaskFile is the name of the stacked cluster mask volume
	MaskFile = "4dClusters.nii.gz"

	// MultiplierFile holds the standard-deviation multiplier actually used
	MultiplierFile = "voxel_thr_used.txt"

	// RunFile holds the YAML run record
	RunFile = "cluster_run.yaml"
)

// TableFile returns the table file name for a multiplier and minimum size
func TableFile(multiplier float64, minSize int) string {
	return fmt.Sprintf("4dClusters_vox%s_clust%d.tsv", FormatMultiplier(multiplier), minSize)
}

// FormatMultiplier prints k with the shortest exact representation, always
// keeping one decimal place ("2" prints as "2.0").
func FormatMultiplier(k float64) string {
	s := strconv.FormatFloat(k, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// WriteTSV writes the cluster table. Nothing is written for an empty record
// list.
func WriteTSV(w io.Writer, records []cluster.Record) error {
	if len(records) == 0 {
		return nil
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Header)
	for _, r := range records {
		fmt.Fprintf(bw, "%d\t%d\t%s\n", r.Index, r.Count, r.Centroid)
	}
	return bw.Flush()
}

// SaveTSV writes the cluster table to path; no file is created for an empty
// record list.
func SaveTSV(path string, records []cluster.Record) error {
	if len(records) == 0 {
		return nil
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer file.Close()

	if err := WriteTSV(file, records); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return file.Close()
}

// SaveMultiplier records the effective multiplier in dir
func SaveMultiplier(dir string, k float64) error {
	path := filepath.Join(dir, MultiplierFile)
	if err := os.WriteFile(path, []byte(FormatMultiplier(k)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write multiplier record: %w", err)
	}
	return nil
}

// ClusterSummary is one cluster line of the run record
type ClusterSummary struct {
	Index    int    `yaml:"index"`
	Source   int    `yaml:"source"`
	Voxels   int    `yaml:"voxels"`
	Centroid [3]int `yaml:"centroid,flow"`
}

// RunRecord describes one invocation for later review
type RunRecord struct {
	RunID               string           `yaml:"runId"`
	Input               string           `yaml:"input"`
	Started             time.Time        `yaml:"started"`
	Duration            string           `yaml:"duration"`
	RequestedMultiplier float64          `yaml:"requestedMultiplier"`
	EffectiveMultiplier float64          `yaml:"effectiveMultiplier"`
	Threshold           float64          `yaml:"threshold"`
	MinClusterSize      int              `yaml:"minClusterSize"`
	Policy              string           `yaml:"policy"`
	FlaggedVoxels       int              `yaml:"flaggedVoxels"`
	DiscoveredClusters  int              `yaml:"discoveredClusters"`
	Clusters            []ClusterSummary `yaml:"clusters"`
}

// Summaries converts filter records into run-record entries
func Summaries(records []cluster.Record) []ClusterSummary {
	out := make([]ClusterSummary, len(records))
	for i, r := range records {
		out[i] = ClusterSummary{
			Index:    r.Index,
			Source:   r.Source,
			Voxels:   r.Count,
			Centroid: [3]int{r.Centroid.X, r.Centroid.Y, r.Centroid.Z},
		}
	}
	return out
}

// Save writes the run record as YAML
func (r *RunRecord) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshaling run record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing run record: %w", err)
	}
	return nil
}

// LoadRunRecord reads a run record written by Save
func LoadRunRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r RunRecord
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("error parsing run record: %w", err)
	}
	return &r, nil
}
