package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mriclusterqc/internal/models"
	"mriclusterqc/pkg/cluster"
)

func sampleRecords() []cluster.Record {
	return []cluster.Record{
		{Index: 0, Source: 2, Count: 12, Centroid: models.Coordinate{X: 40, Y: 51, Z: 33}},
		{Index: 1, Source: 5, Count: 7, Centroid: models.Coordinate{X: 3, Y: 0, Z: 9}},
	}
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, sampleRecords()))

	want := "Cluster_Index\tN_Voxels\tCenter_Coordinate\n" +
		"0\t12\t[40, 51, 33]\n" +
		"1\t7\t[3, 0, 9]\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteTSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, nil))
	assert.Zero(t, buf.Len())

	path := filepath.Join(t.TempDir(), "empty.tsv")
	require.NoError(t, SaveTSV(path, nil))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestTableFile(t *testing.T) {
	assert.Equal(t, "4dClusters_vox2.0_clust10.tsv", TableFile(2, 10))
	assert.Equal(t, "4dClusters_vox2.5_clust0.tsv", TableFile(2.5, 0))
	assert.Equal(t, "0.9", FormatMultiplier(0.9))
}

func TestSaveMultiplier(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveMultiplier(dir, 1.7))

	data, err := os.ReadFile(filepath.Join(dir, MultiplierFile))
	require.NoError(t, err)
	assert.Equal(t, "1.7\n", string(data))
}

func TestRunRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), RunFile)
	rec := &RunRecord{
		RunID:               "run-1",
		Input:               "sub-01.nii.gz",
		Started:             time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:            "1.2s",
		RequestedMultiplier: 3,
		EffectiveMultiplier: 2.5,
		Threshold:           12.5,
		MinClusterSize:      4,
		Policy:              "strict",
		FlaggedVoxels:       90,
		DiscoveredClusters:  6,
		Clusters:            Summaries(sampleRecords()),
	}
	require.NoError(t, rec.Save(path))

	loaded, err := LoadRunRecord(path)
	require.NoError(t, err)
	assert.True(t, rec.Started.Equal(loaded.Started))
	loaded.Started = rec.Started
	assert.Equal(t, rec, loaded)
	assert.Equal(t, [3]int{40, 51, 33}, loaded.Clusters[0].Centroid)
}
