package l1points

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Format{"": "", "KITTI": FormatKITTI, "asc": FormatASC} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pcd")
	assert.Error(t, err)
}

func TestReadWriteFile(t *testing.T) {
	t.Parallel()
	pts := []Point{{X: 1.5, Y: -2.25, Z: 0.125, Intensity: 0.5}, {X: 10, Y: 1, Z: -3}}
	dir := t.TempDir()

	tests := []struct {
		name   string
		path   string
		format Format
	}{
		{"kitti by extension", filepath.Join(dir, "a", "scan.bin"), ""},
		{"asc by extension", filepath.Join(dir, "scan.asc"), ""},
		{"explicit asc", filepath.Join(dir, "scan.txt"), FormatASC},
		{"explicit kitti", filepath.Join(dir, "scan.raw"), FormatKITTI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, WriteFile(tt.path, tt.format, pts))
			got, err := ReadFile(tt.path, tt.format)
			require.NoError(t, err)
			assert.Equal(t, pts, got)
		})
	}

	_, err := ReadFile(filepath.Join(dir, "missing.bin"), "")
	assert.Error(t, err)
	assert.Error(t, WriteFile(filepath.Join(dir, "x.pcd"), "pcd", pts))
}
