package raster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGrid(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dkm_gvd_ks1.asc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const smallGrid = `ncols 3
nrows 2
xllcorner 1000
yllcorner 2000
cellsize 100
NODATA_value -9999
10 20 30
40 -9999 60
`

func TestReadASCII(t *testing.T) {
	g, err := ReadASCII(writeGrid(t, smallGrid))
	require.NoError(t, err)

	assert.Equal(t, 3, g.NCols)
	assert.Equal(t, 2, g.NRows)

	minX, minY, maxX, maxY := g.Bounds()
	assert.InDelta(t, 1000.0, minX, 1e-9)
	assert.InDelta(t, 2000.0, minY, 1e-9)
	assert.InDelta(t, 1300.0, maxX, 1e-9)
	assert.InDelta(t, 2200.0, maxY, 1e-9)

	// Top-left cell covers the north-west corner.
	v, ok := g.At(1050, 2150)
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)

	// Bottom row, last column.
	v, ok = g.At(1250, 2050)
	require.True(t, ok)
	assert.InDelta(t, 60.0, v, 1e-9)

	// Nodata cell reads as absent.
	_, ok = g.At(1150, 2050)
	assert.False(t, ok)

	// Outside the extent.
	_, ok = g.At(900, 2050)
	assert.False(t, ok)
}

func TestReadASCII_CenterOrigin(t *testing.T) {
	g, err := ReadASCII(writeGrid(t, `ncols 1
nrows 1
xllcenter 1050
yllcenter 2050
cellsize 100
5
`))
	require.NoError(t, err)

	minX, minY, _, _ := g.Bounds()
	assert.InDelta(t, 1000.0, minX, 1e-9)
	assert.InDelta(t, 2000.0, minY, 1e-9)

	v, ok := g.At(1050, 2050)
	require.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-9)
}

func TestReadASCII_Truncated(t *testing.T) {
	_, err := ReadASCII(writeGrid(t, `ncols 2
nrows 2
xllcorner 0
yllcorner 0
cellsize 10
1 2 3
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4 values")
}

func TestCellCenter(t *testing.T) {
	g, err := ReadASCII(writeGrid(t, smallGrid))
	require.NoError(t, err)

	x, y := g.CellCenter(0, 0)
	assert.InDelta(t, 1050.0, x, 1e-9)
	assert.InDelta(t, 2150.0, y, 1e-9)

	x, y = g.CellCenter(2, 1)
	assert.InDelta(t, 1250.0, x, 1e-9)
	assert.InDelta(t, 2050.0, y, 1e-9)
}
