// Package raster reads per-layer infiltration grids and samples them against
// site geometries. Grids are exchanged as ESRI ASCII grids (mm/year, with a
// nodata sentinel) named <region>_gvd_<layer>.asc.
package raster

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Grid is one in-memory raster surface. Values are stored row-major with
// row 0 at the northern edge, matching the ASCII grid layout.
type Grid struct {
	NCols    int
	NRows    int
	XLL      float64 // x of the lower-left corner
	YLL      float64 // y of the lower-left corner
	CellSize float64
	NoData   float64

	hasNoData bool
	values    []float64
}

// ReadASCII parses an ESRI ASCII grid file. Both the corner and center forms
// of the origin keys are accepted; nodata_value is optional.
func ReadASCII(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

	g := &Grid{}
	var xCenter, yCenter bool

	// Header: key/value pairs until the first purely numeric token.
	var pending string
	for {
		tok, ok := next()
		if !ok {
			return nil, eris.Errorf("raster: %s: truncated header", path)
		}
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			pending = tok
			break
		}
		val, ok := next()
		if !ok {
			return nil, eris.Errorf("raster: %s: header key %q without value", path, tok)
		}
		fv, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: %s: header %s", path, tok)
		}
		switch strings.ToLower(tok) {
		case "ncols":
			g.NCols = int(fv)
		case "nrows":
			g.NRows = int(fv)
		case "xllcorner":
			g.XLL = fv
		case "yllcorner":
			g.YLL = fv
		case "xllcenter":
			g.XLL = fv
			xCenter = true
		case "yllcenter":
			g.YLL = fv
			yCenter = true
		case "cellsize":
			g.CellSize = fv
		case "nodata_value":
			g.NoData = fv
			g.hasNoData = true
		default:
			return nil, eris.Errorf("raster: %s: unknown header key %q", path, tok)
		}
	}

	if g.NCols <= 0 || g.NRows <= 0 || g.CellSize <= 0 {
		return nil, eris.Errorf("raster: %s: invalid dimensions %dx%d cell %g", path, g.NCols, g.NRows, g.CellSize)
	}
	if xCenter {
		g.XLL -= g.CellSize / 2
	}
	if yCenter {
		g.YLL -= g.CellSize / 2
	}

	n := g.NCols * g.NRows
	g.values = make([]float64, 0, n)
	v, err := strconv.ParseFloat(pending, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s: first value", path)
	}
	g.values = append(g.values, v)
	for len(g.values) < n {
		tok, ok := next()
		if !ok {
			return nil, eris.Errorf("raster: %s: expected %d values, got %d", path, n, len(g.values))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: %s: value %d", path, len(g.values))
		}
		g.values = append(g.values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", path)
	}

	return g, nil
}

// Bounds returns the grid extent (min x, min y, max x, max y).
func (g *Grid) Bounds() (float64, float64, float64, float64) {
	return g.XLL, g.YLL,
		g.XLL + float64(g.NCols)*g.CellSize,
		g.YLL + float64(g.NRows)*g.CellSize
}

// At samples the raw value covering point (x, y). The second return is false
// when the point falls outside the grid or on a nodata cell.
func (g *Grid) At(x, y float64) (float64, bool) {
	col := int(math.Floor((x - g.XLL) / g.CellSize))
	row := g.NRows - 1 - int(math.Floor((y-g.YLL)/g.CellSize))
	return g.at(col, row)
}

func (g *Grid) at(col, row int) (float64, bool) {
	if col < 0 || col >= g.NCols || row < 0 || row >= g.NRows {
		return 0, false
	}
	v := g.values[row*g.NCols+col]
	if g.hasNoData && v == g.NoData {
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// CellCenter returns the coordinate of a cell's center.
func (g *Grid) CellCenter(col, row int) (float64, float64) {
	x := g.XLL + (float64(col)+0.5)*g.CellSize
	y := g.YLL + (float64(g.NRows-1-row)+0.5)*g.CellSize
	return x, y
}
