package jpgisdem

import (
	"context"
	"math"

	"github.com/paulmach/orb"
)

// A Grid is a single georeferenced band of float32 elevations.
type Grid struct {
	width        int
	height       int
	geotransform Geotransform
	crs          CRS
	noData       float32
	data         []float32
}

// NewGrid returns a new Grid with every cell set to noData.
func NewGrid(width, height int, geotransform Geotransform, crs CRS, noData float32) *Grid {
	g := &Grid{
		width:        width,
		height:       height,
		geotransform: geotransform,
		crs:          crs,
		noData:       noData,
		data:         make([]float32, width*height),
	}
	for i := range g.data {
		g.data[i] = noData
	}
	return g
}

func (g *Grid) Width() int                 { return g.width }
func (g *Grid) Height() int                { return g.height }
func (g *Grid) Geotransform() Geotransform { return g.geotransform }
func (g *Grid) CRS() CRS                   { return g.crs }
func (g *Grid) NoData() float32            { return g.noData }

// Data returns g's row-major samples. The slice is shared with g.
func (g *Grid) Data() []float32 {
	return g.data
}

// At returns the sample at c, r.
func (g *Grid) At(c, r int) float32 {
	return g.data[r*g.width+c]
}

// Set sets the sample at c, r.
func (g *Grid) Set(c, r int, value float32) {
	g.data[r*g.width+c] = value
}

// IsNoData returns whether value is g's nodata value.
func (g *Grid) IsNoData(value float32) bool {
	return isNoData(value, g.noData)
}

// Bounds returns g's extent.
func (g *Grid) Bounds() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.geotransform.OriginX, g.geotransform.OriginY - float64(g.height)*g.geotransform.PixelHeight},
		Max: orb.Point{g.geotransform.OriginX + float64(g.width)*g.geotransform.PixelWidth, g.geotransform.OriginY},
	}
}

// Mesh returns the secondary mesh that contains all of g, or zero if g spans
// several secondary meshes.
func (g *Grid) Mesh() MeshCode {
	return ContainingSecondaryMesh(g.Bounds())
}

// ValidSamples returns all samples that are not nodata.
func (g *Grid) ValidSamples() []float64 {
	samples := make([]float64, 0, len(g.data))
	for _, sample := range g.data {
		if !g.IsNoData(sample) {
			samples = append(samples, float64(sample))
		}
	}
	return samples
}

// Samples returns the nearest samples at coords. Nodata and coordinates
// outside g are returned as NaN.
func (g *Grid) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	for i, coord := range coords {
		tileCoord := g.geotransform.TileCoord(coord)
		if tileCoord.C < 0 || g.width <= tileCoord.C || tileCoord.R < 0 || g.height <= tileCoord.R {
			samples[i] = math.NaN()
			continue
		}
		sample := g.At(tileCoord.C, tileCoord.R)
		if g.IsNoData(sample) {
			samples[i] = math.NaN()
			continue
		}
		samples[i] = float64(sample)
	}
	return samples, nil
}

func isNoData(value, noData float32) bool {
	if math.IsNaN(float64(noData)) {
		return math.IsNaN(float64(value))
	}
	return value == noData
}
