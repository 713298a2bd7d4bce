package jpgisdem

import "github.com/paulmach/orb"

// NoData is the sentinel JPGIS DEM files use for cells without a valid
// elevation, such as sea and inland water.
const NoData = -9999

// A Tile is a single DEM grid parsed from one XML document.
type Tile struct {
	Name    string
	Mesh    MeshCode
	Type    string
	CRS     CRS
	Bounds  orb.Bound
	Width   int
	Height  int
	Samples []float32 // Row-major, north to south.
}

// PixelSize returns the width and height of t's cells in degrees.
func (t *Tile) PixelSize() (float64, float64) {
	return (t.Bounds.Max.Lon() - t.Bounds.Min.Lon()) / float64(t.Width),
		(t.Bounds.Max.Lat() - t.Bounds.Min.Lat()) / float64(t.Height)
}

// Geotransform returns t's geotransform.
func (t *Tile) Geotransform() Geotransform {
	pixelWidth, pixelHeight := t.PixelSize()
	return Geotransform{
		OriginX:     t.Bounds.Min.Lon(),
		OriginY:     t.Bounds.Max.Lat(),
		PixelWidth:  pixelWidth,
		PixelHeight: pixelHeight,
	}
}

// ValidSampleCount returns the number of samples in t that are not NoData.
func (t *Tile) ValidSampleCount() int {
	n := 0
	for _, sample := range t.Samples {
		if sample != NoData {
			n++
		}
	}
	return n
}
