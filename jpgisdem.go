// Package jpgisdem converts JPGIS/GML DEM XML files published by the
// Geospatial Information Authority of Japan into GeoTIFF rasters.
package jpgisdem

import (
	"context"
	"math"

	"github.com/paulmach/orb"
)

// A Coord is a coordinate. X is the longitude and Y the latitude, both in
// degrees.
type Coord struct {
	X float64
	Y float64
}

// Point returns c as an orb.Point.
func (c Coord) Point() orb.Point {
	return orb.Point{c.X, c.Y}
}

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A Raster is anything that can be sampled at coordinates on a regular grid.
type Raster interface {
	Samples(ctx context.Context, coords []Coord) ([]float64, error)
	Geotransform() Geotransform
}

// A Geotransform is a north-up affine transform from pixel space to
// coordinate space. OriginX and OriginY are the coordinates of the north-west
// corner of the pixel at column 0, row 0.
type Geotransform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// GDAL returns g in GDAL's six parameter form.
func (g Geotransform) GDAL() [6]float64 {
	return [6]float64{g.OriginX, g.PixelWidth, 0, g.OriginY, 0, -g.PixelHeight}
}

// Pixel returns the fractional pixel position of coord.
func (g Geotransform) Pixel(coord Coord) (float64, float64) {
	return (coord.X - g.OriginX) / g.PixelWidth, (g.OriginY - coord.Y) / g.PixelHeight
}

// PixelCenter returns the coordinate of the center of the pixel at c, r.
func (g Geotransform) PixelCenter(c, r int) Coord {
	return Coord{
		X: g.OriginX + (float64(c)+0.5)*g.PixelWidth,
		Y: g.OriginY - (float64(r)+0.5)*g.PixelHeight,
	}
}

// TileCoord returns the integer pixel containing coord.
func (g Geotransform) TileCoord(coord Coord) TileCoord {
	x, y := g.Pixel(coord)
	return TileCoord{
		C: int(math.Floor(x)),
		R: int(math.Floor(y)),
	}
}
