package jpgisdem

import (
	"context"
	"math"
)

// InterpolateBilinear returns the bilinear interpolation of raster at coords,
// each of which is an x, y pair. Samples are located at pixel centers. Missing
// samples are ignored and the weights of the remaining samples renormalized,
// so NaN is only returned if all four surrounding samples are missing.
func InterpolateBilinear(ctx context.Context, raster Raster, coords [][]float64) ([]float64, error) {
	gt := raster.Geotransform()
	rasterCoords := make([]Coord, 4*len(coords))
	weights := make([]float64, 4*len(coords))
	for i, coord := range coords {
		x := (coord[0]-gt.OriginX)/gt.PixelWidth - 0.5
		y := (gt.OriginY-coord[1])/gt.PixelHeight - 0.5
		c0, r0 := math.Floor(x), math.Floor(y)
		dx, dy := x-c0, y-r0
		c, r := int(c0), int(r0)
		rasterCoords[4*i+0] = gt.PixelCenter(c, r)
		rasterCoords[4*i+1] = gt.PixelCenter(c+1, r)
		rasterCoords[4*i+2] = gt.PixelCenter(c, r+1)
		rasterCoords[4*i+3] = gt.PixelCenter(c+1, r+1)
		weights[4*i+0] = (1 - dx) * (1 - dy)
		weights[4*i+1] = dx * (1 - dy)
		weights[4*i+2] = (1 - dx) * dy
		weights[4*i+3] = dx * dy
	}
	samples, err := raster.Samples(ctx, rasterCoords)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(coords))
	for i := range coords {
		var sum, weightSum float64
		for j := 4 * i; j < 4*(i+1); j++ {
			if weights[j] == 0 || math.IsNaN(samples[j]) {
				continue
			}
			sum += samples[j] * weights[j]
			weightSum += weights[j]
		}
		if weightSum == 0 {
			result[i] = math.NaN()
			continue
		}
		result[i] = sum / weightSum
	}
	return result, nil
}
