package jpgisdem

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/twpayne/go-proj/v11"
)

// An ElevationService returns interpolated elevations from a directory of
// mesh tiles.
type ElevationService struct {
	geoTIFFTileSet *GeoTIFFTileSet
	pj             *proj.PJ
}

// NewElevationService returns a new ElevationService reading mesh tiles from
// fsys.
func NewElevationService(fsys fs.FS, options ...GeoTIFFTileSetOption) (*ElevationService, error) {
	geoTIFFTileSet, err := NewMeshTileSet(fsys, options...)
	if err != nil {
		return nil, err
	}
	pj, err := proj.NewCRSToCRS("epsg:4326", fmt.Sprintf("epsg:%d", geoTIFFTileSet.CRS().EPSG), nil)
	if err != nil {
		return nil, err
	}
	return &ElevationService{
		geoTIFFTileSet: geoTIFFTileSet,
		pj:             pj,
	}, nil
}

// Close closes all open tiles.
func (s *ElevationService) Close() {
	s.geoTIFFTileSet.Close()
}

// Elevation returns the elevations at coords, which are longitude, latitude
// pairs in the tiles' CRS.
func (s *ElevationService) Elevation(ctx context.Context, coords [][]float64) ([]float64, error) {
	return InterpolateBilinear(ctx, s.geoTIFFTileSet, coords)
}

// ElevationWGS84 returns the elevations at coords, which are longitude,
// latitude pairs in WGS84.
func (s *ElevationService) ElevationWGS84(ctx context.Context, coordsWGS84 [][]float64) ([]float64, error) {
	coords := cloneCoords(coordsWGS84)
	flipCoords(coords)
	if err := s.pj.ForwardFloat64Slices(coords); err != nil {
		return nil, err
	}
	flipCoords(coords)
	return s.Elevation(ctx, coords)
}

func cloneCoords(coords [][]float64) [][]float64 {
	clonedCoordsFlat := make([]float64, 2*len(coords))
	clonedCoords := make([][]float64, len(coords))
	for i, coord := range coords {
		copy(clonedCoordsFlat[2*i:2*i+2], coord)
		clonedCoords[i] = clonedCoordsFlat[2*i : 2*i+2]
	}
	return clonedCoords
}

func flipCoords(coords [][]float64) {
	for i, coord := range coords {
		coords[i][0], coords[i][1] = coord[1], coord[0]
	}
}
