package jpgisdem

import (
	"fmt"
	"io/fs"
	"slices"
)

// Pixel sizes in degrees of the GSI DEM products. DEM5 tiles have 0.2 second
// cells and DEM10 tiles 0.4 second cells.
const (
	DEM5PixelSize  = 1.0 / 18000
	DEM10PixelSize = 1.0 / 9000
)

// NewMeshTileSet returns a GeoTIFFTileSet of JGD2011 DEM10 tiles named
// <secondary mesh code>.tif in fsys, as written by the batch command.
func NewMeshTileSet(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFTileSet, error) {
	return NewGeoTIFFTileSet(slices.Concat(
		[]GeoTIFFTileSetOption{
			WithFS(fsys),
			WithCRS(JGD2011),
			WithScale(DEM10PixelSize, DEM10PixelSize),
			WithMeshFunc(SecondaryMesh),
			WithMeshFilenameFunc(MeshFilename),
		},
		options,
	)...)
}

// MeshFilename returns the filename of the tile for mesh.
func MeshFilename(mesh MeshCode) string {
	return fmt.Sprintf("%d.tif", mesh)
}
