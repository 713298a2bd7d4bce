package jpgisdem

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

// writeBlockMeshTile writes a 15x12 mosaic of the south-west tertiary meshes
// of secondary to dir and returns its grid.
func writeBlockMeshTile(t *testing.T, dir string, secondary MeshCode) *Grid {
	t.Helper()
	mosaic, err := NewMosaic(BlockTiles(t, secondary, 3, 5, 4))
	assert.NoError(t, err)
	grid := mosaic.Grid()
	assert.NoError(t, grid.WriteGeoTIFFFile(filepath.Join(dir, MeshFilename(secondary)), WithTileSize(16)))
	return grid
}

func blockScale() GeoTIFFTileSetOption {
	return WithScale(tertiaryMeshWidth/5, tertiaryMeshHeight/4)
}

func TestMeshTileSet_Samples(t *testing.T) {
	dir := t.TempDir()
	grid := writeBlockMeshTile(t, dir, 533946)

	tileSet, err := NewMeshTileSet(os.DirFS(dir), blockScale())
	assert.NoError(t, err)
	defer tileSet.Close()
	assert.Equal(t, JGD2011, tileSet.CRS())

	gt := grid.Geotransform()
	coords := []Coord{
		gt.PixelCenter(0, 0),
		gt.PixelCenter(14, 11),
		gt.PixelCenter(7, 3),
		{X: 139.9, Y: 35.7},   // 533947 is missing.
		{X: 0, Y: 0},          // Outside Japan.
		{X: 139.76, Y: 35.74}, // Inside 533946 but outside the grid.
	}
	for range 2 {
		samples, err := tileSet.Samples(t.Context(), coords)
		assert.NoError(t, err)
		assert.Equal(t, len(coords), len(samples))
		assert.Equal(t, 0.0, samples[0])
		assert.Equal(t, 11014.0, samples[1])
		assert.Equal(t, 3007.0, samples[2])
		for i, sample := range samples[3:] {
			assert.True(t, math.IsNaN(sample), "%d", i+3)
		}
	}
}

func TestMeshTileSet_Geotransform(t *testing.T) {
	tileSet, err := NewMeshTileSet(os.DirFS(t.TempDir()))
	assert.NoError(t, err)
	defer tileSet.Close()
	assert.Equal(t, Geotransform{PixelWidth: DEM10PixelSize, PixelHeight: DEM10PixelSize}, tileSet.Geotransform())
}

func TestMeshTileSet_CacheEviction(t *testing.T) {
	dir := t.TempDir()
	grid1 := writeBlockMeshTile(t, dir, 533946)
	grid2 := writeBlockMeshTile(t, dir, 533945)

	tileSet, err := NewMeshTileSet(os.DirFS(dir), blockScale(), WithCacheSize(1))
	assert.NoError(t, err)
	defer tileSet.Close()

	for range 3 {
		for _, grid := range []*Grid{grid1, grid2} {
			samples, err := tileSet.Samples(t.Context(), []Coord{grid.Geotransform().PixelCenter(3, 2)})
			assert.NoError(t, err)
			assert.Equal(t, []float64{2003}, samples)
		}
	}
}

func TestMeshTileSet_Errors(t *testing.T) {
	dir := t.TempDir()
	grid := writeBlockMeshTile(t, dir, 533946)
	coords := []Coord{grid.Geotransform().PixelCenter(0, 0)}

	t.Run("cell_size", func(t *testing.T) {
		tileSet, err := NewMeshTileSet(os.DirFS(dir))
		assert.NoError(t, err)
		defer tileSet.Close()
		_, err = tileSet.Samples(t.Context(), coords)
		assert.IsError(t, err, ErrConsistency)
	})

	t.Run("crs", func(t *testing.T) {
		tileSet, err := NewMeshTileSet(os.DirFS(dir), blockScale(), WithCRS(JGD2000))
		assert.NoError(t, err)
		defer tileSet.Close()
		_, err = tileSet.Samples(t.Context(), coords)
		assert.IsError(t, err, ErrConsistency)
	})

	t.Run("corrupt", func(t *testing.T) {
		corruptDir := t.TempDir()
		WriteTestFile(t, corruptDir, "533946.tif", []byte("not a tiff"))
		tileSet, err := NewMeshTileSet(os.DirFS(corruptDir), blockScale())
		assert.NoError(t, err)
		defer tileSet.Close()
		_, err = tileSet.Samples(t.Context(), coords)
		assert.IsError(t, err, ErrParse)
	})

	t.Run("options", func(t *testing.T) {
		_, err := NewGeoTIFFTileSet(WithFS(os.DirFS(dir)))
		assert.Error(t, err)
		_, err = NewMeshTileSet(os.DirFS(dir), WithScale(0, 0))
		assert.Error(t, err)
	})
}
