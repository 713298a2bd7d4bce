package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/gpxz/go-jpgisdem"
)

// readGrid reads the GeoTIFF filename.
func readGrid(ctx context.Context, filename string) (*jpgisdem.GeoTIFFTile, *jpgisdem.Grid, error) {
	geoTIFFTile, err := jpgisdem.NewGeoTIFFTile(os.DirFS(filepath.Dir(filename)), filepath.Base(filename))
	if err != nil {
		return nil, nil, err
	}
	defer geoTIFFTile.Close()
	grid, err := geoTIFFTile.ReadGrid(ctx)
	if err != nil {
		return nil, nil, &jpgisdem.Error{Kind: jpgisdem.ErrParse, Name: filename, Err: err}
	}
	return geoTIFFTile, grid, nil
}

func (a *app) newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info TIF",
		Short: "Print information about a GeoTIFF",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			geoTIFFTile, grid, err := readGrid(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			gt := grid.Geotransform()
			w := a.stdout
			fmt.Fprintf(w, "size: %dx%d\n", grid.Width(), grid.Height())
			fmt.Fprintf(w, "crs: %s\n", grid.CRS())
			fmt.Fprintf(w, "origin: %.9f, %.9f\n", gt.OriginX, gt.OriginY)
			fmt.Fprintf(w, "pixel size: %.12g, %.12g\n", gt.PixelWidth, gt.PixelHeight)
			fmt.Fprintf(w, "compression: %s\n", geoTIFFTile.Compression())
			if noData, ok := geoTIFFTile.NoData(); ok {
				fmt.Fprintf(w, "nodata: %s\n", jpgisdem.FormatNoData(noData))
			}
			if mesh := grid.Mesh(); mesh != 0 {
				fmt.Fprintf(w, "mesh: %s\n", mesh)
			}
			validSamples := grid.ValidSamples()
			fmt.Fprintf(w, "valid: %d\n", len(validSamples))
			if len(validSamples) > 0 {
				fmt.Fprintf(w, "min: %g\n", floats.Min(validSamples))
				fmt.Fprintf(w, "max: %g\n", floats.Max(validSamples))
				fmt.Fprintf(w, "mean: %g\n", floats.Sum(validSamples)/float64(len(validSamples)))
			}
			return nil
		},
	}
}

func (a *app) newSampleCommand() *cobra.Command {
	var dir string
	var wgs84 bool
	cmd := &cobra.Command{
		Use:   "sample --dir DIR LAT LON",
		Short: "Print the interpolated elevation at a point",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return usageErrorf("--dir is required")
			}
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return &usageError{err: err}
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return &usageError{err: err}
			}

			fsys := os.DirFS(dir)
			options, err := tileSetOptions(fsys, dir)
			if err != nil {
				return err
			}
			elevationService, err := jpgisdem.NewElevationService(fsys, options...)
			if err != nil {
				return err
			}
			defer elevationService.Close()

			coords := [][]float64{{lon, lat}}
			var elevations []float64
			if wgs84 {
				elevations, err = elevationService.ElevationWGS84(cmd.Context(), coords)
			} else {
				elevations, err = elevationService.Elevation(cmd.Context(), coords)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, strconv.FormatFloat(elevations[0], 'f', -1, 64))
			return err
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "`directory` of mesh GeoTIFFs written by batch")
	cmd.Flags().BoolVar(&wgs84, "wgs84", false, "LAT and LON are WGS84")
	return cmd
}

// tileSetOptions returns the options for the tiles in fsys, taking the CRS
// and pixel size from the first tile.
func tileSetOptions(fsys fs.FS, dir string) ([]jpgisdem.GeoTIFFTileSetOption, error) {
	filenames, err := fs.Glob(fsys, "*.tif")
	if err != nil {
		return nil, err
	}
	if len(filenames) == 0 {
		return nil, &jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: dir, Err: fs.ErrNotExist}
	}
	geoTIFFTile, err := jpgisdem.NewGeoTIFFTile(fsys, filenames[0])
	if err != nil {
		return nil, err
	}
	defer geoTIFFTile.Close()
	gt := geoTIFFTile.Geotransform()
	options := []jpgisdem.GeoTIFFTileSetOption{
		jpgisdem.WithScale(gt.PixelWidth, gt.PixelHeight),
	}
	if epsg, ok := geoTIFFTile.EPSG(); ok {
		options = append(options, jpgisdem.WithCRS(jpgisdem.CRSFromEPSG(epsg)))
	}
	return options, nil
}

func (a *app) newPreviewCommand() *cobra.Command {
	var size uint
	cmd := &cobra.Command{
		Use:   "preview TIF PNG",
		Short: "Write a grayscale PNG preview of a GeoTIFF",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if size == 0 {
				return usageErrorf("--size: must be positive")
			}
			_, grid, err := readGrid(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			img := resize.Thumbnail(size, size, previewImage(grid), resize.MitchellNetravali)
			return writePNG(args[1], img)
		},
	}
	cmd.Flags().UintVarP(&size, "size", "s", 512, "maximum width and height in pixels")
	return cmd
}

// previewImage returns grid as a grayscale image stretched between its
// minimum and maximum. Nodata is black.
func previewImage(grid *jpgisdem.Grid) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, grid.Width(), grid.Height()))
	validSamples := grid.ValidSamples()
	if len(validSamples) == 0 {
		return img
	}
	low, high := floats.Min(validSamples), floats.Max(validSamples)
	scale := 0.0
	if high > low {
		scale = (math.MaxUint16 - 1) / (high - low)
	}
	for r := range grid.Height() {
		for c := range grid.Width() {
			sample := grid.At(c, r)
			if grid.IsNoData(sample) {
				continue
			}
			img.SetGray16(c, r, color.Gray16{Y: uint16(1 + (float64(sample)-low)*scale)})
		}
	}
	return img
}

// writePNG atomically writes img to filename.
func writePNG(filename string, img image.Image) (err error) {
	tempFilename := filepath.Join(filepath.Dir(filename), "."+filepath.Base(filename)+"."+uuid.NewString()+".tmp")
	file, err := os.Create(tempFilename)
	if err != nil {
		return &jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: filename, Err: err}
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tempFilename)
		}
	}()
	if err := png.Encode(file, img); err != nil {
		return &jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: filename, Err: err}
	}
	if err := file.Close(); err != nil {
		return &jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: filename, Err: err}
	}
	if err := os.Rename(tempFilename, filename); err != nil {
		return &jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: filename, Err: err}
	}
	return nil
}
