package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gpxz/go-jpgisdem"
)

type rasterizeFlags struct {
	jobs        int
	tileSize    int
	compression string
	noData      string
	merge       string
	bigTIFF     bool
}

func (f *rasterizeFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVarP(&f.jobs, "jobs", "j", 1, "number of documents to parse concurrently")
	flags.IntVar(&f.tileSize, "tile-size", 512, "GeoTIFF tile size, a multiple of 16")
	flags.StringVar(&f.compression, "compression", "deflate", "GeoTIFF compression (deflate or none)")
	flags.StringVar(&f.noData, "nodata", jpgisdem.FormatNoData(jpgisdem.NoData), "output nodata value, may be nan")
	flags.StringVar(&f.merge, "merge", jpgisdem.MergeFirst.String(), "overlap policy (first or last)")
	flags.BoolVar(&f.bigTIFF, "bigtiff", false, "always write BigTIFF")
}

func (f *rasterizeFlags) options(logger *zap.Logger) ([]jpgisdem.RasterizeOption, error) {
	if f.jobs < 1 {
		return nil, usageErrorf("--jobs: must be at least 1")
	}
	if f.tileSize <= 0 || f.tileSize%16 != 0 {
		return nil, usageErrorf("--tile-size: %d is not a positive multiple of 16", f.tileSize)
	}
	compression, err := jpgisdem.ParseCompression(f.compression)
	if err != nil {
		return nil, &usageError{err: err}
	}
	noData, err := jpgisdem.ParseNoData(f.noData)
	if err != nil {
		return nil, &usageError{err: err}
	}
	mergePolicy, err := jpgisdem.ParseMergePolicy(f.merge)
	if err != nil {
		return nil, &usageError{err: err}
	}
	return []jpgisdem.RasterizeOption{
		jpgisdem.WithRasterizeLogger(logger),
		jpgisdem.WithReadOptions(jpgisdem.WithJobs(f.jobs)),
		jpgisdem.WithMosaicOptions(
			jpgisdem.WithNoData(noData),
			jpgisdem.WithMergePolicy(mergePolicy),
		),
		jpgisdem.WithWriterOptions(
			jpgisdem.WithTileSize(f.tileSize),
			jpgisdem.WithCompression(compression),
			jpgisdem.WithBigTIFF(f.bigTIFF),
		),
	}, nil
}

func (a *app) newRasterizeCommand() *cobra.Command {
	var flags rasterizeFlags
	var footprints string
	cmd := &cobra.Command{
		Use:     "rasterize SRC DST",
		Aliases: []string{"xml2tif"},
		Short:   "Convert a DEM XML file or zip archive to a GeoTIFF",
		Args:    exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := flags.options(a.logger)
			if err != nil {
				return err
			}
			if footprints != "" {
				options = append(options, jpgisdem.WithFootprints(footprints))
			}
			_, err = jpgisdem.Rasterize(cmd.Context(), args[0], args[1], options...)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&footprints, "footprints", "", "also write tile footprints as GeoJSON to `file`")
	return cmd
}

func (a *app) newBatchCommand() *cobra.Command {
	var flags rasterizeFlags
	var outDir string
	cmd := &cobra.Command{
		Use:   "batch --out-dir DIR SRC...",
		Short: "Convert many inputs to GeoTIFFs named by secondary mesh code",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErrorf("no inputs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				return usageErrorf("--out-dir is required")
			}
			options, err := flags.options(a.logger)
			if err != nil {
				return err
			}
			var errs []error
			for _, src := range args {
				if err := a.batchOne(cmd, src, outDir, options); err != nil {
					a.logger.Error("batch", zap.String("src", src), zap.Error(err))
					errs = append(errs, err)
				}
			}
			if len(errs) > 0 {
				return errs[0]
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "output `directory`")
	return cmd
}

// batchOne rasterizes src into outDir. The output is named by the secondary
// mesh code containing src, or by src's base name if there is none.
func (a *app) batchOne(cmd *cobra.Command, src, outDir string, options []jpgisdem.RasterizeOption) error {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	tempFilename := filepath.Join(outDir, "."+base+".tif")
	grid, err := jpgisdem.Rasterize(cmd.Context(), src, tempFilename, options...)
	if err != nil {
		return err
	}

	filename := filepath.Join(outDir, base+".tif")
	if mesh := grid.Mesh(); mesh != 0 {
		filename = filepath.Join(outDir, jpgisdem.MeshFilename(mesh))
	}
	if err := os.Rename(tempFilename, filename); err != nil {
		return errors.Join(
			&jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: filename, Err: err},
			os.Remove(tempFilename),
		)
	}
	a.logger.Info("wrote", zap.String("src", src), zap.String("filename", filename))
	return nil
}
