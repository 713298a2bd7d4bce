package jpgisdem

import (
	"context"
	"errors"
	"os"
	"slices"

	"go.uber.org/zap"
)

// A RasterizeOption sets an option on Rasterize.
type RasterizeOption func(*rasterizer)

type rasterizer struct {
	readOptions        []ReadOption
	mosaicOptions      []MosaicOption
	writerOptions      []GeoTIFFWriterOption
	footprintsFilename string
	logger             *zap.Logger
}

// WithReadOptions sets the options used to read the input.
func WithReadOptions(readOptions ...ReadOption) RasterizeOption {
	return func(r *rasterizer) {
		r.readOptions = append(r.readOptions, readOptions...)
	}
}

// WithMosaicOptions sets the options used to compose the tiles.
func WithMosaicOptions(mosaicOptions ...MosaicOption) RasterizeOption {
	return func(r *rasterizer) {
		r.mosaicOptions = append(r.mosaicOptions, mosaicOptions...)
	}
}

// WithWriterOptions sets the options used to write the GeoTIFF.
func WithWriterOptions(writerOptions ...GeoTIFFWriterOption) RasterizeOption {
	return func(r *rasterizer) {
		r.writerOptions = append(r.writerOptions, writerOptions...)
	}
}

// WithFootprints also writes the bounds of every input tile as GeoJSON to
// filename.
func WithFootprints(filename string) RasterizeOption {
	return func(r *rasterizer) {
		r.footprintsFilename = filename
	}
}

// WithRasterizeLogger sets the logger used by every stage.
func WithRasterizeLogger(logger *zap.Logger) RasterizeOption {
	return func(r *rasterizer) {
		r.logger = logger
	}
}

// Rasterize converts the XML document or zip archive src into the GeoTIFF
// dst and returns the composed grid. dst is only created if the conversion
// succeeds.
func Rasterize(ctx context.Context, src, dst string, options ...RasterizeOption) (*Grid, error) {
	r := &rasterizer{
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(r)
	}

	grid, err := r.rasterize(ctx, src, dst)
	conversions.WithLabelValues(conversionResult(err)).Inc()
	if err != nil {
		r.logger.Debug("rasterize", zap.String("src", src), zap.Error(err))
		return nil, err
	}
	return grid, nil
}

func (r *rasterizer) rasterize(ctx context.Context, src, dst string) (*Grid, error) {
	tiles, err := ReadTiles(ctx, src, slices.Concat([]ReadOption{WithReadLogger(r.logger)}, r.readOptions)...)
	if err != nil {
		return nil, err
	}

	mosaic, err := NewMosaic(tiles, slices.Concat([]MosaicOption{WithMosaicLogger(r.logger)}, r.mosaicOptions)...)
	if err != nil {
		return nil, err
	}

	// Footprints go to a temporary file that is renamed once dst is written.
	var footprintsTempFilename string
	if r.footprintsFilename != "" {
		footprints, err := mosaic.Footprints().MarshalJSON()
		if err != nil {
			return nil, ioError(r.footprintsFilename, err)
		}
		footprintsTempFilename = tempFilename(r.footprintsFilename)
		defer func() {
			_ = os.Remove(footprintsTempFilename)
		}()
		if err := os.WriteFile(footprintsTempFilename, footprints, 0o666); err != nil {
			return nil, ioError(r.footprintsFilename, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, ioError(src, err)
	}

	grid := mosaic.Grid()
	if err := grid.WriteGeoTIFFFile(dst, slices.Concat([]GeoTIFFWriterOption{WithWriterLogger(r.logger)}, r.writerOptions)...); err != nil {
		return nil, err
	}

	if footprintsTempFilename != "" {
		if err := os.Rename(footprintsTempFilename, r.footprintsFilename); err != nil {
			return nil, ioError(r.footprintsFilename, err)
		}
	}

	width, height := mosaic.Size()
	r.logger.Info("rasterized",
		zap.String("src", src),
		zap.String("dst", dst),
		zap.Int("tiles", len(tiles)),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Stringer("crs", mosaic.CRS()),
		zap.Stringer("mesh", mosaic.Mesh()),
	)
	return grid, nil
}

// conversionResult returns the metric label for err.
func conversionResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrConsistency):
		return "consistency_error"
	case errors.Is(err, ErrIO):
		return "io_error"
	default:
		return "error"
	}
}
