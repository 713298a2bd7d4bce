package jpgisdem

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

var errShortRead = errors.New("short read")

// A geoTIFFFile is an open file that supports random access.
type geoTIFFFile interface {
	fs.File
	io.ReaderAt
	io.Seeker
}

// A GeoTIFFTile is an open single band float32 GeoTIFF file.
type GeoTIFFTile struct {
	file                   geoTIFFFile
	name                   string
	imageWidth             int
	imageLength            int
	blockWidth             int
	blockLength            int
	blocksAcross           int
	blocksDown             int
	striped                bool
	compression            Compression
	blockOffsets           []uint64
	blockByteCounts        []uint64
	smallestBlockByteCount uint64
	blockSampleCount       int
	tileCacheSizeBytes     int
	blockSamplesCache      *otter.Cache[TileCoord, []float32]
	emptyBlockBytes        atomic.Pointer[[]byte]
	geotransform           Geotransform
	epsg                   int
	noData                 float32
	hasNoData              bool
}

type GeoTIFFTileOption func(*GeoTIFFTile)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// NewGeoTIFFTile opens filename in fsys. Only single band float32 little
// endian GeoTIFFs, tiled or striped, are supported.
func NewGeoTIFFTile(fsys fs.FS, filename string, options ...GeoTIFFTileOption) (*GeoTIFFTile, error) {
	var err error
	ok := false

	f := &GeoTIFFTile{
		name:               filename,
		tileCacheSizeBytes: 128 << 20, // 128MB.
	}
	for _, option := range options {
		option(f)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, ioError(filename, err)
	}
	randomAccessFile, isRandomAccessFile := file.(geoTIFFFile)
	if !isRandomAccessFile {
		_ = file.Close()
		return nil, ioError(filename, errors.ErrUnsupported)
	}
	f.file = randomAccessFile
	defer func() {
		if !ok {
			_ = f.file.Close()
		}
	}()

	byteOrder := make([]byte, 2)
	if _, err := f.file.ReadAt(byteOrder, 0); err != nil {
		return nil, parseErrorf(filename, "unable to read header: %w", err)
	}
	if string(byteOrder) != "II" {
		return nil, parseErrorf(filename, "byte order %q not supported", byteOrder)
	}

	tiffTIFF, err := tiff.Parse(f.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, parseErrorf(filename, "%w", err)
	}

	if len(tiffTIFF.IFDs()) != 1 {
		return nil, parseErrorf(filename, "found %d IFDs, expected 1", len(tiffTIFF.IFDs()))
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, parseErrorf(filename, "%w", err)
	}

	if ifd.BitsPerSample != 32 ||
		ifd.SamplesPerPixel != 1 ||
		(ifd.PlanarConfiguration != 0 && ifd.PlanarConfiguration != 1) ||
		(ifd.Predictor != 0 && ifd.Predictor != 1) ||
		ifd.SampleFormat != sampleFormatFloat {
		return nil, parseErrorf(filename, "only single band float32 images are supported")
	}
	f.compression = Compression(ifd.Compression)
	if f.compression == 0 {
		f.compression = CompressionNone
	}
	switch f.compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionDeflateLegacy:
	default:
		return nil, parseErrorf(filename, "%s not supported", f.compression)
	}

	f.imageWidth = int(ifd.ImageWidth)
	f.imageLength = int(ifd.ImageLength)
	if f.imageWidth == 0 || f.imageLength == 0 {
		return nil, parseErrorf(filename, "empty image")
	}
	switch {
	case ifd.TileWidth != 0 && ifd.TileLength != 0:
		f.blockWidth = int(ifd.TileWidth)
		f.blockLength = int(ifd.TileLength)
		f.blockOffsets = ifd.TileOffsets
		f.blockByteCounts = ifd.TileByteCounts
	case len(ifd.StripOffsets) != 0:
		f.striped = true
		f.blockWidth = f.imageWidth
		f.blockLength = int(ifd.RowsPerStrip)
		if f.blockLength == 0 || f.blockLength > f.imageLength {
			f.blockLength = f.imageLength
		}
		f.blockOffsets = ifd.StripOffsets
		f.blockByteCounts = ifd.StripByteCounts
	default:
		return nil, parseErrorf(filename, "no tiles or strips")
	}
	f.blocksAcross = (f.imageWidth + f.blockWidth - 1) / f.blockWidth
	f.blocksDown = (f.imageLength + f.blockLength - 1) / f.blockLength
	blocksPerImage := f.blocksAcross * f.blocksDown
	if len(f.blockByteCounts) != blocksPerImage || len(f.blockOffsets) != blocksPerImage {
		return nil, parseErrorf(filename, "incorrect number of block byte counts or offsets")
	}
	f.smallestBlockByteCount = slices.Min(f.blockByteCounts)
	f.blockSampleCount = f.blockWidth * f.blockLength

	tileCacheCount := max(f.tileCacheSizeBytes/(4*f.blockSampleCount), 1)
	f.blockSamplesCache, err = otter.New(&otter.Options[TileCoord, []float32]{
		MaximumSize: tileCacheCount,
	})
	if err != nil {
		return nil, err
	}

	if len(ifd.ModelPixelScaleTag) != 3 || len(ifd.ModelTiepointTag) != 6 {
		return nil, parseErrorf(filename, "missing georeferencing")
	}
	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if scaleX <= 0 || scaleY <= 0 {
		return nil, parseErrorf(filename, "invalid pixel scale %gx%g", scaleX, scaleY)
	}
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	f.geotransform = Geotransform{
		OriginX:     x - i*scaleX,
		OriginY:     y + j*scaleY,
		PixelWidth:  scaleX,
		PixelHeight: scaleY,
	}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		parsedGeoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, parseErrorf(filename, "%w", err)
		}
		f.epsg, _ = parsedGeoKeys.EPSG()
	}

	f.noData = float32(math.NaN())
	if s := strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")); s != "" {
		noData, err := ParseNoData(s)
		if err != nil {
			return nil, parseErrorf(filename, "%w", err)
		}
		f.noData = noData
		f.hasNoData = true
	}

	ok = true
	return f, nil
}

func WithTileCacheSize(tileCacheSize int) GeoTIFFTileOption {
	return func(f *GeoTIFFTile) {
		f.tileCacheSizeBytes = tileCacheSize
	}
}

// ParseNoData parses a GDAL_NODATA value.
func ParseNoData(s string) (float32, error) {
	if strings.EqualFold(s, "nan") {
		return float32(math.NaN()), nil
	}
	noData, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid nodata value", s)
	}
	return float32(noData), nil
}

func (f *GeoTIFFTile) Close() error {
	return f.file.Close()
}

func (f *GeoTIFFTile) Width() int                 { return f.imageWidth }
func (f *GeoTIFFTile) Height() int                { return f.imageLength }
func (f *GeoTIFFTile) Geotransform() Geotransform { return f.geotransform }
func (f *GeoTIFFTile) Compression() Compression   { return f.compression }

// EPSG returns the EPSG code from f's GeoKeys.
func (f *GeoTIFFTile) EPSG() (int, bool) {
	return f.epsg, f.epsg != 0
}

// NoData returns f's nodata value, if any.
func (f *GeoTIFFTile) NoData() (float32, bool) {
	return f.noData, f.hasNoData
}

// Sample returns a single sample from f.
func (f *GeoTIFFTile) Sample(ctx context.Context, coord Coord) (float64, error) {
	pixel, ok := f.pixel(coord)
	if !ok {
		return math.NaN(), nil
	}
	switch blockSamples, err := f.getBlockSamplesCached(ctx, f.blockCoord(pixel)); {
	case errors.Is(err, otter.ErrNotFound):
		return math.NaN(), nil
	case err != nil:
		return 0, err
	default:
		return f.blockSample(blockSamples, pixel), nil
	}
}

// Samples returns multiple samples from f. It is significantly faster than
// calling [Sample] for each coordinate.
func (f *GeoTIFFTile) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	pixels := make([]TileCoord, len(coords))

	// Group indexes by block coord.
	indexesByBlockCoord := make(map[TileCoord][]int)
	for index, coord := range coords {
		pixel, ok := f.pixel(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		pixels[index] = pixel
		blockCoord := f.blockCoord(pixel)
		indexesByBlockCoord[blockCoord] = append(indexesByBlockCoord[blockCoord], index)
	}

	// Populate samples one block at a time.
	for blockCoord, indexes := range indexesByBlockCoord {
		switch blockSamples, err := f.getBlockSamplesCached(ctx, blockCoord); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = f.blockSample(blockSamples, pixels[index])
			}
		}
	}

	return samples, nil
}

// ReadGrid reads all of f into a Grid. Files without a nodata value get NaN.
func (f *GeoTIFFTile) ReadGrid(ctx context.Context) (*Grid, error) {
	grid := NewGrid(f.imageWidth, f.imageLength, f.geotransform, CRSFromEPSG(f.epsg), f.noData)
	for r := range f.blocksDown {
		for c := range f.blocksAcross {
			if err := ctx.Err(); err != nil {
				return nil, ioError(f.name, err)
			}
			blockSamples, err := f.getBlockSamplesCached(ctx, TileCoord{C: c, R: r})
			switch {
			case errors.Is(err, otter.ErrNotFound):
				continue
			case err != nil:
				return nil, err
			}
			for y := range min(f.blockRows(r), f.imageLength-r*f.blockLength) {
				row := r*f.blockLength + y
				for x := range min(f.blockWidth, f.imageWidth-c*f.blockWidth) {
					grid.Set(c*f.blockWidth+x, row, blockSamples[y*f.blockWidth+x])
				}
			}
		}
	}
	return grid, nil
}

// getCompressedBlockData returns the compressed data for the block at
// blockCoord. If the block is known to be empty, it returns the error
// otter.ErrNotFound.
func (f *GeoTIFFTile) getCompressedBlockData(blockCoord TileCoord) ([]byte, error) {
	blockIndex := blockCoord.C + f.blocksAcross*blockCoord.R
	blockByteCount := f.blockByteCounts[blockIndex]
	blockOffset := f.blockOffsets[blockIndex]
	compressedData := make([]byte, blockByteCount)
	switch n, err := f.file.ReadAt(compressedData, int64(blockOffset)); {
	case n != int(blockByteCount):
		return nil, errShortRead
	case err != nil && !errors.Is(err, io.EOF):
		return nil, err
	}
	if emptyBlockBytes := f.emptyBlockBytes.Load(); emptyBlockBytes != nil && bytes.Equal(compressedData, *emptyBlockBytes) {
		return nil, otter.ErrNotFound
	}
	return compressedData, nil
}

// decompressBlockData decompresses the block data in compressedData.
func (f *GeoTIFFTile) decompressBlockData(compressedData []byte, byteCount int) ([]byte, error) {
	var r io.Reader
	switch f.compression {
	case CompressionNone:
		r = bytes.NewReader(compressedData)
	case CompressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	default:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	blockData := make([]byte, byteCount)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// decodeBlockData decodes blockData into a full sized block. Rows missing from
// a short final strip are left as nodata.
func (f *GeoTIFFTile) decodeBlockData(blockData []byte) []float32 {
	blockSamples := make([]float32, f.blockSampleCount)
	for i := range blockSamples {
		if 4*(i+1) > len(blockData) {
			blockSamples[i] = f.noData
			continue
		}
		b := binary.LittleEndian.Uint32(blockData[i*4 : (i+1)*4])
		blockSamples[i] = math.Float32frombits(b)
	}
	return blockSamples
}

// getBlockSamples returns the block samples at blockCoord.
func (f *GeoTIFFTile) getBlockSamples(ctx context.Context, blockCoord TileCoord) ([]float32, error) {
	// Retrieve the compressed block data.
	compressedBlockData, err := f.getCompressedBlockData(blockCoord)
	switch {
	case errors.Is(err, otter.ErrNotFound):
		return nil, err
	case err != nil:
		return nil, ioError(f.name, fmt.Errorf("block %d,%d: %w", blockCoord.C, blockCoord.R, err))
	}

	// Decompress the block data and decode it.
	blockData, err := f.decompressBlockData(compressedBlockData, 4*f.blockWidth*f.blockRows(blockCoord.R))
	if err != nil {
		return nil, parseErrorf(f.name, "block %d,%d: %w", blockCoord.C, blockCoord.R, err)
	}
	blockSamples := f.decodeBlockData(blockData)

	// If we do not know what an empty block looks like compressed, check to
	// see if this is an empty block, and, if so, use its bytes to detect
	// empty blocks before they are decompressed. We assume that the empty
	// block is the smallest block.
	if f.hasNoData && f.emptyBlockBytes.Load() == nil && len(compressedBlockData) == int(f.smallestBlockByteCount) {
		isEmptyBlock := true
		for _, sample := range blockSamples {
			if !isNoData(sample, f.noData) {
				isEmptyBlock = false
				break
			}
		}
		if isEmptyBlock {
			f.emptyBlockBytes.Store(&compressedBlockData)
			return nil, otter.ErrNotFound
		}
	}

	return blockSamples, nil
}

// getBlockSamplesCached returns the block at blockCoord using f's cache.
func (f *GeoTIFFTile) getBlockSamplesCached(ctx context.Context, blockCoord TileCoord) ([]float32, error) {
	return f.blockSamplesCache.Get(ctx, blockCoord, otter.LoaderFunc[TileCoord, []float32](f.getBlockSamples))
}

// blockRows returns the number of rows stored in the r-th row of blocks.
// Tiles are always full sized but the final strip may be short.
func (f *GeoTIFFTile) blockRows(r int) int {
	if !f.striped {
		return f.blockLength
	}
	return min(f.blockLength, f.imageLength-r*f.blockLength)
}

// pixel returns the pixel containing coord.
func (f *GeoTIFFTile) pixel(coord Coord) (TileCoord, bool) {
	pixel := f.geotransform.TileCoord(coord)
	if pixel.C < 0 || f.imageWidth <= pixel.C || pixel.R < 0 || f.imageLength <= pixel.R {
		return TileCoord{}, false
	}
	return pixel, true
}

// blockCoord returns the coordinate of the block containing pixel.
func (f *GeoTIFFTile) blockCoord(pixel TileCoord) TileCoord {
	return TileCoord{
		C: pixel.C / f.blockWidth,
		R: pixel.R / f.blockLength,
	}
}

// blockSample returns the sample from blockSamples at pixel.
func (f *GeoTIFFTile) blockSample(blockSamples []float32, pixel TileCoord) float64 {
	sample := blockSamples[pixel.C%f.blockWidth+(pixel.R%f.blockLength)*f.blockWidth]
	if math.IsNaN(float64(sample)) || f.hasNoData && sample == f.noData {
		return math.NaN()
	}
	return float64(sample)
}
