package jpgisdem

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Compression is a TIFF compression scheme.
type Compression uint16

const (
	CompressionNone          Compression = 1
	CompressionLZW           Compression = 5
	CompressionDeflate       Compression = 8
	CompressionDeflateLegacy Compression = 32946
)

// ParseCompression parses the name of a compression scheme that can be
// written.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "deflate":
		return CompressionDeflate, nil
	default:
		return 0, fmt.Errorf("%s: unsupported compression", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZW:
		return "lzw"
	case CompressionDeflate, CompressionDeflateLegacy:
		return "deflate"
	default:
		return fmt.Sprintf("Compression(%d)", uint16(c))
	}
}

// TIFF tags written by the GeoTIFF writer.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagSamplesPerPixel           = 277
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagSampleFormat              = 339
)

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeLong8  = 16
)

const (
	defaultTileSize     = 512
	maxClassicTIFFBytes = math.MaxUint32
	sampleFormatFloat   = 3
	photometricMinBlack = 1
)

// A GeoTIFFWriterOption sets an option on a GeoTIFF writer.
type GeoTIFFWriterOption func(*geoTIFFWriter)

type geoTIFFWriter struct {
	tileSize         int
	compression      Compression
	compressionLevel int
	bigTIFF          bool
	logger           *zap.Logger
}

// WithTileSize sets the tile width and length. It must be a positive multiple
// of 16.
func WithTileSize(tileSize int) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.tileSize = tileSize
	}
}

// WithCompression sets the compression. Only CompressionNone and
// CompressionDeflate can be written.
func WithCompression(compression Compression) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.compression = compression
	}
}

// WithCompressionLevel sets the deflate compression level.
func WithCompressionLevel(level int) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.compressionLevel = level
	}
}

// WithBigTIFF forces BigTIFF output. Without it, BigTIFF is only used when
// the output would not fit in a classic TIFF.
func WithBigTIFF(bigTIFF bool) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.bigTIFF = bigTIFF
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(logger *zap.Logger) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.logger = logger
	}
}

func newGeoTIFFWriter(options ...GeoTIFFWriterOption) (*geoTIFFWriter, error) {
	w := &geoTIFFWriter{
		tileSize:         defaultTileSize,
		compression:      CompressionDeflate,
		compressionLevel: zlib.DefaultCompression,
		logger:           zap.NewNop(),
	}
	for _, option := range options {
		option(w)
	}
	if w.tileSize <= 0 || w.tileSize%16 != 0 {
		return nil, fmt.Errorf("%d: tile size must be a positive multiple of 16", w.tileSize)
	}
	switch w.compression {
	case CompressionNone, CompressionDeflate:
	default:
		return nil, fmt.Errorf("%s: compression not supported for writing", w.compression)
	}
	if w.compressionLevel < zlib.HuffmanOnly || w.compressionLevel > zlib.BestCompression {
		return nil, fmt.Errorf("%d: invalid compression level", w.compressionLevel)
	}
	return w, nil
}

// WriteGeoTIFFFile writes g to filename as a GeoTIFF. The data is written to
// a temporary file in the same directory which is renamed over filename only
// once it is complete.
// tempFilename returns a unique hidden filename in the same directory as
// filename, so that it can be renamed over filename.
func tempFilename(filename string) string {
	return filepath.Join(filepath.Dir(filename), "."+filepath.Base(filename)+"."+uuid.NewString()+".tmp")
}

func (g *Grid) WriteGeoTIFFFile(filename string, options ...GeoTIFFWriterOption) error {
	w, err := newGeoTIFFWriter(options...)
	if err != nil {
		return ioError(filename, err)
	}

	tempFilename := tempFilename(filename)
	file, err := os.OpenFile(tempFilename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return ioError(filename, err)
	}
	ok, closed := false, false
	defer func() {
		if !closed {
			_ = file.Close()
		}
		if !ok {
			_ = os.Remove(tempFilename)
		}
	}()

	if err := w.write(file, g); err != nil {
		return ioError(filename, err)
	}
	closed = true
	if err := file.Close(); err != nil {
		return ioError(filename, err)
	}
	if err := os.Rename(tempFilename, filename); err != nil {
		return ioError(filename, err)
	}
	ok = true
	return nil
}

// WriteGeoTIFF writes g to w as a single band float32 tiled GeoTIFF.
func (g *Grid) WriteGeoTIFF(w io.Writer, options ...GeoTIFFWriterOption) error {
	geoTIFFWriter, err := newGeoTIFFWriter(options...)
	if err != nil {
		return err
	}
	return geoTIFFWriter.write(w, g)
}

// An ifdEntry is a single TIFF directory entry with its value encoded in
// little endian byte order.
type ifdEntry struct {
	tag       uint16
	fieldType uint16
	count     uint64
	data      []byte
}

func (w *geoTIFFWriter) write(dst io.Writer, g *Grid) error {
	tilesAcross := (g.width + w.tileSize - 1) / w.tileSize
	tilesDown := (g.height + w.tileSize - 1) / w.tileSize

	tiles := make([][]byte, 0, tilesAcross*tilesDown)
	dataSize := uint64(0)
	for r := range tilesDown {
		for c := range tilesAcross {
			tile, err := w.encodeTile(g, TileCoord{C: c, R: r})
			if err != nil {
				return err
			}
			tiles = append(tiles, tile)
			dataSize += uint64(len(tile) + len(tile)%2)
		}
	}

	bigTIFF := w.bigTIFF || dataSize+uint64(64*len(tiles))+4096 > maxClassicTIFFBytes
	headerSize := uint64(8)
	if bigTIFF {
		headerSize = 16
	}

	offset := headerSize
	tileOffsets := make([]uint64, len(tiles))
	tileByteCounts := make([]uint64, len(tiles))
	for i, tile := range tiles {
		tileOffsets[i] = offset
		tileByteCounts[i] = uint64(len(tile))
		offset += uint64(len(tile) + len(tile)%2)
	}
	ifdOffset := offset

	entries, err := w.ifdEntries(g, tileOffsets, tileByteCounts, bigTIFF)
	if err != nil {
		return err
	}

	cw := &countingWriter{w: bufio.NewWriter(dst)}
	if bigTIFF {
		cw.write([]byte("II"))
		cw.write(binary.LittleEndian.AppendUint16(nil, 43))
		cw.write(binary.LittleEndian.AppendUint16(nil, 8))
		cw.write(binary.LittleEndian.AppendUint16(nil, 0))
		cw.write(binary.LittleEndian.AppendUint64(nil, ifdOffset))
	} else {
		cw.write([]byte("II"))
		cw.write(binary.LittleEndian.AppendUint16(nil, 42))
		cw.write(binary.LittleEndian.AppendUint32(nil, uint32(ifdOffset)))
	}
	for _, tile := range tiles {
		cw.write(tile)
		if len(tile)%2 != 0 {
			cw.write([]byte{0})
		}
	}
	w.writeIFD(cw, entries, ifdOffset, bigTIFF)
	if cw.err != nil {
		return cw.err
	}
	if err := cw.w.Flush(); err != nil {
		return err
	}

	gridCellsWritten.Add(float64(g.width * g.height))
	geoTIFFBytesWritten.Add(float64(cw.n))
	w.logger.Debug("wrote geotiff",
		zap.Int("width", g.width),
		zap.Int("height", g.height),
		zap.Int("tiles", len(tiles)),
		zap.Bool("bigtiff", bigTIFF),
		zap.Stringer("compression", w.compression),
		zap.Int64("bytes", cw.n),
	)
	return nil
}

// encodeTile returns the encoded data for the tile at tileCoord. Parts of the
// tile outside g are filled with nodata.
func (w *geoTIFFWriter) encodeTile(g *Grid, tileCoord TileCoord) ([]byte, error) {
	raw := make([]byte, 0, 4*w.tileSize*w.tileSize)
	noDataBits := math.Float32bits(g.noData)
	for y := range w.tileSize {
		r := tileCoord.R*w.tileSize + y
		for x := range w.tileSize {
			c := tileCoord.C*w.tileSize + x
			bits := noDataBits
			if c < g.width && r < g.height {
				bits = math.Float32bits(g.At(c, r))
			}
			raw = binary.LittleEndian.AppendUint32(raw, bits)
		}
	}

	if w.compression == CompressionNone {
		return raw, nil
	}

	var buffer bytes.Buffer
	zlibWriter, err := zlib.NewWriterLevel(&buffer, w.compressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := zlibWriter.Write(raw); err != nil {
		return nil, err
	}
	if err := zlibWriter.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (w *geoTIFFWriter) ifdEntries(g *Grid, tileOffsets, tileByteCounts []uint64, bigTIFF bool) ([]ifdEntry, error) {
	directory, doubleParams, asciiParams, err := EncodeGeoKeys(&ParsedGeoKeys{
		Params: map[GeoKey]int{
			GeoKeyGTModelType:  ModelTypeGeographic,
			GeoKeyGTRasterType: RasterPixelIsArea,
			GeoKeyGeodeticCRS:  g.crs.EPSG,
			GeoKeyAngularUnits: AngularUnitDegree,
		},
		ASCIIParams: map[GeoKey]string{
			GeoKeyGeogCitation: g.crs.Name + "|",
		},
	})
	if err != nil {
		return nil, err
	}

	geotransform := g.geotransform
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(g.width)),
		longEntry(tagImageLength, uint32(g.height)),
		shortEntry(tagBitsPerSample, 32),
		shortEntry(tagCompression, uint16(w.compression)),
		shortEntry(tagPhotometricInterpretation, photometricMinBlack),
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagPlanarConfiguration, 1),
		shortEntry(tagPredictor, 1),
		longEntry(tagTileWidth, uint32(w.tileSize)),
		longEntry(tagTileLength, uint32(w.tileSize)),
		offsetsEntry(tagTileOffsets, tileOffsets, bigTIFF),
		offsetsEntry(tagTileByteCounts, tileByteCounts, bigTIFF),
		shortEntry(tagSampleFormat, sampleFormatFloat),
		doubleEntry(tagModelPixelScale, []float64{geotransform.PixelWidth, geotransform.PixelHeight, 0}),
		doubleEntry(tagModelTiepoint, []float64{0, 0, 0, geotransform.OriginX, geotransform.OriginY, 0}),
		shortsEntry(tagGeoKeyDirectory, directory),
	}
	if len(doubleParams) > 0 {
		entries = append(entries, doubleEntry(tagGeoDoubleParams, doubleParams))
	}
	if len(asciiParams) > 0 {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, string(asciiParams)))
	}
	entries = append(entries, asciiEntry(tagGDALNoData, FormatNoData(g.noData)))
	slices.SortFunc(entries, func(a, b ifdEntry) int {
		return int(a.tag) - int(b.tag)
	})
	return entries, nil
}

// writeIFD writes entries as a single IFD at ifdOffset followed by the values
// that do not fit inline.
func (w *geoTIFFWriter) writeIFD(cw *countingWriter, entries []ifdEntry, ifdOffset uint64, bigTIFF bool) {
	inlineSize, entrySize, countSize := 4, 12, 2
	if bigTIFF {
		inlineSize, entrySize, countSize = 8, 20, 8
	}
	ifdSize := uint64(countSize + entrySize*len(entries) + inlineSize)

	var external []byte
	externalOffset := ifdOffset + ifdSize
	var ifd []byte
	if bigTIFF {
		ifd = binary.LittleEndian.AppendUint64(ifd, uint64(len(entries)))
	} else {
		ifd = binary.LittleEndian.AppendUint16(ifd, uint16(len(entries)))
	}
	for _, entry := range entries {
		ifd = binary.LittleEndian.AppendUint16(ifd, entry.tag)
		ifd = binary.LittleEndian.AppendUint16(ifd, entry.fieldType)
		if bigTIFF {
			ifd = binary.LittleEndian.AppendUint64(ifd, entry.count)
		} else {
			ifd = binary.LittleEndian.AppendUint32(ifd, uint32(entry.count))
		}
		value := make([]byte, inlineSize)
		if len(entry.data) <= inlineSize {
			copy(value, entry.data)
		} else {
			valueOffset := externalOffset + uint64(len(external))
			if bigTIFF {
				binary.LittleEndian.PutUint64(value, valueOffset)
			} else {
				binary.LittleEndian.PutUint32(value, uint32(valueOffset))
			}
			external = append(external, entry.data...)
			if len(external)%2 != 0 {
				external = append(external, 0)
			}
		}
		ifd = append(ifd, value...)
	}
	ifd = append(ifd, make([]byte, inlineSize)...) // No next IFD.

	cw.write(ifd)
	cw.write(external)
}

func shortEntry(tag uint16, value uint16) ifdEntry {
	return shortsEntry(tag, []uint16{value})
}

func shortsEntry(tag uint16, values []uint16) ifdEntry {
	data := make([]byte, 0, 2*len(values))
	for _, value := range values {
		data = binary.LittleEndian.AppendUint16(data, value)
	}
	return ifdEntry{tag: tag, fieldType: typeShort, count: uint64(len(values)), data: data}
}

func longEntry(tag uint16, value uint32) ifdEntry {
	return ifdEntry{tag: tag, fieldType: typeLong, count: 1, data: binary.LittleEndian.AppendUint32(nil, value)}
}

func offsetsEntry(tag uint16, values []uint64, bigTIFF bool) ifdEntry {
	if bigTIFF {
		data := make([]byte, 0, 8*len(values))
		for _, value := range values {
			data = binary.LittleEndian.AppendUint64(data, value)
		}
		return ifdEntry{tag: tag, fieldType: typeLong8, count: uint64(len(values)), data: data}
	}
	data := make([]byte, 0, 4*len(values))
	for _, value := range values {
		data = binary.LittleEndian.AppendUint32(data, uint32(value))
	}
	return ifdEntry{tag: tag, fieldType: typeLong, count: uint64(len(values)), data: data}
}

func doubleEntry(tag uint16, values []float64) ifdEntry {
	data := make([]byte, 0, 8*len(values))
	for _, value := range values {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(value))
	}
	return ifdEntry{tag: tag, fieldType: typeDouble, count: uint64(len(values)), data: data}
}

func asciiEntry(tag uint16, value string) ifdEntry {
	data := append([]byte(value), 0)
	return ifdEntry{tag: tag, fieldType: typeASCII, count: uint64(len(data)), data: data}
}

// FormatNoData formats noData the way GDAL writes the GDAL_NODATA tag.
func FormatNoData(noData float32) string {
	if math.IsNaN(float64(noData)) {
		return "nan"
	}
	return strconv.FormatFloat(float64(noData), 'g', -1, 32)
}

// A countingWriter counts the bytes written and remembers the first error.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (cw *countingWriter) write(p []byte) {
	if cw.err != nil {
		return
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
}
