package jpgisdem

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	zipLocalFileHeaderMagic = []byte("PK\x03\x04")
	zipEndOfCentralDirMagic = []byte("PK\x05\x06")
)

// A ReadOption sets an option on ReadTiles.
type ReadOption func(*reader)

type reader struct {
	jobs   int
	logger *zap.Logger
}

// WithJobs sets the maximum number of documents parsed concurrently. The
// default is one.
func WithJobs(jobs int) ReadOption {
	return func(r *reader) {
		r.jobs = max(jobs, 1)
	}
}

// WithReadLogger sets the logger.
func WithReadLogger(logger *zap.Logger) ReadOption {
	return func(r *reader) {
		r.logger = logger
	}
}

// ReadTiles reads all tiles from filename, which is either a single XML
// document or a zip archive of XML documents. Tiles are returned in archive
// entry order.
func ReadTiles(ctx context.Context, filename string, options ...ReadOption) ([]*Tile, error) {
	r := &reader{
		jobs:   1,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(r)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, ioError(filename, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, ioError(filename, err)
	}
	if fileInfo.IsDir() {
		return nil, ioError(filename, errors.New("is a directory"))
	}

	magic := make([]byte, 4)
	switch n, err := io.ReadFull(file, magic); {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		magic = magic[:n]
	case err != nil:
		return nil, ioError(filename, err)
	}

	if bytes.Equal(magic, zipLocalFileHeaderMagic) || bytes.Equal(magic, zipEndOfCentralDirMagic) {
		r.logger.Debug("reading zip archive", zap.String("filename", filename))
		return r.readZip(ctx, filename, file, fileInfo.Size())
	}

	r.logger.Debug("reading xml document", zap.String("filename", filename))
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, ioError(filename, err)
	}
	tile, err := r.parse(filename, file)
	if err != nil {
		return nil, err
	}
	return []*Tile{tile}, nil
}

func (r *reader) readZip(ctx context.Context, filename string, file io.ReaderAt, size int64) ([]*Tile, error) {
	zipReader, err := zip.NewReader(file, size)
	if err != nil {
		return nil, parseErrorf(filename, "unable to read zip archive: %w", err)
	}

	var zipFiles []*zip.File
	for _, zipFile := range zipReader.File {
		if zipFile.FileInfo().IsDir() || !strings.EqualFold(path.Ext(zipFile.Name), ".xml") {
			r.logger.Debug("skipping zip entry", zap.String("name", zipFile.Name))
			continue
		}
		zipFiles = append(zipFiles, zipFile)
	}
	if len(zipFiles) == 0 {
		return nil, parseErrorf(filename, "zip archive contains no xml documents")
	}

	tiles := make([]*Tile, len(zipFiles))
	errs := make([]error, len(zipFiles))
	sem := semaphore.NewWeighted(int64(r.jobs))
	var wg sync.WaitGroup
	for i, zipFile := range zipFiles {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = ioError(filename, err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			tiles[i], errs[i] = r.parseZipFile(zipFile)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return tiles, nil
}

func (r *reader) parseZipFile(zipFile *zip.File) (*Tile, error) {
	rc, err := zipFile.Open()
	if err != nil {
		return nil, parseErrorf(zipFile.Name, "unable to open zip entry: %w", err)
	}
	defer rc.Close()
	return r.parse(zipFile.Name, rc)
}

func (r *reader) parse(name string, rd io.Reader) (*Tile, error) {
	tile, err := ParseTile(name, rd)
	if err != nil {
		documentParseFailures.Inc()
		r.logger.Debug("parse failed", zap.String("name", name), zap.Error(err))
		return nil, err
	}
	documentsParsed.Inc()
	samplesParsed.Add(float64(tile.ValidSampleCount()))
	r.logger.Debug("parsed tile",
		zap.String("name", name),
		zap.Stringer("mesh", tile.Mesh),
		zap.Int("width", tile.Width),
		zap.Int("height", tile.Height),
	)
	return tile, nil
}
