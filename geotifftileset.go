package jpgisdem

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	missingTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_missing_tile_cache_misses_total",
		Help: "The total number of misses on the missing tile cache",
	})
	globalTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_global_tile_cache_hits_total",
		Help: "The total number of hits on the global tile cache",
	})
	globalTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_global_tile_cache_misses_total",
		Help: "The total number of misses on the global tile cache",
	})
	globalTileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_global_tile_cache_evictions_total",
		Help: "The total number of evictions from the global tile cache",
	})
)

// A MeshFunc returns the mesh code of the tile containing a coordinate.
type MeshFunc func(Coord) (MeshCode, bool)

// A MeshFilenameFunc returns the tile filename for a mesh code.
type MeshFilenameFunc func(MeshCode) string

// A GeoTIFFTileSet is a set of GeoTIFF tiles indexed by mesh code. All tiles
// must share the same CRS and pixel size.
type GeoTIFFTileSet struct {
	mutex              sync.Mutex
	fsys               fs.FS
	crs                CRS
	meshFunc           MeshFunc
	meshFilenameFunc   MeshFilenameFunc
	missingTiles       sync.Map
	geoTIFFTileOptions []GeoTIFFTileOption
	cacheSize          int
	pixelWidth         float64
	pixelHeight        float64
	logger             *zap.Logger
	geoTIFFTileCache   *lru.Cache[MeshCode, *GeoTIFFTile]
}

// A GeoTIFFTileSetOption sets an option on a GeoTIFFTileSet.
type GeoTIFFTileSetOption func(*GeoTIFFTileSet)

// NewGeoTIFFTileSet returns a new GeoTIFFTileSet with the given options.
func NewGeoTIFFTileSet(options ...GeoTIFFTileSetOption) (*GeoTIFFTileSet, error) {
	s := &GeoTIFFTileSet{
		cacheSize: 32,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	if s.fsys == nil || s.meshFunc == nil || s.meshFilenameFunc == nil {
		return nil, errors.New("tile set requires a filesystem, mesh func, and mesh filename func")
	}
	if s.pixelWidth <= 0 || s.pixelHeight <= 0 {
		return nil, errors.New("tile set requires a positive scale")
	}

	var err error
	s.geoTIFFTileCache, err = lru.NewWithEvict(s.cacheSize, func(key MeshCode, value *GeoTIFFTile) {
		if err := value.Close(); err != nil {
			s.logger.Warn("close", zap.Stringer("mesh", key), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func WithCacheSize(cacheSize int) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.cacheSize = cacheSize
	}
}

func WithCRS(crs CRS) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.crs = crs
	}
}

func WithFS(fsys fs.FS) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.fsys = fsys
	}
}

func WithGeoTIFFTileOptions(geoTIFFTileOptions ...GeoTIFFTileOption) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.geoTIFFTileOptions = geoTIFFTileOptions
	}
}

func WithMeshFunc(meshFunc MeshFunc) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.meshFunc = meshFunc
	}
}

func WithMeshFilenameFunc(meshFilenameFunc MeshFilenameFunc) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.meshFilenameFunc = meshFilenameFunc
	}
}

// WithScale sets the pixel size in degrees.
func WithScale(pixelWidth, pixelHeight float64) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.pixelWidth = pixelWidth
		s.pixelHeight = pixelHeight
	}
}

func WithTileSetLogger(logger *zap.Logger) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.logger = logger
	}
}

// Close closes all open tiles.
func (s *GeoTIFFTileSet) Close() {
	s.geoTIFFTileCache.Purge()
}

// CRS returns s's CRS.
func (s *GeoTIFFTileSet) CRS() CRS {
	return s.crs
}

// Geotransform returns the geotransform of the grid shared by all of s's
// tiles. Its origin is 0, 0, on which every mesh boundary lies.
func (s *GeoTIFFTileSet) Geotransform() Geotransform {
	return Geotransform{
		PixelWidth:  s.pixelWidth,
		PixelHeight: s.pixelHeight,
	}
}

// Samples returns the samples at coords. Missing samples are represented by
// NaNs.
func (s *GeoTIFFTileSet) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	// Group indexes by mesh.
	type groupStruct struct {
		coords  []Coord
		indexes []int
	}
	groupsByMesh := make(map[MeshCode]groupStruct)
	for index, coord := range coords {
		mesh, ok := s.meshFunc(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		group := groupsByMesh[mesh]
		group.coords = append(group.coords, coord)
		group.indexes = append(group.indexes, index)
		groupsByMesh[mesh] = group
	}

	// Populate samples one tile at a time.
	for mesh, group := range groupsByMesh {
		tile, err := s.getTileCached(mesh)
		if err != nil {
			return nil, err
		}
		if tile == nil {
			for _, index := range group.indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		localSamples, err := tile.Samples(ctx, group.coords)
		if err != nil {
			return nil, err
		}
		for localIndex, index := range group.indexes {
			samples[index] = localSamples[localIndex]
		}
	}

	return samples, nil
}

// getTile returns the tile for mesh.
func (s *GeoTIFFTileSet) getTile(mesh MeshCode) (*GeoTIFFTile, error) {
	filename := s.meshFilenameFunc(mesh)
	switch geoTIFFTile, err := NewGeoTIFFTile(s.fsys, filename, s.geoTIFFTileOptions...); {
	case errors.Is(err, fs.ErrNotExist):
		s.missingTiles.Store(mesh, struct{}{})
		missingTileCacheMisses.Inc()
		s.logger.Debug("missing tile", zap.Stringer("mesh", mesh), zap.String("filename", filename))
		return nil, nil
	case err != nil:
		return nil, err
	default:
		if epsg, ok := geoTIFFTile.EPSG(); ok && s.crs.EPSG != 0 && epsg != s.crs.EPSG {
			_ = geoTIFFTile.Close()
			return nil, consistencyErrorf(filename, "crs EPSG:%d does not match %s", epsg, s.crs)
		}
		gt := geoTIFFTile.Geotransform()
		if !sameSize(gt.PixelWidth, s.pixelWidth) || !sameSize(gt.PixelHeight, s.pixelHeight) {
			_ = geoTIFFTile.Close()
			return nil, consistencyErrorf(filename, "cell size %gx%g does not match %gx%g", gt.PixelWidth, gt.PixelHeight, s.pixelWidth, s.pixelHeight)
		}
		return geoTIFFTile, nil
	}
}

// getTileCached returns the tile for mesh, using the cache if possible.
func (s *GeoTIFFTileSet) getTileCached(mesh MeshCode) (*GeoTIFFTile, error) {
	if _, ok := s.missingTiles.Load(mesh); ok {
		missingTileCacheHits.Inc()
		return nil, nil
	}

	if tile, ok := s.geoTIFFTileCache.Get(mesh); ok {
		globalTileCacheHits.Inc()
		return tile, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.missingTiles.Load(mesh); ok {
		missingTileCacheHits.Inc()
		return nil, nil
	}

	if tile, ok := s.geoTIFFTileCache.Get(mesh); ok {
		globalTileCacheHits.Inc()
		return tile, nil
	}

	globalTileCacheMisses.Inc()

	tile, err := s.getTile(mesh)
	if err != nil {
		return nil, err
	}
	if tile == nil {
		return nil, nil
	}

	if eviction := s.geoTIFFTileCache.Add(mesh, tile); eviction {
		globalTileCacheEvictions.Inc()
	}

	return tile, nil
}
