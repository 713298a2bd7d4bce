package jpgisdem

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

const (
	pixelSizeTolerance = 1e-6 // Relative.
	alignmentTolerance = 1e-3 // Pixels.
	maxGridCells       = 1 << 32
)

// A MergePolicy determines which sample wins where tiles overlap.
type MergePolicy int

const (
	// MergeFirst keeps the first valid sample in tile order.
	MergeFirst MergePolicy = iota
	// MergeLast lets later valid samples overwrite earlier ones.
	MergeLast
)

// ParseMergePolicy parses s, which is either "first" or "last".
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "first":
		return MergeFirst, nil
	case "last":
		return MergeLast, nil
	default:
		return 0, fmt.Errorf("%s: unknown merge policy", s)
	}
}

func (p MergePolicy) String() string {
	switch p {
	case MergeFirst:
		return "first"
	case MergeLast:
		return "last"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// A Mosaic is an ordered set of tiles sharing a CRS and a pixel grid.
type Mosaic struct {
	tiles       []*Tile
	crs         CRS
	pixelWidth  float64
	pixelHeight float64
	bounds      orb.Bound
	width       int
	height      int
	noData      float32
	mergePolicy MergePolicy
	logger      *zap.Logger
}

// A MosaicOption sets an option on a Mosaic.
type MosaicOption func(*Mosaic)

// WithNoData sets the nodata value of composed grids. NaN is allowed.
func WithNoData(noData float32) MosaicOption {
	return func(m *Mosaic) {
		m.noData = noData
	}
}

// WithMergePolicy sets the merge policy.
func WithMergePolicy(mergePolicy MergePolicy) MosaicOption {
	return func(m *Mosaic) {
		m.mergePolicy = mergePolicy
	}
}

// WithMosaicLogger sets the logger.
func WithMosaicLogger(logger *zap.Logger) MosaicOption {
	return func(m *Mosaic) {
		m.logger = logger
	}
}

// NewMosaic returns a new Mosaic of tiles. It fails if the tiles do not share
// a CRS and pixel size, or are not aligned to a common grid.
func NewMosaic(tiles []*Tile, options ...MosaicOption) (*Mosaic, error) {
	m := &Mosaic{
		tiles:  tiles,
		noData: NoData,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(m)
	}

	if len(tiles) == 0 {
		return nil, &Error{Kind: ErrConsistency, Err: fmt.Errorf("no tiles")}
	}

	first := tiles[0]
	m.crs = first.CRS
	m.pixelWidth, m.pixelHeight = first.PixelSize()
	m.bounds = first.Bounds
	for _, tile := range tiles[1:] {
		if tile.CRS.EPSG != m.crs.EPSG {
			return nil, consistencyErrorf(tile.Name, "crs %s does not match %s of %s", tile.CRS, m.crs, first.Name)
		}
		pixelWidth, pixelHeight := tile.PixelSize()
		if !sameSize(pixelWidth, m.pixelWidth) || !sameSize(pixelHeight, m.pixelHeight) {
			return nil, consistencyErrorf(tile.Name, "cell size %gx%g does not match %gx%g of %s",
				pixelWidth, pixelHeight, m.pixelWidth, m.pixelHeight, first.Name)
		}
		m.bounds = m.bounds.Union(tile.Bounds)
	}

	for _, tile := range tiles {
		x := (tile.Bounds.Min.Lon() - m.bounds.Min.Lon()) / m.pixelWidth
		y := (m.bounds.Max.Lat() - tile.Bounds.Max.Lat()) / m.pixelHeight
		if math.Abs(x-math.Round(x)) > alignmentTolerance || math.Abs(y-math.Round(y)) > alignmentTolerance {
			return nil, consistencyErrorf(tile.Name, "tile is not aligned to the grid of %s", first.Name)
		}
	}

	m.width = int(math.Round((m.bounds.Max.Lon() - m.bounds.Min.Lon()) / m.pixelWidth))
	m.height = int(math.Round((m.bounds.Max.Lat() - m.bounds.Min.Lat()) / m.pixelHeight))
	if int64(m.width)*int64(m.height) > maxGridCells {
		return nil, consistencyErrorf(first.Name, "mosaic of %dx%d cells is too large", m.width, m.height)
	}

	m.logger.Debug("mosaic",
		zap.Int("tiles", len(tiles)),
		zap.Int("width", m.width),
		zap.Int("height", m.height),
		zap.Stringer("crs", m.crs),
	)
	return m, nil
}

// Tiles returns m's tiles.
func (m *Mosaic) Tiles() []*Tile {
	return m.tiles
}

// CRS returns m's CRS.
func (m *Mosaic) CRS() CRS {
	return m.crs
}

// Bounds returns the union of m's tile bounds.
func (m *Mosaic) Bounds() orb.Bound {
	return m.bounds
}

// Size returns m's size in pixels.
func (m *Mosaic) Size() (int, int) {
	return m.width, m.height
}

// Geotransform returns m's geotransform.
func (m *Mosaic) Geotransform() Geotransform {
	return Geotransform{
		OriginX:     m.bounds.Min.Lon(),
		OriginY:     m.bounds.Max.Lat(),
		PixelWidth:  m.pixelWidth,
		PixelHeight: m.pixelHeight,
	}
}

// Grid composes m's tiles into a single grid. Cells not covered by any tile
// are nodata.
func (m *Mosaic) Grid() *Grid {
	grid := NewGrid(m.width, m.height, m.Geotransform(), m.crs, m.noData)
	for _, tile := range m.tiles {
		c0 := int(math.Round((tile.Bounds.Min.Lon() - m.bounds.Min.Lon()) / m.pixelWidth))
		r0 := int(math.Round((m.bounds.Max.Lat() - tile.Bounds.Max.Lat()) / m.pixelHeight))
		width := min(tile.Width, m.width-c0)
		height := min(tile.Height, m.height-r0)
		for r := range height {
			src := tile.Samples[r*tile.Width : r*tile.Width+width]
			dst := grid.data[(r0+r)*m.width+c0 : (r0+r)*m.width+c0+width]
			for c, sample := range src {
				if sample == NoData {
					continue
				}
				if m.mergePolicy == MergeFirst && !grid.IsNoData(dst[c]) {
					continue
				}
				dst[c] = sample
			}
		}
	}
	return grid
}

// Mesh returns the secondary mesh that contains all of m, or zero if m spans
// several secondary meshes.
func (m *Mosaic) Mesh() MeshCode {
	return ContainingSecondaryMesh(m.bounds)
}

// Footprints returns the bounds of m's tiles as GeoJSON.
func (m *Mosaic) Footprints() *geojson.FeatureCollection {
	featureCollection := geojson.NewFeatureCollection()
	for _, tile := range m.tiles {
		feature := geojson.NewFeature(tile.Bounds.ToPolygon())
		feature.Properties["name"] = tile.Name
		if tile.Mesh != 0 {
			feature.Properties["mesh"] = tile.Mesh.String()
		}
		feature.Properties["width"] = tile.Width
		feature.Properties["height"] = tile.Height
		feature.Properties["crs"] = fmt.Sprintf("EPSG:%d", tile.CRS.EPSG)
		featureCollection.Append(feature)
	}
	return featureCollection
}

func sameSize(a, b float64) bool {
	return math.Abs(a-b) <= pixelSizeTolerance*math.Max(math.Abs(a), math.Abs(b))
}
