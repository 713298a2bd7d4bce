package jpgisdem

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const (
	supportedAxisLabels   = "x y"
	supportedSequenceRule = "+x-y"
	maxTileCells          = 1 << 26
)

// A gmlDocument is the subset of a JPGIS/GML DEM document that we need.
// encoding/xml matches on local names, so namespace prefixes are ignored.
type gmlDocument struct {
	DEM struct {
		Mesh     string `xml:"mesh"`
		Type     string `xml:"type"`
		Coverage struct {
			Envelope struct {
				SRSName     string `xml:"srsName,attr"`
				LowerCorner string `xml:"lowerCorner"`
				UpperCorner string `xml:"upperCorner"`
			} `xml:"boundedBy>Envelope"`
			Grid struct {
				Low        string `xml:"limits>GridEnvelope>low"`
				High       string `xml:"limits>GridEnvelope>high"`
				AxisLabels string `xml:"axisLabels"`
			} `xml:"gridDomain>Grid"`
			TupleList    *string `xml:"rangeSet>DataBlock>tupleList"`
			GridFunction struct {
				SequenceRule struct {
					Order string `xml:"order,attr"`
				} `xml:"sequenceRule"`
				StartPoint string `xml:"startPoint"`
			} `xml:"coverageFunction>GridFunction"`
		} `xml:"coverage"`
	} `xml:"DEM"`
}

// ParseTile parses a JPGIS/GML DEM document read from r. name identifies the
// document in errors.
func ParseTile(name string, r io.Reader) (*Tile, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader
	var doc gmlDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, parseErrorf(name, "unable to parse xml: %w", err)
	}
	coverage := &doc.DEM.Coverage

	if coverage.Envelope.SRSName == "" {
		return nil, parseErrorf(name, "unable to find srs, is this a JPGIS GML DEM file?")
	}
	crs, ok := CRSFromSRSName(coverage.Envelope.SRSName)
	if !ok {
		return nil, parseErrorf(name, "unsupported srs %q", coverage.Envelope.SRSName)
	}

	width, height, err := parseGridEnvelope(coverage.Grid.Low, coverage.Grid.High, coverage.Grid.AxisLabels)
	if err != nil {
		return nil, parseErrorf(name, "%w", err)
	}

	bounds, err := parseEnvelope(coverage.Envelope.LowerCorner, coverage.Envelope.UpperCorner)
	if err != nil {
		return nil, parseErrorf(name, "%w", err)
	}

	if order := coverage.GridFunction.SequenceRule.Order; order != "" && order != supportedSequenceRule {
		return nil, parseErrorf(name, "unsupported sequence rule %q", order)
	}

	startX, startY := 0, 0
	if startPoint := strings.TrimSpace(coverage.GridFunction.StartPoint); startPoint != "" {
		if startX, startY, err = parseIntPair(startPoint); err != nil {
			return nil, parseErrorf(name, "unable to parse startPoint: %w", err)
		}
		if startX < 0 || startX >= width || startY < 0 || startY >= height {
			return nil, parseErrorf(name, "startPoint %d %d outside %dx%d grid", startX, startY, width, height)
		}
	}

	if coverage.TupleList == nil {
		return nil, parseErrorf(name, "unable to find tupleList")
	}
	samples, err := parseTupleList(*coverage.TupleList, width, height, width*startY+startX)
	if err != nil {
		return nil, parseErrorf(name, "%w", err)
	}

	var mesh MeshCode
	if s := strings.TrimSpace(doc.DEM.Mesh); s != "" {
		if mesh, err = ParseMeshCode(s); err != nil {
			return nil, parseErrorf(name, "%w", err)
		}
	}

	return &Tile{
		Name:    name,
		Mesh:    mesh,
		Type:    strings.TrimSpace(doc.DEM.Type),
		CRS:     crs,
		Bounds:  bounds,
		Width:   width,
		Height:  height,
		Samples: samples,
	}, nil
}

// charsetReader decodes documents declared in legacy encodings. GSI
// distributes DEM files as Shift_JIS.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	encoding, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if encoding == nil {
		return nil, fmt.Errorf("%s: unsupported charset", label)
	}
	return transform.NewReader(input, encoding.NewDecoder()), nil
}

func parseGridEnvelope(low, high, axisLabels string) (int, int, error) {
	if low == "" || high == "" {
		return 0, 0, fmt.Errorf("unable to find GridEnvelope shape")
	}
	if labels := strings.Join(strings.Fields(axisLabels), " "); labels != supportedAxisLabels {
		return 0, 0, fmt.Errorf("unsupported axis labels %q", axisLabels)
	}
	lowX, lowY, err := parseIntPair(low)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to parse GridEnvelope low: %w", err)
	}
	if lowX != 0 || lowY != 0 {
		return 0, 0, fmt.Errorf("unsupported GridEnvelope low %d %d", lowX, lowY)
	}
	highX, highY, err := parseIntPair(high)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to parse GridEnvelope high: %w", err)
	}
	if highX < 0 || highY < 0 {
		return 0, 0, fmt.Errorf("invalid GridEnvelope high %d %d", highX, highY)
	}
	if highX >= maxTileCells || highY >= maxTileCells || (highX+1)*(highY+1) > maxTileCells {
		return 0, 0, fmt.Errorf("GridEnvelope high %d %d exceeds %d cells", highX, highY, maxTileCells)
	}
	return highX + 1, highY + 1, nil
}

// parseEnvelope parses lower and upper corners, which are given as latitude
// then longitude.
func parseEnvelope(lowerCorner, upperCorner string) (orb.Bound, error) {
	if lowerCorner == "" || upperCorner == "" {
		return orb.Bound{}, fmt.Errorf("unable to find Envelope bounds")
	}
	bottom, left, err := parseFloatPair(lowerCorner)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("unable to parse lowerCorner: %w", err)
	}
	top, right, err := parseFloatPair(upperCorner)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("unable to parse upperCorner: %w", err)
	}
	if !(left < right && bottom < top) {
		return orb.Bound{}, fmt.Errorf("empty Envelope %s %s", lowerCorner, upperCorner)
	}
	return orb.Bound{
		Min: orb.Point{left, bottom},
		Max: orb.Point{right, top},
	}, nil
}

// parseTupleList parses the category,value tuples into a full grid. The first
// start cells and any cells after the last tuple are NoData.
func parseTupleList(tupleList string, width, height, start int) ([]float32, error) {
	n := width * height
	samples := make([]float32, start, n)
	for i := range samples {
		samples[i] = NoData
	}
	scanner := bufio.NewScanner(strings.NewReader(tupleList))
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		tuple := scanner.Text()
		if len(samples) == n {
			return nil, fmt.Errorf("data size exceeds grid size %d", n)
		}
		value, err := strconv.ParseFloat(tuple[strings.LastIndexByte(tuple, ',')+1:], 32)
		if err != nil {
			return nil, fmt.Errorf("unable to parse tuple %q", tuple)
		}
		samples = append(samples, float32(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for len(samples) < n {
		samples = append(samples, NoData)
	}
	return samples, nil
}

func parseIntPair(s string) (int, int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%q: expected two values", s)
	}
	a, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseFloatPair(s string) (float64, float64, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%q: expected two values", s)
	}
	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
