package jpgisdem

import (
	"archive/zip"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/text/encoding/japanese"
)

// A DEMXML describes a synthetic JPGIS/GML DEM document for tests.
type DEMXML struct {
	Mesh         MeshCode
	SRSName      string
	South        float64
	West         float64
	North        float64
	East         float64
	Width        int
	Height       int
	StartX       int
	StartY       int
	Values       []float64
	ShiftJIS     bool
	AxisLabels   string
	SequenceRule string
}

// MeshDEMXML returns a DEMXML covering mesh with values computed by f for
// every cell. A nil f leaves Values empty.
func MeshDEMXML(mesh MeshCode, width, height int, f func(c, r int) float64) DEMXML {
	b := mesh.Bounds()
	var values []float64
	if f != nil {
		values = make([]float64, 0, width*height)
		for r := range height {
			for c := range width {
				values = append(values, f(c, r))
			}
		}
	}
	return DEMXML{
		Mesh:   mesh,
		South:  b.Min.Lat(),
		West:   b.Min.Lon(),
		North:  b.Max.Lat(),
		East:   b.Max.Lon(),
		Width:  width,
		Height: height,
		Values: values,
	}
}

func (d DEMXML) String() string {
	srsName := d.SRSName
	if srsName == "" {
		srsName = "fguuid:jgd2011.bl"
	}
	axisLabels := d.AxisLabels
	if axisLabels == "" {
		axisLabels = "x y"
	}
	sequenceRule := d.SequenceRule
	if sequenceRule == "" {
		sequenceRule = "+x-y"
	}
	encoding := "UTF-8"
	if d.ShiftJIS {
		encoding = "Shift_JIS"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<?xml version=\"1.0\" encoding=%q?>\n", encoding)
	sb.WriteString(`<Dataset xsi:schemaLocation="http://fgd.gsi.go.jp/spec/2008/FGD_GMLSchema FGD_GMLSchema.xsd" xmlns:gml="http://www.opengis.net/gml/3.2" xmlns:xlink="http://www.w3.org/1999/xlink" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns="http://fgd.gsi.go.jp/spec/2008/FGD_GMLSchema" gml:id="Dataset1">` + "\n")
	sb.WriteString("<gml:description>基盤地図情報メタデータ ID=fmdid:15-3101</gml:description>\n")
	sb.WriteString("<gml:name>基盤地図情報ダウンロードデータ（GML版）</gml:name>\n")
	sb.WriteString(`<DEM gml:id="DEM001">` + "\n")
	sb.WriteString("<type>5mメッシュ（数値標高モデル）</type>\n")
	if d.Mesh != 0 {
		fmt.Fprintf(&sb, "<mesh>%d</mesh>\n", d.Mesh)
	}
	sb.WriteString(`<coverage gml:id="DEM001-3">` + "\n")
	sb.WriteString("<gml:boundedBy>\n")
	fmt.Fprintf(&sb, "<gml:Envelope srsName=%q>\n", srsName)
	fmt.Fprintf(&sb, "<gml:lowerCorner>%.12f %.12f</gml:lowerCorner>\n", d.South, d.West)
	fmt.Fprintf(&sb, "<gml:upperCorner>%.12f %.12f</gml:upperCorner>\n", d.North, d.East)
	sb.WriteString("</gml:Envelope>\n</gml:boundedBy>\n")
	sb.WriteString(`<gml:gridDomain><gml:Grid dimension="2" gml:id="DEM001-4"><gml:limits><gml:GridEnvelope>` + "\n")
	fmt.Fprintf(&sb, "<gml:low>0 0</gml:low>\n<gml:high>%d %d</gml:high>\n", d.Width-1, d.Height-1)
	sb.WriteString("</gml:GridEnvelope></gml:limits>\n")
	fmt.Fprintf(&sb, "<gml:axisLabels>%s</gml:axisLabels>\n", axisLabels)
	sb.WriteString("</gml:Grid></gml:gridDomain>\n")
	sb.WriteString("<gml:rangeSet><gml:DataBlock>\n")
	sb.WriteString(`<gml:rangeParameters><gml:QuantityList uom="DEM構成点"></gml:QuantityList></gml:rangeParameters>` + "\n")
	sb.WriteString("<gml:tupleList>\n")
	for _, value := range d.Values {
		if value == NoData {
			sb.WriteString("データなし,-9999.\n")
		} else {
			fmt.Fprintf(&sb, "地表面,%.2f\n", value)
		}
	}
	sb.WriteString("</gml:tupleList>\n</gml:DataBlock></gml:rangeSet>\n")
	sb.WriteString("<gml:coverageFunction><gml:GridFunction>\n")
	fmt.Fprintf(&sb, "<gml:sequenceRule order=%q>Linear</gml:sequenceRule>\n", sequenceRule)
	fmt.Fprintf(&sb, "<gml:startPoint>%d %d</gml:startPoint>\n", d.StartX, d.StartY)
	sb.WriteString("</gml:GridFunction></gml:coverageFunction>\n")
	sb.WriteString("</coverage>\n</DEM>\n</Dataset>\n")
	return sb.String()
}

// Bytes returns d's document in its declared encoding.
func (d DEMXML) Bytes(tb testing.TB) []byte {
	tb.Helper()
	s := d.String()
	if !d.ShiftJIS {
		return []byte(s)
	}
	encoded, err := japanese.ShiftJIS.NewEncoder().String(s)
	assert.NoError(tb, err)
	return []byte(encoded)
}

// A ZipEntry is a file to be written into a test zip archive.
type ZipEntry struct {
	Name string
	Data []byte
}

// WriteZipFile writes entries to a zip archive at filename.
func WriteZipFile(tb testing.TB, filename string, entries []ZipEntry) {
	tb.Helper()
	file, err := os.Create(filename)
	assert.NoError(tb, err)
	defer func() {
		assert.NoError(tb, file.Close())
	}()
	zipWriter := zip.NewWriter(file)
	for _, entry := range entries {
		w, err := zipWriter.Create(entry.Name)
		assert.NoError(tb, err)
		_, err = w.Write(entry.Data)
		assert.NoError(tb, err)
	}
	assert.NoError(tb, zipWriter.Close())
}

// WriteTestFile writes data to name in dir and returns its path.
func WriteTestFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	assert.NoError(tb, os.WriteFile(path, data, 0o666))
	return path
}

// AlmostEqual reports whether a and b are within 1e-9 of each other.
func AlmostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func almostEqual(a, b float64) bool {
	return AlmostEqual(a, b)
}

// MustParseTile parses d as a tile called name.
func MustParseTile(tb testing.TB, name string, d DEMXML) *Tile {
	tb.Helper()
	tile, err := ParseTile(name, strings.NewReader(d.String()))
	assert.NoError(tb, err)
	return tile
}

// BlockTiles returns tiles for the tertiary meshes in rows and columns
// [0, n) of secondary, each width x height cells. Each cell's value is
// 1000*row + col in the combined grid, counting rows from the north.
func BlockTiles(tb testing.TB, secondary MeshCode, n, width, height int) []*Tile {
	tb.Helper()
	var tiles []*Tile
	for r := range n {
		for w := range n {
			mesh := secondary*100 + MeshCode(10*r+w)
			d := MeshDEMXML(mesh, width, height, func(c, rr int) float64 {
				row := (n-1-r)*height + rr
				col := w*width + c
				return float64(1000*row + col)
			})
			tiles = append(tiles, MustParseTile(tb, mesh.String()+".xml", d))
		}
	}
	return tiles
}
