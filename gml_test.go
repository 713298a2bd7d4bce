package jpgisdem

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseTile(t *testing.T) {
	d := MeshDEMXML(53394611, 3, 2, func(c, r int) float64 {
		return float64(10*r + c)
	})
	tile, err := ParseTile("a.xml", bytes.NewReader(d.Bytes(t)))
	assert.NoError(t, err)

	assert.Equal(t, "a.xml", tile.Name)
	assert.Equal(t, MeshCode(53394611), tile.Mesh)
	assert.Equal(t, "5mメッシュ（数値標高モデル）", tile.Type)
	assert.Equal(t, JGD2011, tile.CRS)
	assert.Equal(t, 3, tile.Width)
	assert.Equal(t, 2, tile.Height)
	assert.Equal(t, []float32{0, 1, 2, 10, 11, 12}, tile.Samples)

	b := MeshCode(53394611).Bounds()
	assert.True(t, almostEqual(b.Min.Lon(), tile.Bounds.Min.Lon()))
	assert.True(t, almostEqual(b.Max.Lat(), tile.Bounds.Max.Lat()))
	pixelWidth, pixelHeight := tile.PixelSize()
	assert.True(t, almostEqual(tertiaryMeshWidth/3, pixelWidth))
	assert.True(t, almostEqual(tertiaryMeshHeight/2, pixelHeight))
	geotransform := tile.Geotransform()
	assert.True(t, almostEqual(b.Min.Lon(), geotransform.OriginX))
	assert.True(t, almostEqual(b.Max.Lat(), geotransform.OriginY))
}

func TestParseTile_ShiftJIS(t *testing.T) {
	d := MeshDEMXML(53394611, 4, 4, func(c, r int) float64 {
		return float64(c * r)
	})
	utf8Tile, err := ParseTile("a.xml", bytes.NewReader(d.Bytes(t)))
	assert.NoError(t, err)

	d.ShiftJIS = true
	shiftJISBytes := d.Bytes(t)
	assert.NotEqual(t, []byte(d.String()), shiftJISBytes)
	shiftJISTile, err := ParseTile("a.xml", bytes.NewReader(shiftJISBytes))
	assert.NoError(t, err)

	assert.Equal(t, utf8Tile, shiftJISTile)
}

func TestParseTile_StartPointAndPadding(t *testing.T) {
	d := MeshDEMXML(53394611, 3, 3, nil)
	d.StartX, d.StartY = 2, 1
	d.Values = []float64{1, 2, 3}
	tile, err := ParseTile("a.xml", strings.NewReader(d.String()))
	assert.NoError(t, err)
	assert.Equal(t, []float32{
		NoData, NoData, NoData,
		NoData, NoData, 1,
		2, 3, NoData,
	}, tile.Samples)
	assert.Equal(t, 3, tile.ValidSampleCount())
}

func TestParseTile_NoDataTuples(t *testing.T) {
	d := MeshDEMXML(53394611, 2, 1, nil)
	d.Values = []float64{NoData, 4.25}
	tile, err := ParseTile("a.xml", strings.NewReader(d.String()))
	assert.NoError(t, err)
	assert.Equal(t, []float32{NoData, 4.25}, tile.Samples)
}

func TestParseTile_JGD2000(t *testing.T) {
	d := MeshDEMXML(392676, 2, 2, func(c, r int) float64 { return 1 })
	d.SRSName = "fguuid:jgd2000.bl"
	tile, err := ParseTile("a.xml", strings.NewReader(d.String()))
	assert.NoError(t, err)
	assert.Equal(t, JGD2000, tile.CRS)
}

func TestParseTile_Errors(t *testing.T) {
	valid := MeshDEMXML(53394611, 2, 2, func(c, r int) float64 { return 1 })
	for _, tc := range []struct {
		name          string
		data          string
		expectedError string
	}{
		{
			name:          "empty",
			data:          "",
			expectedError: "parse error: a.xml: unable to parse xml: EOF",
		},
		{
			name:          "binary",
			data:          "\x00\x01\x02<<<",
			expectedError: "",
		},
		{
			name:          "not_dem",
			data:          "<html><body/></html>",
			expectedError: "parse error: a.xml: unable to find srs, is this a JPGIS GML DEM file?",
		},
		{
			name: "unsupported_srs",
			data: func() string {
				d := valid
				d.SRSName = "EPSG:4326"
				return d.String()
			}(),
			expectedError: `parse error: a.xml: unsupported srs "EPSG:4326"`,
		},
		{
			name: "unsupported_axis_labels",
			data: func() string {
				d := valid
				d.AxisLabels = "y x"
				return d.String()
			}(),
			expectedError: `parse error: a.xml: unsupported axis labels "y x"`,
		},
		{
			name: "unsupported_sequence_rule",
			data: func() string {
				d := valid
				d.SequenceRule = "+y+x"
				return d.String()
			}(),
			expectedError: `parse error: a.xml: unsupported sequence rule "+y+x"`,
		},
		{
			name: "too_many_values",
			data: func() string {
				d := valid
				d.Values = []float64{1, 2, 3, 4, 5}
				return d.String()
			}(),
			expectedError: "parse error: a.xml: data size exceeds grid size 4",
		},
		{
			name: "start_point_outside_grid",
			data: func() string {
				d := valid
				d.StartY = 2
				return d.String()
			}(),
			expectedError: "parse error: a.xml: startPoint 0 2 outside 2x2 grid",
		},
		{
			name: "grid_envelope_overflow",
			data: func() string {
				d := valid
				d.Width = math.MaxInt
				return d.String()
			}(),
			expectedError: fmt.Sprintf("parse error: a.xml: GridEnvelope high %d 1 exceeds 67108864 cells", math.MaxInt-1),
		},
		{
			name: "grid_envelope_too_large",
			data: func() string {
				d := valid
				d.Width = 1 << 32
				d.Height = 1 << 32
				return d.String()
			}(),
			expectedError: "parse error: a.xml: GridEnvelope high 4294967295 4294967295 exceeds 67108864 cells",
		},
		{
			name: "grid_envelope_product_too_large",
			data: func() string {
				d := valid
				d.Width = 1 << 14
				d.Height = 1 << 14
				return d.String()
			}(),
			expectedError: "parse error: a.xml: GridEnvelope high 16383 16383 exceeds 67108864 cells",
		},
		{
			name: "empty_envelope",
			data: func() string {
				d := valid
				d.North = d.South
				return d.String()
			}(),
			expectedError: "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTile("a.xml", strings.NewReader(tc.data))
			assert.IsError(t, err, ErrParse)
			if tc.expectedError != "" {
				assert.EqualError(t, err, tc.expectedError)
			}
		})
	}
}
