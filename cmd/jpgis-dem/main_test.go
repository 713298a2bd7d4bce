package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/gpxz/go-jpgisdem"
)

// demXML returns a minimal JPGIS/GML DEM document covering mesh with
// width x height cells of value.
func demXML(mesh jpgisdem.MeshCode, width, height int, value float64) []byte {
	bounds := mesh.Bounds()
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<Dataset xmlns:gml="http://www.opengis.net/gml/3.2" xmlns="http://fgd.gsi.go.jp/spec/2008/FGD_GMLSchema">` + "\n")
	fmt.Fprintf(&sb, "<DEM><type>5mメッシュ（数値標高モデル）</type><mesh>%d</mesh><coverage>\n", mesh)
	sb.WriteString(`<gml:boundedBy><gml:Envelope srsName="fguuid:jgd2011.bl">` + "\n")
	fmt.Fprintf(&sb, "<gml:lowerCorner>%.12f %.12f</gml:lowerCorner>\n", bounds.Min.Lat(), bounds.Min.Lon())
	fmt.Fprintf(&sb, "<gml:upperCorner>%.12f %.12f</gml:upperCorner>\n", bounds.Max.Lat(), bounds.Max.Lon())
	sb.WriteString("</gml:Envelope></gml:boundedBy>\n")
	fmt.Fprintf(&sb, "<gml:gridDomain><gml:Grid><gml:limits><gml:GridEnvelope><gml:low>0 0</gml:low><gml:high>%d %d</gml:high></gml:GridEnvelope></gml:limits>", width-1, height-1)
	sb.WriteString("<gml:axisLabels>x y</gml:axisLabels></gml:Grid></gml:gridDomain>\n")
	sb.WriteString("<gml:rangeSet><gml:DataBlock><gml:tupleList>\n")
	for range width * height {
		fmt.Fprintf(&sb, "地表面,%.2f\n", value)
	}
	sb.WriteString("</gml:tupleList></gml:DataBlock></gml:rangeSet>\n")
	sb.WriteString(`<gml:coverageFunction><gml:GridFunction><gml:sequenceRule order="+x-y">Linear</gml:sequenceRule><gml:startPoint>0 0</gml:startPoint></gml:GridFunction></gml:coverageFunction>` + "\n")
	sb.WriteString("</coverage></DEM></Dataset>\n")
	return []byte(sb.String())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	filename := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(filename, data, 0o666))
	return filename
}

func writeZip(t *testing.T, dir, name string, entries map[string][]byte) string {
	t.Helper()
	var buffer bytes.Buffer
	zipWriter := zip.NewWriter(&buffer)
	for _, entryName := range []string{"a.xml", "b.xml", "c.xml", "d.xml"} {
		data, ok := entries[entryName]
		if !ok {
			continue
		}
		w, err := zipWriter.Create(entryName)
		assert.NoError(t, err)
		_, err = w.Write(data)
		assert.NoError(t, err)
	}
	assert.NoError(t, zipWriter.Close())
	return writeFile(t, dir, name, buffer.Bytes())
}

func runTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	exitCode := run(t.Context(), args, &stdout, &stderr)
	return exitCode, stdout.String(), stderr.String()
}

func assertNotExist(t *testing.T, filename string) {
	t.Helper()
	_, err := os.Stat(filename)
	assert.IsError(t, err, os.ErrNotExist)
}

func TestRasterize(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.xml", demXML(53394611, 20, 10, 12.5))
	dst := filepath.Join(dir, "a.tif")
	footprints := filepath.Join(dir, "a.geojson")

	exitCode, _, stderr := runTest(t, "rasterize", "--tile-size", "16", "--footprints", footprints, src, dst)
	assert.Equal(t, exitSuccess, exitCode, stderr)

	exitCode, stdout, stderr := runTest(t, "info", dst)
	assert.Equal(t, exitSuccess, exitCode, stderr)
	assert.Contains(t, stdout, "size: 20x10\n")
	assert.Contains(t, stdout, "crs: JGD2011 (EPSG:6668)\n")
	assert.Contains(t, stdout, "nodata: -9999\n")
	assert.Contains(t, stdout, "mesh: 533946\n")
	assert.Contains(t, stdout, "valid: 200\n")
	assert.Contains(t, stdout, "mean: 12.5\n")

	data, err := os.ReadFile(footprints)
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)
}

func TestRasterize_Alias(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.xml", demXML(53394611, 4, 3, 1))
	dst := filepath.Join(dir, "a.tif")
	exitCode, _, stderr := runTest(t, "xml2tif", "--compression", "none", "--nodata", "nan", src, dst)
	assert.Equal(t, exitSuccess, exitCode, stderr)
	_, err := os.Stat(dst)
	assert.NoError(t, err)
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "valid.xml", demXML(53394611, 4, 3, 1))
	text := writeFile(t, dir, "text.txt", []byte("hello, world\n"))
	mismatched := writeZip(t, dir, "mismatched.zip", map[string][]byte{
		"a.xml": demXML(53394600, 4, 3, 1),
		"b.xml": demXML(53394601, 5, 3, 1),
	})
	dst := filepath.Join(dir, "out.tif")

	for _, tc := range []struct {
		name     string
		args     []string
		expected int
	}{
		{name: "no_command", args: []string{}, expected: exitUsageError},
		{name: "unknown_command", args: []string{"frobnicate"}, expected: exitUsageError},
		{name: "unknown_flag", args: []string{"rasterize", "--frobnicate", valid, dst}, expected: exitUsageError},
		{name: "missing_args", args: []string{"rasterize", valid}, expected: exitUsageError},
		{name: "bad_compression", args: []string{"rasterize", "--compression", "lzw", valid, dst}, expected: exitUsageError},
		{name: "bad_tile_size", args: []string{"rasterize", "--tile-size", "100", valid, dst}, expected: exitUsageError},
		{name: "bad_merge", args: []string{"rasterize", "--merge", "middle", valid, dst}, expected: exitUsageError},
		{name: "bad_nodata", args: []string{"rasterize", "--nodata", "none", valid, dst}, expected: exitUsageError},
		{name: "parse_error", args: []string{"rasterize", text, dst}, expected: exitParseError},
		{name: "consistency_error", args: []string{"rasterize", mismatched, dst}, expected: exitConsistencyError},
		{name: "io_error", args: []string{"rasterize", filepath.Join(dir, "missing.xml"), dst}, expected: exitIOError},
		{name: "info_missing", args: []string{"info", filepath.Join(dir, "missing.tif")}, expected: exitIOError},
		{name: "info_not_tiff", args: []string{"info", text}, expected: exitParseError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exitCode, _, stderr := runTest(t, tc.args...)
			assert.Equal(t, tc.expected, exitCode, stderr)
			assert.Contains(t, stderr, "jpgis-dem: ")
			assertNotExist(t, dst)
		})
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	src1 := writeZip(t, dir, "FG-GML-5339-46-DEM5A-20161001.zip", map[string][]byte{
		"a.xml": demXML(53394600, 4, 3, 1),
		"b.xml": demXML(53394601, 4, 3, 2),
	})
	src2 := writeFile(t, dir, "FG-GML-5339-45-00-DEM5A-20161001.xml", demXML(53394500, 4, 3, 3))
	spanning := writeZip(t, dir, "spanning.zip", map[string][]byte{
		"a.xml": demXML(53394509, 4, 3, 4),
		"b.xml": demXML(53394600, 4, 3, 5),
	})

	exitCode, _, stderr := runTest(t, "batch", "--out-dir", outDir, src1, src2, spanning)
	assert.Equal(t, exitSuccess, exitCode, stderr)

	dirEntries, err := os.ReadDir(outDir)
	assert.NoError(t, err)
	var names []string
	for _, dirEntry := range dirEntries {
		names = append(names, dirEntry.Name())
	}
	assert.Equal(t, []string{"533945.tif", "533946.tif", "spanning.tif"}, names)

	exitCode, stdout, stderr := runTest(t, "sample", "--dir", outDir, "35.667", "139.751")
	assert.Equal(t, exitSuccess, exitCode, stderr)
	assert.Equal(t, "1\n", stdout)
}

func TestBatch_Errors(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	valid := writeFile(t, dir, "valid.xml", demXML(53394600, 4, 3, 1))
	text := writeFile(t, dir, "text.txt", []byte("hello, world\n"))

	exitCode, _, _ := runTest(t, "batch", valid)
	assert.Equal(t, exitUsageError, exitCode)

	exitCode, _, _ = runTest(t, "batch", "--out-dir", outDir)
	assert.Equal(t, exitUsageError, exitCode)

	exitCode, _, stderr := runTest(t, "batch", "--out-dir", outDir, text, valid)
	assert.Equal(t, exitParseError, exitCode, stderr)
	dirEntries, err := os.ReadDir(outDir)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(dirEntries))
	assert.Equal(t, "533946.tif", dirEntries[0].Name())
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	src := writeZip(t, dir, "a.zip", map[string][]byte{
		"a.xml": demXML(53394600, 40, 30, 1),
		"b.xml": demXML(53394601, 40, 30, 2),
	})
	tif := filepath.Join(dir, "a.tif")
	exitCode, _, stderr := runTest(t, "rasterize", src, tif)
	assert.Equal(t, exitSuccess, exitCode, stderr)

	previewFilename := filepath.Join(dir, "a.png")
	exitCode, _, stderr = runTest(t, "preview", "--size", "40", tif, previewFilename)
	assert.Equal(t, exitSuccess, exitCode, stderr)

	file, err := os.Open(previewFilename)
	assert.NoError(t, err)
	defer file.Close()
	img, err := png.Decode(file)
	assert.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 15, img.Bounds().Dy())
}

func TestMetricsFile(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.xml", demXML(53394611, 4, 3, 1))
	metricsFile := filepath.Join(dir, "metrics.prom")

	exitCode, _, stderr := runTest(t, "--metrics-file", metricsFile, "rasterize", src, filepath.Join(dir, "a.tif"))
	assert.Equal(t, exitSuccess, exitCode, stderr)

	data, err := os.ReadFile(metricsFile)
	assert.NoError(t, err)
	assert.Contains(t, string(data), `jpgisdem_conversions_total{result="success"}`)
	assert.Contains(t, string(data), "jpgisdem_documents_parsed_total")
}

func TestVersion(t *testing.T) {
	exitCode, stdout, _ := runTest(t, "version")
	assert.Equal(t, exitSuccess, exitCode)
	assert.Equal(t, version+"\n", stdout)
}
