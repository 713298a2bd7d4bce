package jpgisdem

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_documents_parsed_total",
		Help: "The total number of DEM XML documents parsed",
	})
	documentParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_document_parse_failures_total",
		Help: "The total number of DEM XML documents that failed to parse",
	})
	samplesParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_samples_parsed_total",
		Help: "The total number of valid elevation samples parsed",
	})
	gridCellsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_grid_cells_written_total",
		Help: "The total number of grid cells written to GeoTIFFs",
	})
	geoTIFFBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jpgisdem_geotiff_bytes_written_total",
		Help: "The total number of bytes written to GeoTIFFs",
	})
	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpgisdem_conversions_total",
		Help: "The total number of conversions by result",
	}, []string{"result"})
)
