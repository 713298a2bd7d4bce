package jpgisdem

import "fmt"

// A CRS is a coordinate reference system.
type CRS struct {
	EPSG int
	Name string
}

var (
	JGD2000 = CRS{EPSG: 4612, Name: "JGD2000"}
	JGD2011 = CRS{EPSG: 6668, Name: "JGD2011"}
)

// crsBySRSName maps GML srsName attributes to reference systems.
var crsBySRSName = map[string]CRS{
	"fguuid:jgd2000.bl": JGD2000,
	"fguuid:jgd2011.bl": JGD2011,
}

// CRSFromSRSName returns the CRS for a GML srsName.
func CRSFromSRSName(srsName string) (CRS, bool) {
	crs, ok := crsBySRSName[srsName]
	return crs, ok
}

// CRSFromEPSG returns the CRS for an EPSG code. Unknown codes get a generic
// name.
func CRSFromEPSG(epsg int) CRS {
	for _, crs := range crsBySRSName {
		if crs.EPSG == epsg {
			return crs
		}
	}
	return CRS{EPSG: epsg, Name: fmt.Sprintf("EPSG:%d", epsg)}
}

func (c CRS) String() string {
	return fmt.Sprintf("%s (EPSG:%d)", c.Name, c.EPSG)
}
