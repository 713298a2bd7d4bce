package jpgisdem

import (
	"errors"
	"fmt"
	"slices"
)

var errGeoKeys = errors.New("invalid geokey directory")

// GeoTIFF tags.
const (
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagGeoKeyDirectory  = 34735
	tagGeoDoubleParams  = 34736
	tagGeoASCIIParams   = 34737
	tagGDALNoData       = 42113
	geoKeyDirectoryRev  = 1
	geoKeyDirectoryVers = 1
)

// GeoKey values.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
	RasterPixelIsArea   = 1
	RasterPixelIsPoint  = 2
	AngularUnitDegree   = 9102
)

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyLinearUnits            GeoKey = 2052
	GeoKeyGeogLinearUnitSize     GeoKey = 2053
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidSemiMinorAxis GeoKey = 2058
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyAzimuthUnits           GeoKey = 2060
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS                                 GeoKey = 3072
	GeoKeyPCSCitation                                  GeoKey = 3073
	GeoKeyProjection                                   GeoKey = 3074
	GeoKeyProjMethod                                   GeoKey = 3075
	GeoKeyLinearUnits2                                 GeoKey = 3076
	GeoKeyProjectedLinearUnitSize                      GeoKey = 3077
	GeoKeyStandardParallel1GeoKeyProjAngularParameters GeoKey = 3078
	GeoKeyStandardParallel2GeoKeyProjAngularParameters GeoKey = 3079
	GeoKeyNaturalOriginLongitudeProjAngularParameters  GeoKey = 3080
	GeoKeyNaturalOriginLatitudeProjAngularParameters   GeoKey = 3081
	GeoKeyFalseEastingProjLinearParameters             GeoKey = 3082
	GeoKeyFalseNorthingProjLinearParameters            GeoKey = 3083
	GeoKeyFalseOriginLongitudeProjAngularParameters    GeoKey = 3084
	GeoKeyFalseOriginLatitudeProjAngularParameters     GeoKey = 3085
	GeoKeyFalseOriginEastingProjLinearParameters       GeoKey = 3086
	GeoKeyFalseOriginNorthingProjLinearParameters      GeoKey = 3087
	GeoKeyCenterLongitudeProjAngularParameters         GeoKey = 3088
	GeoKeyCenterLatitudeProjAngularParameters          GeoKey = 3089
	GeoKeyProjectionCenterEastingProjLinearParameters  GeoKey = 3090
	GeoKeyProjectionCenterNorthingProjLinearParameters GeoKey = 3091
	GeoKeyScaleAtNaturalOriginProjScalarParameters     GeoKey = 3092
	GeoKeyScaleAtCenterProjScalarParameters            GeoKey = 3093
	GeoKeyProjAzimuthAngle                             GeoKey = 3094
	GeoKeyStraightVerticalPoleProjAngularParameters    GeoKey = 3095

	GeoKeyVertical         GeoKey = 4096
	GeoKeyVerticalCitation GeoKey = 4097
	GeoKeyVerticalDatum    GeoKey = 4098
	GeoKeyVerticalUnits    GeoKey = 4099
)

// ParsedGeoKeys are the keys of a GeoKeyDirectoryTag, split by where their
// values are stored.
type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses the GeoKeyDirectoryTag, GeoDoubleParamsTag, and
// GeoASCIIParamsTag values.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errGeoKeys
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errGeoKeys
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errGeoKeys
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errGeoKeys
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errGeoKeys
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, errGeoKeys
			}
			parsedGeoKeys.Params[key] = int(keyValues[3])
		case tagGeoDoubleParams:
			index := int(keyValues[3])
			if numberOfValues != 1 {
				return nil, errors.ErrUnsupported
			}
			if index >= len(doubleParams) {
				return nil, errGeoKeys
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case tagGeoASCIIParams:
			index := int(keyValues[3])
			if index+numberOfValues > len(asciiParams) {
				return nil, errGeoKeys
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// EncodeGeoKeys is the inverse of ParseGeoKeys. Keys are written in ascending
// order, as the GeoTIFF specification requires.
func EncodeGeoKeys(parsedGeoKeys *ParsedGeoKeys) ([]uint16, []float64, []byte, error) {
	type entry struct {
		key                           GeoKey
		location, count, valueOrIndex uint16
	}
	var entries []entry
	var doubleParams []float64
	var asciiParams []byte

	for _, key := range sortedKeys(parsedGeoKeys.Params) {
		value := parsedGeoKeys.Params[key]
		if value < 0 || value > 0xffff {
			return nil, nil, nil, fmt.Errorf("geokey %d: value %d out of range", key, value)
		}
		entries = append(entries, entry{key: key, count: 1, valueOrIndex: uint16(value)})
	}
	for _, key := range sortedKeys(parsedGeoKeys.DoubleParams) {
		entries = append(entries, entry{
			key:          key,
			location:     tagGeoDoubleParams,
			count:        1,
			valueOrIndex: uint16(len(doubleParams)),
		})
		doubleParams = append(doubleParams, parsedGeoKeys.DoubleParams[key])
	}
	for _, key := range sortedKeys(parsedGeoKeys.ASCIIParams) {
		value := parsedGeoKeys.ASCIIParams[key]
		entries = append(entries, entry{
			key:          key,
			location:     tagGeoASCIIParams,
			count:        uint16(len(value)),
			valueOrIndex: uint16(len(asciiParams)),
		})
		asciiParams = append(asciiParams, value...)
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return int(a.key) - int(b.key)
	})

	directory := []uint16{geoKeyDirectoryVers, geoKeyDirectoryRev, 0, uint16(len(entries))}
	for _, e := range entries {
		directory = append(directory, uint16(e.key), e.location, e.count, e.valueOrIndex)
	}
	return directory, doubleParams, asciiParams, nil
}

// EPSG returns the EPSG code of the projected or geodetic CRS, preferring the
// projected CRS.
func (k *ParsedGeoKeys) EPSG() (int, bool) {
	if epsg, ok := k.Params[GeoKeyProjectedCRS]; ok && epsg != userDefined {
		return epsg, true
	}
	if epsg, ok := k.Params[GeoKeyGeodeticCRS]; ok && epsg != userDefined {
		return epsg, true
	}
	return 0, false
}

const userDefined = 32767

func sortedKeys[V any](m map[GeoKey]V) []GeoKey {
	keys := make([]GeoKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
