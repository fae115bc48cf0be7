package demmosaic

import (
	"errors"
	"strconv"
	"strings"
)

var errParse = errors.New("parse error")

const (
	geoDoubleParamsTag = 34736
	geoASCIIParamsTag  = 34737

	userDefined = 32767
)

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS  GeoKey = 2048
	GeoKeyGeogCitation GeoKey = 2049

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyLinearUnits  GeoKey = 3076
)

// ParsedGeoKeys are the values of a GeoKey directory, grouped by where they
// are stored.
type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated double and ASCII
// parameters.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(entry[0])
		location := int(entry[1])
		count := int(entry[2])
		valueOrIndex := int(entry[3])
		switch location {
		case 0:
			if count != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = valueOrIndex
		case geoDoubleParamsTag:
			if count != 1 {
				return nil, errors.ErrUnsupported
			}
			if valueOrIndex >= len(doubleParams) {
				return nil, errParse
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[valueOrIndex]
		case geoASCIIParamsTag:
			if valueOrIndex+count > len(asciiParams) {
				return nil, errParse
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[valueOrIndex : valueOrIndex+count])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// CRS returns an identifier for the coordinate reference system described by
// k. A projected CRS takes precedence over a geodetic one. User-defined
// systems are identified by their citation. It returns false if k contains no
// recognizable coordinate reference system.
func (k *ParsedGeoKeys) CRS() (string, bool) {
	switch code := k.Params[GeoKeyProjectedCRS]; code {
	case 0:
	case userDefined:
		if citation := k.citation(GeoKeyPCSCitation, GeoKeyGTCitation); citation != "" {
			return citation, true
		}
	default:
		return "EPSG:" + strconv.Itoa(code), true
	}
	switch code := k.Params[GeoKeyGeodeticCRS]; code {
	case 0:
	case userDefined:
		if citation := k.citation(GeoKeyGeogCitation, GeoKeyGTCitation); citation != "" {
			return citation, true
		}
	default:
		return "EPSG:" + strconv.Itoa(code), true
	}
	if citation := k.citation(GeoKeyPCSCitation, GeoKeyGTCitation, GeoKeyGeogCitation); citation != "" {
		return citation, true
	}
	return "", false
}

// citation returns the first non-empty citation in keys.
func (k *ParsedGeoKeys) citation(keys ...GeoKey) string {
	for _, key := range keys {
		if value := strings.Trim(k.ASCIIParams[key], "|\x00 "); value != "" {
			return value
		}
	}
	return ""
}
