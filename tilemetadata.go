package demmosaic

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
)

const rasterPixelIsPoint = 2

var errNoGeoTransform = errors.New("no geo-transform")

// TileMetadata is the georeferencing metadata of a raster tile.
type TileMetadata struct {
	Width       int
	Height      int
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64 // Negative for north-up rasters.
	CRS         string  // Empty if unknown.
	// GeoKeysErr is the error from parsing the GeoKey directory, if any. A
	// tile whose GeoKeys cannot be parsed has an unknown CRS.
	GeoKeysErr error
}

// A tileMetadataIFD is a struct into which github.com/google/tiff can
// unmarshal the georeferencing fields of an IFD.
type tileMetadataIFD struct {
	ImageWidth             uint16    `tiff:"field,tag=256"`
	ImageLength            uint16    `tiff:"field,tag=257"`
	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag     []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag      string    `tiff:"field,tag=34737"`
}

// ReadTileMetadata reads the georeferencing metadata of the GeoTIFF filename
// in fsys. Only the first IFD is read, so overviews are ignored. Errors wrap
// ErrMetadataRead.
func ReadTileMetadata(fsys fs.FS, filename string) (*TileMetadata, error) {
	m, err := readTileMetadata(fsys, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMetadataRead, filename, err)
	}
	return m, nil
}

func readTileMetadata(fsys fs.FS, filename string) (*TileMetadata, error) {
	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	osFile, ok := file.(*os.File)
	if !ok {
		return nil, errors.ErrUnsupported
	}

	tiffTIFF, err := tiff.Parse(osFile, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, errors.New("no IFDs")
	}

	var ifd tileMetadataIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	m := &TileMetadata{
		Width:  int(ifd.ImageWidth),
		Height: int(ifd.ImageLength),
	}
	if m.Width == 0 || m.Height == 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", m.Width, m.Height)
	}

	var geoKeys *ParsedGeoKeys
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		switch parsedGeoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag)); {
		case err != nil:
			m.GeoKeysErr = fmt.Errorf("geokeys: %w", err)
		default:
			geoKeys = parsedGeoKeys
			m.CRS, _ = geoKeys.CRS()
		}
	}

	switch {
	case len(ifd.ModelTransformationTag) == 16:
		t := ifd.ModelTransformationTag
		if t[1] != 0 || t[4] != 0 {
			return nil, fmt.Errorf("rotated geo-transform: %w", errors.ErrUnsupported)
		}
		m.PixelWidth, m.OriginX = t[0], t[3]
		m.PixelHeight, m.OriginY = t[5], t[7]
	case len(ifd.ModelPixelScaleTag) >= 2 && len(ifd.ModelTiepointTag) >= 6:
		scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
		i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
		x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
		m.PixelWidth = scaleX
		m.PixelHeight = -scaleY
		m.OriginX = x - i*scaleX
		m.OriginY = y + j*scaleY
	default:
		return nil, errNoGeoTransform
	}
	if m.PixelWidth == 0 || m.PixelHeight == 0 {
		return nil, errNoGeoTransform
	}

	// With PixelIsPoint the tiepoint refers to the center of the pixel rather
	// than its corner.
	if geoKeys != nil && geoKeys.Params[GeoKeyGTRasterType] == rasterPixelIsPoint {
		m.OriginX -= m.PixelWidth / 2
		m.OriginY -= m.PixelHeight / 2
	}

	return m, nil
}

// Centroid returns the midpoint of m's raster extent in m's coordinate
// reference system.
func (m *TileMetadata) Centroid() Point {
	return Point{
		X: m.OriginX + m.PixelWidth*float64(m.Width)/2,
		Y: m.OriginY + m.PixelHeight*float64(m.Height)/2,
	}
}

// Extent returns m's raster extent.
func (m *TileMetadata) Extent() BoundingBox {
	return emptyBoundingBox().
		Extend(Point{X: m.OriginX, Y: m.OriginY}).
		Extend(Point{X: m.OriginX + m.PixelWidth*float64(m.Width), Y: m.OriginY + m.PixelHeight*float64(m.Height)})
}
