package eval

import (
	"math"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/segment"
)

const earthRadiusKm = 6371.0088

// Distance is the great-circle distance in kilometres between two points
// given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Point decodes the coordinate of doc from a Coord column.
func Point(col segment.Column, typ document.Type, doc uint32) (float64, float64) {
	lat, lon := col.Coord(doc)
	scale := typ.CoordScale()
	return float64(lat) / scale, float64(lon) / scale
}
