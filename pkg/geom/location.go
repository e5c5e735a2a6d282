package geom

import (
	"fmt"
	"math"
)

// MetersPerDegree is the length of one degree of latitude (and of longitude
// at the equator). Longitudinal distances are corrected by the cosine of the
// latitude. This planar approximation is only good for points that are close
// together, which is always the case within a single transit area, and falls
// apart near the poles and the antimeridian.
const MetersPerDegree = 111300.0

const degToRad = math.Pi / 180.0

// Location is an immutable latitude/longitude pair in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

func NewLocation(lat float64, lon float64) Location {
	return Location{Latitude: lat, Longitude: lon}
}

// Distance returns the approximate distance in meters to the other location,
// using the average latitude for the longitudinal correction.
func (l Location) Distance(other Location) float64 {
	avgLat := ((l.Latitude + other.Latitude) / 2) * degToRad

	diffLat := MetersPerDegree * (l.Latitude - other.Latitude)
	diffLon := MetersPerDegree * math.Cos(avgLat) * (l.Longitude - other.Longitude)

	return math.Sqrt(diffLat*diffLat + diffLon*diffLon)
}

// Valid reports whether the coordinates are inside the WGS84 range and not
// the (0, 0) null island placeholder some feeds emit for unset positions.
func (l Location) Valid() bool {
	if l.Latitude == 0 && l.Longitude == 0 {
		return false
	}

	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

func (l Location) String() string {
	return fmt.Sprintf("%f,%f", l.Latitude, l.Longitude)
}
