package geom

import "math"

// Extent is a bounding rectangle accumulated by folding in Locations or
// other Extents. Once non-empty the invariant min <= max holds on both axes.
// It is built once per trip pattern and used as a cheap pre-filter before
// the per-segment matching.
type Extent struct {
	MinLat float64 `json:"min_lat" bson:"minlat"`
	MaxLat float64 `json:"max_lat" bson:"maxlat"`
	MinLon float64 `json:"min_lon" bson:"minlon"`
	MaxLon float64 `json:"max_lon" bson:"maxlon"`

	empty bool
}

func NewExtent() *Extent {
	return &Extent{empty: true}
}

func (e *Extent) Empty() bool {
	return e.empty
}

func (e *Extent) ExtendLocation(loc Location) {
	if e.empty {
		e.MinLat, e.MaxLat = loc.Latitude, loc.Latitude
		e.MinLon, e.MaxLon = loc.Longitude, loc.Longitude
		e.empty = false
		return
	}

	e.MinLat = math.Min(e.MinLat, loc.Latitude)
	e.MaxLat = math.Max(e.MaxLat, loc.Latitude)
	e.MinLon = math.Min(e.MinLon, loc.Longitude)
	e.MaxLon = math.Max(e.MaxLon, loc.Longitude)
}

func (e *Extent) ExtendExtent(other *Extent) {
	if other == nil || other.empty {
		return
	}

	e.ExtendLocation(Location{Latitude: other.MinLat, Longitude: other.MinLon})
	e.ExtendLocation(Location{Latitude: other.MaxLat, Longitude: other.MaxLon})
}

// IsWithinDistance reports whether loc is within the given distance in
// meters of the rectangle. The latitude band is checked first, then the
// longitude band with a cosine correction for the average latitude. The test
// is conservative: false positives are fine, the per-segment matching throws
// them out, but a false negative would hide a valid match.
func (e *Extent) IsWithinDistance(loc Location, meters float64) bool {
	if e.empty {
		return false
	}

	latSlack := meters / MetersPerDegree
	if loc.Latitude < e.MinLat-latSlack || loc.Latitude > e.MaxLat+latSlack {
		return false
	}

	avgLat := ((e.MinLat + e.MaxLat) / 2) * degToRad
	lonSlack := meters / (MetersPerDegree * math.Cos(avgLat))

	return loc.Longitude >= e.MinLon-lonSlack && loc.Longitude <= e.MaxLon+lonSlack
}
