package geom

import "math"

// Vector is an immutable directed line segment between two Locations. All of
// the spatial matching is built on projecting vehicle positions onto these
// segments.
type Vector struct {
	L1 Location `json:"l1" bson:"l1"`
	L2 Location `json:"l2" bson:"l2"`
}

func NewVector(l1 Location, l2 Location) Vector {
	return Vector{L1: l1, L2: l2}
}

// planar converts both endpoints and the supplied location into a meters
// coordinate frame centred on L1, with the longitudinal axis corrected for
// the segment's average latitude.
func (v Vector) planar(loc Location) (px, py, vx, vy float64) {
	avgLat := ((v.L1.Latitude + v.L2.Latitude) / 2) * degToRad
	lonScale := MetersPerDegree * math.Cos(avgLat)

	px = (loc.Longitude - v.L1.Longitude) * lonScale
	py = (loc.Latitude - v.L1.Latitude) * MetersPerDegree
	vx = (v.L2.Longitude - v.L1.Longitude) * lonScale
	vy = (v.L2.Latitude - v.L1.Latitude) * MetersPerDegree

	return px, py, vx, vy
}

// Length returns the segment length in meters.
func (v Vector) Length() float64 {
	return v.L1.Distance(v.L2)
}

// Heading returns the compass heading in degrees from L1 to L2, where 0 is
// north and 90 is east.
func (v Vector) Heading() float64 {
	_, _, vx, vy := v.planar(v.L2)

	heading := math.Atan2(vx, vy) / degToRad
	if heading < 0 {
		heading += 360
	}

	return heading
}

// MatchDistanceAlongVector projects loc onto the infinite line through the
// vector, clamps the projection to [0, Length] and returns the distance in
// meters from L1 to the clamped projection point.
func (v Vector) MatchDistanceAlongVector(loc Location) float64 {
	px, py, vx, vy := v.planar(loc)

	lengthSquared := vx*vx + vy*vy
	if lengthSquared == 0 {
		return 0
	}

	t := (px*vx + py*vy) / lengthSquared
	t = math.Min(1, math.Max(0, t))

	return t * math.Sqrt(lengthSquared)
}

// Distance returns the distance in meters from loc to the clamped projection
// of loc onto the segment. This is the match quality metric: perpendicular
// distance when the projection falls within the segment, distance to the
// nearer endpoint otherwise.
func (v Vector) Distance(loc Location) float64 {
	px, py, vx, vy := v.planar(loc)

	lengthSquared := vx*vx + vy*vy

	t := 0.0
	if lengthSquared > 0 {
		t = (px*vx + py*vy) / lengthSquared
		t = math.Min(1, math.Max(0, t))
	}

	dx := px - t*vx
	dy := py - t*vy

	return math.Sqrt(dx*dx + dy*dy)
}

// LocationAtLength returns the point on the segment the given number of
// meters from L1. The distance is clamped to [0, Length].
func (v Vector) LocationAtLength(meters float64) Location {
	length := v.Length()
	if length == 0 {
		return v.L1
	}

	t := math.Min(1, math.Max(0, meters/length))

	return Location{
		Latitude:  v.L1.Latitude + t*(v.L2.Latitude-v.L1.Latitude),
		Longitude: v.L1.Longitude + t*(v.L2.Longitude-v.L1.Longitude),
	}
}
