package geo

import "math"

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Region is a circular region used to narrow a presence view.
type Region struct {
	CenterLat float64
	CenterLng float64
	RadiusKm  float64
}

// Contains reports whether the point lies within the region.
func (r Region) Contains(lat, lng float64) bool {
	return HaversineKm(r.CenterLat, r.CenterLng, lat, lng) <= r.RadiusKm
}
