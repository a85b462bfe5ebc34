// Package geo provides great-circle distance between coordinates.
package geo

import "math"

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance in kilometers between two
// latitude/longitude pairs given in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// RoundKm rounds a distance to three decimals, the precision reported to
// riders in availability results.
func RoundKm(km float64) float64 {
	return math.Round(km*1000) / 1000
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
