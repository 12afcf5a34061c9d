// Package policy holds pluggable validation policies: geofencing of
// evidence coordinates and screening of free-text fields.
package policy

import "math"

const earthRadiusM = 6371000

// HaversineGeofence validates coordinates by great-circle distance from the
// job site.
type HaversineGeofence struct{}

func (HaversineGeofence) Within(jobLat, jobLng, lat, lng, radiusM float64) bool {
	return DistanceM(jobLat, jobLng, lat, lng) <= radiusM
}

// DistanceM returns the great-circle distance in meters between two points.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
