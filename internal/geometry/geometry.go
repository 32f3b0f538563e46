// Package geometry converts structure-relative photo offsets into absolute
// coordinates and computes headings and distances between coordinates.
//
// Offsets are applied with a flat-earth local-tangent approximation: one fixed
// degrees-per-meter factor is used for both latitude and longitude, so the
// longitude error grows with |latitude| and with the offset magnitude.
package geometry

import "math"

const earthRadiusMetres float64 = 6371000

type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
}

type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AbsolutePosition applies offset to base. base.Altitude is the altitude of
// the offset origin (top of the structure).
func AbsolutePosition(base Coordinate, offset Offset, degreesPerMeter float64) Coordinate {
	return Coordinate{
		Latitude:  base.Latitude + offset.Y*degreesPerMeter,
		Longitude: base.Longitude + offset.X*degreesPerMeter,
		Altitude:  base.Altitude + offset.Z,
	}
}

// HeadingTowardStructure returns the heading that points the camera from the
// offset position back at its origin.
func HeadingTowardStructure(offsetX float64, offsetY float64) float64 {
	return normalize(90 - degrees(math.Atan2(-offsetX, -offsetY)))
}

// BearingBetween returns the great-circle initial bearing from the first
// point to the second.
func BearingBetween(latFrom float64, lonFrom float64, latTo float64, lonTo float64) float64 {
	phi1 := radians(latFrom)
	phi2 := radians(latTo)
	deltaLon := radians(lonTo - lonFrom)

	y := math.Sin(deltaLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLon)

	return normalize(degrees(math.Atan2(y, x)))
}

// GreatCircleDistanceMeters uses the haversine formula.
func GreatCircleDistanceMeters(latFrom float64, lonFrom float64, latTo float64, lonTo float64) float64 {
	var deltaLat = radians(latTo - latFrom)
	var deltaLon = radians(lonTo - lonFrom)

	var a = math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(radians(latFrom))*math.Cos(radians(latTo))*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	var c = 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMetres * c
}

// Distance between two coordinates including the altitude difference.
func Distance(from Coordinate, to Coordinate) float64 {
	horizontal := GreatCircleDistanceMeters(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	return math.Hypot(horizontal, to.Altitude-from.Altitude)
}

// normalize reduces degrees into [0,360)
func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func radians(deg float64) float64 {
	return deg * (math.Pi / 180)
}

func degrees(rad float64) float64 {
	return rad * (180 / math.Pi)
}
