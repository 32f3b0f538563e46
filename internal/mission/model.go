package mission

import (
	"encoding/json"
	"math"

	"github.com/luispma04/PowerLine-Drone/internal/geometry"
	"github.com/pkg/errors"
)

const (
	MaxStructures   = 50
	MaxPhotoOffsets = 20

	MinGimbalPitch = -90.0
	MaxGimbalPitch = 30.0
)

type GpsCoordinate = geometry.Coordinate

// InspectionPoint is a structure to inspect. Values are validated by
// NewInspectionPoint and cannot change afterwards.
type InspectionPoint struct {
	latitude             float64
	longitude            float64
	groundAltitudeOffset float64
	structureHeight      float64
}

func NewInspectionPoint(latitude, longitude, groundAltitudeOffset, structureHeight float64) (InspectionPoint, error) {
	p := InspectionPoint{latitude, longitude, groundAltitudeOffset, structureHeight}
	if err := p.validate(); err != nil {
		return InspectionPoint{}, err
	}
	return p, nil
}

func (p InspectionPoint) Latitude() float64             { return p.latitude }
func (p InspectionPoint) Longitude() float64            { return p.longitude }
func (p InspectionPoint) GroundAltitudeOffset() float64 { return p.groundAltitudeOffset }
func (p InspectionPoint) StructureHeight() float64      { return p.structureHeight }

// Top is the coordinate of the top of the structure, the origin of every
// photo offset.
func (p InspectionPoint) Top() GpsCoordinate {
	return GpsCoordinate{
		Latitude:  p.latitude,
		Longitude: p.longitude,
		Altitude:  p.groundAltitudeOffset + p.structureHeight,
	}
}

func (p InspectionPoint) validate() error {
	if !finite(p.latitude, p.longitude, p.groundAltitudeOffset, p.structureHeight) {
		return errors.WithMessage(ErrInvalidCoordinate, "non-numeric value")
	}
	if p.latitude < -90 || p.latitude > 90 {
		return errors.WithMessagef(ErrInvalidCoordinate, "latitude %v out of range", p.latitude)
	}
	if p.longitude < -180 || p.longitude > 180 {
		return errors.WithMessagef(ErrInvalidCoordinate, "longitude %v out of range", p.longitude)
	}
	if p.structureHeight < 0 {
		return errors.WithMessagef(ErrInvalidHeight, "height %v is negative", p.structureHeight)
	}
	return nil
}

type inspectionPointJSON struct {
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	GroundAltitudeOffset float64 `json:"ground_altitude_offset"`
	StructureHeight      float64 `json:"structure_height"`
}

func (p InspectionPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(inspectionPointJSON{p.latitude, p.longitude, p.groundAltitudeOffset, p.structureHeight})
}

// UnmarshalJSON validates like NewInspectionPoint.
func (p *InspectionPoint) UnmarshalJSON(b []byte) error {
	var v inspectionPointJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := NewInspectionPoint(v.Latitude, v.Longitude, v.GroundAltitudeOffset, v.StructureHeight)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PhotoOffset is a camera position relative to the top of a structure.
type PhotoOffset struct {
	x           float64
	y           float64
	z           float64
	gimbalPitch float64
}

func NewPhotoOffset(x, y, z, gimbalPitch float64) (PhotoOffset, error) {
	o := PhotoOffset{x, y, z, gimbalPitch}
	if err := o.validate(); err != nil {
		return PhotoOffset{}, err
	}
	return o, nil
}

func (o PhotoOffset) X() float64           { return o.x }
func (o PhotoOffset) Y() float64           { return o.y }
func (o PhotoOffset) Z() float64           { return o.z }
func (o PhotoOffset) GimbalPitch() float64 { return o.gimbalPitch }

func (o PhotoOffset) Offset() geometry.Offset {
	return geometry.Offset{X: o.x, Y: o.y, Z: o.z}
}

func (o PhotoOffset) validate() error {
	if !finite(o.x, o.y, o.z) {
		return errors.WithMessage(ErrInvalidCoordinate, "non-numeric offset")
	}
	if math.IsNaN(o.gimbalPitch) || o.gimbalPitch < MinGimbalPitch || o.gimbalPitch > MaxGimbalPitch {
		return errors.WithMessagef(ErrInvalidGimbalPitch, "pitch %v outside [%v, %v]", o.gimbalPitch, MinGimbalPitch, MaxGimbalPitch)
	}
	return nil
}

type photoOffsetJSON struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	GimbalPitch float64 `json:"gimbal_pitch"`
}

func (o PhotoOffset) MarshalJSON() ([]byte, error) {
	return json.Marshal(photoOffsetJSON{o.x, o.y, o.z, o.gimbalPitch})
}

func (o *PhotoOffset) UnmarshalJSON(b []byte) error {
	var v photoOffsetJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := NewPhotoOffset(v.X, v.Y, v.Z, v.GimbalPitch)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
