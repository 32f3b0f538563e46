package mission

import (
	"math"

	"github.com/luispma04/PowerLine-Drone/internal/geometry"
	"github.com/pkg/errors"
)

type ActionType string

const (
	ActionSetGimbalPitch ActionType = "set_gimbal_pitch"
	ActionCapturePhoto   ActionType = "capture_photo"
)

type Action struct {
	Type  ActionType `json:"type"`
	Pitch float64    `json:"pitch,omitempty"`
}

type WaypointKind string

const (
	WaypointSafety   WaypointKind = "safety"
	WaypointApproach WaypointKind = "approach"
	WaypointPhoto    WaypointKind = "photo"
	WaypointTransit  WaypointKind = "transit"
)

// HomeStructure is the structure index of waypoints that belong to no structure.
const HomeStructure = -1

type WaypointSpec struct {
	Coordinate GpsCoordinate `json:"coordinate"`
	Heading    float64       `json:"heading"`
	Actions    []Action      `json:"actions,omitempty"`
	Kind       WaypointKind  `json:"kind"`
	// Structure the waypoint was generated for. Transit waypoints belong to
	// the structure they are above.
	Structure int `json:"structure"`
}

func (w WaypointSpec) CapturesPhoto() bool {
	for _, a := range w.Actions {
		if a.Type == ActionCapturePhoto {
			return true
		}
	}
	return false
}

func (w WaypointSpec) clone() WaypointSpec {
	if w.Actions != nil {
		w.Actions = append([]Action(nil), w.Actions...)
	}
	return w
}

type Config struct {
	SafetyAltitude  float64
	SafeDistance    float64
	Home            GpsCoordinate
	DegreesPerMeter float64
}

// Plan is an ordered flight path plus photo indexing metadata. A Plan is never
// modified after BuildPlan returns it; accessors return copies.
type Plan struct {
	waypoints          []WaypointSpec
	photoIndices       []int
	photosPerStructure int
	structures         int
}

func (p *Plan) Len() int {
	return len(p.waypoints)
}

func (p *Plan) Waypoints() []WaypointSpec {
	out := make([]WaypointSpec, len(p.waypoints))
	for i, w := range p.waypoints {
		out[i] = w.clone()
	}
	return out
}

func (p *Plan) Waypoint(index int) (WaypointSpec, bool) {
	if index < 0 || index >= len(p.waypoints) {
		return WaypointSpec{}, false
	}
	return p.waypoints[index].clone(), true
}

// PhotoWaypointIndices is strictly increasing.
func (p *Plan) PhotoWaypointIndices() []int {
	return append([]int(nil), p.photoIndices...)
}

func (p *Plan) PhotosPerStructure() int {
	return p.photosPerStructure
}

func (p *Plan) StructureCount() int {
	return p.structures
}

func (p *Plan) TotalPhotos() int {
	return len(p.photoIndices)
}

// WaypointCount is the number of waypoints BuildPlan produces for the given
// number of structures and photo offsets.
func WaypointCount(structures int, photoOffsets int) int {
	if structures < 1 {
		return 0
	}
	return 1 + structures*(1+photoOffsets) + 2*(structures-1)
}

// BuildPlan assembles the flight path: a safety waypoint at home, then per
// structure an approach waypoint, one photo waypoint per offset and, between
// structures, a transit waypoint above each of the two structures.
func BuildPlan(structures []InspectionPoint, photoOffsets []PhotoOffset, config Config) (*Plan, error) {
	if len(structures) == 0 {
		return nil, ErrEmptyStructures
	}
	if len(photoOffsets) == 0 {
		return nil, ErrEmptyPhotoOffsets
	}
	if len(structures) > MaxStructures {
		return nil, errors.WithMessagef(ErrTooManyStructures, "%d given, at most %d", len(structures), MaxStructures)
	}
	if len(photoOffsets) > MaxPhotoOffsets {
		return nil, errors.WithMessagef(ErrTooManyPhotoOffsets, "%d given, at most %d", len(photoOffsets), MaxPhotoOffsets)
	}
	for i, s := range structures {
		if err := s.validate(); err != nil {
			return nil, errors.WithMessagef(err, "inspection point %d", i+1)
		}
	}
	for i, o := range photoOffsets {
		if err := o.validate(); err != nil {
			return nil, errors.WithMessagef(err, "photo offset %d", i+1)
		}
	}

	plan := &Plan{
		waypoints:          make([]WaypointSpec, 0, WaypointCount(len(structures), len(photoOffsets))),
		photoIndices:       make([]int, 0, len(structures)*len(photoOffsets)),
		photosPerStructure: len(photoOffsets),
		structures:         len(structures),
	}

	plan.waypoints = append(plan.waypoints, WaypointSpec{
		Coordinate: GpsCoordinate{
			Latitude:  config.Home.Latitude,
			Longitude: config.Home.Longitude,
			Altitude:  config.SafetyAltitude,
		},
		Kind:      WaypointSafety,
		Structure: HomeStructure,
	})

	for i, structure := range structures {
		top := structure.Top()
		plan.waypoints = append(plan.waypoints, WaypointSpec{
			Coordinate: GpsCoordinate{
				Latitude:  top.Latitude,
				Longitude: top.Longitude,
				Altitude:  top.Altitude + config.SafeDistance,
			},
			Kind:      WaypointApproach,
			Structure: i,
		})

		for _, offset := range photoOffsets {
			plan.photoIndices = append(plan.photoIndices, len(plan.waypoints))
			plan.waypoints = append(plan.waypoints, WaypointSpec{
				Coordinate: geometry.AbsolutePosition(top, offset.Offset(), config.DegreesPerMeter),
				Heading:    geometry.HeadingTowardStructure(offset.x, offset.y),
				Actions: []Action{
					{Type: ActionSetGimbalPitch, Pitch: math.Round(offset.gimbalPitch)},
					{Type: ActionCapturePhoto},
				},
				Kind:      WaypointPhoto,
				Structure: i,
			})
		}

		if i == len(structures)-1 {
			continue
		}

		next := structures[i+1]
		plan.waypoints = append(plan.waypoints,
			WaypointSpec{
				Coordinate: GpsCoordinate{
					Latitude:  structure.latitude,
					Longitude: structure.longitude,
					Altitude:  config.SafetyAltitude + structure.groundAltitudeOffset,
				},
				Kind:      WaypointTransit,
				Structure: i,
			},
			WaypointSpec{
				Coordinate: GpsCoordinate{
					Latitude:  next.latitude,
					Longitude: next.longitude,
					Altitude:  config.SafetyAltitude + next.groundAltitudeOffset,
				},
				Kind:      WaypointTransit,
				Structure: i + 1,
			},
		)
	}

	return plan, nil
}
