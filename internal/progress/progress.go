// Package progress maps a reported flight path position back to the structure
// and photo being worked on.
package progress

import (
	"sort"

	"github.com/luispma04/PowerLine-Drone/internal/mission"
)

// LegacyMap assumes every structure occupies exactly photosPerStructure+1
// consecutive waypoints. It ignores the home safety waypoint and the transit
// waypoints, so results drift once a mission moves past its first structure.
// Kept for consumers of raw waypoint progress numbering.
func LegacyMap(waypointIndex int, photosPerStructure int) (structureIndex int, photoIndex int) {
	if photosPerStructure < 0 || waypointIndex < 0 {
		return 0, 0
	}
	block := photosPerStructure + 1
	structureIndex = waypointIndex / block
	photoIndex = waypointIndex % block
	if photoIndex > 0 {
		photoIndex--
	}
	return structureIndex, photoIndex
}

// OrdinalMap is exact: ok is false when waypointIndex is not a photo waypoint.
func OrdinalMap(waypointIndex int, plan *mission.Plan) (structureIndex int, photoIndex int, ok bool) {
	if plan == nil || plan.PhotosPerStructure() == 0 {
		return 0, 0, false
	}
	k, found := ordinal(waypointIndex, plan.PhotoWaypointIndices())
	if !found {
		return 0, 0, false
	}
	per := plan.PhotosPerStructure()
	return k / per, k % per, true
}

func IsPhotoWaypoint(waypointIndex int, plan *mission.Plan) bool {
	if plan == nil {
		return false
	}
	_, found := ordinal(waypointIndex, plan.PhotoWaypointIndices())
	return found
}

// Locate resolves any waypoint index. Photo waypoints use OrdinalMap. Other
// waypoints report the structure they were generated for and the photo that
// comes next (or was last taken) at that structure. Without a plan it falls
// back to LegacyMap.
func Locate(plan *mission.Plan, photosPerStructure int, waypointIndex int) (structureIndex int, photoIndex int) {
	if plan == nil {
		return LegacyMap(waypointIndex, photosPerStructure)
	}
	if s, p, ok := OrdinalMap(waypointIndex, plan); ok {
		return s, p
	}

	w, ok := plan.Waypoint(waypointIndex)
	if !ok || w.Structure == mission.HomeStructure {
		return 0, 0
	}

	per := plan.PhotosPerStructure()
	taken := sort.SearchInts(plan.PhotoWaypointIndices(), waypointIndex)
	return w.Structure, clamp(taken-w.Structure*per, 0, per-1)
}

// ordinal finds the position of index in the strictly increasing indices.
func ordinal(index int, indices []int) (int, bool) {
	k := sort.SearchInts(indices, index)
	if k < len(indices) && indices[k] == index {
		return k, true
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
