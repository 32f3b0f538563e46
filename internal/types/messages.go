package types

import "github.com/luispma04/PowerLine-Drone/internal/mission"

// Operator commands

type BuildPlan struct {
	Structures   []mission.InspectionPoint `json:"structures"`
	PhotoOffsets []mission.PhotoOffset     `json:"photo_offsets"`
}

type StartMission struct{}

type PauseMission struct{}

type ResumeMission struct{}

type StopMission struct{}

type AcceptPhoto struct{}

type RetakePhoto struct{}

type ResetMission struct{}

// Flight executor events

type ExecutorState string

const (
	ExecutorIdle           ExecutorState = "idle"
	ExecutorReadyToExecute ExecutorState = "ready_to_execute"
	ExecutorExecuting      ExecutorState = "executing"
	ExecutorPaused         ExecutorState = "paused"
	ExecutorFinished       ExecutorState = "finished"
)

type ExecutionProgress struct {
	WaypointIndex  int           `json:"waypoint_index"`
	TotalWaypoints int           `json:"total_waypoints"`
	Reached        bool          `json:"reached"`
	State          ExecutorState `json:"state"`
}

type ExecutionFinished struct {
	Failed bool   `json:"failed"`
	Reason string `json:"reason,omitempty"`
}

// Telemetry

type GlobalPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Notifications

type StatusUpdate struct {
	Text string `json:"text"`
}

type ProgressUpdate struct {
	Structure          int `json:"structure"`
	TotalStructures    int `json:"total_structures"`
	Photo              int `json:"photo"`
	TotalPhotos        int `json:"total_photos"`
	CompletedWaypoints int `json:"completed_waypoints"`
	TotalWaypoints     int `json:"total_waypoints"`
}

type MissionCompleted struct {
	MissionID string `json:"mission_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Summary   string `json:"summary"`
}

type PhotoReviewRequired struct {
	MissionID     string `json:"mission_id"`
	Name          string `json:"name"`
	ContentType   string `json:"content_type"`
	Data          []byte `json:"-"`
	Structure     int    `json:"structure"`
	Photo         int    `json:"photo"`
	WaypointIndex int    `json:"waypoint_index"`
}

type ErrorReport struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type StateChanged struct {
	MissionID string `json:"mission_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}
