package flypx4

import (
	"log"

	"github.com/luispma04/PowerLine-Drone/internal/types"
)

type missionResult struct {
	InstanceCount int  // Increments whenever the mission is modified
	SeqReached    int  // Sequence of the mission item which has been reached, default -1
	SeqCurrent    int  // Sequence of the current mission item
	SeqTotal      int  // Total number of mission items
	Valid         bool // true if mission is valid
	Finished      bool // true if mission has been completed
	Failure       bool // true if the mission cannot continue or be completed for some reason
}

// state turns PX4 mission results for the uploaded path into execution
// progress. Every waypoint is uploaded as exactly one mission item.
type state struct {
	deviceID      string
	uploaded      bool
	finished      bool
	instanceCount int
	total         int
	lastReached   int
	lastCurrent   int
	executorState types.ExecutorState
}

func newState(deviceID string) *state {
	return &state{
		deviceID:      deviceID,
		instanceCount: -1,
		lastReached:   -1,
		lastCurrent:   -1,
		executorState: types.ExecutorIdle,
	}
}

func (s *state) handleUpload(total int) {
	s.uploaded = true
	s.finished = false
	s.instanceCount = -1
	s.total = total
	s.lastReached = -1
	s.lastCurrent = -1
	s.executorState = types.ExecutorReadyToExecute
}

func (s *state) handleCommand(command string) {
	switch command {
	case "start_mission", "resume_mission":
		s.executorState = types.ExecutorExecuting
	case "pause_mission":
		s.executorState = types.ExecutorPaused
	case "stop_mission":
		s.executorState = types.ExecutorIdle
		s.uploaded = false
	}
}

func (s *state) message(messageType string, payload interface{}) types.Message {
	return types.CreateMessage(messageType, s.deviceID, s.deviceID, payload)
}

func (s *state) progress(index int, reached bool) types.Message {
	return s.message("execution-progress", types.ExecutionProgress{
		WaypointIndex:  index,
		TotalWaypoints: s.total,
		Reached:        reached,
		State:          s.executorState,
	})
}

func (s *state) finish(failed bool, reason string) types.Message {
	s.finished = true
	s.executorState = types.ExecutorFinished
	return s.message("execution-finished", types.ExecutionFinished{Failed: failed, Reason: reason})
}

func (s *state) handleMissionResult(msg missionResult) []types.Message {
	if !s.uploaded || s.finished {
		return nil
	}

	// InstanceCount increments by 1 every time a new path is sent, but
	// sometimes also by itself. Match on the first result for a path of the
	// uploaded length.
	if s.instanceCount == -1 {
		if msg.SeqTotal != s.total {
			log.Printf("PX4: ignoring result for %d items, uploaded %d", msg.SeqTotal, s.total)
			return nil
		}
		log.Printf("PX4: matching instance count %d to uploaded path", msg.InstanceCount)
		s.instanceCount = msg.InstanceCount
	} else if msg.InstanceCount != s.instanceCount {
		log.Printf("PX4: ignoring result for instance count %d", msg.InstanceCount)
		return nil
	}

	if !msg.Valid {
		return []types.Message{s.finish(true, "Mission rejected by autopilot")}
	}
	if msg.Failure {
		return []types.Message{s.finish(true, "Autopilot reported mission failure")}
	}

	out := []types.Message{}
	if msg.SeqReached > s.lastReached {
		s.lastReached = msg.SeqReached
		out = append(out, s.progress(msg.SeqReached, true))
	}
	if msg.SeqCurrent > s.lastReached && msg.SeqCurrent != s.lastCurrent && msg.SeqCurrent < s.total {
		s.lastCurrent = msg.SeqCurrent
		out = append(out, s.progress(msg.SeqCurrent, false))
	}
	if msg.Finished && s.executorState == types.ExecutorExecuting {
		out = append(out, s.finish(false, ""))
	}
	return out
}
