package missioncontrol

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/luispma04/PowerLine-Drone/internal/camera"
	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/luispma04/PowerLine-Drone/internal/progress"
	"github.com/luispma04/PowerLine-Drone/internal/types"
	"github.com/pkg/errors"
)

type RunState string

const (
	Idle                     RunState = "idle"
	Planned                  RunState = "planned"
	Uploading                RunState = "uploading"
	Executing                RunState = "executing"
	PausedForPhotoReview     RunState = "paused_for_photo_review"
	AwaitingPhotoFetch       RunState = "awaiting_photo_fetch"
	AwaitingOperatorDecision RunState = "awaiting_operator_decision"
	Resuming                 RunState = "resuming"
	Completed                RunState = "completed"
	Stopped                  RunState = "stopped"
	Failed                   RunState = "failed"
)

// active reports whether the aircraft is flying the mission.
func (rs RunState) active() bool {
	switch rs {
	case Executing, PausedForPhotoReview, AwaitingPhotoFetch, AwaitingOperatorDecision, Resuming:
		return true
	}
	return false
}

type executorOp string

const (
	opUpload     executorOp = "upload"
	opBegin      executorOp = "begin"
	opPause      executorOp = "pause"
	opResume     executorOp = "resume"
	opStop       executorOp = "stop"
	opReturnHome executorOp = "return_home"
)

type purpose string

const (
	purposeStart  purpose = "start"
	purposeReview purpose = "review"
	purposeManual purpose = "manual"
	purposeStop   purpose = "stop"
)

// Outgoing effects, carried out by the Controller runtime.

type executorCall struct {
	Op       executorOp    `json:"op"`
	Purpose  purpose       `json:"purpose"`
	Plan     *mission.Plan `json:"-"`
	Altitude float64       `json:"altitude,omitempty"`
}

type startTimer struct {
	Seq   int           `json:"seq"`
	Delay time.Duration `json:"delay"`
}

type cancelTimer struct{}

type fetchPhoto struct {
	Seq int `json:"seq"`
}

type savePhoto struct {
	Structure int          `json:"structure"`
	Photo     int          `json:"photo"`
	Image     camera.Image `json:"image"`
}

// Completions of effects, delivered back to the controller inbox.

type executorResult struct {
	Op      executorOp
	Purpose purpose
	Err     error
}

type timerFired struct {
	Seq int
}

type photoFetched struct {
	Seq   int
	Image camera.Image
	Err   error
}

type photoSaved struct {
	Path string
	Err  error
}

type snapshotQuery struct {
	reply chan Snapshot
}

type Config struct {
	SafetyAltitude   float64
	SafeDistance     float64
	Home             *mission.GpsCoordinate
	DegreesPerMeter  float64
	PhotoReviewDelay time.Duration
	// AutoAcceptPhotos accepts every fetched photo without waiting for the
	// operator.
	AutoAcceptPhotos bool
}

type Snapshot struct {
	MissionID         string              `json:"mission_id"`
	State             RunState            `json:"state"`
	Progress          Progress            `json:"progress"`
	MissionInProgress bool                `json:"mission_in_progress"`
	ManuallyPaused    bool                `json:"manually_paused"`
	ExecutorState     types.ExecutorState `json:"executor_state"`
	Waypoints         int                 `json:"waypoints"`
	PhotoWaypoints    []int               `json:"photo_waypoints"`
	LastError         string              `json:"last_error,omitempty"`
}

type state struct {
	deviceID string
	config   Config
	now      func() time.Time

	runState          RunState
	missionID         string
	plan              *mission.Plan
	progress          Progress
	missionInProgress bool
	executorState     types.ExecutorState
	position          *types.GlobalPosition
	lastErr           error

	// photo review sub-protocol
	lastProcessedPhoto int
	reviewWaypoint     int
	reviewStructure    int
	reviewPhoto        int
	reviewOpPending    bool
	pendingImage       *camera.Image
	timerSeq           int
	fetchSeq           int
	// the executor reported a successful finish while a review was open
	finishPending bool

	// operator pause, independent of the review sub-protocol
	manuallyPaused bool
	manualPending  bool

	stopPending bool
}

func newState(deviceID string, config Config, now func() time.Time) *state {
	return &state{
		deviceID:           deviceID,
		config:             config,
		now:                now,
		runState:           Idle,
		executorState:      types.ExecutorIdle,
		lastProcessedPhoto: -1,
	}
}

func (s *state) message(messageType string, payload interface{}) types.Message {
	return types.CreateMessage(messageType, s.deviceID, s.deviceID, payload)
}

func (s *state) status(text string) types.Message {
	return s.message("status-update", types.StatusUpdate{Text: text})
}

func (s *state) report(kind string, err error) types.Message {
	s.lastErr = err
	log.Printf("MissionControl: %s: %v", kind, err)
	return s.message("error-report", types.ErrorReport{Kind: kind, Text: err.Error()})
}

func (s *state) executionError(kind ErrorKind, err error) types.Message {
	e := newExecutionError(kind, err)
	return s.report(string(kind), e)
}

func (s *state) reject(command string) types.Message {
	err := errors.WithMessagef(errCommandRejected, "%s in state %s", command, s.runState)
	return s.report(reportCommandRejected, err)
}

func (s *state) call(op executorOp, p purpose) types.Message {
	return s.message("executor-call", executorCall{Op: op, Purpose: p})
}

func (s *state) transition(to RunState) types.Message {
	from := s.runState
	s.runState = to
	log.Printf("MissionControl: %s -> %s", from, to)
	return s.message("state-changed", types.StateChanged{MissionID: s.missionID, From: string(from), To: string(to)})
}

func (s *state) cancelReview() []types.Message {
	s.timerSeq++
	s.fetchSeq++
	s.pendingImage = nil
	s.reviewOpPending = false
	s.finishPending = false
	return []types.Message{s.message("cancel-timer", cancelTimer{})}
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		MissionID:         s.missionID,
		State:             s.runState,
		Progress:          s.progress,
		MissionInProgress: s.missionInProgress,
		ManuallyPaused:    s.manuallyPaused,
		ExecutorState:     s.executorState,
	}
	if s.plan != nil {
		snap.Waypoints = s.plan.Len()
		snap.PhotoWaypoints = s.plan.PhotoWaypointIndices()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *state) handleGlobalPosition(msg types.GlobalPosition) []types.Message {
	p := msg
	s.position = &p
	return nil
}

func (s *state) home() (mission.GpsCoordinate, error) {
	if s.config.Home != nil {
		return *s.config.Home, nil
	}
	if s.position != nil {
		return mission.GpsCoordinate{Latitude: s.position.Lat, Longitude: s.position.Lon, Altitude: s.position.Alt}, nil
	}
	return mission.GpsCoordinate{}, mission.ErrNoHome
}

func (s *state) handleBuildPlan(msg types.BuildPlan) []types.Message {
	switch s.runState {
	case Idle, Planned, Failed:
	default:
		return []types.Message{s.reject("build plan")}
	}

	home, err := s.home()
	if err != nil {
		return []types.Message{s.report(reportPlanningError, err)}
	}

	plan, err := mission.BuildPlan(msg.Structures, msg.PhotoOffsets, mission.Config{
		SafetyAltitude:  s.config.SafetyAltitude,
		SafeDistance:    s.config.SafeDistance,
		Home:            home,
		DegreesPerMeter: s.config.DegreesPerMeter,
	})
	if err != nil {
		return []types.Message{s.report(reportPlanningError, errors.WithMessage(err, "planning failed"))}
	}

	s.plan = plan
	s.missionID = uuid.New().String()
	s.progress = Progress{
		TotalWaypoints:     plan.Len(),
		TotalStructures:    plan.StructureCount(),
		PhotosPerStructure: plan.PhotosPerStructure(),
	}
	s.lastProcessedPhoto = -1
	s.lastErr = nil
	s.missionInProgress = false
	s.manuallyPaused = false

	return []types.Message{
		s.transition(Planned),
		s.status(fmt.Sprintf("Mission planned: %d waypoints, %d photos", plan.Len(), plan.TotalPhotos())),
	}
}

func (s *state) handleStartMission() []types.Message {
	if s.runState != Planned {
		return []types.Message{s.reject("start")}
	}

	upload := s.message("executor-call", executorCall{Op: opUpload, Purpose: purposeStart, Plan: s.plan})
	return []types.Message{
		s.transition(Uploading),
		s.status("Uploading mission"),
		upload,
	}
}

func (s *state) handleExecutorResult(msg executorResult) []types.Message {
	switch msg.Op {
	case opUpload:
		return s.uploaded(msg.Err)
	case opBegin:
		return s.begun(msg.Err)
	case opPause:
		if msg.Purpose == purposeManual {
			return s.manuallyPausedResult(msg.Err)
		}
		return s.reviewPaused(msg.Err)
	case opResume:
		if msg.Purpose == purposeManual {
			return s.manuallyResumedResult(msg.Err)
		}
		return s.reviewResumed(msg.Err)
	case opStop:
		return s.stopped(msg.Err)
	case opReturnHome:
		return s.returnedHome(msg.Err)
	}
	return nil
}

func (s *state) uploaded(err error) []types.Message {
	if s.runState != Uploading {
		return nil
	}
	if err != nil {
		return s.fail(UploadFailed, err)
	}
	return []types.Message{
		s.transition(Executing),
		s.call(opBegin, purposeStart),
	}
}

func (s *state) begun(err error) []types.Message {
	if !s.runState.active() || s.missionInProgress {
		return nil
	}
	if err != nil {
		return s.fail(StartFailed, err)
	}
	s.missionInProgress = true
	s.progress.StartedAt = s.now()
	return []types.Message{s.status("Mission started successfully")}
}

func (s *state) fail(kind ErrorKind, err error) []types.Message {
	out := []types.Message{s.executionError(kind, err)}
	out = append(out, s.cancelReview()...)
	s.missionInProgress = false
	s.manuallyPaused = false
	return append(out, s.transition(Failed))
}

func (s *state) handleExecutionProgress(msg types.ExecutionProgress) []types.Message {
	s.executorState = msg.State
	if !s.runState.active() {
		return nil
	}

	out := s.updateProgress(msg)

	if s.runState != Executing || s.manuallyPaused {
		return out
	}
	if !msg.Reached || msg.State != types.ExecutorExecuting {
		return out
	}
	if !progress.IsPhotoWaypoint(msg.WaypointIndex, s.plan) || msg.WaypointIndex == s.lastProcessedPhoto {
		return out
	}

	s.lastProcessedPhoto = msg.WaypointIndex
	s.reviewWaypoint = msg.WaypointIndex
	s.reviewStructure, s.reviewPhoto, _ = progress.OrdinalMap(msg.WaypointIndex, s.plan)

	out = append(out, s.transition(PausedForPhotoReview))
	if s.finalReview() {
		// The flight ends here, there is nothing to pause.
		return append(out, s.startReview()...)
	}
	s.reviewOpPending = true
	return append(out, s.call(opPause, purposeReview))
}

// finalReview reports whether the open review is for the last waypoint of
// the plan.
func (s *state) finalReview() bool {
	return s.plan != nil && s.reviewWaypoint == s.plan.Len()-1
}

func (s *state) updateProgress(msg types.ExecutionProgress) []types.Message {
	completed := msg.WaypointIndex
	if msg.Reached {
		completed++
	}
	total := msg.TotalWaypoints
	if total <= 0 && s.plan != nil {
		total = s.plan.Len()
	}
	structure, photo := progress.Locate(s.plan, s.progress.PhotosPerStructure, msg.WaypointIndex)

	changed := completed != s.progress.CompletedWaypoints ||
		total != s.progress.TotalWaypoints ||
		structure != s.progress.CurrentStructureIndex ||
		photo != s.progress.CurrentPhotoIndex

	s.progress.CompletedWaypoints = completed
	s.progress.TotalWaypoints = total
	s.progress.CurrentStructureIndex = structure
	s.progress.CurrentPhotoIndex = photo

	if !changed {
		return nil
	}

	return []types.Message{s.message("progress-update", types.ProgressUpdate{
		Structure:          min(structure+1, s.progress.TotalStructures),
		TotalStructures:    s.progress.TotalStructures,
		Photo:              min(photo+1, s.progress.PhotosPerStructure),
		TotalPhotos:        s.progress.PhotosPerStructure,
		CompletedWaypoints: completed,
		TotalWaypoints:     total,
	})}
}

func (s *state) reviewPaused(err error) []types.Message {
	if s.runState != PausedForPhotoReview {
		return nil
	}
	s.reviewOpPending = false
	if err != nil && s.finishPending {
		log.Printf("MissionControl: pause after finish: %v", err)
		return s.startReview()
	}
	if err != nil {
		return []types.Message{
			s.transition(Executing),
			s.executionError(PauseFailed, err),
		}
	}

	return s.startReview()
}

func (s *state) startReview() []types.Message {
	s.progress.PausedAt = s.now()
	s.timerSeq++
	return []types.Message{
		s.transition(AwaitingPhotoFetch),
		s.status("Mission paused for photo review"),
		s.message("start-timer", startTimer{Seq: s.timerSeq, Delay: s.config.PhotoReviewDelay}),
	}
}

// continueAfterReview leaves the review sub-protocol. A flight that already
// finished completes the mission, the last waypoint waits for the finish
// report, and any other waypoint resumes the executor from the resuming state.
func (s *state) continueAfterReview(resuming RunState, status string) []types.Message {
	if s.finishPending {
		return append([]types.Message{s.status(status)}, s.complete(types.ExecutionFinished{})...)
	}
	if s.finalReview() {
		s.progress.PausedAt = time.Time{}
		return []types.Message{s.transition(Executing), s.status(status)}
	}
	s.reviewOpPending = true
	return []types.Message{
		s.transition(resuming),
		s.status(status),
		s.call(opResume, purposeReview),
	}
}

func (s *state) handleTimerFired(msg timerFired) []types.Message {
	if s.runState != AwaitingPhotoFetch || msg.Seq != s.timerSeq {
		return nil
	}
	return []types.Message{s.fetch()}
}

func (s *state) fetch() types.Message {
	s.fetchSeq++
	return s.message("fetch-photo", fetchPhoto{Seq: s.fetchSeq})
}

func (s *state) handlePhotoFetched(msg photoFetched) []types.Message {
	if s.runState != AwaitingPhotoFetch || msg.Seq != s.fetchSeq {
		return nil
	}

	if msg.Err != nil {
		// Never hover waiting for a photo that is not coming.
		s.progress.FailedPhotos++
		out := []types.Message{s.report(reportPhotoError, errors.WithMessage(msg.Err, "Failed to get photo"))}
		return append(out, s.continueAfterReview(Executing, "Photo not available, continuing mission")...)
	}

	img := msg.Image
	s.pendingImage = &img
	out := []types.Message{
		s.transition(AwaitingOperatorDecision),
		s.message("photo-review-required", types.PhotoReviewRequired{
			MissionID:     s.missionID,
			Name:          img.Name,
			ContentType:   img.ContentType,
			Data:          img.Data,
			Structure:     s.reviewStructure,
			Photo:         s.reviewPhoto,
			WaypointIndex: s.reviewWaypoint,
		}),
	}
	if s.config.AutoAcceptPhotos {
		out = append(out, s.handleAcceptPhoto()...)
	}
	return out
}

func (s *state) handleAcceptPhoto() []types.Message {
	switch s.runState {
	case AwaitingOperatorDecision:
	case Resuming:
		return s.retryReviewResume("accept photo")
	default:
		return []types.Message{s.reject("accept photo")}
	}

	out := []types.Message{}
	if s.pendingImage != nil {
		out = append(out, s.message("save-photo", savePhoto{
			Structure: s.reviewStructure,
			Photo:     s.reviewPhoto,
			Image:     *s.pendingImage,
		}))
	}
	s.pendingImage = nil
	s.progress.SuccessfulPhotos++

	return append(out, s.continueAfterReview(Resuming, "Photo accepted, continuing mission")...)
}

func (s *state) retryReviewResume(command string) []types.Message {
	if s.reviewOpPending {
		return []types.Message{s.reject(command)}
	}
	s.reviewOpPending = true
	return []types.Message{s.call(opResume, purposeReview)}
}

func (s *state) handleRetakePhoto() []types.Message {
	if s.runState != AwaitingOperatorDecision {
		return []types.Message{s.reject("retake photo")}
	}
	s.pendingImage = nil
	return []types.Message{
		s.transition(AwaitingPhotoFetch),
		s.status("Retaking photo..."),
		s.fetch(),
	}
}

func (s *state) reviewResumed(err error) []types.Message {
	if s.runState != Resuming && s.runState != Executing {
		return nil
	}
	s.reviewOpPending = false
	if err != nil {
		out := []types.Message{}
		if s.runState != Resuming {
			out = append(out, s.transition(Resuming))
		}
		return append(out, s.executionError(ResumeFailed, err))
	}

	s.progress.PausedAt = time.Time{}
	if s.runState == Resuming {
		return []types.Message{s.transition(Executing)}
	}
	return nil
}

func (s *state) handleSavedPhoto(msg photoSaved) []types.Message {
	if msg.Err != nil {
		return []types.Message{s.report(reportPhotoStoreError, msg.Err)}
	}
	log.Printf("MissionControl: photo stored at %s", msg.Path)
	return nil
}

func (s *state) handleExecutionFinished(msg types.ExecutionFinished) []types.Message {
	if !s.runState.active() {
		return nil
	}

	switch s.runState {
	case PausedForPhotoReview, AwaitingPhotoFetch, AwaitingOperatorDecision:
		if !msg.Failed {
			s.finishPending = true
			log.Printf("MissionControl: flight finished during photo review")
			return []types.Message{s.status("Flight finished, waiting for photo review")}
		}
	}
	return s.complete(msg)
}

func (s *state) complete(msg types.ExecutionFinished) []types.Message {
	out := s.cancelReview()
	s.missionInProgress = false
	s.manuallyPaused = false
	s.progress.FinishedAt = s.now()
	summary := s.progress.Summary(s.now())

	if msg.Failed {
		reason := msg.Reason
		if reason == "" {
			reason = "Mission failed"
		}
		s.lastErr = errors.New(reason)
		return append(out,
			s.transition(Failed),
			s.message("mission-completed", types.MissionCompleted{MissionID: s.missionID, Success: false, Message: reason, Summary: summary}),
		)
	}

	return append(out,
		s.transition(Completed),
		s.status("Mission completed successfully"),
		s.message("mission-completed", types.MissionCompleted{MissionID: s.missionID, Success: true, Message: "Mission completed successfully", Summary: summary}),
	)
}

func (s *state) handleStopMission() []types.Message {
	if s.runState == Idle {
		return []types.Message{s.reject("stop")}
	}
	if s.stopPending {
		log.Printf("MissionControl: stop already in progress")
		return nil
	}

	out := s.cancelReview()
	s.missionInProgress = false
	s.manuallyPaused = false
	s.manualPending = false
	s.stopPending = true
	if s.progress.FinishedAt.IsZero() && !s.progress.StartedAt.IsZero() {
		s.progress.FinishedAt = s.now()
	}
	if s.runState != Stopped {
		out = append(out, s.transition(Stopped))
	}

	return append(out, s.call(opStop, purposeStop))
}

func (s *state) stopped(err error) []types.Message {
	out := []types.Message{}
	if err != nil {
		out = append(out,
			s.executionError(StopFailed, err),
			s.status(fmt.Sprintf("Failed to stop mission: %v", err)),
		)
	} else {
		out = append(out, s.status("Mission stopped, returning home"))
	}
	return append(out, s.message("executor-call", executorCall{Op: opReturnHome, Purpose: purposeStop, Altitude: s.config.SafetyAltitude}))
}

func (s *state) returnedHome(err error) []types.Message {
	s.stopPending = false
	if err != nil {
		return []types.Message{s.executionError(StopFailed, errors.WithMessage(err, "return home"))}
	}
	return nil
}

func (s *state) handlePauseMission() []types.Message {
	if s.runState != Executing || s.manuallyPaused || s.manualPending {
		return []types.Message{s.reject("pause")}
	}
	s.manualPending = true
	return []types.Message{s.call(opPause, purposeManual)}
}

func (s *state) manuallyPausedResult(err error) []types.Message {
	if !s.manualPending {
		return nil
	}
	s.manualPending = false
	if err != nil {
		return []types.Message{s.executionError(PauseFailed, err)}
	}
	s.manuallyPaused = true
	s.progress.PausedAt = s.now()
	return []types.Message{s.status("Mission paused")}
}

func (s *state) handleResumeMission() []types.Message {
	if s.runState == Resuming {
		return s.retryReviewResume("resume")
	}
	if !s.manuallyPaused || s.manualPending {
		return []types.Message{s.reject("resume")}
	}
	s.manualPending = true
	return []types.Message{s.call(opResume, purposeManual)}
}

func (s *state) manuallyResumedResult(err error) []types.Message {
	if !s.manualPending {
		return nil
	}
	s.manualPending = false
	if err != nil {
		return []types.Message{s.executionError(ResumeFailed, err)}
	}
	s.manuallyPaused = false
	s.progress.PausedAt = time.Time{}
	return []types.Message{s.status("Mission resumed")}
}

func (s *state) handleResetMission() []types.Message {
	switch s.runState {
	case Planned, Completed, Stopped, Failed:
	default:
		return []types.Message{s.reject("reset")}
	}
	if s.stopPending {
		// the return home of the stopped mission has not reported yet
		return []types.Message{s.reject("reset")}
	}

	out := s.cancelReview()
	s.plan = nil
	s.progress = Progress{}
	s.missionInProgress = false
	s.manuallyPaused = false
	s.manualPending = false
	s.lastProcessedPhoto = -1
	s.lastErr = nil
	out = append(out, s.transition(Idle))
	s.missionID = ""
	return out
}
