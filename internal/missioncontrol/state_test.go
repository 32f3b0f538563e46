package missioncontrol

import (
	"testing"
	"time"

	"github.com/luispma04/PowerLine-Drone/internal/camera"
	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/luispma04/PowerLine-Drone/internal/types"
	"github.com/pkg/errors"
)

var testNow = time.Date(2021, 5, 10, 12, 0, 0, 0, time.UTC)

func testMissionConfig() Config {
	return Config{
		SafetyAltitude:   25,
		SafeDistance:     2.5,
		Home:             &mission.GpsCoordinate{Latitude: 38.70, Longitude: -9.10},
		DegreesPerMeter:  0.00000899322,
		PhotoReviewDelay: 3 * time.Second,
	}
}

func newTestState(config Config) *state {
	return newState("drone-1", config, func() time.Time { return testNow })
}

func buildPlanMessage(t *testing.T, structures, offsets int) types.BuildPlan {
	t.Helper()
	msg := types.BuildPlan{}
	for i := 0; i < structures; i++ {
		p, err := mission.NewInspectionPoint(38.71+float64(i)*0.001, -9.11, 0, 20)
		if err != nil {
			t.Fatalf("NewInspectionPoint: %v", err)
		}
		msg.Structures = append(msg.Structures, p)
	}
	for i := 0; i < offsets; i++ {
		o, err := mission.NewPhotoOffset(float64(i), 4, 0, -30)
		if err != nil {
			t.Fatalf("NewPhotoOffset: %v", err)
		}
		msg.PhotoOffsets = append(msg.PhotoOffsets, o)
	}
	return msg
}

func executorCalls(out []types.Message) []executorCall {
	var calls []executorCall
	for _, m := range out {
		if c, ok := m.Message.(executorCall); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

func errorReports(out []types.Message) []types.ErrorReport {
	var reports []types.ErrorReport
	for _, m := range out {
		if r, ok := m.Message.(types.ErrorReport); ok {
			reports = append(reports, r)
		}
	}
	return reports
}

func statusTexts(out []types.Message) []string {
	var texts []string
	for _, m := range out {
		if s, ok := m.Message.(types.StatusUpdate); ok {
			texts = append(texts, s.Text)
		}
	}
	return texts
}

func hasStatus(out []types.Message, text string) bool {
	for _, s := range statusTexts(out) {
		if s == text {
			return true
		}
	}
	return false
}

func expectState(t *testing.T, s *state, want RunState) {
	t.Helper()
	if s.runState != want {
		t.Fatalf("state = %s, want %s", s.runState, want)
	}
}

func expectCall(t *testing.T, out []types.Message, op executorOp, p purpose) executorCall {
	t.Helper()
	calls := executorCalls(out)
	if len(calls) != 1 || calls[0].Op != op || calls[0].Purpose != p {
		t.Fatalf("executor calls = %+v, want one %s/%s", calls, op, p)
	}
	return calls[0]
}

func expectNoCall(t *testing.T, out []types.Message) {
	t.Helper()
	if calls := executorCalls(out); len(calls) != 0 {
		t.Fatalf("unexpected executor calls %+v", calls)
	}
}

// executingState returns a state flying a 2x2 mission.
func executingState(t *testing.T, config Config) *state {
	t.Helper()
	s := newTestState(config)
	s.handleBuildPlan(buildPlanMessage(t, 2, 2))
	s.handleStartMission()
	s.handleExecutorResult(executorResult{Op: opUpload, Purpose: purposeStart})
	s.handleExecutorResult(executorResult{Op: opBegin, Purpose: purposeStart})
	expectState(t, s, Executing)
	return s
}

func reached(index int) types.ExecutionProgress {
	return types.ExecutionProgress{WaypointIndex: index, TotalWaypoints: 9, Reached: true, State: types.ExecutorExecuting}
}

// reviewingState returns a state waiting for the operator at waypoint 2.
func reviewingState(t *testing.T, config Config) *state {
	t.Helper()
	s := executingState(t, config)
	s.handleExecutionProgress(reached(2))
	s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview})
	out := s.handleTimerFired(timerFired{s.timerSeq})
	f := out[0].Message.(fetchPhoto)
	s.handlePhotoFetched(photoFetched{Seq: f.Seq, Image: camera.Image{Name: "p.jpg", Data: []byte{1}}})
	expectState(t, s, AwaitingOperatorDecision)
	return s
}

func TestBuildPlan(t *testing.T) {
	s := newTestState(testMissionConfig())

	out := s.handleBuildPlan(buildPlanMessage(t, 2, 2))
	expectState(t, s, Planned)
	if s.plan == nil || s.plan.Len() != 9 {
		t.Fatalf("plan not stored")
	}
	if s.missionID == "" {
		t.Error("mission id not assigned")
	}
	if !hasStatus(out, "Mission planned: 9 waypoints, 4 photos") {
		t.Errorf("statuses = %v", statusTexts(out))
	}

	first := s.missionID
	s.handleBuildPlan(buildPlanMessage(t, 1, 1))
	expectState(t, s, Planned)
	if s.missionID == first || s.plan.Len() != 3 {
		t.Error("replanning did not replace the plan")
	}
}

func TestBuildPlanErrors(t *testing.T) {
	s := newTestState(testMissionConfig())

	out := s.handleBuildPlan(buildPlanMessage(t, 0, 2))
	expectState(t, s, Idle)
	reports := errorReports(out)
	if len(reports) != 1 || reports[0].Kind != reportPlanningError {
		t.Fatalf("reports = %+v", reports)
	}
	if errors.Cause(s.lastErr) != mission.ErrEmptyStructures {
		t.Errorf("last error = %v, want %v", s.lastErr, mission.ErrEmptyStructures)
	}

	s = executingState(t, testMissionConfig())
	out = s.handleBuildPlan(buildPlanMessage(t, 1, 1))
	expectState(t, s, Executing)
	if r := errorReports(out); len(r) != 1 || r[0].Kind != reportCommandRejected {
		t.Errorf("reports = %+v", r)
	}
}

func TestBuildPlanHomeFromTelemetry(t *testing.T) {
	config := testMissionConfig()
	config.Home = nil
	s := newTestState(config)

	s.handleBuildPlan(buildPlanMessage(t, 1, 1))
	expectState(t, s, Idle)
	if errors.Cause(s.lastErr) != mission.ErrNoHome {
		t.Fatalf("last error = %v, want %v", s.lastErr, mission.ErrNoHome)
	}

	s.handleGlobalPosition(types.GlobalPosition{Lat: 60.1, Lon: 24.9, Alt: 12})
	s.handleBuildPlan(buildPlanMessage(t, 1, 1))
	expectState(t, s, Planned)

	home, _ := s.plan.Waypoint(0)
	if home.Coordinate.Latitude != 60.1 || home.Coordinate.Longitude != 24.9 || home.Coordinate.Altitude != 25 {
		t.Errorf("safety waypoint = %+v", home.Coordinate)
	}
}

func TestStartSequence(t *testing.T) {
	s := newTestState(testMissionConfig())
	s.handleBuildPlan(buildPlanMessage(t, 2, 2))

	out := s.handleStartMission()
	expectState(t, s, Uploading)
	call := expectCall(t, out, opUpload, purposeStart)
	if call.Plan != s.plan {
		t.Error("upload does not carry the plan")
	}

	out = s.handleExecutorResult(executorResult{Op: opUpload, Purpose: purposeStart})
	expectState(t, s, Executing)
	expectCall(t, out, opBegin, purposeStart)
	if s.missionInProgress {
		t.Error("mission in progress before execution began")
	}

	out = s.handleExecutorResult(executorResult{Op: opBegin, Purpose: purposeStart})
	if !s.missionInProgress || !s.progress.StartedAt.Equal(testNow) {
		t.Error("mission not marked in progress")
	}
	if !hasStatus(out, "Mission started successfully") {
		t.Errorf("statuses = %v", statusTexts(out))
	}
}

func TestStartRequiresPlan(t *testing.T) {
	s := newTestState(testMissionConfig())
	out := s.handleStartMission()
	expectState(t, s, Idle)
	expectNoCall(t, out)
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name string
		op   executorOp
		want ErrorKind
	}{
		{"upload", opUpload, UploadFailed},
		{"begin", opBegin, StartFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(testMissionConfig())
			s.handleBuildPlan(buildPlanMessage(t, 1, 1))
			s.handleStartMission()
			if tt.op == opBegin {
				s.handleExecutorResult(executorResult{Op: opUpload, Purpose: purposeStart})
			}

			out := s.handleExecutorResult(executorResult{Op: tt.op, Purpose: purposeStart, Err: errors.New("link lost")})
			expectState(t, s, Failed)
			if kind, ok := ExecutionErrorKind(s.lastErr); !ok || kind != tt.want {
				t.Errorf("error kind = %v, want %v", kind, tt.want)
			}
			if r := errorReports(out); len(r) != 1 || r[0].Kind != string(tt.want) {
				t.Errorf("reports = %+v", r)
			}
			if s.missionInProgress {
				t.Error("mission still in progress")
			}

			s.handleBuildPlan(buildPlanMessage(t, 1, 1))
			expectState(t, s, Planned)
		})
	}
}

func TestPhotoReviewAccept(t *testing.T) {
	s := executingState(t, testMissionConfig())

	out := s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 2, TotalWaypoints: 9, Reached: false, State: types.ExecutorExecuting})
	expectNoCall(t, out)

	out = s.handleExecutionProgress(reached(2))
	expectState(t, s, PausedForPhotoReview)
	expectCall(t, out, opPause, purposeReview)

	out = s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview})
	expectState(t, s, AwaitingPhotoFetch)
	var timer *startTimer
	for _, m := range out {
		if st, ok := m.Message.(startTimer); ok {
			timer = &st
		}
	}
	if timer == nil || timer.Delay != 3*time.Second {
		t.Fatalf("review timer = %+v", timer)
	}
	if !hasStatus(out, "Mission paused for photo review") {
		t.Errorf("statuses = %v", statusTexts(out))
	}

	if out := s.handleTimerFired(timerFired{timer.Seq - 1}); len(out) != 0 {
		t.Errorf("stale timer produced %+v", out)
	}
	out = s.handleTimerFired(timerFired{timer.Seq})
	if len(out) != 1 {
		t.Fatalf("timer fire produced %+v", out)
	}
	fetch := out[0].Message.(fetchPhoto)

	img := camera.Image{Name: "DJI_0001.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	out = s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Image: img})
	expectState(t, s, AwaitingOperatorDecision)
	var review *types.PhotoReviewRequired
	for _, m := range out {
		if r, ok := m.Message.(types.PhotoReviewRequired); ok {
			review = &r
		}
	}
	if review == nil || review.Structure != 0 || review.Photo != 0 || review.WaypointIndex != 2 || len(review.Data) != 2 {
		t.Fatalf("review = %+v", review)
	}

	out = s.handleAcceptPhoto()
	expectState(t, s, Resuming)
	expectCall(t, out, opResume, purposeReview)
	var saved *savePhoto
	for _, m := range out {
		if sp, ok := m.Message.(savePhoto); ok {
			saved = &sp
		}
	}
	if saved == nil || saved.Image.Name != "DJI_0001.jpg" {
		t.Errorf("save = %+v", saved)
	}
	if !hasStatus(out, "Photo accepted, continuing mission") {
		t.Errorf("statuses = %v", statusTexts(out))
	}

	s.handleExecutorResult(executorResult{Op: opResume, Purpose: purposeReview})
	expectState(t, s, Executing)
	if s.progress.SuccessfulPhotos != 1 || s.progress.FailedPhotos != 0 {
		t.Errorf("photo counts = %d/%d", s.progress.SuccessfulPhotos, s.progress.FailedPhotos)
	}

	out = s.handleExecutionProgress(reached(3))
	expectState(t, s, PausedForPhotoReview)
	if s.reviewStructure != 0 || s.reviewPhoto != 1 {
		t.Errorf("review position = (%d, %d), want (0, 1)", s.reviewStructure, s.reviewPhoto)
	}
}

func TestRepeatedProgressPausesOnce(t *testing.T) {
	s := executingState(t, testMissionConfig())

	out := s.handleExecutionProgress(reached(7))
	expectCall(t, out, opPause, purposeReview)
	s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview, Err: errors.New("busy")})
	expectState(t, s, Executing)

	out = s.handleExecutionProgress(reached(7))
	expectNoCall(t, out)
	expectState(t, s, Executing)
}

func TestProgressIgnoredOutsideExecuting(t *testing.T) {
	s := executingState(t, testMissionConfig())

	tests := []types.ExecutionProgress{
		reached(4),
		{WaypointIndex: 2, TotalWaypoints: 9, Reached: true, State: types.ExecutorPaused},
	}
	for _, p := range tests {
		if out := s.handleExecutionProgress(p); len(executorCalls(out)) != 0 {
			t.Errorf("progress %+v issued %+v", p, executorCalls(out))
		}
	}

	s = reviewingState(t, testMissionConfig())
	if out := s.handleExecutionProgress(reached(3)); len(executorCalls(out)) != 0 {
		t.Errorf("progress during review issued %+v", executorCalls(out))
	}
}

func TestPauseFailureStaysExecuting(t *testing.T) {
	s := executingState(t, testMissionConfig())
	s.handleExecutionProgress(reached(2))

	out := s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview, Err: errors.New("rejected")})
	expectState(t, s, Executing)
	if r := errorReports(out); len(r) != 1 || r[0].Kind != string(PauseFailed) {
		t.Errorf("reports = %+v", r)
	}
}

func TestFetchFailureContinuesMission(t *testing.T) {
	s := executingState(t, testMissionConfig())
	s.handleExecutionProgress(reached(2))
	s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview})
	fetch := s.handleTimerFired(timerFired{s.timerSeq})[0].Message.(fetchPhoto)

	out := s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Err: camera.ErrUnavailable})
	expectState(t, s, Executing)
	expectCall(t, out, opResume, purposeReview)
	if !hasStatus(out, "Photo not available, continuing mission") {
		t.Errorf("statuses = %v", statusTexts(out))
	}
	if r := errorReports(out); len(r) != 1 || r[0].Text != "Failed to get photo: no photo available" {
		t.Errorf("reports = %+v", r)
	}
	if s.progress.FailedPhotos != 1 {
		t.Errorf("failed photos = %d, want 1", s.progress.FailedPhotos)
	}

	out = s.handleExecutorResult(executorResult{Op: opResume, Purpose: purposeReview, Err: errors.New("timeout")})
	expectState(t, s, Resuming)
	if r := errorReports(out); len(r) != 1 || r[0].Kind != string(ResumeFailed) {
		t.Errorf("reports = %+v", r)
	}

	out = s.handleResumeMission()
	expectCall(t, out, opResume, purposeReview)
	out = s.handleResumeMission()
	expectNoCall(t, out)

	s.handleExecutorResult(executorResult{Op: opResume, Purpose: purposeReview})
	expectState(t, s, Executing)
}

func TestResumeFailureAfterAcceptRetries(t *testing.T) {
	s := reviewingState(t, testMissionConfig())
	s.handleAcceptPhoto()

	s.handleExecutorResult(executorResult{Op: opResume, Purpose: purposeReview, Err: errors.New("nack")})
	expectState(t, s, Resuming)
	if kind, _ := ExecutionErrorKind(s.lastErr); kind != ResumeFailed {
		t.Errorf("error kind = %v, want %v", kind, ResumeFailed)
	}

	out := s.handleAcceptPhoto()
	expectCall(t, out, opResume, purposeReview)
	if s.progress.SuccessfulPhotos != 1 {
		t.Errorf("retry counted photo again: %d", s.progress.SuccessfulPhotos)
	}
}

func TestRetakeFetchesImmediately(t *testing.T) {
	s := reviewingState(t, testMissionConfig())
	oldSeq := s.fetchSeq

	out := s.handleRetakePhoto()
	expectState(t, s, AwaitingPhotoFetch)
	expectNoCall(t, out)
	var fetch *fetchPhoto
	for _, m := range out {
		switch p := m.Message.(type) {
		case fetchPhoto:
			fetch = &p
		case startTimer:
			t.Error("retake started the review timer")
		}
	}
	if fetch == nil || fetch.Seq == oldSeq {
		t.Fatalf("fetch = %+v", fetch)
	}
	if !hasStatus(out, "Retaking photo...") {
		t.Errorf("statuses = %v", statusTexts(out))
	}

	if out := s.handlePhotoFetched(photoFetched{Seq: oldSeq, Image: camera.Image{Name: "old.jpg"}}); len(out) != 0 {
		t.Errorf("stale fetch produced %+v", out)
	}
	s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Image: camera.Image{Name: "new.jpg"}})
	expectState(t, s, AwaitingOperatorDecision)
	if s.pendingImage == nil || s.pendingImage.Name != "new.jpg" {
		t.Errorf("pending image = %+v", s.pendingImage)
	}
}

func TestAutoAcceptPhotos(t *testing.T) {
	config := testMissionConfig()
	config.AutoAcceptPhotos = true
	s := executingState(t, config)
	s.handleExecutionProgress(reached(2))
	s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview})
	fetch := s.handleTimerFired(timerFired{s.timerSeq})[0].Message.(fetchPhoto)

	out := s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Image: camera.Image{Name: "a.jpg"}})
	expectState(t, s, Resuming)
	expectCall(t, out, opResume, purposeReview)
}

func TestStopIsBestEffort(t *testing.T) {
	s := reviewingState(t, testMissionConfig())

	out := s.handleStopMission()
	expectState(t, s, Stopped)
	expectCall(t, out, opStop, purposeStop)
	if s.missionInProgress {
		t.Error("mission still in progress after stop")
	}
	cancelled := false
	for _, m := range out {
		if _, ok := m.Message.(cancelTimer); ok {
			cancelled = true
		}
	}
	if !cancelled {
		t.Error("review timer not cancelled")
	}

	if out := s.handleStopMission(); len(out) != 0 {
		t.Errorf("second stop produced %+v", out)
	}

	out = s.handleExecutorResult(executorResult{Op: opStop, Purpose: purposeStop, Err: errors.New("no ack")})
	expectState(t, s, Stopped)
	call := expectCall(t, out, opReturnHome, purposeStop)
	if call.Altitude != 25 {
		t.Errorf("return home altitude = %v, want 25", call.Altitude)
	}
	if r := errorReports(out); len(r) != 1 || r[0].Kind != string(StopFailed) {
		t.Errorf("reports = %+v", r)
	}
	if !hasStatus(out, "Failed to stop mission: no ack") {
		t.Errorf("statuses = %v", statusTexts(out))
	}

	out = s.handleExecutorResult(executorResult{Op: opReturnHome, Purpose: purposeStop, Err: errors.New("no gps")})
	expectState(t, s, Stopped)
	if r := errorReports(out); len(r) != 1 || r[0].Kind != string(StopFailed) {
		t.Errorf("reports = %+v", r)
	}

	// late completions from the interrupted review are ignored
	if out := s.handlePhotoFetched(photoFetched{Seq: s.fetchSeq, Image: camera.Image{}}); len(out) != 0 {
		t.Errorf("late fetch produced %+v", out)
	}
	if out := s.handleExecutionFinished(types.ExecutionFinished{}); len(out) != 0 {
		t.Errorf("finish after stop produced %+v", out)
	}

	out = s.handleStopMission()
	expectCall(t, out, opStop, purposeStop)
}

func TestStopSuccessReturnsHome(t *testing.T) {
	s := executingState(t, testMissionConfig())
	s.handleStopMission()

	out := s.handleExecutorResult(executorResult{Op: opStop, Purpose: purposeStop})
	expectCall(t, out, opReturnHome, purposeStop)
	if !hasStatus(out, "Mission stopped, returning home") {
		t.Errorf("statuses = %v", statusTexts(out))
	}
	if r := errorReports(out); len(r) != 0 {
		t.Errorf("reports = %+v", r)
	}
}

func TestStopRejectedWhenIdle(t *testing.T) {
	s := newTestState(testMissionConfig())
	out := s.handleStopMission()
	expectState(t, s, Idle)
	expectNoCall(t, out)
}

func TestManualPauseResume(t *testing.T) {
	s := executingState(t, testMissionConfig())

	out := s.handlePauseMission()
	expectCall(t, out, opPause, purposeManual)
	out = s.handlePauseMission()
	expectNoCall(t, out)

	out = s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeManual})
	expectState(t, s, Executing)
	if !s.manuallyPaused || !hasStatus(out, "Mission paused") {
		t.Fatalf("manually paused = %v, statuses = %v", s.manuallyPaused, statusTexts(out))
	}

	out = s.handleExecutionProgress(reached(2))
	expectNoCall(t, out)

	out = s.handleResumeMission()
	expectCall(t, out, opResume, purposeManual)
	out = s.handleExecutorResult(executorResult{Op: opResume, Purpose: purposeManual})
	expectState(t, s, Executing)
	if s.manuallyPaused || !hasStatus(out, "Mission resumed") {
		t.Errorf("manually paused = %v, statuses = %v", s.manuallyPaused, statusTexts(out))
	}

	out = s.handleResumeMission()
	expectNoCall(t, out)
}

func TestManualPauseFailureKeepsState(t *testing.T) {
	s := executingState(t, testMissionConfig())
	s.handlePauseMission()

	out := s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeManual, Err: errors.New("denied")})
	expectState(t, s, Executing)
	if s.manuallyPaused {
		t.Error("flag set after failed pause")
	}
	if r := errorReports(out); len(r) != 1 || r[0].Kind != string(PauseFailed) {
		t.Errorf("reports = %+v", r)
	}
}

// Resuming the review sub-protocol does not clear a manual pause and the other
// way round.
func TestManualAndReviewPauseAreIndependent(t *testing.T) {
	s := reviewingState(t, testMissionConfig())

	out := s.handleResumeMission()
	expectNoCall(t, out)
	expectState(t, s, AwaitingOperatorDecision)

	out = s.handlePauseMission()
	expectNoCall(t, out)

	s.handleAcceptPhoto()
	s.handleExecutorResult(executorResult{Op: opResume, Purpose: purposeReview})
	expectState(t, s, Executing)
	if s.manuallyPaused {
		t.Error("review resume changed the manual flag")
	}
}

func TestExecutionFinished(t *testing.T) {
	s := executingState(t, testMissionConfig())
	out := s.handleExecutionFinished(types.ExecutionFinished{})
	expectState(t, s, Completed)
	var done *types.MissionCompleted
	for _, m := range out {
		if c, ok := m.Message.(types.MissionCompleted); ok {
			done = &c
		}
	}
	if done == nil || !done.Success || done.Message != "Mission completed successfully" || done.MissionID != s.missionID {
		t.Errorf("completion = %+v", done)
	}
	if s.missionInProgress {
		t.Error("mission still in progress")
	}

	s = reviewingState(t, testMissionConfig())
	out = s.handleExecutionFinished(types.ExecutionFinished{Failed: true, Reason: "battery critical"})
	expectState(t, s, Failed)
	done = nil
	for _, m := range out {
		if c, ok := m.Message.(types.MissionCompleted); ok {
			done = &c
		}
	}
	if done == nil || done.Success || done.Message != "battery critical" {
		t.Errorf("completion = %+v", done)
	}

	s = newTestState(testMissionConfig())
	if out := s.handleExecutionFinished(types.ExecutionFinished{}); len(out) != 0 {
		t.Errorf("finish while idle produced %+v", out)
	}
}

func TestProgressUpdates(t *testing.T) {
	s := executingState(t, testMissionConfig())

	out := s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 6, TotalWaypoints: 9, Reached: false, State: types.ExecutorExecuting})
	var update *types.ProgressUpdate
	for _, m := range out {
		if u, ok := m.Message.(types.ProgressUpdate); ok {
			update = &u
		}
	}
	want := types.ProgressUpdate{Structure: 2, TotalStructures: 2, Photo: 1, TotalPhotos: 2, CompletedWaypoints: 6, TotalWaypoints: 9}
	if update == nil || *update != want {
		t.Fatalf("update = %+v, want %+v", update, want)
	}

	out = s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 6, TotalWaypoints: 9, Reached: false, State: types.ExecutorExecuting})
	if len(out) != 0 {
		t.Errorf("unchanged progress produced %+v", out)
	}

	s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 8, TotalWaypoints: 9, Reached: true, State: types.ExecutorPaused})
	if s.progress.CompletedWaypoints != 9 || s.progress.CurrentStructureIndex != 1 || s.progress.CurrentPhotoIndex != 1 {
		t.Errorf("progress = %+v", s.progress)
	}
}

func TestReset(t *testing.T) {
	s := executingState(t, testMissionConfig())
	out := s.handleResetMission()
	expectState(t, s, Executing)
	if r := errorReports(out); len(r) != 1 {
		t.Errorf("reports = %+v", r)
	}

	s.handleExecutionFinished(types.ExecutionFinished{})
	s.handleResetMission()
	expectState(t, s, Idle)
	if s.plan != nil || s.missionID != "" || s.progress != (Progress{}) {
		t.Errorf("state not cleared: %+v", s.snapshot())
	}
}

func TestProgressStatistics(t *testing.T) {
	p := Progress{
		TotalStructures:    2,
		PhotosPerStructure: 5,
		SuccessfulPhotos:   4,
		FailedPhotos:       1,
		StartedAt:          testNow,
	}
	if p.Percentage() != 50 {
		t.Errorf("percentage = %v, want 50", p.Percentage())
	}
	if d := p.Duration(testNow.Add(90 * time.Second)); d != 90*time.Second {
		t.Errorf("duration = %v", d)
	}
	p.FinishedAt = testNow.Add(time.Minute)
	if d := p.Duration(testNow.Add(time.Hour)); d != time.Minute {
		t.Errorf("duration after finish = %v", d)
	}
	if (Progress{}).Percentage() != 0 || (Progress{}).Duration(testNow) != 0 {
		t.Error("empty progress statistics not zero")
	}
}

// singlePhotoState returns a state flying a 1x1 mission: home, approach and
// the only photo waypoint, which is also the last one.
func singlePhotoState(t *testing.T) *state {
	t.Helper()
	s := newTestState(testMissionConfig())
	s.handleBuildPlan(buildPlanMessage(t, 1, 1))
	s.handleStartMission()
	s.handleExecutorResult(executorResult{Op: opUpload, Purpose: purposeStart})
	s.handleExecutorResult(executorResult{Op: opBegin, Purpose: purposeStart})
	expectState(t, s, Executing)
	if s.plan.Len() != 3 {
		t.Fatalf("plan has %d waypoints, want 3", s.plan.Len())
	}
	return s
}

func completion(out []types.Message) *types.MissionCompleted {
	for _, m := range out {
		if c, ok := m.Message.(types.MissionCompleted); ok {
			return &c
		}
	}
	return nil
}

func TestLastPhotoReviewedBeforeCompletion(t *testing.T) {
	s := singlePhotoState(t)
	last := types.ExecutionProgress{WaypointIndex: 2, TotalWaypoints: 3, Reached: true, State: types.ExecutorExecuting}

	out := s.handleExecutionProgress(last)
	expectState(t, s, AwaitingPhotoFetch)
	expectNoCall(t, out)

	out = s.handleExecutionFinished(types.ExecutionFinished{})
	expectState(t, s, AwaitingPhotoFetch)
	if completion(out) != nil {
		t.Fatalf("mission completed during review: %+v", out)
	}

	fetch := s.handleTimerFired(timerFired{s.timerSeq})[0].Message.(fetchPhoto)
	s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Image: camera.Image{Name: "last.jpg", Data: []byte{1}}})
	expectState(t, s, AwaitingOperatorDecision)
	if s.reviewWaypoint != 2 || s.reviewStructure != 0 || s.reviewPhoto != 0 {
		t.Errorf("review at %d (%d, %d)", s.reviewWaypoint, s.reviewStructure, s.reviewPhoto)
	}

	out = s.handleAcceptPhoto()
	expectState(t, s, Completed)
	expectNoCall(t, out)
	done := completion(out)
	if done == nil || !done.Success {
		t.Fatalf("completion = %+v", done)
	}
	if s.progress.SuccessfulPhotos != s.progress.TotalPhotos() {
		t.Errorf("successful photos = %d, want %d", s.progress.SuccessfulPhotos, s.progress.TotalPhotos())
	}
	if done.Summary != s.progress.Summary(testNow) {
		t.Errorf("summary = %q", done.Summary)
	}
}

func TestLastPhotoAcceptedBeforeFinish(t *testing.T) {
	s := singlePhotoState(t)
	s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 2, TotalWaypoints: 3, Reached: true, State: types.ExecutorExecuting})
	fetch := s.handleTimerFired(timerFired{s.timerSeq})[0].Message.(fetchPhoto)
	s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Image: camera.Image{Name: "last.jpg"}})

	out := s.handleAcceptPhoto()
	expectState(t, s, Executing)
	expectNoCall(t, out)

	out = s.handleExecutionFinished(types.ExecutionFinished{})
	expectState(t, s, Completed)
	if done := completion(out); done == nil || !done.Success || s.progress.SuccessfulPhotos != 1 {
		t.Errorf("completion = %+v, successful = %d", done, s.progress.SuccessfulPhotos)
	}
}

func TestLastPhotoUnavailableCompletes(t *testing.T) {
	s := singlePhotoState(t)
	s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 2, TotalWaypoints: 3, Reached: true, State: types.ExecutorExecuting})
	s.handleExecutionFinished(types.ExecutionFinished{})
	fetch := s.handleTimerFired(timerFired{s.timerSeq})[0].Message.(fetchPhoto)

	out := s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Err: camera.ErrUnavailable})
	expectState(t, s, Completed)
	expectNoCall(t, out)
	if s.progress.FailedPhotos != 1 || s.progress.SuccessfulPhotos != 0 {
		t.Errorf("photo counts = %d/%d", s.progress.SuccessfulPhotos, s.progress.FailedPhotos)
	}
	if len(errorReports(out)) != 1 {
		t.Errorf("reports = %+v", errorReports(out))
	}
}

func TestFinishDuringReviewPauseStillReviews(t *testing.T) {
	s := executingState(t, testMissionConfig())
	s.handleExecutionProgress(reached(7))
	expectState(t, s, PausedForPhotoReview)

	s.handleExecutionFinished(types.ExecutionFinished{})
	expectState(t, s, PausedForPhotoReview)

	s.handleExecutorResult(executorResult{Op: opPause, Purpose: purposeReview, Err: errors.New("mission finished")})
	expectState(t, s, AwaitingPhotoFetch)

	fetch := s.handleTimerFired(timerFired{s.timerSeq})[0].Message.(fetchPhoto)
	s.handlePhotoFetched(photoFetched{Seq: fetch.Seq, Image: camera.Image{Name: "p.jpg"}})
	out := s.handleAcceptPhoto()
	expectState(t, s, Completed)
	expectNoCall(t, out)
}

func TestFailedFinishEndsReview(t *testing.T) {
	s := singlePhotoState(t)
	s.handleExecutionProgress(types.ExecutionProgress{WaypointIndex: 2, TotalWaypoints: 3, Reached: true, State: types.ExecutorExecuting})

	out := s.handleExecutionFinished(types.ExecutionFinished{Failed: true, Reason: "geofence breach"})
	expectState(t, s, Failed)
	if done := completion(out); done == nil || done.Success {
		t.Errorf("completion = %+v", done)
	}
	if out := s.handleTimerFired(timerFired{s.timerSeq}); len(out) != 0 {
		t.Errorf("timer after failure produced %+v", out)
	}
}

func TestResetWaitsForReturnHome(t *testing.T) {
	s := executingState(t, testMissionConfig())
	s.handleStopMission()
	s.handleExecutorResult(executorResult{Op: opStop, Purpose: purposeStop})

	out := s.handleResetMission()
	expectState(t, s, Stopped)
	if r := errorReports(out); len(r) != 1 || r[0].Kind != reportCommandRejected {
		t.Errorf("reports = %+v", r)
	}

	s.handleExecutorResult(executorResult{Op: opReturnHome, Purpose: purposeStop})
	s.handleResetMission()
	expectState(t, s, Idle)

	s.handleBuildPlan(buildPlanMessage(t, 1, 1))
	s.handleStartMission()
	s.handleExecutorResult(executorResult{Op: opUpload, Purpose: purposeStart})
	out = s.handleStopMission()
	expectState(t, s, Stopped)
	expectCall(t, out, opStop, purposeStop)
}
