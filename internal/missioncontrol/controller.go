// Package missioncontrol supervises a planned inspection flight: it uploads
// and starts the mission, pauses at every photo waypoint for operator review,
// and handles stop, failure and completion.
//
// All state changes happen on the controller's own goroutine. Flight executor
// and photo provider calls run in their own goroutines and their results are
// delivered back through the controller inbox.
package missioncontrol

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/luispma04/PowerLine-Drone/internal/camera"
	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/luispma04/PowerLine-Drone/internal/types"
	"github.com/pkg/errors"
)

// FlightExecutor flies an uploaded plan. Progress and completion are posted
// on the bus as types.ExecutionProgress and types.ExecutionFinished.
type FlightExecutor interface {
	Upload(ctx context.Context, plan *mission.Plan) error
	BeginExecution(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	ReturnHome(ctx context.Context, altitude float64) error
}

type PhotoProvider interface {
	FetchLatestPhoto(ctx context.Context) (camera.Image, error)
}

type PhotoStore interface {
	Save(structure, photo int, image camera.Image) (string, error)
}

const inboxSize = 100

type Controller struct {
	executor FlightExecutor
	photos   PhotoProvider
	store    PhotoStore
	inbox    chan types.Message
	state    *state
	timer    *time.Timer

	// notifications wait here so that a full bus never stalls the inbox
	outMu    sync.Mutex
	outbox   []types.Message
	outReady chan struct{}
}

// New creates a controller. store may be nil, accepted photos are then only
// counted.
func New(deviceID string, config Config, executor FlightExecutor, photos PhotoProvider, store PhotoStore) *Controller {
	return &Controller{
		executor: executor,
		photos:   photos,
		store:    store,
		inbox:    make(chan types.Message, inboxSize),
		state:    newState(deviceID, config, time.Now),
		outReady: make(chan struct{}, 1),
	}
}

func (c *Controller) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	go c.runMessageLoop(ctx, wg)
	go c.runPublisher(ctx, wg, post)
}

func (c *Controller) Receive(message types.Message) {
	switch message.Message.(type) {
	case types.BuildPlan, types.StartMission, types.PauseMission, types.ResumeMission,
		types.StopMission, types.AcceptPhoto, types.RetakePhoto, types.ResetMission,
		types.ExecutionProgress, types.ExecutionFinished, types.GlobalPosition:
		c.inbox <- message
	}
}

// Snapshot returns the current mission state, read on the controller goroutine.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.inbox <- types.Message{MessageType: "snapshot-query", Message: snapshotQuery{reply}}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Controller) runMessageLoop(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Println("MissionControl shutting down")
			c.stopTimer()
			return
		case msg := <-c.inbox:
			c.execute(ctx, c.handle(msg))
		}
	}
}

func (c *Controller) handle(msg types.Message) []types.Message {
	s := c.state
	switch m := msg.Message.(type) {
	case types.BuildPlan:
		return s.handleBuildPlan(m)
	case types.StartMission:
		return s.handleStartMission()
	case types.PauseMission:
		return s.handlePauseMission()
	case types.ResumeMission:
		return s.handleResumeMission()
	case types.StopMission:
		return s.handleStopMission()
	case types.AcceptPhoto:
		return s.handleAcceptPhoto()
	case types.RetakePhoto:
		return s.handleRetakePhoto()
	case types.ResetMission:
		return s.handleResetMission()
	case types.ExecutionProgress:
		return s.handleExecutionProgress(m)
	case types.ExecutionFinished:
		return s.handleExecutionFinished(m)
	case types.GlobalPosition:
		return s.handleGlobalPosition(m)
	case executorResult:
		return s.handleExecutorResult(m)
	case timerFired:
		return s.handleTimerFired(m)
	case photoFetched:
		return s.handlePhotoFetched(m)
	case photoSaved:
		return s.handleSavedPhoto(m)
	case snapshotQuery:
		m.reply <- s.snapshot()
	}
	return nil
}

func (c *Controller) execute(ctx context.Context, messages []types.Message) {
	for _, msg := range messages {
		switch m := msg.Message.(type) {
		case executorCall:
			go c.callExecutor(ctx, m)
		case startTimer:
			c.startTimer(ctx, m)
		case cancelTimer:
			c.stopTimer()
		case fetchPhoto:
			go c.fetchPhoto(ctx, m)
		case savePhoto:
			go c.savePhoto(ctx, m)
		default:
			c.queue(msg)
		}
	}
}

func (c *Controller) queue(msg types.Message) {
	c.outMu.Lock()
	c.outbox = append(c.outbox, msg)
	c.outMu.Unlock()

	select {
	case c.outReady <- struct{}{}:
	default:
	}
}

// runPublisher posts queued notifications in order.
func (c *Controller) runPublisher(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.outReady:
			c.outMu.Lock()
			pending := c.outbox
			c.outbox = nil
			c.outMu.Unlock()

			for _, msg := range pending {
				post(msg)
			}
		}
	}
}

// deliver hands a completion back to the controller goroutine.
func (c *Controller) deliver(ctx context.Context, messageType string, payload interface{}) {
	select {
	case c.inbox <- types.Message{Timestamp: time.Now().UTC(), MessageType: messageType, Message: payload}:
	case <-ctx.Done():
	}
}

func (c *Controller) callExecutor(ctx context.Context, call executorCall) {
	var err error
	switch call.Op {
	case opUpload:
		err = c.executor.Upload(ctx, call.Plan)
	case opBegin:
		err = c.executor.BeginExecution(ctx)
	case opPause:
		err = c.executor.Pause(ctx)
	case opResume:
		err = c.executor.Resume(ctx)
	case opStop:
		err = c.executor.Stop(ctx)
	case opReturnHome:
		err = c.executor.ReturnHome(ctx, call.Altitude)
	default:
		err = errors.Errorf("unknown executor operation %s", call.Op)
	}
	c.deliver(ctx, "executor-result", executorResult{Op: call.Op, Purpose: call.Purpose, Err: err})
}

func (c *Controller) startTimer(ctx context.Context, m startTimer) {
	c.stopTimer()
	seq := m.Seq
	c.timer = time.AfterFunc(m.Delay, func() {
		c.deliver(ctx, "timer-fired", timerFired{seq})
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) fetchPhoto(ctx context.Context, m fetchPhoto) {
	img, err := c.photos.FetchLatestPhoto(ctx)
	c.deliver(ctx, "photo-fetched", photoFetched{Seq: m.Seq, Image: img, Err: err})
}

func (c *Controller) savePhoto(ctx context.Context, m savePhoto) {
	if c.store == nil {
		return
	}
	path, err := c.store.Save(m.Structure, m.Photo, m.Image)
	c.deliver(ctx, "photo-saved", photoSaved{Path: path, Err: err})
}
