// Package simulator flies uploaded plans without an aircraft, reporting
// progress on the bus like the PX4 executor does.
package simulator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/luispma04/PowerLine-Drone/internal/geometry"
	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/luispma04/PowerLine-Drone/internal/types"
	"github.com/pkg/errors"
)

var ErrInvalidState = errors.New("invalid executor state")

// Executor advances half a waypoint per tick: one tick to leave for the next
// waypoint and one to reach it.
type Executor struct {
	deviceID string
	interval time.Duration

	mu         sync.Mutex
	waypoints  []mission.WaypointSpec
	state      types.ExecutorState
	index      int
	legStarted bool
	position   mission.GpsCoordinate
}

func New(deviceID string, interval time.Duration) *Executor {
	return &Executor{
		deviceID: deviceID,
		interval: interval,
		state:    types.ExecutorIdle,
	}
}

func (e *Executor) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	go e.runTicker(ctx, wg, post)
}

func (e *Executor) Receive(message types.Message) {
}

func (e *Executor) runTicker(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Simulator shutting down")
			return
		case <-ticker.C:
			for _, msg := range e.step() {
				post(msg)
			}
		}
	}
}

func (e *Executor) step() []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.ExecutorExecuting {
		return nil
	}

	total := len(e.waypoints)
	if !e.legStarted {
		e.legStarted = true
		target := e.waypoints[e.index].Coordinate
		log.Printf("Simulator: flying to waypoint %d/%d (%.1f m)", e.index+1, total, geometry.Distance(e.position, target))
		return []types.Message{e.progress(false)}
	}

	out := []types.Message{e.progress(true)}
	e.position = e.waypoints[e.index].Coordinate
	if e.waypoints[e.index].CapturesPhoto() {
		log.Printf("Simulator: capturing photo at waypoint %d", e.index+1)
	}
	e.index++
	e.legStarted = false

	if e.index >= total {
		e.state = types.ExecutorFinished
		out = append(out, types.CreateMessage("execution-finished", e.deviceID, e.deviceID, types.ExecutionFinished{}))
	}
	return out
}

func (e *Executor) progress(reached bool) types.Message {
	return types.CreateMessage("execution-progress", e.deviceID, e.deviceID, types.ExecutionProgress{
		WaypointIndex:  e.index,
		TotalWaypoints: len(e.waypoints),
		Reached:        reached,
		State:          e.state,
	})
}

func (e *Executor) State() types.ExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) Upload(ctx context.Context, plan *mission.Plan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case types.ExecutorExecuting, types.ExecutorPaused:
		return errors.WithMessagef(ErrInvalidState, "cannot upload while %s", e.state)
	}
	if plan == nil || plan.Len() == 0 {
		return errors.New("empty plan")
	}

	e.waypoints = plan.Waypoints()
	e.position = e.waypoints[0].Coordinate
	e.position.Altitude = 0
	e.index = 0
	e.legStarted = false
	e.state = types.ExecutorReadyToExecute
	log.Printf("Simulator: uploaded %d waypoints", len(e.waypoints))
	return nil
}

func (e *Executor) BeginExecution(ctx context.Context) error {
	return e.change(types.ExecutorReadyToExecute, types.ExecutorExecuting)
}

func (e *Executor) Pause(ctx context.Context) error {
	return e.change(types.ExecutorExecuting, types.ExecutorPaused)
}

func (e *Executor) Resume(ctx context.Context) error {
	return e.change(types.ExecutorPaused, types.ExecutorExecuting)
}

func (e *Executor) change(from, to types.ExecutorState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != from {
		return errors.WithMessagef(ErrInvalidState, "%s, want %s", e.state, from)
	}
	e.state = to
	return nil
}

func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = types.ExecutorIdle
	e.waypoints = nil
	e.index = 0
	e.legStarted = false
	return nil
}

func (e *Executor) ReturnHome(ctx context.Context, altitude float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == types.ExecutorExecuting || e.state == types.ExecutorPaused {
		return errors.WithMessage(ErrInvalidState, "stop the mission before returning home")
	}
	log.Printf("Simulator: returning home at %.1f m", altitude)
	e.position = mission.GpsCoordinate{}
	e.state = types.ExecutorIdle
	return nil
}
