// Package flypx4 executes inspection plans on a PX4 autopilot over ROS 2.
package flypx4

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/luispma04/PowerLine-Drone/internal/types"
	"github.com/pkg/errors"
	"github.com/tiiuae/rclgo/pkg/ros2"
	builtin_interfaces "github.com/tiiuae/rclgo/pkg/ros2/msgs/builtin_interfaces/msg"
	geometry_msgs "github.com/tiiuae/rclgo/pkg/ros2/msgs/geometry_msgs/msg"
	nav_msgs "github.com/tiiuae/rclgo/pkg/ros2/msgs/nav_msgs/msg"
	px4_msgs "github.com/tiiuae/rclgo/pkg/ros2/msgs/px4_msgs/msg"
	std_msgs "github.com/tiiuae/rclgo/pkg/ros2/msgs/std_msgs/msg"
	"github.com/tiiuae/rclgo/pkg/ros2/ros2types"
)

var ErrNotRunning = errors.New("px4 executor not running")

type request struct {
	path    []mission.WaypointSpec
	command string
	reply   chan error
}

// Executor publishes the flight path and mavlink commands and reports
// MissionResult updates as execution progress.
type Executor struct {
	localNode *ros2.Node
	deviceID  string
	inbox     chan types.Message
	state     *state
}

func New(localNode *ros2.Node, deviceID string) *Executor {
	return &Executor{localNode, deviceID, make(chan types.Message, 10), newState(deviceID)}
}

func (px4 *Executor) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	go px4.runMessageLoop(ctx, wg, post)
	go px4.runPX4Subscriber(ctx, wg)
}

func (px4 *Executor) Receive(message types.Message) {
}

func (px4 *Executor) Upload(ctx context.Context, plan *mission.Plan) error {
	if plan == nil || plan.Len() == 0 {
		return errors.New("empty plan")
	}
	return px4.send(ctx, request{path: plan.Waypoints()})
}

func (px4 *Executor) BeginExecution(ctx context.Context) error {
	return px4.send(ctx, request{command: "start_mission"})
}

func (px4 *Executor) Pause(ctx context.Context) error {
	return px4.send(ctx, request{command: "pause_mission"})
}

func (px4 *Executor) Resume(ctx context.Context) error {
	return px4.send(ctx, request{command: "resume_mission"})
}

func (px4 *Executor) Stop(ctx context.Context) error {
	return px4.send(ctx, request{command: "stop_mission"})
}

func (px4 *Executor) ReturnHome(ctx context.Context, altitude float64) error {
	return px4.send(ctx, request{command: fmt.Sprintf("return_home %.1f", altitude)})
}

func (px4 *Executor) send(ctx context.Context, r request) error {
	r.reply = make(chan error, 1)
	select {
	case px4.inbox <- types.Message{Timestamp: time.Now().UTC(), MessageType: "px4-request", Message: r}:
	case <-ctx.Done():
		return errors.WithMessage(ErrNotRunning, ctx.Err().Error())
	}
	select {
	case err := <-r.reply:
		return err
	case <-ctx.Done():
		return errors.WithMessage(ErrNotRunning, ctx.Err().Error())
	}
}

func (px4 *Executor) runMessageLoop(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	pubPath, err := px4.localNode.NewPublisher("path", &nav_msgs.Path{})
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	pubMavlink, err := px4.localNode.NewPublisher("mavlinkcmd", &std_msgs.String{})
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	pubActions, err := px4.localNode.NewPublisher("mission_actions", &std_msgs.String{})
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}

	defer pubPath.Close()
	defer pubMavlink.Close()
	defer pubActions.Close()

	for {
		select {
		case <-ctx.Done():
			log.Println("PX4 shutting down")
			return
		case msg := <-px4.inbox:
			switch m := msg.Message.(type) {
			case request:
				if m.path != nil {
					actions, err := createActions(m.path)
					if err != nil {
						m.reply <- errors.WithMessage(err, "encoding camera actions")
						continue
					}
					log.Printf("PX4: sending path of %d waypoints", len(m.path))
					pubPath.Publish(createPath(m.path))
					pubActions.Publish(actions)
					px4.state.handleUpload(len(m.path))
				} else {
					log.Printf("PX4: %s", m.command)
					pubMavlink.Publish(createString(m.command))
					px4.state.handleCommand(m.command)
				}
				m.reply <- nil
			case missionResult:
				for _, out := range px4.state.handleMissionResult(m) {
					post(out)
				}
			}
		}
	}
}

func (px4 *Executor) runPX4Subscriber(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	var missionResultFilter string = ""

	sub, rclErr := px4.localNode.NewSubscription("MissionResult_PubSubTopic", &px4_msgs.MissionResult{}, func(s *ros2.Subscription) {
		var m px4_msgs.MissionResult
		_, rlcErr := s.TakeMessage(&m)
		if rlcErr != nil {
			log.Print("TakeMessage failed: runPX4Subscriber")
			return
		}

		key := fmt.Sprintf("%v-%v-%v-%v-%v-%v", m.InstanceCount, m.SeqReached, m.SeqCurrent, m.Valid, m.Finished, m.Failure)
		if key == missionResultFilter {
			return
		}
		missionResultFilter = key

		result := missionResult{
			InstanceCount: int(m.InstanceCount),
			SeqReached:    int(m.SeqReached),
			SeqCurrent:    int(m.SeqCurrent),
			SeqTotal:      int(m.SeqTotal),
			Valid:         m.Valid,
			Finished:      m.Finished,
			Failure:       m.Failure,
		}
		log.Printf("MissionResult: %+v", result)

		select {
		case px4.inbox <- types.Message{Timestamp: time.Now().UTC(), From: px4.deviceID, To: px4.deviceID, MessageType: "mission-result", Message: result}:
		case <-ctx.Done():
		}
	})

	if rclErr != nil {
		log.Fatalf("Unable to subscribe to topic 'MissionResult_PubSubTopic': %v", rclErr)
	}

	err := sub.Spin(ctx, 5*time.Second)
	if err != nil {
		log.Printf("Subscription failed: %v", err)
	}
}

func createString(value string) ros2types.ROS2Msg {
	rosmsg := std_msgs.NewString()
	rosmsg.Data.SetDefaults(value)
	return rosmsg
}

// createPath encodes waypoints as poses: X latitude, Y longitude, Z altitude,
// orientation the heading as yaw.
func createPath(waypoints []mission.WaypointSpec) *nav_msgs.Path {
	now := time.Now()
	path := nav_msgs.NewPath()
	path.Header = *createHeader(now)
	path.Poses = make([]geometry_msgs.PoseStamped, len(waypoints))
	for i, w := range waypoints {
		point := geometry_msgs.NewPoint()
		point.X = w.Coordinate.Latitude
		point.Y = w.Coordinate.Longitude
		point.Z = w.Coordinate.Altitude
		pose := geometry_msgs.NewPoseStamped()
		pose.Header = *createHeader(now)
		pose.Pose.Position = *point
		yaw := w.Heading * math.Pi / 180
		pose.Pose.Orientation.Z = math.Sin(yaw / 2)
		pose.Pose.Orientation.W = math.Cos(yaw / 2)
		path.Poses[i] = *pose
	}

	return path
}

func createHeader(stamp time.Time) *std_msgs.Header {
	header := std_msgs.NewHeader()
	header.Stamp = *builtin_interfaces.NewTime()
	header.Stamp.Sec = int32(stamp.Unix())
	header.Stamp.Nanosec = uint32(stamp.Nanosecond())
	header.FrameId = "map"
	return header
}

type waypointActions struct {
	Index   int              `json:"index"`
	Actions []mission.Action `json:"actions"`
}

// createActions lists the camera actions of the path, published alongside it
// for the gimbal and camera nodes.
func createActions(waypoints []mission.WaypointSpec) (ros2types.ROS2Msg, error) {
	actions := make([]waypointActions, 0)
	for i, w := range waypoints {
		if len(w.Actions) > 0 {
			actions = append(actions, waypointActions{i, w.Actions})
		}
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return nil, err
	}
	return createString(string(b)), nil
}
