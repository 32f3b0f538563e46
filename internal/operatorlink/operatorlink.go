// Package operatorlink connects the operator over MQTT: commands arrive under
// <prefix>/<device>/commands/ and notifications are published as events.
package operatorlink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/luispma04/PowerLine-Drone/internal/missionfile"
	"github.com/luispma04/PowerLine-Drone/internal/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MQTT parameters
const (
	qos    = 1
	retain = false
)

var ErrUnknownCommand = errors.New("unknown command")

type controlCommand struct {
	Command   string
	Payload   string
	Timestamp time.Time
}

// missionFiles is the plan-mission payload: both CSV tables inline.
type missionFiles struct {
	Structures   string `yaml:"structures"`
	PhotoOffsets string `yaml:"photo_offsets"`
}

// missionPaths is the load-mission payload: CSV files on the device.
type missionPaths struct {
	Structures   string `yaml:"structures_file"`
	PhotoOffsets string `yaml:"photo_offsets_file"`
}

type statusRequest struct{}

// StatusFn reports the current mission state for the mission-status command.
type StatusFn func(ctx context.Context) (interface{}, error)

type photoReviewEvent struct {
	types.PhotoReviewRequired
	Image string `json:"image"`
}

type publishFn func(topic string, payload []byte) error

type link struct {
	client      mqtt.Client
	deviceID    string
	topicPrefix string
	inbox       chan types.Message
	publish     publishFn
	status      StatusFn
}

func New(client mqtt.Client, deviceID string, topicPrefix string, status StatusFn) types.MessageHandler {
	l := &link{
		client:      client,
		deviceID:    deviceID,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		inbox:       make(chan types.Message, 30),
		status:      status,
	}
	l.publish = l.publishMQTT
	return l
}

func (l *link) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	go l.runPublisher(ctx, wg)
	l.subscribe(ctx, post)
}

func (l *link) Receive(message types.Message) {
	switch message.Message.(type) {
	case types.StatusUpdate, types.ProgressUpdate, types.MissionCompleted,
		types.PhotoReviewRequired, types.ErrorReport, types.StateChanged:
		l.inbox <- message
	}
}

func (l *link) commandTopic() string {
	return fmt.Sprintf("%s/%s/commands/", l.topicPrefix, l.deviceID)
}

func (l *link) eventTopic(name string) string {
	return fmt.Sprintf("%s/%s/events/%s", l.topicPrefix, l.deviceID, name)
}

func (l *link) subscribe(ctx context.Context, post types.PostFn) {
	log.Printf("Subscribing to MQTT commands")
	commandTopic := l.commandTopic()
	token := l.client.Subscribe(fmt.Sprintf("%v#", commandTopic), 0, func(client mqtt.Client, msg mqtt.Message) {
		subfolder := strings.TrimPrefix(msg.Topic(), commandTopic)
		out, err := l.parseCommand(subfolder, msg.Payload())
		if err != nil {
			log.Printf("Operator: %v", err)
			post(types.CreateMessage("error-report", l.deviceID, l.deviceID, types.ErrorReport{Kind: "CommandRejected", Text: err.Error()}))
			return
		}
		if _, ok := out.Message.(statusRequest); ok {
			go func() {
				if err := l.publishStatus(ctx); err != nil {
					log.Printf("Operator: mission status: %v", err)
				}
			}()
			return
		}
		post(out)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Fatalf("Error on subscribe: %v", err)
	}
}

// parseCommand turns an MQTT command into a bus message for the controller.
func (l *link) parseCommand(subfolder string, payload []byte) (types.Message, error) {
	var cmd controlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return types.Message{}, errors.WithMessage(err, "could not unmarshal command")
	}

	create := func(messageType string, message interface{}) (types.Message, error) {
		log.Printf("Operator: %s", messageType)
		return types.CreateMessage(messageType, "operator", l.deviceID, message), nil
	}

	switch subfolder {
	case "control":
		switch cmd.Command {
		case "start-mission":
			return create(cmd.Command, types.StartMission{})
		case "pause-mission":
			return create(cmd.Command, types.PauseMission{})
		case "resume-mission":
			return create(cmd.Command, types.ResumeMission{})
		case "stop-mission":
			return create(cmd.Command, types.StopMission{})
		case "accept-photo":
			return create(cmd.Command, types.AcceptPhoto{})
		case "retake-photo":
			return create(cmd.Command, types.RetakePhoto{})
		case "reset-mission":
			return create(cmd.Command, types.ResetMission{})
		case "mission-status":
			return create(cmd.Command, statusRequest{})
		}
	case "mission":
		switch cmd.Command {
		case "plan-mission":
			plan, err := parseMissionFiles(cmd.Payload)
			if err != nil {
				return types.Message{}, err
			}
			return create("build-plan", plan)
		case "load-mission":
			plan, err := loadMissionFiles(cmd.Payload)
			if err != nil {
				return types.Message{}, err
			}
			return create("build-plan", plan)
		}
	}

	return types.Message{}, errors.WithMessagef(ErrUnknownCommand, "%s/%s", subfolder, cmd.Command)
}

func parseMissionFiles(payload string) (types.BuildPlan, error) {
	var files missionFiles
	if err := yaml.Unmarshal([]byte(payload), &files); err != nil {
		return types.BuildPlan{}, errors.WithMessage(err, "could not unmarshal mission files")
	}

	structures, err := missionfile.ParseStructures(strings.NewReader(files.Structures))
	if err != nil {
		return types.BuildPlan{}, errors.WithMessage(err, "structures")
	}
	offsets, err := missionfile.ParsePhotoOffsets(strings.NewReader(files.PhotoOffsets))
	if err != nil {
		return types.BuildPlan{}, errors.WithMessage(err, "photo offsets")
	}

	return types.BuildPlan{Structures: structures, PhotoOffsets: offsets}, nil
}

func loadMissionFiles(payload string) (types.BuildPlan, error) {
	var paths missionPaths
	if err := yaml.Unmarshal([]byte(payload), &paths); err != nil {
		return types.BuildPlan{}, errors.WithMessage(err, "could not unmarshal mission paths")
	}

	structures, err := missionfile.LoadStructures(paths.Structures)
	if err != nil {
		return types.BuildPlan{}, errors.WithMessage(err, "structures")
	}
	offsets, err := missionfile.LoadPhotoOffsets(paths.PhotoOffsets)
	if err != nil {
		return types.BuildPlan{}, errors.WithMessage(err, "photo offsets")
	}

	return types.BuildPlan{Structures: structures, PhotoOffsets: offsets}, nil
}

// publishStatus answers a mission-status command on events/mission-status.
func (l *link) publishStatus(ctx context.Context) error {
	if l.status == nil {
		return errors.New("no status source")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap, err := l.status(ctx)
	if err != nil {
		return err
	}
	return l.publishEvent(types.CreateMessage("mission-status", l.deviceID, l.deviceID, snap))
}

func (l *link) runPublisher(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Println("Operator link shutting down")
			return
		case msg := <-l.inbox:
			if err := l.publishEvent(msg); err != nil {
				log.Printf("Operator: failed to publish %s: %v", msg.MessageType, err)
			}
		}
	}
}

func (l *link) publishEvent(msg types.Message) error {
	if review, ok := msg.Message.(types.PhotoReviewRequired); ok {
		msg.Message = photoReviewEvent{review, base64.StdEncoding.EncodeToString(review.Data)}
	}

	out, err := msg.ToJsonMessage()
	if err != nil {
		return err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}

	return l.publish(l.eventTopic(msg.MessageType), b)
}

func (l *link) publishMQTT(topic string, payload []byte) error {
	token := l.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}
