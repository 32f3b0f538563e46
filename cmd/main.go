package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tiiuae/rclgo/pkg/ros2"

	"github.com/luispma04/PowerLine-Drone/internal/camera"
	"github.com/luispma04/PowerLine-Drone/internal/config"
	"github.com/luispma04/PowerLine-Drone/internal/flypx4"
	"github.com/luispma04/PowerLine-Drone/internal/logging"
	"github.com/luispma04/PowerLine-Drone/internal/missioncontrol"
	"github.com/luispma04/PowerLine-Drone/internal/operatorlink"
	"github.com/luispma04/PowerLine-Drone/internal/simulator"
	"github.com/luispma04/PowerLine-Drone/internal/telemetry"
	"github.com/luispma04/PowerLine-Drone/internal/types"
)

const (
	registryID    = "fleet-registry"
	projectID     = "auto-fleet-mgnt"
	region        = "europe-west1"
	algorithm     = "RS256"
	defaultServer = "ssl://mqtt.googleapis.com:8883"
	username      = "unused" // always this value in GCP

	positionInterval = time.Second
)

var (
	deafultFlagSet    = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	configPath        = deafultFlagSet.String("config", "", "Path to the YAML configuration file")
	deviceID          = deafultFlagSet.String("device_id", "", "The provisioned device id")
	mqttBrokerAddress = deafultFlagSet.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	privateKeyPath    = deafultFlagSet.String("private_key", "", "The private key for the MQTT authentication")
	simulatorMode     = deafultFlagSet.Bool("simulator", false, "Fly the simulated executor and camera")
)

func main() {
	if err := deafultFlagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration: %v", err)
	}
	applyFlags(&cfg)

	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	if cfg.MQTT.DeviceID == "" {
		log.Fatal("Device id is required (-device_id or mqtt.device_id)")
	}
	if cfg.Home == nil {
		log.Printf("No home position configured, waiting for a telemetry fix")
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	// quitFunc will be called when process is terminated
	ctx, quitFunc := context.WithCancel(context.Background())

	// wait group will make sure all goroutines have time to clean up
	var wg sync.WaitGroup

	mqttClient := newMQTTClient(cfg.MQTT)
	defer mqttClient.Disconnect(1000)

	store := camera.NewStore(cfg.PhotoStoreDir)
	handlers := []types.MessageHandler{
		types.NewLogger("execution-progress", "global-position"),
	}

	var controller *missioncontrol.Controller
	if cfg.Simulator.Enabled {
		log.Printf("Simulator mode, waypoint interval %v", cfg.Simulator.WaypointInterval)
		executor := simulator.New(cfg.MQTT.DeviceID, cfg.Simulator.WaypointInterval)
		photos := camera.NewSimulator(1280, 720, cfg.Simulator.PhotoFailEvery)
		controller = missioncontrol.New(cfg.MQTT.DeviceID, cfg.Mission(), executor, photos, store)
		handlers = append(handlers, executor)
	} else {
		rclArgs, rclErr := ros2.NewRCLArgs("")
		if rclErr != nil {
			log.Fatal(rclErr)
		}

		rclContext, rclErr := ros2.NewContext(&wg, 0, rclArgs)
		if rclErr != nil {
			log.Fatal(rclErr)
		}
		defer rclContext.Close()

		rclLocalNode, rclErr := rclContext.NewNode("powerline_drone", cfg.MQTT.DeviceID)
		if rclErr != nil {
			log.Fatal(rclErr)
		}

		executor := flypx4.New(rclLocalNode, cfg.MQTT.DeviceID)
		photos := camera.NewDirectory(cfg.MediaDir)
		controller = missioncontrol.New(cfg.MQTT.DeviceID, cfg.Mission(), executor, photos, store)
		handlers = append(handlers,
			executor,
			telemetry.New(rclLocalNode, cfg.MQTT.DeviceID, positionInterval),
		)
	}

	status := func(ctx context.Context) (interface{}, error) {
		return controller.Snapshot(ctx)
	}
	handlers = append(handlers,
		controller,
		operatorlink.New(mqttClient, cfg.MQTT.DeviceID, cfg.MQTT.TopicPrefix, status),
	)

	messagebus := make(chan types.Message, 100)
	bus := types.NewMessageBus(messagebus, handlers...)

	go bus.Run(ctx, &wg)

	// wait for termination and close quit to signal all
	<-terminationSignals
	// cancel the main context
	log.Printf("Shutting down..")
	quitFunc()

	// wait until goroutines have done their cleanup
	log.Printf("Waiting for routines to finish...")
	wg.Wait()
	log.Printf("Signing off - BYE")
}

// applyFlags overrides file values with the flags given on the command line.
func applyFlags(cfg *config.Config) {
	deafultFlagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device_id":
			cfg.MQTT.DeviceID = *deviceID
		case "mqtt_broker":
			cfg.MQTT.Broker = *mqttBrokerAddress
		case "private_key":
			cfg.MQTT.PrivateKey = *privateKeyPath
		case "simulator":
			cfg.Simulator.Enabled = *simulatorMode
		}
	})
	if cfg.Simulator.Enabled && cfg.Simulator.WaypointInterval <= 0 {
		cfg.Simulator.WaypointInterval = time.Second
	}
}

func newMQTTClient(cfg config.MQTT) mqtt.Client {
	serverAddress := cfg.Broker
	if serverAddress == "" {
		serverAddress = defaultServer
	}
	log.Printf("address: %v", serverAddress)

	clientID := fmt.Sprintf(
		"projects/%s/locations/%s/registries/%s/devices/%s",
		projectID, region, registryID, cfg.DeviceID)

	log.Println("Client ID:", clientID)

	keyData, err := ioutil.ReadFile(cfg.PrivateKey)
	if err != nil {
		log.Fatalf("Reading private key: %v", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		log.Fatalf("Parsing private key: %v", err)
	}

	// generate JWT as the MQTT password
	t := time.Now()
	token := jwt.NewWithClaims(jwt.GetSigningMethod(algorithm), &jwt.StandardClaims{
		IssuedAt:  t.Unix(),
		ExpiresAt: t.Add(24 * time.Hour).Unix(),
		Audience:  projectID,
	})
	pass, err := token.SignedString(key)
	if err != nil {
		log.Fatalf("Signing MQTT token: %v", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(serverAddress).
		SetClientID(clientID).
		SetUsername(username).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetPassword(pass).
		SetProtocolVersion(4). // Use MQTT 3.1.1
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)

	for {
		log.Printf("Connecting MQTT...")
		tok := client.Connect()
		if !tok.WaitTimeout(time.Second * 5) {
			log.Println("Connection Timeout")
			continue
		}
		if err := tok.Error(); err != nil {
			log.Fatalf("MQTT connect: %v", err)
		}
		log.Printf("..Connected")
		break
	}

	return client
}
