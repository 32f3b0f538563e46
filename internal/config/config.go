// Package config loads the mission engine configuration from YAML.
package config

import (
	"io/ioutil"
	"time"

	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/luispma04/PowerLine-Drone/internal/missioncontrol"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSafetyAltitude   = 25.0
	DefaultSafeDistance     = 2.5
	DefaultPhotoReviewDelay = 3000 * time.Millisecond
	// DefaultDegreesPerMeter is the degrees of latitude spanned by one meter.
	DefaultDegreesPerMeter = 0.00000899322
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Home struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Altitude  float64 `yaml:"altitude"`
}

type MQTT struct {
	Broker      string `yaml:"broker"`
	DeviceID    string `yaml:"device_id"`
	PrivateKey  string `yaml:"private_key"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type Log struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Simulator struct {
	Enabled          bool          `yaml:"enabled"`
	WaypointInterval time.Duration `yaml:"waypoint_interval"`
	PhotoFailEvery   int           `yaml:"photo_fail_every"`
}

type Config struct {
	SafetyAltitude       float64       `yaml:"safety_altitude"`
	SafeDistance         float64       `yaml:"safe_distance"`
	Home                 *Home         `yaml:"home"`
	PhotoReviewDelay     time.Duration `yaml:"photo_review_delay"`
	DegreesPerMeter      float64       `yaml:"degrees_per_meter"`
	AutoResumeAfterPhoto bool          `yaml:"auto_resume_after_photo"`
	MediaDir             string        `yaml:"media_dir"`
	PhotoStoreDir        string        `yaml:"photo_store_dir"`
	Simulator            Simulator     `yaml:"simulator"`
	MQTT                 MQTT          `yaml:"mqtt"`
	Log                  Log           `yaml:"log"`
}

func Default() Config {
	return Config{
		SafetyAltitude:   DefaultSafetyAltitude,
		SafeDistance:     DefaultSafeDistance,
		PhotoReviewDelay: DefaultPhotoReviewDelay,
		DegreesPerMeter:  DefaultDegreesPerMeter,
		PhotoStoreDir:    "photos",
		Simulator: Simulator{
			WaypointInterval: time.Second,
		},
		MQTT: MQTT{
			PrivateKey:  "/enclave/rsa_private.pem",
			TopicPrefix: "/devices",
		},
		Log: Log{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithMessage(err, "reading config")
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.WithMessage(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values instead of clamping them.
func (c Config) Validate() error {
	if c.SafetyAltitude < 10 || c.SafetyAltitude > 120 {
		return errors.WithMessagef(ErrInvalidConfig, "safety_altitude %v outside [10, 120] m", c.SafetyAltitude)
	}
	if c.SafeDistance < 1 || c.SafeDistance > 10 {
		return errors.WithMessagef(ErrInvalidConfig, "safe_distance %v outside [1, 10] m", c.SafeDistance)
	}
	if c.PhotoReviewDelay < time.Second || c.PhotoReviewDelay > 30*time.Second {
		return errors.WithMessagef(ErrInvalidConfig, "photo_review_delay %v outside [1s, 30s]", c.PhotoReviewDelay)
	}
	if c.DegreesPerMeter <= 0 {
		return errors.WithMessagef(ErrInvalidConfig, "degrees_per_meter %v must be positive", c.DegreesPerMeter)
	}
	if c.Home != nil {
		if _, err := mission.NewInspectionPoint(c.Home.Latitude, c.Home.Longitude, 0, 0); err != nil {
			return errors.WithMessagef(ErrInvalidConfig, "home: %v", err)
		}
	}
	if c.Simulator.Enabled && c.Simulator.WaypointInterval <= 0 {
		return errors.WithMessage(ErrInvalidConfig, "simulator.waypoint_interval must be positive")
	}
	return nil
}

// Mission returns the mission controller settings.
func (c Config) Mission() missioncontrol.Config {
	mc := missioncontrol.Config{
		SafetyAltitude:   c.SafetyAltitude,
		SafeDistance:     c.SafeDistance,
		DegreesPerMeter:  c.DegreesPerMeter,
		PhotoReviewDelay: c.PhotoReviewDelay,
		AutoAcceptPhotos: c.AutoResumeAfterPhoto,
	}
	if c.Home != nil {
		mc.Home = &mission.GpsCoordinate{Latitude: c.Home.Latitude, Longitude: c.Home.Longitude, Altitude: c.Home.Altitude}
	}
	return mc
}
