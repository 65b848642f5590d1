package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Broker  BrokerConfig  `yaml:"broker"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig is where the broker listens.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BrokerConfig controls the relay: how peers reach it and how much traffic
// each direction of a channel may carry. Connect requests share one bucket
// of the same size per peer.
type BrokerConfig struct {
	URL          string        `yaml:"url"`
	RelayRate    float64       `yaml:"relay_rate"`
	RelayBurst   int           `yaml:"relay_burst"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

type SessionConfig struct {
	TickRate      int           `yaml:"tick_rate"`
	SyncInterval  time.Duration `yaml:"sync_interval"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
	RejoinGrace   time.Duration `yaml:"rejoin_grace"`
	HostMigration bool          `yaml:"host_migration"`
	Score         string        `yaml:"score"`
	Collision     string        `yaml:"collision"`
	PlayerRadius  float64       `yaml:"player_radius"`
	PushStrength  float64       `yaml:"push_strength"`
	PlayerSpeed   float64       `yaml:"player_speed"`
	CanvasWidth   float64       `yaml:"canvas_width"`
	CanvasHeight  float64       `yaml:"canvas_height"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

const (
	MinPushStrength = 0.2
	MaxPushStrength = 0.5
)

var (
	scoreModes     = map[string]bool{"none": true, "single": true, "home-away": true}
	collisionModes = map[string]bool{"none": true, "analytic": true, "rigid-body": true}
	logFormats     = map[string]bool{"console": true, "json": true}
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 9000,
			Host: "127.0.0.1",
		},
		Broker: BrokerConfig{
			URL:          "ws://127.0.0.1:9000/ws",
			RelayRate:    240,
			RelayBurst:   480,
			PingInterval: 25 * time.Second,
			PongTimeout:  60 * time.Second,
		},
		Session: SessionConfig{
			TickRate:      30,
			SyncInterval:  40 * time.Millisecond,
			JoinTimeout:   5 * time.Second,
			RejoinGrace:   3 * time.Second,
			HostMigration: true,
			Score:         "home-away",
			Collision:     "analytic",
			PlayerRadius:  20,
			PushStrength:  0.3,
			PlayerSpeed:   2.4,
			CanvasWidth:   800,
			CanvasHeight:  600,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault returns the defaults when path is empty or does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port (must be between 1-65535 inclusive): %d", c.Server.Port)
	}

	s := c.Session
	if s.TickRate < 1 {
		return fmt.Errorf("invalid session.tick_rate: %d", s.TickRate)
	}
	if s.SyncInterval <= 0 {
		return fmt.Errorf("invalid session.sync_interval: %s", s.SyncInterval)
	}
	if s.JoinTimeout <= 0 {
		return fmt.Errorf("invalid session.join_timeout: %s", s.JoinTimeout)
	}
	if !scoreModes[s.Score] {
		return fmt.Errorf("invalid session.score %q (none, single, home-away)", s.Score)
	}
	if !collisionModes[s.Collision] {
		return fmt.Errorf("invalid session.collision %q (none, analytic, rigid-body)", s.Collision)
	}
	if s.PlayerRadius <= 0 {
		return fmt.Errorf("invalid session.player_radius: %g", s.PlayerRadius)
	}
	if s.PushStrength < MinPushStrength || s.PushStrength > MaxPushStrength {
		return fmt.Errorf("invalid session.push_strength %g (must be within [%g, %g])",
			s.PushStrength, MinPushStrength, MaxPushStrength)
	}
	if s.CanvasWidth <= 0 || s.CanvasHeight <= 0 {
		return fmt.Errorf("invalid session canvas %gx%g", s.CanvasWidth, s.CanvasHeight)
	}

	if !logFormats[c.Log.Format] {
		return fmt.Errorf("invalid log.format %q (console, json)", c.Log.Format)
	}
	if c.Broker.RelayRate <= 0 || c.Broker.RelayBurst < 1 {
		return fmt.Errorf("invalid broker relay budget: rate=%g burst=%d", c.Broker.RelayRate, c.Broker.RelayBurst)
	}
	return nil
}

// TickInterval is the period of the simulation/render tick.
func (s SessionConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}
