package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/util"
)

type Config struct {
	Identity    Identity    `json:"identity"`
	Bus         Bus         `json:"bus"`
	Backend     Backend     `json:"backend"`
	Replication Replication `json:"replication"`
}

type Identity struct {
	TabFile string `json:"tab_file"`
}

type Bus struct {
	// Kind selects the carrier: "memory", "ws", "pubsub" or "none".
	Kind string `json:"kind"`

	// Bridge websocket URL, used when Kind is "ws".
	BridgeURL string `json:"bridge_url"`

	// Libp2p listen port and topic, used when Kind is "pubsub".
	// Port 0 picks a random port.
	ListenPort int    `json:"listen_port"`
	Topic      string `json:"topic"`

	// Optional bootstrap multiaddrs for pubsub peers outside mDNS reach.
	Bootstrap []string `json:"bootstrap"`
}

type Backend struct {
	// Base URL of the catalogue API that resolves song ids to stream URLs.
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_seconds"`
}

type Replication struct {
	ProgressIntervalMs     int `json:"progress_interval_ms"`
	RequestStateAttempts   int `json:"request_state_attempts"`
	RequestStateIntervalMs int `json:"request_state_interval_ms"`
	ProbeTimeoutMs         int `json:"probe_timeout_ms"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			TabFile: "data/tab.id",
		},
		Bus: Bus{
			Kind:       "ws",
			BridgeURL:  "ws://127.0.0.1:8790/ws",
			ListenPort: 0,
			Topic:      "rhythmverse.player.v1",
		},
		Backend: Backend{
			BaseURL:    "http://127.0.0.1:8080/api",
			TimeoutSec: 5,
		},
		Replication: Replication{
			ProgressIntervalMs:     1000,
			RequestStateAttempts:   5,
			RequestStateIntervalMs: 2000,
			ProbeTimeoutMs:         200,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.TabFile) == "" {
		return errors.New("identity.tab_file is required")
	}

	switch c.Bus.Kind {
	case "memory", "none":
	case "ws":
		u, err := url.Parse(c.Bus.BridgeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return errors.New("bus.bridge_url must be a ws:// or wss:// url")
		}
	case "pubsub":
		if c.Bus.ListenPort < 0 || c.Bus.ListenPort > 65535 {
			return errors.New("bus.listen_port must be 0..65535")
		}
		if strings.TrimSpace(c.Bus.Topic) == "" {
			return errors.New("bus.topic is required")
		}
	default:
		return fmt.Errorf("bus.kind must be memory, ws, pubsub or none (got %q)", c.Bus.Kind)
	}

	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("backend.base_url must be an http or https url")
		}
	}
	if c.Backend.TimeoutSec <= 0 {
		return errors.New("backend.timeout_seconds must be > 0")
	}

	r := c.Replication
	if r.ProgressIntervalMs <= 0 {
		return errors.New("replication.progress_interval_ms must be > 0")
	}
	if r.RequestStateAttempts <= 0 {
		return errors.New("replication.request_state_attempts must be > 0")
	}
	if r.RequestStateIntervalMs <= 0 {
		return errors.New("replication.request_state_interval_ms must be > 0")
	}
	if r.ProbeTimeoutMs <= 0 {
		return errors.New("replication.probe_timeout_ms must be > 0")
	}
	if r.ProbeTimeoutMs >= r.RequestStateIntervalMs {
		return errors.New("replication.probe_timeout_ms must be < replication.request_state_interval_ms")
	}

	return nil
}

func (r Replication) ProgressInterval() time.Duration {
	return time.Duration(r.ProgressIntervalMs) * time.Millisecond
}

func (r Replication) RequestStateInterval() time.Duration {
	return time.Duration(r.RequestStateIntervalMs) * time.Millisecond
}

func (r Replication) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
