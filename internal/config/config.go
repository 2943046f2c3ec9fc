package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/pulsewire/internal/protocol"
)

type ControllerConfig struct {
	Name            string          `toml:"name"`
	ControlAddr     string          `toml:"control_addr"`
	HTTPAddr        string          `toml:"http_addr"`
	ProtocolVersion uint8           `toml:"protocol_version"`
	AdminToken      string          `toml:"admin_token"`
	Runtime         RuntimeDefaults `toml:"runtime"`
	Projects        []ProjectConfig `toml:"projects"`
}

// RuntimeDefaults seeds the Runtime handed to every agent.
type RuntimeDefaults struct {
	HeartbeatIntervalMS int      `toml:"heartbeat_interval_ms"`
	BufferMemoryBudget  int      `toml:"buffer_memory_budget"`
	QueueRetryCount     int      `toml:"queue_retry_count"`
	NumDataSenders      int      `toml:"num_data_senders"`
	Inclusions          []string `toml:"inclusions"`
	Exclusions          []string `toml:"exclusions"`
}

// ProjectConfig narrows the runtime defaults for one project.
type ProjectConfig struct {
	ID         int32    `toml:"id"`
	Name       string   `toml:"name"`
	Inclusions []string `toml:"inclusions"`
	Exclusions []string `toml:"exclusions"`
}

const (
	// HeartbeatMisses is how many heartbeat intervals a configured control
	// connection may stay silent before the controller drops it.
	HeartbeatMisses = 3

	MaxHeartbeatIntervalMS = 10 * 60 * 1000
)

// IdleTimeout is the read timeout for a configured control connection:
// HeartbeatMisses intervals, never below floor.
func IdleTimeout(d RuntimeDefaults, floor time.Duration) time.Duration {
	idle := time.Duration(d.HeartbeatIntervalMS) * time.Millisecond * HeartbeatMisses
	return max(idle, floor)
}

func DefaultRuntimeDefaults() RuntimeDefaults {
	return RuntimeDefaults{
		HeartbeatIntervalMS: 1000,
		BufferMemoryBudget:  50 * 1024 * 1024,
		QueueRetryCount:     2,
		NumDataSenders:      3,
	}
}

func LoadControllerConfig(path string) (ControllerConfig, error) {
	cfg := ControllerConfig{Runtime: DefaultRuntimeDefaults()}
	if err := loadToml(path, &cfg); err != nil {
		return ControllerConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "pulse-controller"
	}
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = ":8765"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8766"
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = protocol.CurrentVersion.Number()
	}
	if err := ValidateControllerConfig(cfg); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateControllerConfig(cfg ControllerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("controller config missing name")
	}
	if strings.TrimSpace(cfg.ControlAddr) == "" {
		return fmt.Errorf("controller config missing control_addr")
	}
	if _, err := protocol.LookupVersion(cfg.ProtocolVersion); err != nil {
		return fmt.Errorf("controller config: %w", err)
	}
	if cfg.Runtime.HeartbeatIntervalMS > MaxHeartbeatIntervalMS {
		return fmt.Errorf("controller config runtime: heartbeat_interval_ms above %d", MaxHeartbeatIntervalMS)
	}
	if _, err := cfg.RuntimeFor(0, 0); err != nil {
		return fmt.Errorf("controller config runtime: %w", err)
	}
	seen := make(map[int32]struct{}, len(cfg.Projects))
	for i, project := range cfg.Projects {
		if project.ID <= 0 {
			return fmt.Errorf("project[%d] invalid: id must be positive", i)
		}
		if _, dup := seen[project.ID]; dup {
			return fmt.Errorf("project[%d] invalid: duplicate id %d", i, project.ID)
		}
		seen[project.ID] = struct{}{}
	}
	return nil
}

// Project returns the project with id, if configured.
func (c ControllerConfig) Project(id int32) (ProjectConfig, bool) {
	for _, project := range c.Projects {
		if project.ID == id {
			return project, true
		}
	}
	return ProjectConfig{}, false
}

// RuntimeFor builds the Runtime for a run of projectID. Project 0 gets the
// defaults unchanged.
func (c ControllerConfig) RuntimeFor(projectID int32, runID int8) (Runtime, error) {
	d := c.Runtime
	rt := Runtime{
		RunID:              runID,
		HeartbeatInterval:  d.HeartbeatIntervalMS,
		Inclusions:         append([]string(nil), d.Inclusions...),
		Exclusions:         append([]string(nil), d.Exclusions...),
		BufferMemoryBudget: d.BufferMemoryBudget,
		QueueRetryCount:    d.QueueRetryCount,
		NumDataSenders:     d.NumDataSenders,
	}
	if projectID != 0 {
		project, ok := c.Project(projectID)
		if !ok {
			return Runtime{}, fmt.Errorf("unknown project %d", projectID)
		}
		rt.Inclusions = append(rt.Inclusions, project.Inclusions...)
		rt.Exclusions = append(rt.Exclusions, project.Exclusions...)
	}
	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}
