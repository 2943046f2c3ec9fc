package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/danmuck/pulsewire/internal/testutil/testlog"
)

func TestLoadAgentConfigFromTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := config.WriteTemplate(path, config.KindAgent, false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := loadAgentConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Address != "localhost:8765" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.ProjectID != 0 {
		t.Fatalf("unexpected project: %d", cfg.ProjectID)
	}
	if cfg.Version.Number() != protocol.V1.Number() {
		t.Fatalf("unexpected version: %s", cfg.Version)
	}
	if cfg.Session.ConnectTimeout != 5*time.Second || cfg.Session.HandshakeTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Session)
	}
	if cfg.Session.MaxConnectAttempts != 5 {
		t.Fatalf("unexpected max connect attempts: %d", cfg.Session.MaxConnectAttempts)
	}
}

func TestLoadAgentConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := os.WriteFile(path, []byte("controller_addr = \"10.0.0.5:9000\"\nproject_id = 42\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := loadAgentConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Address != "10.0.0.5:9000" || cfg.ProjectID != 42 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Session.ConnectTimeout != 5*time.Second {
		t.Fatalf("default connect timeout lost: %v", cfg.Session.ConnectTimeout)
	}
}

func TestLoadAgentConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	tests := map[string]string{
		"duration": "handshake_timeout = \"soon\"\n",
		"version":  "protocol_version = 9\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "agent.toml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := loadAgentConfig(path); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestModeAfterControlMessages(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		msg  protocol.Message
		want protocol.AgentOperationMode
	}{
		{protocol.Start{}, protocol.ModeTracing},
		{protocol.Pause{}, protocol.ModePaused},
		{protocol.Unpause{}, protocol.ModeTracing},
		{protocol.Suspend{}, protocol.ModeSuspended},
		{protocol.Unsuspend{}, protocol.ModeTracing},
		{protocol.Stop{}, protocol.ModeShutdown},
	}
	for _, tc := range tests {
		got, ok := modeAfter(tc.msg)
		if !ok || got != tc.want {
			t.Fatalf("%s: got=(%s, %v) want %s", tc.msg.Kind(), got, ok, tc.want)
		}
	}
	if _, ok := modeAfter(protocol.DataBreak{SequenceID: 1}); ok {
		t.Fatalf("data break must not change mode")
	}
}

func TestConfigInitCommand(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "controller.toml")
	cmd := configCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", "controller", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := config.LoadControllerConfig(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	cmd.SetArgs([]string{"init", "controller", path})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}
