package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindController = "controller"
	KindAgent      = "agent"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindController:
		return controllerTemplate, nil
	case KindAgent:
		return agentTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const controllerTemplate = `name = "pulse-controller"
control_addr = ":8765"
http_addr = ":8766"
protocol_version = 1
# admin_token = "change-me"

[runtime]
heartbeat_interval_ms = 1000
buffer_memory_budget = 52428800
queue_retry_count = 2
num_data_senders = 3
exclusions = ["java/.*", "javax/.*", "sun/.*"]

[[projects]]
id = 42
name = "example"
inclusions = ["com/example/.*"]
`

const agentTemplate = `controller_addr = "localhost:8765"
project_id = 0
protocol_version = 1
connect_timeout = "5s"
handshake_timeout = "5s"
max_connect_attempts = 5
`
