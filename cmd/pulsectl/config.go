package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pulsewire/internal/agent"
	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/spf13/cobra"
)

type agentFileConfig struct {
	ControllerAddr     string `toml:"controller_addr"`
	ProjectID          int32  `toml:"project_id"`
	ProtocolVersion    uint8  `toml:"protocol_version"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

func loadAgentConfig(path string) (agent.Config, error) {
	cfg := agent.DefaultConfig()

	var raw agentFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return agent.Config{}, fmt.Errorf("load agent config: %w", err)
	}

	if meta.IsDefined("controller_addr") {
		cfg.Address = strings.TrimSpace(raw.ControllerAddr)
	}

	if meta.IsDefined("project_id") {
		cfg.ProjectID = raw.ProjectID
	}

	if meta.IsDefined("protocol_version") {
		v, err := protocol.LookupVersion(raw.ProtocolVersion)
		if err != nil {
			return agent.Config{}, fmt.Errorf("parse protocol_version: %w", err)
		}
		cfg.Version = v
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return agent.Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Session.ConnectTimeout = d
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return agent.Config{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Session.HandshakeTimeout = d
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	return cfg, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage config files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <controller|agent> <path>",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[1], args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", args[0], args[1])
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
