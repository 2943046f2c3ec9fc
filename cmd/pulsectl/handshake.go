package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/pulsewire/internal/agent"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/spf13/cobra"
)

func handshakeCmd() *cobra.Command {
	var (
		path      string
		addr      string
		projectID int32
		stay      bool
	)

	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Connect to a controller as an agent",
		Long: `Open a control connection, perform the handshake and print the runtime
configuration. With --stay the connection is kept open: heartbeats are sent
at the configured interval and control messages are printed as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveAgentConfig(cmd, path, addr, projectID)
			if err != nil {
				return err
			}

			client, err := agent.NewClient(cfg, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := client.Connect(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			out, err := json.MarshalIndent(sess.Runtime(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !stay {
				return nil
			}
			return follow(ctx, cmd, sess)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Agent config file")
	cmd.Flags().StringVar(&addr, "addr", "localhost:8765", "Controller control address")
	cmd.Flags().Int32Var(&projectID, "project", 0, "Project id (0 sends a plain hello)")
	cmd.Flags().BoolVar(&stay, "stay", false, "Keep the control connection open")
	return cmd
}

// resolveAgentConfig layers explicit flags over the config file. The --addr
// default applies whenever the file does not name a controller.
func resolveAgentConfig(cmd *cobra.Command, path, addr string, projectID int32) (agent.Config, error) {
	cfg := agent.DefaultConfig()
	if path != "" {
		loaded, err := loadAgentConfig(path)
		if err != nil {
			return agent.Config{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("addr") || strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = addr
	}
	if cmd.Flags().Changed("project") {
		cfg.ProjectID = projectID
	}
	return cfg, nil
}

// follow tracks the operation mode the controller asks for and reports it
// in heartbeats until the connection or ctx ends.
func follow(ctx context.Context, cmd *cobra.Command, sess *agent.Session) error {
	modes := make(chan protocol.AgentOperationMode, 1)
	mode := protocol.ModeInitializing
	go func() {
		_ = sess.RunHeartbeats(ctx, func() (protocol.AgentOperationMode, int16) {
			select {
			case mode = <-modes:
			default:
			}
			return mode, 0
		})
	}()

	for {
		msg, err := sess.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.Kind())
		next, ok := modeAfter(msg)
		if !ok {
			continue
		}
		select {
		case modes <- next:
		default:
			<-modes
			modes <- next
		}
		if next == protocol.ModeShutdown {
			return nil
		}
	}
}

// modeAfter maps a control message onto the mode the agent enters.
func modeAfter(msg protocol.Message) (protocol.AgentOperationMode, bool) {
	switch msg.(type) {
	case protocol.Start, protocol.Unpause, protocol.Unsuspend:
		return protocol.ModeTracing, true
	case protocol.Pause:
		return protocol.ModePaused, true
	case protocol.Suspend:
		return protocol.ModeSuspended, true
	case protocol.Stop:
		return protocol.ModeShutdown, true
	default:
		return 0, false
	}
}
