package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/danmuck/pulsewire/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("agent: controller address required")
	ErrHandshakeFailed = errors.New("agent: handshake failed")
	ErrDataRejected    = errors.New("agent: data connection rejected")
)

type Config struct {
	Address   string
	ProjectID int32
	Version   protocol.Version
	Session   session.Config
}

func DefaultConfig() Config {
	return Config{
		Version: protocol.CurrentVersion,
		Session: session.DefaultConfig(),
	}
}

// Client opens control and data connections to a controller.
type Client struct {
	cfg      Config
	codec    *protocol.Codec
	reporter session.ErrorReporter
	logger   zerolog.Logger
	rng      *rand.Rand
}

// NewClient builds a client. A nil reporter logs reported errors.
func NewClient(cfg Config, reporter session.ErrorReporter) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.Version.Number() == 0 {
		cfg.Version = protocol.CurrentVersion
	}
	cfg.Session = cfg.Session.WithDefaults()
	logger := log.With().Str("component", "agent").Str("controller", cfg.Address).Logger()
	if reporter == nil {
		reporter = session.LogReporter{Logger: logger}
	}
	return &Client{
		cfg:      cfg,
		codec:    protocol.NewCodec(cfg.Version, cfg.Session.Limits),
		reporter: reporter,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the controller and runs the control handshake. The returned
// session carries the runtime configuration the controller sent.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	conn, err := session.DialWithRetry(ctx, c.cfg.Address, c.cfg.Session, c.rng)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))

	rec := session.NewRecorder(c.reporter)
	hs := session.NewHandshake(c.codec, config.NewPayloadReader(c.cfg.Session.Limits), rec, session.WithLogger(c.logger))
	res, err := hs.Perform(conn, c.cfg.ProjectID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !res.OK() {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrHandshakeFailed, res.State, rec.Last())
	}

	conn.SetDeadline(time.Time{})
	conn.SetTimeouts(0, c.cfg.Session.WriteTimeout)
	c.logger.Info().
		Int8("run_id", res.Config.RunID).
		Int32("project_id", c.cfg.ProjectID).
		Msg("control session established")
	return newSession(conn, c.codec, res.Config, c.logger), nil
}

// ConnectData opens a data connection for runID and waits for the
// controller's DataHelloReply.
func (c *Client) ConnectData(ctx context.Context, runID int8) (*Session, error) {
	conn, err := session.DialWithRetry(ctx, c.cfg.Address, c.cfg.Session, c.rng)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	s := newSession(conn, c.codec, nil, c.logger)
	if err := s.Send(protocol.DataHello{RunID: runID}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	msg, err := s.Next()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch m := msg.(type) {
	case protocol.DataHelloReply:
	case protocol.Error:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrDataRejected, m.Message)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected %s", ErrDataRejected, msg.Kind())
	}
	conn.SetDeadline(time.Time{})
	return s, nil
}
