package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/observability"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MsgHelloNotSupported        = "protocol error: hello message is not supported"
	MsgProjectHelloNotSupported = "protocol error: project-hello message is not supported"
	MsgUnexpectedControlMessage = "protocol error: invalid or unexpected control message"
	MsgInvalidConfiguration     = "protocol error: invalid configuration"
	msgHandshakeErrorFormat     = "received error from handshake: %s"
)

// State is a control handshake state. Transitions only move forward:
// Start, HelloSent, AwaitingReply, then one terminal state.
type State int

const (
	StateStart State = iota
	StateHelloSent
	StateAwaitingReply
	StateConfigurationReceived
	StateErrorReceived
	StateProtocolViolation
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateHelloSent:
		return "hello_sent"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateConfigurationReceived:
		return "configuration_received"
	case StateErrorReceived:
		return "error_received"
	case StateProtocolViolation:
		return "protocol_violation"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateConfigurationReceived || s == StateErrorReceived || s == StateProtocolViolation
}

// ConfigurationReader consumes a Configuration body (everything after the
// tag byte) and nothing more.
type ConfigurationReader interface {
	ReadConfiguration(r io.Reader) (*config.Runtime, error)
}

// Result is the outcome of a completed handshake. Config is set only when
// State is StateConfigurationReceived.
type Result struct {
	State  State
	Config *config.Runtime
}

func (r Result) OK() bool {
	return r.State == StateConfigurationReceived && r.Config != nil
}

// Handshake runs the agent side of the control connection opening exchange.
// A Handshake is single use per connection but may be reused across
// connections; it holds no connection state.
type Handshake struct {
	codec    *protocol.Codec
	reader   ConfigurationReader
	reporter ErrorReporter
	logger   zerolog.Logger
}

type Option func(*Handshake)

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handshake) {
		h.logger = logger
	}
}

func NewHandshake(codec *protocol.Codec, reader ConfigurationReader, reporter ErrorReporter, opts ...Option) *Handshake {
	if reporter == nil {
		reporter = LogReporter{Logger: log.Logger}
	}
	h := &Handshake{
		codec:    codec,
		reader:   reader,
		reporter: reporter,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Perform sends Hello (projectID 0) or ProjectHello, then reads exactly one
// reply. Peer errors and protocol violations are reported through the
// ErrorReporter and returned as terminal states with a nil error. A non-nil
// error means the transport failed; the returned state is where it did.
func (h *Handshake) Perform(conn Conn, projectID int32) (Result, error) {
	logger := h.logger.With().
		Str("attempt", uuid.NewString()).
		Int32("project_id", projectID).
		Uint8("version", h.codec.Version().Number()).
		Logger()
	start := time.Now()

	res, err := h.perform(conn, projectID, logger)

	outcome := res.State.String()
	if err != nil {
		outcome = "io_error"
		logger.Warn().Err(err).Str("state", res.State.String()).Msg("handshake transport failure")
	} else {
		logger.Debug().Str("state", outcome).Msg("handshake complete")
	}
	observability.RecordHandshake(observability.RoleAgent, outcome, time.Since(start))
	return res, err
}

func (h *Handshake) perform(conn Conn, projectID int32, logger zerolog.Logger) (Result, error) {
	var hello protocol.Message = h.codec.Hello()
	if projectID != 0 {
		hello = h.codec.ProjectHello(projectID)
	}
	if err := h.codec.Encode(conn, hello); err != nil {
		if errors.Is(err, protocol.ErrNotSupported) {
			if projectID != 0 {
				h.reporter.ReportError(MsgProjectHelloNotSupported)
			} else {
				h.reporter.ReportError(MsgHelloNotSupported)
			}
			return Result{State: StateProtocolViolation}, nil
		}
		return Result{State: StateStart}, err
	}
	if err := conn.Flush(); err != nil {
		return Result{State: StateHelloSent}, err
	}
	observability.RecordMessage(observability.DirectionSent, hello.Kind().String())
	logger.Debug().Str("kind", hello.Kind().String()).Msg("hello sent")

	tag, err := protocol.ReadTag(conn)
	if err != nil {
		return Result{State: StateAwaitingReply}, err
	}

	switch tag {
	case protocol.KindConfiguration.Tag():
		observability.RecordMessage(observability.DirectionReceived, protocol.KindConfiguration.String())
		cfg, err := h.reader.ReadConfiguration(conn)
		if err != nil {
			if isViolation(err) {
				h.reporter.ReportError(fmt.Sprintf("%s: %v", MsgInvalidConfiguration, err))
				return Result{State: StateProtocolViolation}, nil
			}
			return Result{State: StateAwaitingReply}, err
		}
		return Result{State: StateConfigurationReceived, Config: cfg}, nil

	case protocol.KindError.Tag():
		observability.RecordMessage(observability.DirectionReceived, protocol.KindError.String())
		text, err := protocol.ReadText(conn)
		if err != nil {
			if isViolation(err) {
				h.reporter.ReportError(MsgUnexpectedControlMessage)
				return Result{State: StateProtocolViolation}, nil
			}
			return Result{State: StateAwaitingReply}, err
		}
		h.reporter.ReportError(fmt.Sprintf(msgHandshakeErrorFormat, text))
		return Result{State: StateErrorReceived}, nil

	default:
		logger.Debug().Uint8("tag", tag).Msg("unexpected reply tag")
		h.reporter.ReportError(MsgUnexpectedControlMessage)
		return Result{State: StateProtocolViolation}, nil
	}
}

func isViolation(err error) bool {
	return protocol.IsProtocolViolation(err) || errors.Is(err, config.ErrInvalidRuntime)
}
