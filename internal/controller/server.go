package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/observability"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/danmuck/pulsewire/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnknownRun = errors.New("controller: unknown run")

// Server answers agent hellos on the control port and serves health and
// metrics over HTTP.
type Server struct {
	cfg     config.ControllerConfig
	sess    session.Config
	codec   *protocol.Codec
	logger  zerolog.Logger
	started time.Time

	active atomic.Int64

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	agents *registry
}

func NewServer(cfg config.ControllerConfig, sess session.Config) (*Server, error) {
	if err := config.ValidateControllerConfig(cfg); err != nil {
		return nil, err
	}
	version, err := protocol.LookupVersion(cfg.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	sess = sess.WithDefaults()
	return &Server{
		cfg:     cfg,
		sess:    sess,
		codec:   protocol.NewCodec(version, sess.Limits),
		logger:  log.With().Str("node", cfg.Name).Logger(),
		started: time.Now(),
		conns:   make(map[net.Conn]struct{}),
		agents:  newRegistry(),
	}, nil
}

// Run listens on the configured control and HTTP addresses until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	observability.RegisterMetrics()
	ln, err := net.Listen("tcp", s.cfg.ControlAddr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control listener up")

	httpSrv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.Routes()}
	httpErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.HTTPAddr) != "" {
		go func() {
			s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("http listener up")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err = <-serveErr:
	case err = <-httpErr:
		_ = ln.Close()
		<-serveErr
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return err
}

// Serve accepts control and data connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

// Agents returns the connected control sessions.
func (s *Server) Agents() []AgentInfo {
	return s.agents.snapshot()
}

// Command sends a control message to the agent holding runID.
func (s *Server) Command(runID int8, msg protocol.Message) error {
	agent, ok := s.agents.get(runID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRun, runID)
	}
	if err := agent.send(s.codec, msg); err != nil {
		return err
	}
	observability.RecordMessage(observability.DirectionSent, msg.Kind().String())
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.active.Add(1)
	observability.ControlConnectionOpened()
	logger := s.logger.With().Str("remote", remote).Logger()
	logger.Debug().Int64("active", active).Msg("client connected")
	defer func() {
		remaining := s.active.Add(-1)
		observability.ControlConnectionClosed()
		logger.Debug().Int64("active", remaining).Msg("client disconnected")
	}()

	nc := session.NewNetConn(conn, s.sess)
	nc.SetDeadline(time.Now().Add(s.sess.HandshakeTimeout))
	start := time.Now()

	msg, err := s.codec.ReadMessage(nc)
	if err != nil {
		if protocol.IsProtocolViolation(err) {
			logger.Warn().Err(err).Msg("rejecting hello")
			s.reply(nc, protocol.Error{Message: "protocol error: " + err.Error()}, logger)
			observability.RecordHandshake(observability.RoleController, "protocol_violation", time.Since(start))
		} else {
			logger.Debug().Err(err).Msg("hello read failed")
		}
		return
	}
	observability.RecordMessage(observability.DirectionReceived, msg.Kind().String())

	answer := s.respond(msg)
	if answer.agent != nil {
		defer s.agents.remove(answer.agent)
	}
	if !s.reply(nc, answer.reply, logger) {
		return
	}
	outcome := "rejected"
	if k := answer.reply.Kind(); k == protocol.KindConfiguration || k == protocol.KindDataHelloReply {
		outcome = "accepted"
	}
	observability.RecordHandshake(observability.RoleController, outcome, time.Since(start))
	nc.SetDeadline(time.Time{})

	switch answer.reply.Kind() {
	case protocol.KindConfiguration:
		nc.SetTimeouts(s.idleTimeout(), s.sess.WriteTimeout)
		answer.agent.attach(remote, nc)
		logger.Info().Int8("run_id", answer.runID).Msg("agent configured")
		s.drain(nc, logger, answer.agent)
	case protocol.KindDataHelloReply:
		nc.SetTimeouts(0, s.sess.WriteTimeout)
		logger.Info().Int8("run_id", answer.runID).Msg("data connection open")
		s.drain(nc, logger, nil)
	}
}

// opening is the controller's answer to a connection's first message.
type opening struct {
	reply protocol.Message
	runID int8
	// agent is the run reserved for a Configuration reply.
	agent *agentConn
}

func rejection(format string, args ...any) opening {
	return opening{reply: protocol.Error{Message: fmt.Sprintf(format, args...)}}
}

// respond maps one opening message to its reply.
func (s *Server) respond(msg protocol.Message) opening {
	switch m := msg.(type) {
	case protocol.Hello:
		if m.Version != s.codec.Version().Number() {
			return rejection("unsupported protocol version %d", m.Version)
		}
		return s.configure(0)
	case protocol.ProjectHello:
		if m.Version != s.codec.Version().Number() {
			return rejection("unsupported protocol version %d", m.Version)
		}
		if _, ok := s.cfg.Project(m.ProjectID); !ok {
			return rejection("unknown project")
		}
		return s.configure(m.ProjectID)
	case protocol.DataHello:
		if _, ok := s.agents.get(m.RunID); !ok {
			return rejection("unknown run %d", m.RunID)
		}
		return opening{reply: protocol.DataHelloReply{}, runID: m.RunID}
	default:
		return rejection("unexpected %s message", msg.Kind())
	}
}

// configure reserves a run id and builds its Configuration. The caller
// releases the reservation.
func (s *Server) configure(projectID int32) opening {
	agent, err := s.agents.reserve()
	if err != nil {
		return rejection("no run id available")
	}
	runID := agent.runID()
	rt, err := s.cfg.RuntimeFor(projectID, runID)
	if err != nil {
		s.agents.remove(agent)
		return rejection("%s", err.Error())
	}
	payload, err := config.EncodeRuntime(rt)
	if err != nil {
		s.agents.remove(agent)
		return rejection("%s", err.Error())
	}
	return opening{reply: protocol.Configuration{Payload: payload}, runID: runID, agent: agent}
}

// idleTimeout bounds the silence tolerated on a control connection: a few
// missed heartbeats, never less than the session read timeout.
func (s *Server) idleTimeout() time.Duration {
	return config.IdleTimeout(s.cfg.Runtime, s.sess.ReadTimeout)
}

func (s *Server) reply(nc *session.NetConn, msg protocol.Message, logger zerolog.Logger) bool {
	if err := s.codec.Encode(nc, msg); err != nil {
		logger.Warn().Err(err).Str("kind", msg.Kind().String()).Msg("encode reply failed")
		return false
	}
	if err := nc.Flush(); err != nil {
		logger.Warn().Err(err).Msg("flush reply failed")
		return false
	}
	observability.RecordMessage(observability.DirectionSent, msg.Kind().String())
	return true
}

// drain reads agent messages until the peer disconnects or misbehaves.
func (s *Server) drain(nc *session.NetConn, logger zerolog.Logger, agent *agentConn) {
	for {
		msg, err := s.codec.ReadMessage(nc)
		if err != nil {
			if protocol.IsProtocolViolation(err) {
				logger.Warn().Err(err).Msg("closing connection")
			}
			return
		}
		observability.RecordMessage(observability.DirectionReceived, msg.Kind().String())
		if hb, ok := msg.(protocol.Heartbeat); ok && agent != nil {
			agent.observeHeartbeat(hb)
		}
		logger.Trace().Str("kind", msg.Kind().String()).Msg("message")
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
