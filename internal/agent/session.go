package agent

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/observability"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/danmuck/pulsewire/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Session is one established connection to the controller. Send is safe
// for concurrent use; Next must be called from a single goroutine.
type Session struct {
	conn    *session.NetConn
	codec   *protocol.Codec
	runtime *config.Runtime
	logger  zerolog.Logger

	writeMu sync.Mutex
}

func newSession(conn *session.NetConn, codec *protocol.Codec, rt *config.Runtime, logger zerolog.Logger) *Session {
	return &Session{conn: conn, codec: codec, runtime: rt, logger: logger}
}

// Runtime is the configuration received in the handshake; nil on data
// sessions.
func (s *Session) Runtime() *config.Runtime {
	return s.runtime
}

// Send encodes msg and flushes it.
func (s *Session) Send(msg protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.codec.Encode(s.conn, msg); err != nil {
		return err
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}
	observability.RecordMessage(observability.DirectionSent, msg.Kind().String())
	return nil
}

func (s *Session) SendHeartbeat(mode protocol.AgentOperationMode, sendBufferSize int16) error {
	return s.Send(protocol.Heartbeat{Mode: mode, SendBufferSize: sendBufferSize})
}

// Next blocks for the next message from the controller.
func (s *Session) Next() (protocol.Message, error) {
	msg, err := s.codec.ReadMessage(s.conn)
	if err != nil {
		return nil, err
	}
	observability.RecordMessage(observability.DirectionReceived, msg.Kind().String())
	return msg, nil
}

// HeartbeatStatus supplies the values carried by each heartbeat.
type HeartbeatStatus func() (protocol.AgentOperationMode, int16)

// RunHeartbeats sends a heartbeat every runtime heartbeat interval until ctx
// ends or a send fails.
func (s *Session) RunHeartbeats(ctx context.Context, status HeartbeatStatus) error {
	interval := time.Second
	if s.runtime != nil && s.runtime.HeartbeatEvery() > 0 {
		interval = s.runtime.HeartbeatEvery()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mode, buffered := status()
			if err := s.SendHeartbeat(mode, buffered); err != nil {
				s.logger.Warn().Err(err).Msg("heartbeat failed")
				return err
			}
		}
	}
}

func (s *Session) Close() error {
	return s.conn.Close()
}
