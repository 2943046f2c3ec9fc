package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrConnectExhausted = errors.New("session: connect attempts exhausted")

// Conn is the byte stream a handshake or session runs over. Writes may be
// buffered until Flush.
type Conn interface {
	io.Reader
	io.Writer
	Flush() error
}

// StreamConn adapts any io.ReadWriter into a Conn.
type StreamConn struct {
	rw io.ReadWriter
	r  *bufio.Reader
	w  *bufio.Writer
}

func NewStreamConn(rw io.ReadWriter) *StreamConn {
	return &StreamConn{
		rw: rw,
		r:  bufio.NewReader(rw),
		w:  bufio.NewWriter(rw),
	}
}

func (c *StreamConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *StreamConn) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *StreamConn) Flush() error {
	return c.w.Flush()
}

// Close closes the underlying stream when it is an io.Closer.
func (c *StreamConn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// NetConn is a StreamConn over a net.Conn with per-operation deadlines.
// SetDeadline pins an absolute deadline that overrides the per-operation
// timeouts until it is cleared with the zero time.
type NetConn struct {
	*StreamConn
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	deadline     time.Time
}

func NewNetConn(conn net.Conn, cfg Config) *NetConn {
	return &NetConn{
		StreamConn:   NewStreamConn(conn),
		conn:         conn,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (c *NetConn) SetDeadline(t time.Time) {
	c.deadline = t
}

// SetTimeouts replaces the per-operation timeouts. Zero disables one.
func (c *NetConn) SetTimeouts(read, write time.Duration) {
	c.readTimeout = read
	c.writeTimeout = write
}

func (c *NetConn) Read(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(c.deadlineFor(c.readTimeout)); err != nil {
		return 0, err
	}
	return c.StreamConn.Read(p)
}

func (c *NetConn) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(c.deadlineFor(c.writeTimeout)); err != nil {
		return 0, err
	}
	return c.StreamConn.Write(p)
}

func (c *NetConn) Flush() error {
	if err := c.conn.SetWriteDeadline(c.deadlineFor(c.writeTimeout)); err != nil {
		return err
	}
	return c.StreamConn.Flush()
}

func (c *NetConn) Close() error {
	return c.conn.Close()
}

func (c *NetConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *NetConn) deadlineFor(timeout time.Duration) time.Time {
	if !c.deadline.IsZero() {
		return c.deadline
	}
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// Dial opens one TCP connection bounded by cfg.ConnectTimeout.
func Dial(ctx context.Context, addr string, cfg Config) (*NetConn, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewNetConn(conn, cfg), nil
}

// DialWithRetry dials addr up to cfg.MaxConnectAttempts times, waiting
// NextBackoffDelay between attempts. A non-positive attempt count retries
// until ctx is done.
func DialWithRetry(ctx context.Context, addr string, cfg Config, rng *rand.Rand) (*NetConn, error) {
	cfg = cfg.WithDefaults()
	var lastErr error
	for attempt := 1; cfg.MaxConnectAttempts <= 0 || attempt <= cfg.MaxConnectAttempts; attempt++ {
		conn, err := Dial(ctx, addr, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().
			Str("addr", addr).
			Int("attempt", attempt).
			Err(err).
			Msg("connect failed")
		if cfg.MaxConnectAttempts > 0 && attempt == cfg.MaxConnectAttempts {
			break
		}
		if err := waitBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrConnectExhausted, addr, lastErr)
}
