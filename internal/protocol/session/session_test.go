package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"net"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/danmuck/pulsewire/internal/testutil/testlog"
)

var errBoom = errors.New("boom")

// scriptConn replays in as the peer's bytes and captures flushed writes.
type scriptConn struct {
	in       io.Reader
	pending  bytes.Buffer
	out      bytes.Buffer
	flushErr error
	reads    int
}

func (c *scriptConn) Read(p []byte) (int, error) {
	c.reads++
	return c.in.Read(p)
}

func (c *scriptConn) Write(p []byte) (int, error) {
	return c.pending.Write(p)
}

func (c *scriptConn) Flush() error {
	if c.flushErr != nil {
		return c.flushErr
	}
	_, err := c.pending.WriteTo(&c.out)
	return err
}

type noReadConn struct {
	t *testing.T
	scriptConn
}

func (c *noReadConn) Read([]byte) (int, error) {
	c.t.Fatalf("handshake read from the connection")
	return 0, io.EOF
}

func configurationFrame(t *testing.T, rt config.Runtime) []byte {
	t.Helper()
	payload, err := config.EncodeRuntime(rt)
	if err != nil {
		t.Fatalf("encode runtime: %v", err)
	}
	frame := []byte{protocol.KindConfiguration.Tag()}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

func errorFrame(text string) []byte {
	frame := []byte{protocol.KindError.Tag()}
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(text)))
	return append(frame, text...)
}

func newTestHandshake(version protocol.Version) (*Handshake, *Recorder) {
	codec := protocol.NewCodec(version, protocol.DefaultLimits())
	rec := NewRecorder(nil)
	return NewHandshake(codec, config.NewPayloadReader(codec.Limits()), rec), rec
}

func testRuntime() config.Runtime {
	return config.Runtime{
		RunID:             3,
		HeartbeatInterval: 1000,
		Inclusions:        []string{"com.acme.*"},
		NumDataSenders:    2,
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestWaitBackoffHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{InitialDelay: time.Hour, Multiplier: 1}
	if err := waitBackoff(ctx, cfg, 1, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHandshakeHelloReceivesConfiguration(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.V1)
	in := bytes.NewReader(append(configurationFrame(t, testRuntime()), 0xAA))
	conn := &scriptConn{in: in}

	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if !res.OK() || res.State != StateConfigurationReceived {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Config.RunID != 3 || res.Config.NumDataSenders != 2 {
		t.Fatalf("unexpected runtime: %+v", res.Config)
	}
	if !bytes.Equal(conn.out.Bytes(), []byte{0x00, 0x01}) {
		t.Fatalf("hello frame: got=% x want=00 01", conn.out.Bytes())
	}
	if in.Len() != 1 {
		t.Fatalf("configuration must consume exactly its frame, %d bytes left", in.Len())
	}
	if msgs := rec.Messages(); len(msgs) != 0 {
		t.Fatalf("unexpected reports: %v", msgs)
	}
}

func TestHandshakeProjectHelloUnsupportedOnV1(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.V1)
	conn := &noReadConn{t: t}

	res, err := h.Perform(conn, 42)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.State != StateProtocolViolation || res.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec.Last() != MsgProjectHelloNotSupported {
		t.Fatalf("unexpected report: %q", rec.Last())
	}
	if conn.pending.Len() != 0 || conn.out.Len() != 0 {
		t.Fatalf("nothing may be written, got pending=%d out=%d", conn.pending.Len(), conn.out.Len())
	}
}

func TestHandshakeHelloUnsupportedReportsHello(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.NewVersion(1, protocol.KindConfiguration, protocol.KindError))
	conn := &noReadConn{t: t}

	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.State != StateProtocolViolation {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec.Last() != MsgHelloNotSupported {
		t.Fatalf("unexpected report: %q", rec.Last())
	}
	if conn.pending.Len() != 0 || conn.out.Len() != 0 {
		t.Fatalf("nothing may be written, got pending=%d out=%d", conn.pending.Len(), conn.out.Len())
	}
}

func TestHandshakeProjectHelloOnExtendedVersion(t *testing.T) {
	testlog.Start(t)
	h, _ := newTestHandshake(protocol.NewVersion(2, protocol.AllKinds()...))
	conn := &scriptConn{in: bytes.NewReader(configurationFrame(t, testRuntime()))}

	res, err := h.Perform(conn, 42)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if !res.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []byte{protocol.KindProjectHello.Tag(), 0x02, 0x00, 0x00, 0x00, 0x2A}
	if !bytes.Equal(conn.out.Bytes(), want) {
		t.Fatalf("project hello frame: got=% x want=% x", conn.out.Bytes(), want)
	}
}

func TestHandshakeErrorReplyIsReported(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.V1)
	in := bytes.NewReader(append(errorFrame("bad project"), 0xAA, 0xBB))
	conn := &scriptConn{in: in}

	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.State != StateErrorReceived || res.Config != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := rec.Last(); got != "received error from handshake: bad project" {
		t.Fatalf("unexpected report: %q", got)
	}
	if in.Len() != 2 {
		t.Fatalf("error reply must consume exactly its frame, %d bytes left", in.Len())
	}
}

func TestHandshakeUnknownTagIsProtocolViolation(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.V1)
	in := bytes.NewReader([]byte{0xFF, 0x01, 0x02, 0x03})
	conn := &scriptConn{in: in}

	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.State != StateProtocolViolation {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec.Last() != MsgUnexpectedControlMessage {
		t.Fatalf("unexpected report: %q", rec.Last())
	}
	if in.Len() != 3 {
		t.Fatalf("only the tag may be consumed, %d bytes left", in.Len())
	}
}

func TestHandshakeUnexpectedKnownTagIsProtocolViolation(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.V1)
	conn := &scriptConn{in: bytes.NewReader([]byte{protocol.KindStart.Tag()})}

	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.State != StateProtocolViolation || rec.Last() != MsgUnexpectedControlMessage {
		t.Fatalf("unexpected result: %+v report=%q", res, rec.Last())
	}
}

func TestHandshakeInvalidConfigurationIsProtocolViolation(t *testing.T) {
	testlog.Start(t)
	h, rec := newTestHandshake(protocol.V1)
	frame := []byte{protocol.KindConfiguration.Tag(), 0, 0, 0, 2, '{', '}'}
	conn := &scriptConn{in: bytes.NewReader(frame)}

	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.State != StateProtocolViolation {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.HasPrefix(rec.Last(), MsgInvalidConfiguration) {
		t.Fatalf("unexpected report: %q", rec.Last())
	}
}

func TestHandshakeTransportErrorsPropagate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name      string
		conn      *scriptConn
		wantErr   error
		wantState State
	}{
		{"read_error", &scriptConn{in: iotest.ErrReader(errBoom)}, errBoom, StateAwaitingReply},
		{"eof_before_reply", &scriptConn{in: bytes.NewReader(nil)}, io.EOF, StateAwaitingReply},
		{"flush_error", &scriptConn{in: bytes.NewReader(nil), flushErr: errBoom}, errBoom, StateHelloSent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, rec := newTestHandshake(protocol.V1)
			res, err := h.Perform(tc.conn, 0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if res.State != tc.wantState {
				t.Fatalf("state: got=%s want=%s", res.State, tc.wantState)
			}
			if len(rec.Messages()) != 0 {
				t.Fatalf("transport failures are not reported: %v", rec.Messages())
			}
		})
	}
}

func TestHandshakeConfigurationReadErrorPropagates(t *testing.T) {
	testlog.Start(t)
	h, _ := newTestHandshake(protocol.V1)
	in := io.MultiReader(bytes.NewReader([]byte{protocol.KindConfiguration.Tag(), 0}), iotest.ErrReader(errBoom))
	res, err := h.Perform(&scriptConn{in: in}, 0)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if res.State != StateAwaitingReply {
		t.Fatalf("unexpected state: %s", res.State)
	}
}

func TestStateStrings(t *testing.T) {
	testlog.Start(t)
	terminal := map[State]bool{
		StateStart:                 false,
		StateHelloSent:             false,
		StateAwaitingReply:         false,
		StateConfigurationReceived: true,
		StateErrorReceived:         true,
		StateProtocolViolation:     true,
	}
	for s, want := range terminal {
		if s.Terminal() != want {
			t.Fatalf("%s terminal=%v want %v", s, s.Terminal(), want)
		}
		if strings.HasPrefix(s.String(), "state(") {
			t.Fatalf("missing name for state %d", int(s))
		}
	}
}

func TestHandshakeOverNetConn(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	reply := configurationFrame(t, testRuntime())
	done := make(chan error, 1)
	go func() {
		hello := make([]byte, 2)
		if _, err := io.ReadFull(server, hello); err != nil {
			done <- err
			return
		}
		if !bytes.Equal(hello, []byte{0x00, 0x01}) {
			done <- errors.New("unexpected hello")
			return
		}
		_, err := server.Write(reply)
		done <- err
	}()

	conn := NewNetConn(client, DefaultConfig())
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	h, _ := newTestHandshake(protocol.V1)
	res, err := h.Perform(conn, 0)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if !res.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestDialWithRetryExhausts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 2
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	_, err = DialWithRetry(context.Background(), addr, cfg, nil)
	if !errors.Is(err, ErrConnectExhausted) {
		t.Fatalf("expected ErrConnectExhausted, got %v", err)
	}
}

func TestDialConnects(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := DialWithRetry(context.Background(), ln.Addr().String(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if conn.RemoteAddr().String() != ln.Addr().String() {
		t.Fatalf("unexpected remote: %s", conn.RemoteAddr())
	}
}
