package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/pulsewire/internal/protocol"
)

var ErrInvalidRuntime = errors.New("config: invalid runtime configuration")

// Runtime is the agent configuration delivered by the controller in the
// handshake's Configuration message.
type Runtime struct {
	RunID              int8     `json:"runId"`
	HeartbeatInterval  int      `json:"heartbeatInterval"`
	Exclusions         []string `json:"exclusions"`
	Inclusions         []string `json:"inclusions"`
	BufferMemoryBudget int      `json:"bufferMemoryBudget"`
	QueueRetryCount    int      `json:"queueRetryCount"`
	NumDataSenders     int      `json:"numDataSenders"`
}

func (r Runtime) Validate() error {
	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeatInterval must be positive", ErrInvalidRuntime)
	}
	if r.BufferMemoryBudget < 0 {
		return fmt.Errorf("%w: negative bufferMemoryBudget", ErrInvalidRuntime)
	}
	if r.QueueRetryCount < 0 {
		return fmt.Errorf("%w: negative queueRetryCount", ErrInvalidRuntime)
	}
	if r.NumDataSenders <= 0 {
		return fmt.Errorf("%w: numDataSenders must be positive", ErrInvalidRuntime)
	}
	for i, pattern := range r.Exclusions {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: exclusions[%d] empty", ErrInvalidRuntime, i)
		}
	}
	for i, pattern := range r.Inclusions {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: inclusions[%d] empty", ErrInvalidRuntime, i)
		}
	}
	return nil
}

// HeartbeatEvery returns the heartbeat interval as a duration.
func (r Runtime) HeartbeatEvery() time.Duration {
	return time.Duration(r.HeartbeatInterval) * time.Millisecond
}

// EncodeRuntime produces the Configuration payload for r.
func EncodeRuntime(r Runtime) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// DecodeRuntime parses and validates a Configuration payload.
func DecodeRuntime(payload []byte) (*Runtime, error) {
	var r Runtime
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuntime, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// PayloadReader reads a Configuration body (4-byte length + payload) from the
// control stream and decodes it into a Runtime.
type PayloadReader struct {
	limits protocol.Limits
}

func NewPayloadReader(limits protocol.Limits) *PayloadReader {
	return &PayloadReader{limits: limits}
}

func (p *PayloadReader) ReadConfiguration(r io.Reader) (*Runtime, error) {
	payload, err := protocol.ReadConfigurationPayload(r, p.limits)
	if err != nil {
		return nil, err
	}
	return DecodeRuntime(payload)
}
