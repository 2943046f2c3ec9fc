package controller

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/danmuck/pulsewire/internal/protocol/session"
)

const maxRunID = 127

var ErrRunsExhausted = errors.New("controller: no free run id")

// AgentInfo is the observed state of one configured agent.
type AgentInfo struct {
	RunID          int8      `json:"run_id"`
	RemoteAddr     string    `json:"remote_addr"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat,omitzero"`
	Mode           string    `json:"mode,omitempty"`
	SendBufferSize int16     `json:"send_buffer_size"`
}

// agentConn holds a run id from reserve until remove. conn is nil until the
// Configuration reply has been delivered.
type agentConn struct {
	mu   sync.Mutex
	conn *session.NetConn
	info AgentInfo
}

func (a *agentConn) runID() int8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.RunID
}

func (a *agentConn) attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// attach makes a reserved agent reachable over conn.
func (a *agentConn) attach(remote string, conn *session.NetConn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
	a.info.RemoteAddr = remote
	a.info.ConnectedAt = time.Now()
}

func (a *agentConn) send(codec *protocol.Codec, msg protocol.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := codec.Encode(a.conn, msg); err != nil {
		return err
	}
	return a.conn.Flush()
}

func (a *agentConn) observeHeartbeat(hb protocol.Heartbeat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.LastHeartbeat = time.Now()
	a.info.Mode = hb.Mode.String()
	a.info.SendBufferSize = hb.SendBufferSize
}

func (a *agentConn) snapshot() AgentInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// registry hands out run ids 1..127, round robin, skipping ids in use.
type registry struct {
	mu     sync.RWMutex
	agents map[int8]*agentConn
	last   int8
}

func newRegistry() *registry {
	return &registry{agents: make(map[int8]*agentConn)}
}

// reserve claims the next free run id.
func (r *registry) reserve() (*agentConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.last
	for range maxRunID {
		id = id%maxRunID + 1
		if _, taken := r.agents[id]; taken {
			continue
		}
		agent := &agentConn{info: AgentInfo{RunID: id}}
		r.agents[id] = agent
		r.last = id
		return agent, nil
	}
	return nil, ErrRunsExhausted
}

// remove releases agent's run id if agent still holds it.
func (r *registry) remove(agent *agentConn) {
	id := agent.runID()
	r.mu.Lock()
	if r.agents[id] == agent {
		delete(r.agents, id)
	}
	r.mu.Unlock()
}

// get returns the attached agent holding runID.
func (r *registry) get(runID int8) (*agentConn, bool) {
	r.mu.RLock()
	agent, ok := r.agents[runID]
	r.mu.RUnlock()
	if !ok || !agent.attached() {
		return nil, false
	}
	return agent, true
}

func (r *registry) snapshot() []AgentInfo {
	r.mu.RLock()
	out := make([]AgentInfo, 0, len(r.agents))
	for _, agent := range r.agents {
		if agent.attached() {
			out = append(out, agent.snapshot())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}
