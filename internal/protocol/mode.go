package protocol

import "fmt"

// AgentOperationMode is the agent lifecycle state carried by heartbeats.
type AgentOperationMode uint8

const (
	ModeInitializing AgentOperationMode = iota + 1
	ModePaused
	ModeSuspended
	ModeTracing
	ModeShutdown
)

// Heartbeat mode codes are the ASCII letters I, P, S, T and X.
const (
	ModeCodeInitializing byte = 'I'
	ModeCodePaused       byte = 'P'
	ModeCodeSuspended    byte = 'S'
	ModeCodeTracing      byte = 'T'
	ModeCodeShutdown     byte = 'X'
)

// Modes lists every defined mode.
func Modes() []AgentOperationMode {
	return []AgentOperationMode{ModeInitializing, ModePaused, ModeSuspended, ModeTracing, ModeShutdown}
}

// Code returns the fixed wire code for m. An undefined mode panics: it means a
// mode was added without extending the codec.
func (m AgentOperationMode) Code() byte {
	switch m {
	case ModeInitializing:
		return ModeCodeInitializing
	case ModePaused:
		return ModeCodePaused
	case ModeSuspended:
		return ModeCodeSuspended
	case ModeTracing:
		return ModeCodeTracing
	case ModeShutdown:
		return ModeCodeShutdown
	default:
		panic(fmt.Sprintf("protocol: incomplete match on AgentOperationMode(%d)", uint8(m)))
	}
}

// ModeForCode maps a wire code back to its mode.
func ModeForCode(code byte) (AgentOperationMode, error) {
	switch code {
	case ModeCodeInitializing:
		return ModeInitializing, nil
	case ModeCodePaused:
		return ModePaused, nil
	case ModeCodeSuspended:
		return ModeSuspended, nil
	case ModeCodeTracing:
		return ModeTracing, nil
	case ModeCodeShutdown:
		return ModeShutdown, nil
	default:
		return 0, fmt.Errorf("%w: code %d", ErrInvalidMode, code)
	}
}

func (m AgentOperationMode) String() string {
	switch m {
	case ModeInitializing:
		return "initializing"
	case ModePaused:
		return "paused"
	case ModeSuspended:
		return "suspended"
	case ModeTracing:
		return "tracing"
	case ModeShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}
