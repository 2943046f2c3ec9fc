package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// ErrorReporter receives human-readable protocol failure diagnostics.
type ErrorReporter interface {
	ReportError(message string)
}

type ReporterFunc func(message string)

func (f ReporterFunc) ReportError(message string) {
	f(message)
}

// LogReporter writes reported errors to a zerolog logger.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) ReportError(message string) {
	r.Logger.Error().Str("component", "handshake").Msg(message)
}

// Recorder keeps every reported message. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	next     ErrorReporter
}

// NewRecorder returns a Recorder that also forwards to next, if non-nil.
func NewRecorder(next ErrorReporter) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) ReportError(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
	if r.next != nil {
		r.next.ReportError(message)
	}
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Last returns the most recent message, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}
