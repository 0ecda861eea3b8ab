package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkeye/Viewer/internal/app/clock"
	"github.com/dkeye/Viewer/internal/app/negotiate"
	"github.com/dkeye/Viewer/internal/app/telemetry"
	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

// Session is one peer connection rendering into a variant's sinks.
type Session struct {
	ID      domain.SessionID
	Variant domain.Variant

	conn       core.MediaConnection
	clock      *clock.Clock
	negotiator *negotiate.Negotiator
	ctx        context.Context
	cancel     context.CancelFunc
	logger     zerolog.Logger

	mu       sync.Mutex
	state    domain.SessionState
	err      error
	channels []*telemetry.Channel
	closed   bool
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) active() bool {
	st := s.State()
	return st == domain.StateConnecting || st == domain.StateConnected
}

// setState changes the state of a live session and runs publish before
// the lock is released, so observers see transitions in order. It reports
// false, without publishing, once the session has been torn down.
func (s *Session) setState(state domain.SessionState, err error, publish func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.state = state
	s.err = err
	publish()
	return true
}

// locked runs fn under the session lock.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// addChannel keeps ch for teardown. A channel arriving after teardown is
// closed right away.
func (s *Session) addChannel(ch *telemetry.Channel) {
	s.mu.Lock()
	if !s.closed {
		s.channels = append(s.channels, ch)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	ch.Close()
}

// markClosed flips the closed guard, publishes the final state and hands
// back the channels to close. Only the first call returns ok.
func (s *Session) markClosed(state domain.SessionState, err error, publish func()) (channels []*telemetry.Channel, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	s.state = state
	s.err = err
	publish()
	channels = s.channels
	s.channels = nil
	return channels, true
}

// Info is a read-only view for status reporting.
type Info struct {
	ID          domain.SessionID    `json:"id"`
	Variant     domain.Variant      `json:"variant"`
	State       domain.SessionState `json:"state"`
	Negotiation string              `json:"negotiation"`
	Error       string              `json:"error,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:          s.ID,
		Variant:     s.Variant,
		State:       s.state,
		Negotiation: s.negotiator.State().String(),
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// guardedPublisher drops telemetry from a torn-down session.
type guardedPublisher struct {
	s   *Session
	obs core.Observer
}

func (p guardedPublisher) OnRTT(sid domain.SessionID, rttMs int64) {
	if p.s.isClosed() {
		return
	}
	p.obs.OnRTT(sid, rttMs)
}

func (p guardedPublisher) OnTelemetry(sid domain.SessionID, report domain.TelemetryReport) {
	if p.s.isClosed() {
		return
	}
	p.obs.OnTelemetry(sid, report)
}
