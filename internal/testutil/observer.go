package testutil

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

type StateEvent struct {
	SID     domain.SessionID
	Variant domain.Variant
	State   domain.SessionState
	Err     error
}

type TrackEvent struct {
	SID     domain.SessionID
	Variant domain.Variant
	Mid     string
	Sink    domain.SinkID
}

// Recorder is a core.Observer that keeps every event and mirrors them on
// buffered channels for tests that need to wait.
type Recorder struct {
	mu        sync.Mutex
	States    []StateEvent
	RTTs      []int64
	Reports   []domain.TelemetryReport
	TrackEvts []TrackEvent

	StateCh  chan StateEvent
	RTTCh    chan int64
	ReportCh chan domain.TelemetryReport
	TrackCh  chan TrackEvent
}

func NewRecorder() *Recorder {
	return &Recorder{
		StateCh:  make(chan StateEvent, 64),
		RTTCh:    make(chan int64, 64),
		ReportCh: make(chan domain.TelemetryReport, 64),
		TrackCh:  make(chan TrackEvent, 64),
	}
}

func (r *Recorder) OnStateChange(sid domain.SessionID, variant domain.Variant, state domain.SessionState, err error) {
	ev := StateEvent{SID: sid, Variant: variant, State: state, Err: err}
	r.mu.Lock()
	r.States = append(r.States, ev)
	r.mu.Unlock()
	select {
	case r.StateCh <- ev:
	default:
	}
}

func (r *Recorder) OnRTT(_ domain.SessionID, rttMs int64) {
	r.mu.Lock()
	r.RTTs = append(r.RTTs, rttMs)
	r.mu.Unlock()
	select {
	case r.RTTCh <- rttMs:
	default:
	}
}

func (r *Recorder) OnTelemetry(_ domain.SessionID, report domain.TelemetryReport) {
	r.mu.Lock()
	r.Reports = append(r.Reports, report)
	r.mu.Unlock()
	select {
	case r.ReportCh <- report:
	default:
	}
}

func (r *Recorder) OnTrackAvailable(sid domain.SessionID, variant domain.Variant, mid string, sink domain.SinkID) {
	ev := TrackEvent{SID: sid, Variant: variant, Mid: mid, Sink: sink}
	r.mu.Lock()
	r.TrackEvts = append(r.TrackEvts, ev)
	r.mu.Unlock()
	select {
	case r.TrackCh <- ev:
	default:
	}
}

// StateHistory returns the states seen so far, in order.
func (r *Recorder) StateHistory() []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionState, 0, len(r.States))
	for _, ev := range r.States {
		out = append(out, ev.State)
	}
	return out
}

// FakeSignaler answers offers through Answer, or blocks until Release when
// Hold is set.
type FakeSignaler struct {
	mu     sync.Mutex
	offers []core.Offer
	hold   chan struct{}

	// Submitted receives each offer as it arrives.
	Submitted chan core.Offer
	Answer    func(core.Offer) (webrtc.SessionDescription, error)
}

func NewFakeSignaler() *FakeSignaler {
	return &FakeSignaler{
		Submitted: make(chan core.Offer, 8),
		Answer: func(core.Offer) (webrtc.SessionDescription, error) {
			return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}, nil
		},
	}
}

// Hold makes SubmitOffer block until Release is called.
func (s *FakeSignaler) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
}

func (s *FakeSignaler) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hold != nil {
		close(s.hold)
		s.hold = nil
	}
}

func (s *FakeSignaler) SubmitOffer(ctx context.Context, offer core.Offer) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	s.offers = append(s.offers, offer)
	hold := s.hold
	answer := s.Answer
	s.mu.Unlock()

	select {
	case s.Submitted <- offer:
	default:
	}
	if hold != nil {
		<-hold
	}
	return answer(offer)
}

func (s *FakeSignaler) Offers() []core.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Offer(nil), s.offers...)
}

// FakeFactory hands out FakeConnections and remembers them.
type FakeFactory struct {
	mu    sync.Mutex
	conns []*FakeConnection
	// Prepare, when set, configures each new connection before use.
	Prepare func(*FakeConnection)
	Err     error
}

func (f *FakeFactory) NewConnection(domain.SessionID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewFakeConnection()
	if f.Prepare != nil {
		f.Prepare(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *FakeFactory) Connections() []*FakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConnection(nil), f.conns...)
}
