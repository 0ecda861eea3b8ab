// Package session owns the lifecycle of the viewer's peer connections:
// one live and one test session at most, each negotiated, probed and torn
// down independently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/app/clock"
	"github.com/dkeye/Viewer/internal/app/negotiate"
	"github.com/dkeye/Viewer/internal/app/telemetry"
	"github.com/dkeye/Viewer/internal/app/tracks"
	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

const (
	DefaultChannelLabel  = "chat"
	DefaultTeardownGrace = 500 * time.Millisecond
)

var ErrManagerClosed = errors.New("session manager closed")

type Options struct {
	Negotiation   negotiate.Options
	ChannelLabel  string
	ProbeInterval time.Duration
	// TeardownGrace delays the final connection close after disconnect.
	TeardownGrace time.Duration
	// Now feeds each session clock; nil means time.Now.
	Now func() time.Time
}

type Manager struct {
	ctx  context.Context
	stop context.CancelFunc

	factory  core.ConnectionFactory
	signaler core.Signaler
	router   *tracks.Router
	observer core.Observer
	opts     Options

	mu        sync.Mutex
	sessions  map[domain.SessionID]*Session
	byVariant map[domain.Variant]domain.SessionID
	closed    bool

	closing sync.WaitGroup
}

func NewManager(factory core.ConnectionFactory, signaler core.Signaler, router *tracks.Router, observer core.Observer, opts Options) *Manager {
	if observer == nil {
		observer = core.NopObserver{}
	}
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = DefaultChannelLabel
	}
	if opts.TeardownGrace <= 0 {
		opts.TeardownGrace = DefaultTeardownGrace
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = telemetry.DefaultProbeInterval
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		ctx:       ctx,
		stop:      stop,
		factory:   factory,
		signaler:  signaler,
		router:    router,
		observer:  observer,
		opts:      opts,
		sessions:  make(map[domain.SessionID]*Session),
		byVariant: make(map[domain.Variant]domain.SessionID),
	}
}

// Connect starts a session for variant. A variant that is already
// connecting or connected is returned as is; a failed one is replaced.
func (m *Manager) Connect(variant domain.Variant) (*Session, error) {
	if _, err := domain.ParseVariant(string(variant)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if old, ok := m.sessions[m.byVariant[variant]]; ok {
		if old.active() {
			m.mu.Unlock()
			log.Debug().Str("module", "app.session").Str("sid", string(old.ID)).Str("variant", string(variant)).Msg("already connected")
			return old, nil
		}
		// a failed session was already released; retire its entry
		delete(m.sessions, old.ID)
		delete(m.byVariant, variant)
		old.locked(func() {
			m.observer.OnStateChange(old.ID, variant, domain.StateDisconnected, nil)
		})
		old.logger.Info().Msg("failed session replaced")
	}

	s, err := m.newSession(variant)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[s.ID] = s
	m.byVariant[variant] = s.ID
	// published under mu so a racing Disconnect cannot report first
	m.observer.OnStateChange(s.ID, variant, domain.StateConnecting, nil)
	m.mu.Unlock()

	s.logger.Info().Msg("session connecting")
	go m.negotiate(s)
	return s, nil
}

// newSession builds the connection with its telemetry channel and track
// handling. The offer is created later, so the channel is part of it.
func (m *Manager) newSession(variant domain.Variant) (*Session, error) {
	sid := domain.SessionID(uuid.NewString())
	conn, err := m.factory.NewConnection(sid)
	if err != nil {
		return nil, fmt.Errorf("new connection: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		ID:      sid,
		Variant: variant,
		conn:    conn,
		clock:   clock.New(m.opts.Now),
		ctx:     ctx,
		cancel:  cancel,
		state:   domain.StateConnecting,
		logger: log.With().
			Str("module", "app.session").
			Str("sid", string(sid)).
			Str("variant", string(variant)).
			Logger(),
	}
	pub := guardedPublisher{s: s, obs: m.observer}

	conn.OnTrack(func(in core.InboundTrack) {
		go m.routeTrack(s, in)
	})
	conn.OnDataChannel(func(dc core.DataChannel) {
		if s.isClosed() {
			_ = dc.Close()
			return
		}
		s.logger.Info().Str("label", dc.Label()).Msg("remote data channel")
		s.addChannel(telemetry.New(sid, telemetry.RoleResponder, dc, s.clock, pub, m.opts.ProbeInterval))
	})

	dc, err := conn.CreateDataChannel(m.opts.ChannelLabel)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	s.channels = append(s.channels, telemetry.New(sid, telemetry.RoleRequester, dc, s.clock, pub, m.opts.ProbeInterval))

	s.negotiator = negotiate.New(sid, conn, m.signaler, m.opts.Negotiation, nil)
	return s, nil
}

func (m *Manager) negotiate(s *Session) {
	err := s.negotiator.Negotiate(s.ctx)
	if err != nil {
		if m.release(s, domain.StateFailed, err) {
			s.logger.Warn().Err(err).Msg("session failed")
		}
		return
	}
	connected := s.setState(domain.StateConnected, nil, func() {
		m.observer.OnStateChange(s.ID, s.Variant, domain.StateConnected, nil)
	})
	if !connected {
		s.logger.Debug().Msg("negotiation finished after teardown")
		return
	}
	s.logger.Info().Msg("session connected")
}

func (m *Manager) routeTrack(s *Session, in core.InboundTrack) {
	if s.isClosed() {
		return
	}
	if _, err := m.router.Route(s.ctx, s.ID, s.Variant, in); err != nil {
		if errors.Is(err, tracks.ErrNotVideo) {
			s.logger.Debug().Str("mid", in.Mid).Msg("ignoring non-video track")
			return
		}
		s.logger.Warn().Err(err).Str("mid", in.Mid).Msg("track not routed")
	}
}

// release tears s down and publishes state. It reports false when s was
// already released.
func (m *Manager) release(s *Session, state domain.SessionState, cause error) bool {
	channels, ok := s.markClosed(state, cause, func() {
		m.observer.OnStateChange(s.ID, s.Variant, state, cause)
	})
	if !ok {
		return false
	}
	s.cancel()

	for _, ch := range channels {
		ch.Close()
	}
	for _, t := range s.conn.Transceivers() {
		if st, ok := t.(core.Stopper); ok {
			if err := st.Stop(); err != nil {
				s.logger.Debug().Err(err).Str("mid", t.Mid()).Msg("transceiver stop")
			}
		}
	}
	for _, snd := range s.conn.Senders() {
		if err := snd.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("sender stop")
		}
	}
	m.router.Release(s.ID)

	m.closing.Add(1)
	time.AfterFunc(m.opts.TeardownGrace, func() {
		defer m.closing.Done()
		if err := s.conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("connection close")
		}
		s.logger.Debug().Msg("connection closed")
	})
	return true
}

// Disconnect tears down the variant's session. It reports false when
// there was nothing to disconnect.
func (m *Manager) Disconnect(variant domain.Variant) bool {
	m.mu.Lock()
	s, ok := m.sessions[m.byVariant[variant]]
	if ok {
		delete(m.sessions, s.ID)
		delete(m.byVariant, variant)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	if !m.release(s, domain.StateDisconnected, nil) {
		// already failed and released; only the entry was left
		s.locked(func() {
			m.observer.OnStateChange(s.ID, variant, domain.StateDisconnected, nil)
		})
	}
	s.logger.Info().Msg("session disconnected")
	return true
}

func (m *Manager) Session(variant domain.Variant) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[m.byVariant[variant]]
	return s, ok
}

func (m *Manager) State(variant domain.Variant) domain.SessionState {
	if s, ok := m.Session(variant); ok {
		return s.State()
	}
	return domain.StateDisconnected
}

func (m *Manager) Sinks() []tracks.SinkStats {
	return m.router.Sinks().Snapshot()
}

// Snapshot lists the known sessions in variant order.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.byVariant))
	for _, v := range domain.Variants {
		if s, ok := m.sessions[m.byVariant[v]]; ok {
			list = append(list, s)
		}
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

// Close disconnects every session and waits for the delayed connection
// closes to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, v := range domain.Variants {
		m.Disconnect(v)
	}
	m.stop()
	m.closing.Wait()
	log.Info().Str("module", "app.session").Msg("session manager closed")
}
