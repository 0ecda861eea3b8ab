package tracks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

var ErrUnknownSink = errors.New("unknown sink")

// Sink is a display target. It renders at most one source at a time and
// drains RTP from it until the source ends or is replaced.
type Sink struct {
	ID domain.SinkID

	mu     sync.Mutex
	src    core.RemoteTrack
	owner  domain.SessionID
	cancel context.CancelFunc

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

// SinkStats is a read-only view for status reporting.
type SinkStats struct {
	ID      domain.SinkID    `json:"id"`
	Owner   domain.SessionID `json:"owner,omitempty"`
	TrackID string           `json:"track_id,omitempty"`
	Packets uint64           `json:"packets"`
	Bytes   uint64           `json:"bytes"`
	LastSeq uint16           `json:"last_seq"`
}

// attach replaces the current source wholesale and starts a new reader.
func (s *Sink) attach(ctx context.Context, owner domain.SessionID, track core.RemoteTrack) {
	logger := log.With().
		Str("module", "sink").
		Str("sink", string(s.ID)).
		Str("sid", string(owner)).
		Str("track_id", track.ID()).
		Logger()

	readCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		logger.Info().Str("old_track_id", s.src.ID()).Msg("replacing sink source")
		s.cancel()
	}
	s.src = track
	s.owner = owner
	s.cancel = cancel
	s.packets.Store(0)
	s.bytes.Store(0)
	s.lastSeq.Store(0)
	s.mu.Unlock()

	logger.Info().Msg("sink source attached")
	go s.loop(readCtx, track, &logger)
}

// loop reads RTP packets from src until it fails or ctx is canceled.
func (s *Sink) loop(ctx context.Context, src core.RemoteTrack, logger *zerolog.Logger) {
	defer s.release(src)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink reader canceled")
			return
		default:
		}
		pkt, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("sink source ended")
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.lastSeq.Store(uint32(pkt.SequenceNumber))
	}
}

// release clears the source if src is still the current one.
func (s *Sink) release(src core.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src != src {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.src = nil
	s.owner = ""
	s.cancel = nil
}

func (s *Sink) detachOwner(owner domain.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil || s.owner != owner {
		return false
	}
	s.cancel()
	s.src = nil
	s.owner = ""
	s.cancel = nil
	return true
}

// Source returns the current source, nil when idle.
func (s *Sink) Source() core.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	st := SinkStats{ID: s.ID, Owner: s.owner}
	if s.src != nil {
		st.TrackID = s.src.ID()
	}
	s.mu.Unlock()
	st.Packets = s.packets.Load()
	st.Bytes = s.bytes.Load()
	st.LastSeq = uint16(s.lastSeq.Load())
	return st
}

// SinkSet holds the page's display targets. It lives for the whole process
// and is shared by every session.
type SinkSet struct {
	sinks map[domain.SinkID]*Sink
}

func NewSinkSet() *SinkSet {
	s := &SinkSet{sinks: make(map[domain.SinkID]*Sink, len(domain.Sinks))}
	for _, id := range domain.Sinks {
		s.sinks[id] = &Sink{ID: id}
	}
	return s
}

func (s *SinkSet) Get(id domain.SinkID) (*Sink, bool) {
	sink, ok := s.sinks[id]
	return sink, ok
}

// Attach makes track the only source of sink id.
func (s *SinkSet) Attach(ctx context.Context, id domain.SinkID, owner domain.SessionID, track core.RemoteTrack) error {
	sink, ok := s.sinks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSink, id)
	}
	sink.attach(ctx, owner, track)
	return nil
}

// Detach stops every sink currently fed by owner and returns how many.
func (s *SinkSet) Detach(owner domain.SessionID) int {
	n := 0
	for _, sink := range s.sinks {
		if sink.detachOwner(owner) {
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "sink").Str("sid", string(owner)).Int("sinks", n).Msg("sinks detached")
	}
	return n
}

func (s *SinkSet) Snapshot() []SinkStats {
	out := make([]SinkStats, 0, len(domain.Sinks))
	for _, id := range domain.Sinks {
		out = append(out, s.sinks[id].Stats())
	}
	return out
}
