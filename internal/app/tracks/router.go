// Package tracks routes inbound video tracks to the page's display sinks.
package tracks

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

var (
	ErrNotVideo    = errors.New("track is not video")
	ErrUnboundSlot = errors.New("no sink bound to slot")
)

// TrackObserver is notified once a track is rendering.
type TrackObserver interface {
	OnTrackAvailable(sid domain.SessionID, variant domain.Variant, mid string, sink domain.SinkID)
}

type Router struct {
	sinks    *SinkSet
	applier  ConstraintApplier
	observer TrackObserver
}

func NewRouter(sinks *SinkSet, applier ConstraintApplier, observer TrackObserver) *Router {
	if applier == nil {
		applier = CodecConstraints{}
	}
	return &Router{sinks: sinks, applier: applier, observer: observer}
}

func (r *Router) Sinks() *SinkSet { return r.sinks }

// Route applies constraints to in and attaches it to the sink bound to its
// mid. Audio tracks return ErrNotVideo and touch nothing. A constraint
// failure leaves the track unattached. Route blocks while constraints are
// applied, so transport callbacks should run it on their own goroutine.
func (r *Router) Route(ctx context.Context, sid domain.SessionID, variant domain.Variant, in core.InboundTrack) (domain.SinkID, error) {
	if in.Track.Kind() != webrtc.RTPCodecTypeVideo {
		return "", fmt.Errorf("%w: %s", ErrNotVideo, in.Track.Kind())
	}

	logger := log.With().
		Str("module", "tracks").
		Str("sid", string(sid)).
		Str("variant", string(variant)).
		Str("mid", in.Mid).
		Str("track_id", in.Track.ID()).
		Logger()

	if err := r.applier.Apply(ctx, in.Track); err != nil {
		logger.Warn().Err(err).Msg("apply constraints failed, track left unattached")
		return "", fmt.Errorf("apply constraints: %w", err)
	}
	// the session may have been torn down while constraints were applied
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sink, ok := Bind(in.Mid, variant)
	if !ok {
		logger.Warn().Msg("no sink for slot")
		return "", fmt.Errorf("%w: mid=%q variant=%s", ErrUnboundSlot, in.Mid, variant)
	}
	if err := r.sinks.Attach(ctx, sink, sid, in.Track); err != nil {
		return "", err
	}
	logger.Info().Str("sink", string(sink)).Msg("track routed")

	if r.observer != nil {
		r.observer.OnTrackAvailable(sid, variant, in.Mid, sink)
	}
	return sink, nil
}

// Release detaches every sink fed by sid.
func (r *Router) Release(sid domain.SessionID) int {
	return r.sinks.Detach(sid)
}
