// Package negotiate drives the offer/answer exchange of one viewer session
// against the signaling endpoint.
package negotiate

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

// VideoTrackCount is the number of receive-only video slots in every offer.
const VideoTrackCount = 2

type Options struct {
	Mode       Mode
	PatchSDP   bool
	MaxBitrate int
	// Channel and VideoTransform are passed through to the producer.
	Channel        string
	VideoTransform string
}

type Negotiator struct {
	sid          domain.SessionID
	conn         core.MediaConnection
	signaler     core.Signaler
	opts         Options
	onTransition func(from, to State)
	logger       zerolog.Logger

	mu    sync.Mutex
	state State
}

// New returns a negotiator in StateIdle. onTransition may be nil; it is
// called synchronously from Negotiate.
func New(sid domain.SessionID, conn core.MediaConnection, signaler core.Signaler, opts Options, onTransition func(from, to State)) *Negotiator {
	if opts.Mode == "" {
		opts.Mode = ModeGathering
	}
	return &Negotiator{
		sid:          sid,
		conn:         conn,
		signaler:     signaler,
		opts:         opts,
		onTransition: onTransition,
		logger: log.With().
			Str("module", "negotiate").
			Str("sid", string(sid)).
			Str("mode", string(opts.Mode)).
			Logger(),
	}
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiator) transition(to State) {
	n.mu.Lock()
	from := n.state
	n.state = to
	n.mu.Unlock()

	n.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("negotiation state")
	if n.onTransition != nil {
		n.onTransition(from, to)
	}
}

func (n *Negotiator) fail(kind Kind, err error) error {
	failed := n.State()
	n.transition(StateFailed)
	n.logger.Warn().Err(err).Str("step", failed.String()).Str("kind", kind.String()).Msg("negotiation failed")
	return &Error{State: failed, Kind: kind, Err: err}
}

// canceled reports a torn-down session before the next step touches the
// connection.
func (n *Negotiator) canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return n.fail(KindCanceled, err)
	}
	return nil
}

// Negotiate runs the exchange once. It returns nil once the answer is
// applied and a *Error otherwise.
func (n *Negotiator) Negotiate(ctx context.Context) error {
	if s := n.State(); s != StateIdle {
		return &Error{State: s, Kind: KindDescription, Err: errors.New("negotiation already started")}
	}

	for i := 0; i < VideoTrackCount; i++ {
		if err := n.conn.AddTransceiver(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverDirectionRecvonly); err != nil {
			return n.fail(KindDescription, err)
		}
	}
	offer, err := n.conn.CreateOffer()
	if err != nil {
		return n.fail(KindDescription, err)
	}
	n.transition(StateOffersCreated)

	if err := n.canceled(ctx); err != nil {
		return err
	}

	if n.opts.Mode == ModeGathering {
		if err := n.setLocalAndGather(ctx, offer); err != nil {
			return err
		}
	} else if err := n.conn.SetLocalDescription(offer); err != nil {
		return n.fail(KindDescription, err)
	}

	if err := n.canceled(ctx); err != nil {
		return err
	}

	local := offer
	if d := n.conn.LocalDescription(); d != nil {
		local = *d
	}
	sdpText := local.SDP
	if n.opts.PatchSDP {
		patched, err := PatchSDP(sdpText, n.opts.MaxBitrate)
		if err != nil {
			n.logger.Warn().Err(err).Msg("sdp patch failed, submitting unpatched offer")
		} else {
			sdpText = patched
		}
	}

	n.transition(StateSubmitted)
	answer, err := n.signaler.SubmitOffer(ctx, core.Offer{
		SDP:            sdpText,
		Type:           local.Type.String(),
		VideoTransform: n.opts.VideoTransform,
		Channel:        n.opts.Channel,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return n.fail(KindCanceled, err)
		case errors.Is(err, core.ErrMalformedAnswer):
			return n.fail(KindMalformedAnswer, err)
		default:
			return n.fail(KindSignaling, err)
		}
	}

	if err := n.canceled(ctx); err != nil {
		return err
	}
	if err := n.conn.SetRemoteDescription(answer); err != nil {
		return n.fail(KindDescription, err)
	}
	n.transition(StateAnswered)
	n.logger.Info().Msg("answer applied")
	return nil
}

// setLocalAndGather subscribes to gathering changes before applying the
// offer, then checks the current state, so a completion that happens in
// between is never missed.
func (n *Negotiator) setLocalAndGather(ctx context.Context, offer webrtc.SessionDescription) error {
	complete := make(chan struct{})
	var once sync.Once
	remove := n.conn.AddGatheringListener(func(s webrtc.ICEGatheringState) {
		if s == webrtc.ICEGatheringStateComplete {
			once.Do(func() { close(complete) })
		}
	})
	defer remove()

	if err := n.conn.SetLocalDescription(offer); err != nil {
		return n.fail(KindDescription, err)
	}
	n.transition(StateGatheringICE)

	if n.conn.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}
	select {
	case <-complete:
		n.logger.Debug().Msg("ice gathering complete")
		return nil
	case <-ctx.Done():
		return n.fail(KindCanceled, ctx.Err())
	}
}
