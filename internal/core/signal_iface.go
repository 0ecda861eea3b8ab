package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMalformedAnswer is returned by a Signaler when the answer body cannot
// be used as a remote description.
var ErrMalformedAnswer = errors.New("malformed answer")

// Offer is what a viewer submits to the signaling endpoint.
type Offer struct {
	SDP            string
	Type           string
	VideoTransform string
	Channel        string
}

type Signaler interface {
	SubmitOffer(ctx context.Context, offer Offer) (webrtc.SessionDescription, error)
}
