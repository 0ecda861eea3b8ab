package negotiate

import (
	"errors"
	"fmt"
)

// State is a step of the offer/answer exchange.
type State int

const (
	StateIdle State = iota
	StateOffersCreated
	StateGatheringICE
	StateSubmitted
	StateAnswered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffersCreated:
		return "offers_created"
	case StateGatheringICE:
		return "gathering_ice"
	case StateSubmitted:
		return "submitted"
	case StateAnswered:
		return "answered"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Mode selects when the offer is submitted relative to ICE gathering.
type Mode string

const (
	// ModeGathering waits until candidate gathering has completed so the
	// submitted offer carries every candidate.
	ModeGathering Mode = "gathering"
	// ModeMinimal submits right after the local description is set.
	ModeMinimal Mode = "minimal"
)

var ErrUnknownMode = errors.New("unknown negotiation mode")

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeGathering:
		return ModeGathering, nil
	case ModeMinimal:
		return ModeMinimal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Kind classifies a negotiation failure.
type Kind int

const (
	KindDescription Kind = iota + 1
	KindSignaling
	KindMalformedAnswer
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindDescription:
		return "description"
	case KindSignaling:
		return "signaling"
	case KindMalformedAnswer:
		return "malformed_answer"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Error is returned by Negotiate. State is the step that failed.
type Error struct {
	State State
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("negotiate %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
