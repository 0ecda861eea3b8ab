// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

type SessionID string

// Variant selects which display pair a session renders into.
type Variant string

const (
	VariantLive Variant = "live"
	VariantTest Variant = "test"
)

var ErrUnknownVariant = errors.New("unknown session variant")

// Variants lists every variant a viewer may run concurrently.
var Variants = []Variant{VariantLive, VariantTest}

func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantLive, VariantTest:
		return Variant(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// SessionState is the user-visible connection phase of a session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(b []byte) error {
	for _, st := range []SessionState{StateDisconnected, StateConnecting, StateConnected, StateFailed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}
