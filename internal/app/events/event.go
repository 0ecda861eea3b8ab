package events

import (
	"github.com/dkeye/Viewer/internal/domain"
)

// Event types on the status stream.
const (
	TypeSnapshot  = "snapshot"
	TypeState     = "state"
	TypeRTT       = "rtt"
	TypeTelemetry = "telemetry"
	TypeTrack     = "track"
	TypePhoto     = "photo"
)

// Event is one frame of the status stream. Only the fields of its Type
// are set.
type Event struct {
	Type      string                  `json:"type"`
	SessionID domain.SessionID        `json:"sid,omitempty"`
	Variant   domain.Variant          `json:"variant,omitempty"`
	State     *domain.SessionState    `json:"state,omitempty"`
	Error     string                  `json:"error,omitempty"`
	RTT       *int64                  `json:"rtt_ms,omitempty"`
	Telemetry *domain.TelemetryReport `json:"telemetry,omitempty"`
	Mid       string                  `json:"mid,omitempty"`
	Sink      domain.SinkID           `json:"sink,omitempty"`
	PhotoKind domain.PhotoKind        `json:"photo_kind,omitempty"`
	URL       string                  `json:"url,omitempty"`
	Snapshot  *Snapshot               `json:"snapshot,omitempty"`
}

// SessionView is the latest rendered state of one session.
type SessionView struct {
	ID        domain.SessionID         `json:"id"`
	Variant   domain.Variant           `json:"variant"`
	State     domain.SessionState      `json:"state"`
	Error     string                   `json:"error,omitempty"`
	RTT       *int64                   `json:"rtt_ms,omitempty"`
	Telemetry *domain.TelemetryReport  `json:"telemetry,omitempty"`
	Tracks    map[string]domain.SinkID `json:"tracks,omitempty"`
}

type Snapshot struct {
	Sessions []SessionView               `json:"sessions"`
	Photos   map[domain.PhotoKind]string `json:"photos"`
}
