package core

import "github.com/dkeye/Viewer/internal/domain"

// Observer receives everything the viewer page renders. Calls may arrive
// from transport goroutines while session locks are held: they must not
// block or call back into the session manager.
type Observer interface {
	OnStateChange(sid domain.SessionID, variant domain.Variant, state domain.SessionState, err error)
	OnRTT(sid domain.SessionID, rttMs int64)
	OnTelemetry(sid domain.SessionID, report domain.TelemetryReport)
	OnTrackAvailable(sid domain.SessionID, variant domain.Variant, mid string, sink domain.SinkID)
}

// NopObserver drops every event.
type NopObserver struct{}

func (NopObserver) OnStateChange(domain.SessionID, domain.Variant, domain.SessionState, error) {}
func (NopObserver) OnRTT(domain.SessionID, int64) {}
func (NopObserver) OnTelemetry(domain.SessionID, domain.TelemetryReport) {}
func (NopObserver) OnTrackAvailable(domain.SessionID, domain.Variant, string, domain.SinkID) {}
