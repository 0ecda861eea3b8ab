package tracks

import "github.com/dkeye/Viewer/internal/domain"

// Transceiver mids as negotiated for the two recv-only video slots.
const (
	MidSecondary = "0"
	MidPrimary   = "1"
)

type pair struct {
	primary   domain.SinkID
	secondary domain.SinkID
}

// bindings keeps test and live sinks disjoint so a test session never
// draws over the live display.
var bindings = map[domain.Variant]pair{
	domain.VariantLive: {primary: domain.SinkVideo01, secondary: domain.SinkVideo02},
	domain.VariantTest: {primary: domain.SinkVideo03, secondary: domain.SinkVideo04},
}

// Bind maps a negotiated mid and session variant to its display sink.
func Bind(mid string, variant domain.Variant) (domain.SinkID, bool) {
	p, ok := bindings[variant]
	if !ok {
		return "", false
	}
	switch mid {
	case MidPrimary:
		return p.primary, true
	case MidSecondary:
		return p.secondary, true
	}
	return "", false
}
