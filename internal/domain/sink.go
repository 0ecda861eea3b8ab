package domain

// SinkID names a display target on the viewer page.
type SinkID string

const (
	SinkVideo01 SinkID = "video01"
	SinkVideo02 SinkID = "video02"
	SinkVideo03 SinkID = "video03"
	SinkVideo04 SinkID = "video04"
)

// Sinks lists every display target in page order.
var Sinks = []SinkID{SinkVideo01, SinkVideo02, SinkVideo03, SinkVideo04}

// PhotoKind tells an unprocessed capture from its processed result.
type PhotoKind string

const (
	PhotoOriginal  PhotoKind = "original"
	PhotoProcessed PhotoKind = "processed"
)
