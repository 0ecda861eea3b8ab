package core

import "github.com/dkeye/Viewer/internal/domain"

// Frame is an encoded event for status subscribers.
type Frame []byte

// Subscriber is a status stream endpoint.
// Owned by the adapter; the adapter must Close() it.
type Subscriber interface {
	ID() string
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []Subscriber
}

// PhotoObserver is told when the producer publishes a new photo.
type PhotoObserver interface {
	OnPhoto(kind domain.PhotoKind, url string)
}
