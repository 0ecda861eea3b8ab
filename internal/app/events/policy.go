package events

import "github.com/dkeye/Viewer/internal/core"

type BackpressureAction int

const (
	KickSubscriber BackpressureAction = iota
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickSubscriber:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "unknown"
}

// Policy decides what happens to a subscriber whose queue is full.
type Policy interface {
	OnBackPressure(sub core.Subscriber) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.Subscriber) BackpressureAction {
	return KickSubscriber
}

// DropPolicy keeps slow subscribers and loses their frames.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.Subscriber) BackpressureAction {
	return DropFrame
}
