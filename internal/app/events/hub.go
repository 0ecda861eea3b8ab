// Package events keeps the latest viewer state and fans every change out
// to status subscribers.
package events

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

// Hub is a threadsafe in-memory event fanout. It implements core.Observer
// and core.PhotoObserver and never closes a subscriber it did not kick.
type Hub struct {
	policy Policy

	mu       sync.RWMutex
	subs     map[string]core.Subscriber
	sessions map[domain.SessionID]*SessionView
	photos   map[domain.PhotoKind]string
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		policy:   policy,
		subs:     make(map[string]core.Subscriber),
		sessions: make(map[domain.SessionID]*SessionView),
		photos:   make(map[domain.PhotoKind]string),
	}
}

func (h *Hub) Subscribe(sub core.Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	n := len(h.subs)
	h.mu.Unlock()
	log.Info().Str("module", "events").Str("subscriber", sub.ID()).Int("subscribers", n).Msg("subscriber added")
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		log.Info().Str("module", "events").Str("subscriber", id).Msg("subscriber removed")
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast sends f to every subscriber without blocking and applies the
// backpressure policy to those that could not take it.
func (h *Hub) Broadcast(f core.Frame) core.PublishResult {
	h.mu.RLock()
	res := core.PublishResult{}
	for _, sub := range h.subs {
		if err := sub.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, sub)
			continue
		}
		res.SendTo++
	}
	h.mu.RUnlock()

	for _, sub := range res.Dropped {
		action := h.policy.OnBackPressure(sub)
		if action == KickSubscriber {
			h.Unsubscribe(sub.ID())
			sub.Close()
		}
		log.Debug().Str("module", "events").Str("subscriber", sub.ID()).Str("action", action.String()).Msg("backpressure")
	}
	return res
}

func (h *Hub) publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Str("type", ev.Type).Msg("event marshal")
		return
	}
	h.Broadcast(b)
}

// SnapshotFrame encodes the current snapshot as a stream frame, for new
// subscribers.
func (h *Hub) SnapshotFrame() (core.Frame, error) {
	snap := h.Snapshot()
	return json.Marshal(Event{Type: TypeSnapshot, Snapshot: &snap})
}

// Snapshot returns a copy of the latest state, sessions in variant order.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := Snapshot{
		Sessions: make([]SessionView, 0, len(h.sessions)),
		Photos:   make(map[domain.PhotoKind]string, len(h.photos)),
	}
	for _, v := range h.sessions {
		cp := *v
		cp.Tracks = make(map[string]domain.SinkID, len(v.Tracks))
		for mid, sink := range v.Tracks {
			cp.Tracks[mid] = sink
		}
		snap.Sessions = append(snap.Sessions, cp)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].Variant < snap.Sessions[j].Variant
	})
	for k, url := range h.photos {
		snap.Photos[k] = url
	}
	return snap
}

// view returns the session's view, creating it when needed. Callers hold mu.
func (h *Hub) view(sid domain.SessionID) *SessionView {
	v, ok := h.sessions[sid]
	if !ok {
		v = &SessionView{ID: sid, Tracks: make(map[string]domain.SinkID)}
		h.sessions[sid] = v
	}
	return v
}

func (h *Hub) OnStateChange(sid domain.SessionID, variant domain.Variant, state domain.SessionState, err error) {
	ev := Event{Type: TypeState, SessionID: sid, Variant: variant, State: &state}
	if err != nil {
		ev.Error = err.Error()
	}

	h.mu.Lock()
	if state == domain.StateDisconnected {
		delete(h.sessions, sid)
	} else {
		v := h.view(sid)
		v.Variant = variant
		v.State = state
		v.Error = ev.Error
	}
	h.mu.Unlock()

	h.publish(ev)
}

func (h *Hub) OnRTT(sid domain.SessionID, rttMs int64) {
	h.mu.Lock()
	if v, ok := h.sessions[sid]; ok {
		rtt := rttMs
		v.RTT = &rtt
	}
	h.mu.Unlock()

	h.publish(Event{Type: TypeRTT, SessionID: sid, RTT: &rttMs})
}

func (h *Hub) OnTelemetry(sid domain.SessionID, report domain.TelemetryReport) {
	h.mu.Lock()
	if v, ok := h.sessions[sid]; ok {
		rep := report
		v.Telemetry = &rep
	}
	h.mu.Unlock()

	h.publish(Event{Type: TypeTelemetry, SessionID: sid, Telemetry: &report})
}

func (h *Hub) OnTrackAvailable(sid domain.SessionID, variant domain.Variant, mid string, sink domain.SinkID) {
	h.mu.Lock()
	if v, ok := h.sessions[sid]; ok {
		v.Tracks[mid] = sink
	}
	h.mu.Unlock()

	h.publish(Event{Type: TypeTrack, SessionID: sid, Variant: variant, Mid: mid, Sink: sink})
}

func (h *Hub) OnPhoto(kind domain.PhotoKind, url string) {
	h.mu.Lock()
	h.photos[kind] = url
	h.mu.Unlock()

	h.publish(Event{Type: TypePhoto, PhotoKind: kind, URL: url})
}

// Photos returns the latest photo url of each kind.
func (h *Hub) Photos() map[domain.PhotoKind]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[domain.PhotoKind]string, len(h.photos))
	for k, v := range h.photos {
		out[k] = v
	}
	return out
}
