// Package telemetry runs the RTT probe and metric exchange over a
// reliable, ordered data channel.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/app/clock"
	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

const DefaultProbeInterval = time.Second

// Role decides how round-trip messages on a channel are interpreted.
type Role int

const (
	// RoleRequester channels are created locally: they emit probes and
	// treat round-trip messages as echoes of them.
	RoleRequester Role = iota
	// RoleResponder channels are opened by the remote side: round-trip
	// messages are probes and get echoed back verbatim.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "requester"
}

// Publisher is the subset of core.Observer the channel reports to.
type Publisher interface {
	OnRTT(sid domain.SessionID, rttMs int64)
	OnTelemetry(sid domain.SessionID, report domain.TelemetryReport)
}

type Channel struct {
	sid      domain.SessionID
	role     Role
	dc       core.DataChannel
	clock    *clock.Clock
	pub      Publisher
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	stopProbe context.CancelFunc
	closed    bool
}

// New binds the protocol to dc. A requester channel that is already open
// starts probing immediately.
func New(sid domain.SessionID, role Role, dc core.DataChannel, clk *clock.Clock, pub Publisher, interval time.Duration) *Channel {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	c := &Channel{
		sid:      sid,
		role:     role,
		dc:       dc,
		clock:    clk,
		pub:      pub,
		interval: interval,
		logger: log.With().
			Str("module", "telemetry").
			Str("sid", string(sid)).
			Str("label", dc.Label()).
			Str("role", role.String()).
			Logger(),
	}

	dc.OnOpen(c.onOpen)
	dc.OnClose(c.onClose)
	dc.OnMessage(c.HandleMessage)

	if dc.IsOpen() {
		c.onOpen()
	}
	return c
}

func (c *Channel) onOpen() {
	c.logger.Info().Msg("channel open")
	if c.role == RoleRequester {
		c.startProbe()
	}
}

func (c *Channel) onClose() {
	c.logger.Info().Msg("channel close")
	c.cancelProbe()
}

func (c *Channel) startProbe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stopProbe != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopProbe = cancel
	go c.probeLoop(ctx)
}

// cancelProbe is safe to call when no probe loop was ever started.
func (c *Channel) cancelProbe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopProbe != nil {
		c.stopProbe()
		c.stopProbe = nil
	}
}

func (c *Channel) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendProbe()
		}
	}
}

func (c *Channel) sendProbe() {
	b, err := json.Marshal(probeMessage{Type: TypeRTT, Timestamp: c.clock.Now()})
	if err != nil {
		c.logger.Error().Err(err).Msg("probe marshal")
		return
	}
	if !c.dc.IsOpen() {
		return
	}
	if err := c.dc.SendText(string(b)); err != nil {
		c.logger.Warn().Err(err).Msg("probe send")
	}
}

// HandleMessage dispatches one inbound channel message. Bad JSON and unknown
// types are dropped.
func (c *Channel) HandleMessage(data []byte, isString bool) {
	if c.isClosed() {
		return
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn().Err(err).Msg("bad json")
		return
	}

	switch env.Type {
	case TypeRTT, TypeRTTPacket:
		if c.role == RoleResponder {
			c.echo(data, isString)
			return
		}
		c.onEcho(env.Timestamp)
	case TypeTelemetry:
		report, err := ParseReport(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad telemetry payload")
			return
		}
		c.pub.OnTelemetry(c.sid, report)
	default:
		c.logger.Debug().Str("type", env.Type).Msg("unknown message")
	}
}

// echo returns data with the message type it arrived with.
func (c *Channel) echo(data []byte, isString bool) {
	if !c.dc.IsOpen() {
		return
	}
	var err error
	if isString {
		err = c.dc.SendText(string(data))
	} else {
		err = c.dc.Send(data)
	}
	if err != nil {
		c.logger.Warn().Err(err).Bool("text", isString).Msg("echo send")
	}
}

func (c *Channel) onEcho(raw json.RawMessage) {
	ts, ok := parseTimestamp(raw)
	if !ok {
		c.logger.Debug().Str("timestamp", string(raw)).Msg("echo without usable timestamp")
		return
	}
	c.pub.OnRTT(c.sid, c.clock.Now()-ts)
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops probing and closes the underlying channel. Only the first
// call has any effect.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.stopProbe != nil {
		c.stopProbe()
		c.stopProbe = nil
	}
	c.mu.Unlock()

	if err := c.dc.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("channel close error")
	}
}
