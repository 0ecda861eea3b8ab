// Package rtc adapts pion peer connections to the viewer's media
// interfaces.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// Factory builds peer connections from one shared pion API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: cfg}, nil
}

func (f *Factory) NewConnection(sid domain.SessionID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, sid), nil
}

// Connection is a core.MediaConnection over a pion peer connection.
type Connection struct {
	pc     *webrtc.PeerConnection
	sid    domain.SessionID
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[int]func(webrtc.ICEGatheringState)
	nextID    int
}

func newConnection(pc *webrtc.PeerConnection, sid domain.SessionID) *Connection {
	c := &Connection{
		pc:        pc,
		sid:       sid,
		listeners: make(map[int]func(webrtc.ICEGatheringState)),
		logger:    log.With().Str("module", "webrtc").Str("sid", string(sid)).Logger(),
	}

	pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		c.logger.Info().Str("gathering_state", s.String()).Msg("ICE gathering state")
		c.notifyGathering(s)
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		c.logger.Info().Str("signaling_state", s.String()).Msg("Signaling state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	return c
}

func (c *Connection) notifyGathering(s webrtc.ICEGatheringState) {
	c.mu.Lock()
	fns := make([]func(webrtc.ICEGatheringState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Connection) AddGatheringListener(fn func(webrtc.ICEGatheringState)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Connection) ICEGatheringState() webrtc.ICEGatheringState {
	return c.pc.ICEGatheringState()
}

func (c *Connection) AddTransceiver(kind webrtc.RTPCodecType, direction webrtc.RTPTransceiverDirection) error {
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: direction})
	return err
}

func (c *Connection) Transceivers() []core.Transceiver {
	ts := c.pc.GetTransceivers()
	out := make([]core.Transceiver, 0, len(ts))
	for _, t := range ts {
		out = append(out, transceiver{t})
	}
	return out
}

func (c *Connection) Senders() []core.Sender {
	ss := c.pc.GetSenders()
	out := make([]core.Sender, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) CreateDataChannel(label string) (core.DataChannel, error) {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return dataChannel{dc}, nil
}

func (c *Connection) OnDataChannel(fn func(core.DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.logger.Info().Str("label", dc.Label()).Msg("OnDataChannel received")
		fn(dataChannel{dc})
	})
}

func (c *Connection) OnTrack(fn func(core.InboundTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		mid := c.midOf(receiver)
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("mid", mid).
			Msg("OnTrack received")
		fn(core.InboundTrack{Track: remoteTrack{track}, Mid: mid})
	})
}

// midOf finds the transceiver that owns receiver.
func (c *Connection) midOf(receiver *webrtc.RTPReceiver) string {
	for _, t := range c.pc.GetTransceivers() {
		if t.Receiver() == receiver {
			return t.Mid()
		}
	}
	return ""
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

type transceiver struct{ t *webrtc.RTPTransceiver }

func (t transceiver) Mid() string                               { return t.t.Mid() }
func (t transceiver) Kind() webrtc.RTPCodecType                 { return t.t.Kind() }
func (t transceiver) Direction() webrtc.RTPTransceiverDirection { return t.t.Direction() }
func (t transceiver) Stop() error                               { return t.t.Stop() }

type dataChannel struct{ dc *webrtc.DataChannel }

func (d dataChannel) Label() string { return d.dc.Label() }

func (d dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d dataChannel) SendText(s string) error { return d.dc.SendText(s) }
func (d dataChannel) Send(b []byte) error     { return d.dc.Send(b) }
func (d dataChannel) OnOpen(fn func())        { d.dc.OnOpen(fn) }
func (d dataChannel) OnClose(fn func())       { d.dc.OnClose(fn) }
func (d dataChannel) Close() error            { return d.dc.Close() }

func (d dataChannel) OnMessage(fn func([]byte, bool)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data, msg.IsString) })
}

type remoteTrack struct{ t *webrtc.TrackRemote }

func (r remoteTrack) ID() string                       { return r.t.ID() }
func (r remoteTrack) Kind() webrtc.RTPCodecType        { return r.t.Kind() }
func (r remoteTrack) Codec() webrtc.RTPCodecParameters { return r.t.Codec() }

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}
