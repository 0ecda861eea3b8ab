// Package testutil provides in-memory fakes of the transport interfaces
// for viewer tests.
package testutil

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Viewer/internal/core"
)

// FakeConnection is a scriptable core.MediaConnection.
type FakeConnection struct {
	mu sync.Mutex

	transceivers []*FakeTransceiver
	senders      []*FakeSender
	channels     []*FakeDataChannel

	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	gathering  webrtc.ICEGatheringState
	listeners  map[int]func(webrtc.ICEGatheringState)
	nextListen int

	onTrack       func(core.InboundTrack)
	onDataChannel func(core.DataChannel)

	closed     bool
	closeCalls int
	closedCh   chan struct{}

	// Errors injected into the matching calls.
	AddTransceiverErr error
	CreateOfferErr    error
	SetLocalErr       error
	SetRemoteErr      error
	CreateChannelErr  error

	// OfferSDP is returned from CreateOffer.
	OfferSDP string
	// GatheringOnSetLocal, when set, becomes the gathering state right after
	// SetLocalDescription without notifying listeners.
	GatheringOnSetLocal webrtc.ICEGatheringState
}

func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		listeners: make(map[int]func(webrtc.ICEGatheringState)),
		gathering: webrtc.ICEGatheringStateNew,
		OfferSDP:  "v=0\r\n",
		closedCh:  make(chan struct{}),
	}
}

func (f *FakeConnection) AddTransceiver(kind webrtc.RTPCodecType, direction webrtc.RTPTransceiverDirection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddTransceiverErr != nil {
		return f.AddTransceiverErr
	}
	t := &FakeTransceiver{kind: kind, direction: direction}
	t.mid = string(rune('0' + len(f.transceivers)))
	f.transceivers = append(f.transceivers, t)
	return nil
}

func (f *FakeConnection) Transceivers() []core.Transceiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Transceiver, 0, len(f.transceivers))
	for _, t := range f.transceivers {
		out = append(out, t)
	}
	return out
}

// FakeTransceivers returns the concrete fakes for assertions.
func (f *FakeConnection) FakeTransceivers() []*FakeTransceiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeTransceiver(nil), f.transceivers...)
}

// AddSender attaches an outbound sender for teardown tests.
func (f *FakeConnection) AddSender() *FakeSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &FakeSender{}
	f.senders = append(f.senders, s)
	return s
}

func (f *FakeConnection) Senders() []core.Sender {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Sender, 0, len(f.senders))
	for _, s := range f.senders {
		out = append(out, s)
	}
	return out
}

func (f *FakeConnection) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateOfferErr != nil {
		return webrtc.SessionDescription{}, f.CreateOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.OfferSDP}, nil
}

func (f *FakeConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetLocalErr != nil {
		return f.SetLocalErr
	}
	f.local = &d
	if f.GatheringOnSetLocal != webrtc.ICEGatheringStateUnknown {
		f.gathering = f.GatheringOnSetLocal
	}
	return nil
}

func (f *FakeConnection) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *FakeConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetRemoteErr != nil {
		return f.SetRemoteErr
	}
	f.remote = &d
	return nil
}

func (f *FakeConnection) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *FakeConnection) ICEGatheringState() webrtc.ICEGatheringState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gathering
}

func (f *FakeConnection) AddGatheringListener(fn func(webrtc.ICEGatheringState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextListen
	f.nextListen++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Listeners reports how many gathering listeners are registered.
func (f *FakeConnection) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// SetGathering changes the gathering state and notifies listeners.
func (f *FakeConnection) SetGathering(s webrtc.ICEGatheringState) {
	f.mu.Lock()
	f.gathering = s
	fns := make([]func(webrtc.ICEGatheringState), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *FakeConnection) CreateDataChannel(label string) (core.DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateChannelErr != nil {
		return nil, f.CreateChannelErr
	}
	dc := NewFakeDataChannel(label)
	f.channels = append(f.channels, dc)
	return dc, nil
}

// Channels returns the locally created channels.
func (f *FakeConnection) Channels() []*FakeDataChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeDataChannel(nil), f.channels...)
}

func (f *FakeConnection) OnDataChannel(fn func(core.DataChannel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDataChannel = fn
}

// RemoteChannel simulates the remote side opening a channel.
func (f *FakeConnection) RemoteChannel(dc *FakeDataChannel) {
	f.mu.Lock()
	fn := f.onDataChannel
	f.mu.Unlock()
	if fn != nil {
		fn(dc)
	}
}

func (f *FakeConnection) OnTrack(fn func(core.InboundTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

// FireTrack simulates an inbound track event.
func (f *FakeConnection) FireTrack(in core.InboundTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(in)
	}
}

func (f *FakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

// Closed is closed once Close has been called.
func (f *FakeConnection) Closed() <-chan struct{} { return f.closedCh }

func (f *FakeConnection) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type FakeTransceiver struct {
	mu        sync.Mutex
	mid       string
	kind      webrtc.RTPCodecType
	direction webrtc.RTPTransceiverDirection
	stops     int
}

func (t *FakeTransceiver) Mid() string { return t.mid }
func (t *FakeTransceiver) Kind() webrtc.RTPCodecType { return t.kind }
func (t *FakeTransceiver) Direction() webrtc.RTPTransceiverDirection { return t.direction }

func (t *FakeTransceiver) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *FakeTransceiver) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type FakeSender struct {
	mu    sync.Mutex
	stops int
}

func (s *FakeSender) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *FakeSender) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

var ErrChannelNotOpen = errors.New("data channel not open")

// FakeDataChannel records sent messages and lets tests drive open, close
// and inbound messages.
type FakeDataChannel struct {
	label string

	mu        sync.Mutex
	open      bool
	sent      []string
	binary    [][]byte
	sentCh    chan string
	onOpen    func()
	onClose   func()
	onMessage func([]byte, bool)
	closes    int
}

func NewFakeDataChannel(label string) *FakeDataChannel {
	return &FakeDataChannel{label: label, sentCh: make(chan string, 64)}
}

func (d *FakeDataChannel) Label() string { return d.label }

func (d *FakeDataChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *FakeDataChannel) SendText(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrChannelNotOpen
	}
	d.sent = append(d.sent, s)
	select {
	case d.sentCh <- s:
	default:
	}
	return nil
}

func (d *FakeDataChannel) Send(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrChannelNotOpen
	}
	d.binary = append(d.binary, append([]byte(nil), b...))
	return nil
}

func (d *FakeDataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *FakeDataChannel) OnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = fn
}

func (d *FakeDataChannel) OnMessage(fn func([]byte, bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

func (d *FakeDataChannel) Close() error {
	d.mu.Lock()
	d.closes++
	wasOpen := d.open
	d.open = false
	fn := d.onClose
	d.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
	return nil
}

// Open marks the channel open and fires the open callback.
func (d *FakeDataChannel) Open() {
	d.mu.Lock()
	d.open = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetOpen marks the channel open without firing callbacks.
func (d *FakeDataChannel) SetOpen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
}

// Deliver simulates an inbound text message.
func (d *FakeDataChannel) Deliver(msg string) {
	d.deliver([]byte(msg), true)
}

// DeliverBinary simulates an inbound binary message.
func (d *FakeDataChannel) DeliverBinary(b []byte) {
	d.deliver(b, false)
}

func (d *FakeDataChannel) deliver(b []byte, isString bool) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(b, isString)
	}
}

func (d *FakeDataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// SentBinary returns the binary messages sent so far.
func (d *FakeDataChannel) SentBinary() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.binary...)
}

// SentCh delivers every successfully sent text message.
func (d *FakeDataChannel) SentCh() <-chan string { return d.sentCh }

func (d *FakeDataChannel) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// FakeTrack is a core.RemoteTrack fed from a packet channel. Closing it
// ends the reader with io.EOF.
type FakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	codec   webrtc.RTPCodecParameters
	packets chan *rtp.Packet
	once    sync.Once
}

func NewFakeTrack(id string, kind webrtc.RTPCodecType, mimeType string) *FakeTrack {
	return &FakeTrack{
		id:   id,
		kind: kind,
		codec: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: mimeType, ClockRate: 90000},
			PayloadType:        96,
		},
		packets: make(chan *rtp.Packet, 16),
	}
}

// WithCodec overrides the negotiated codec.
func (t *FakeTrack) WithCodec(c webrtc.RTPCodecParameters) *FakeTrack {
	t.codec = c
	return t
}

func (t *FakeTrack) ID() string { return t.id }
func (t *FakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *FakeTrack) Codec() webrtc.RTPCodecParameters { return t.codec }

func (t *FakeTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

// Push queues a packet for the reader.
func (t *FakeTrack) Push(pkt *rtp.Packet) { t.packets <- pkt }

func (t *FakeTrack) End() {
	t.once.Do(func() { close(t.packets) })
}
