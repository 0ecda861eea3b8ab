package core

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Viewer/internal/domain"
)

// MediaConnection is the negotiation surface of a peer connection.
// The adapter owns the underlying transport; Close must release it.
type MediaConnection interface {
	// AddTransceiver attaches a new media slot of the given kind and direction.
	AddTransceiver(kind webrtc.RTPCodecType, direction webrtc.RTPTransceiverDirection) error
	Transceivers() []Transceiver
	Senders() []Sender

	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	// LocalDescription returns the current local SDP, nil before SetLocalDescription.
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(webrtc.SessionDescription) error

	ICEGatheringState() webrtc.ICEGatheringState
	// AddGatheringListener registers fn for gathering state changes.
	// The returned func removes it and is safe to call more than once.
	AddGatheringListener(fn func(webrtc.ICEGatheringState)) (remove func())

	// CreateDataChannel opens an ordered, reliable channel.
	CreateDataChannel(label string) (DataChannel, error)
	// OnDataChannel sets a callback for channels opened by the remote side.
	OnDataChannel(func(DataChannel))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(InboundTrack))

	Close() error
}

// Transceiver is a negotiated media slot, identified by its mid once the
// offer/answer exchange is done.
type Transceiver interface {
	Mid() string
	Kind() webrtc.RTPCodecType
	Direction() webrtc.RTPTransceiverDirection
}

// Stopper is implemented by transceivers that can be stopped individually.
type Stopper interface {
	Stop() error
}

// Sender is the outbound half of a transceiver.
type Sender interface {
	Stop() error
}

type DataChannel interface {
	Label() string
	IsOpen() bool
	SendText(string) error
	// Send writes data as a binary message.
	Send(data []byte) error
	OnOpen(func())
	OnClose(func())
	// OnMessage delivers each inbound message; isString is false for
	// binary messages.
	OnMessage(func(data []byte, isString bool))
	Close() error
}

type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, error)
}

// InboundTrack is a remote track together with the mid of the transceiver
// that carried it.
type InboundTrack struct {
	Track RemoteTrack
	Mid   string
}

type ConnectionFactory interface {
	NewConnection(sid domain.SessionID) (MediaConnection, error)
}
