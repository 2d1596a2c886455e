package signaling

import "github.com/pion/webrtc/v4"

// Peer is the part of a media-engine peer connection the handler drives.
// *rtc.Peer implements it on top of pion.
type Peer interface {
	SetRemoteDescription(webrtc.SessionDescription) error
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// GatheringComplete must be obtained before SetLocalDescription; it is
	// closed once local candidate gathering finishes.
	GatheringComplete() <-chan struct{}
	Close() error
}

// NewPeerFunc creates a fresh peer for a new or restarted connection.
type NewPeerFunc func() (Peer, error)
