package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const remoteTrackBuffer = 4

// Peer wraps a pion PeerConnection with one outbound Opus track and a feed
// of inbound tracks for the bot.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger
	track  *webrtc.TrackLocalStaticSample

	remote        chan *webrtc.TrackRemote
	connected     chan struct{}
	connectedOnce sync.Once

	mu      sync.Mutex
	onState func(webrtc.PeerConnectionState)
}

// NewPeer creates a peer connection on api using the given ICE servers.
func NewPeer(api *webrtc.API, servers []webrtc.ICEServer, logger *zap.Logger) (*Peer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio-out",
		"voice-agent",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	p := &Peer{
		pc:        pc,
		logger:    logger,
		track:     track,
		remote:    make(chan *webrtc.TrackRemote, remoteTrackBuffer),
		connected: make(chan struct{}),
	}

	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("inbound track",
			zap.String("codec", remote.Codec().MimeType),
			zap.Uint8("pt", uint8(remote.PayloadType())),
		)
		select {
		case p.remote <- remote:
		default:
			logger.Warn("inbound track dropped, no reader")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			p.connectedOnce.Do(func() { close(p.connected) })
		}
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	return p, nil
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *Peer) CreateAnswer(opts *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(opts)
}

func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// OnConnectionStateChange replaces the state callback.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *Peer) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.pc)
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

// AudioOut is the outbound Opus track (server → browser).
func (p *Peer) AudioOut() *webrtc.TrackLocalStaticSample { return p.track }

// RemoteAudio yields inbound tracks as the browser adds them.
func (p *Peer) RemoteAudio() <-chan *webrtc.TrackRemote { return p.remote }

// Connected is closed once the peer first reaches the connected state.
func (p *Peer) Connected() <-chan struct{} { return p.connected }
