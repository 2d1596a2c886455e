// Package testutil holds test doubles shared by package tests.
package testutil

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

const defaultAnswerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// FakePeer is a scripted stand-in for a media-engine peer connection.
// Zero values answer immediately with a fixed SDP.
type FakePeer struct {
	SetRemoteErr    error
	CreateAnswerErr error
	AddCandidateErr error
	// Gather, when set, is returned by GatheringComplete; leave it open to
	// simulate slow gathering.
	Gather    chan struct{}
	AnswerSDP string

	mu         sync.Mutex
	remote     *webrtc.SessionDescription
	local      *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onState    func(webrtc.PeerConnectionState)
	closed     bool
}

func (f *FakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if f.SetRemoteErr != nil {
		return f.SetRemoteErr
	}
	f.mu.Lock()
	f.remote = &desc
	f.mu.Unlock()
	return nil
}

func (f *FakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if f.CreateAnswerErr != nil {
		return webrtc.SessionDescription{}, f.CreateAnswerErr
	}
	sdp := f.AnswerSDP
	if sdp == "" {
		sdp = defaultAnswerSDP
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}, nil
}

func (f *FakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	f.local = &desc
	f.mu.Unlock()
	return nil
}

func (f *FakePeer) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.local == nil {
		return nil
	}
	d := *f.local
	return &d
}

// RemoteDescription returns the last offer applied.
func (f *FakePeer) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *FakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	if f.AddCandidateErr != nil {
		return f.AddCandidateErr
	}
	f.mu.Lock()
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
	return nil
}

func (f *FakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *FakePeer) GatheringComplete() <-chan struct{} {
	if f.Gather != nil {
		return f.Gather
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (f *FakePeer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (f *FakePeer) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// AppliedCandidates returns the candidates accepted so far, in order.
func (f *FakePeer) AppliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

// SetState fires the registered state callback as the engine would.
func (f *FakePeer) SetState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// PeerFactory hands out FakePeers and remembers them.
type PeerFactory struct {
	// Configure, when set, adjusts each peer before it is returned.
	Configure func(n int, p *FakePeer)
	Err       error

	mu    sync.Mutex
	peers []*FakePeer
}

// New creates the next FakePeer.
func (pf *PeerFactory) New() (*FakePeer, error) {
	if pf.Err != nil {
		return nil, pf.Err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	p := &FakePeer{}
	if pf.Configure != nil {
		pf.Configure(len(pf.peers), p)
	}
	pf.peers = append(pf.peers, p)
	return p, nil
}

// Peers returns every peer created so far.
func (pf *PeerFactory) Peers() []*FakePeer {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return append([]*FakePeer(nil), pf.peers...)
}
