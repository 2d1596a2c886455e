package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// State is the lifecycle position of a Connection.
type State string

const (
	StateNew         State = "new"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateClosed      State = "closed"
)

// Connection is one negotiated peer connection, identified by its pc_id.
// It outlives the underlying Peer when the client asks for restart_pc.
type Connection struct {
	id     string
	logger *zap.Logger

	// exchange serializes offer/answer rounds and candidate application so
	// patches for one pc_id apply in arrival order.
	exchange sync.Mutex

	mu        sync.Mutex
	state     State
	peer      Peer
	restarted chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, peer Peer, logger *zap.Logger) *Connection {
	return &Connection{
		id:        id,
		logger:    logger.With(zap.String("pc_id", id)),
		state:     StateNew,
		peer:      peer,
		restarted: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the pc_id.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the current underlying peer.
func (c *Connection) Peer() Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Restarted is closed the next time the underlying peer is replaced.
// Callers re-read it after it fires.
func (c *Connection) Restarted() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarted
}

// setState moves to s unless the connection is already closed.
func (c *Connection) setState(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = s
	return true
}

// swapPeer installs p and returns the previous peer. It refuses once the
// connection is closed.
func (c *Connection) swapPeer(p Peer) (Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, false
	}
	old := c.peer
	c.peer = p
	close(c.restarted)
	c.restarted = make(chan struct{})
	return old, true
}

// close marks the connection closed and closes its current peer. Closing a
// peer twice is harmless, so every call reaches the peer.
func (c *Connection) close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
	})
	p := c.Peer()
	if p == nil {
		return nil
	}
	return p.Close()
}

// negotiate runs one offer/answer round on the current peer. The caller
// holds c.exchange.
func (c *Connection) negotiate(ctx context.Context, offer webrtc.SessionDescription, gatherTimeout time.Duration) (webrtc.SessionDescription, error) {
	if !c.setState(StateNegotiating) {
		return webrtc.SessionDescription{}, ErrNotFound
	}
	p := c.Peer()

	if err := p.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set remote description: %v", ErrInvalidRequest, err)
	}
	answer, err := p.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gatherDone := p.GatheringComplete()
	if err := p.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherDone:
	case <-timer.C:
		c.logger.Warn("ICE gathering timed out, answering with partial candidates",
			zap.Duration("timeout", gatherTimeout))
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	case <-c.done:
		return webrtc.SessionDescription{}, ErrConnectionClosed
	}

	local := p.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, errors.New("missing local description")
	}
	if !c.setState(StateConnected) {
		return webrtc.SessionDescription{}, ErrConnectionClosed
	}
	return *local, nil
}
