// Package signaling owns the WebRTC offer/answer exchange and trickle ICE for
// every live peer connection, keyed by pc_id.
//
// A new connection moves new → negotiating → connected; any failure closes
// it. Once a new connection is established the handler emits exactly one
// Established event on Events(); renegotiations of the same pc_id do not.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/metrics"
	"github.com/RenatoCabral2022/voice-agent/internal/model"
)

const (
	defaultNegotiationTimeout = 15 * time.Second
	defaultICEGatherTimeout   = 10 * time.Second
	defaultEventBuffer        = 64
)

// Offer kinds, used as metric labels.
const (
	kindNew         = "new"
	kindRenegotiate = "renegotiate"
	kindRestart     = "restart"
)

// Established announces a newly negotiated connection to the pipeline.
type Established struct {
	Conn        *Connection
	RequestData json.RawMessage
}

// Config wires the handler's dependencies.
type Config struct {
	NewPeer NewPeerFunc
	Logger  *zap.Logger

	// NegotiationTimeout bounds one offer/answer exchange.
	NegotiationTimeout time.Duration
	// ICEGatherTimeout bounds server-side candidate gathering; after it the
	// answer carries whatever candidates were gathered.
	ICEGatherTimeout time.Duration
	EventBuffer      int
}

// Handler owns the set of live connections.
type Handler struct {
	newPeer            NewPeerFunc
	logger             *zap.Logger
	negotiationTimeout time.Duration
	gatherTimeout      time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan Established
	pending sync.WaitGroup

	mu        sync.RWMutex
	conns     map[string]*Connection
	closed    bool
	closeOnce sync.Once
}

// New creates a Handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = defaultNegotiationTimeout
	}
	if cfg.ICEGatherTimeout <= 0 {
		cfg.ICEGatherTimeout = defaultICEGatherTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		newPeer:            cfg.NewPeer,
		logger:             cfg.Logger,
		negotiationTimeout: cfg.NegotiationTimeout,
		gatherTimeout:      cfg.ICEGatherTimeout,
		ctx:                ctx,
		cancel:             cancel,
		events:             make(chan Established, cfg.EventBuffer),
		conns:              make(map[string]*Connection),
	}
}

// Events delivers one Established per new connection. The channel is closed
// by Close.
func (h *Handler) Events() <-chan Established {
	return h.events
}

// ConnectionCount returns the number of live connections, including those
// still negotiating.
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// HandleOffer negotiates a new connection, or renegotiates the one named by
// req.PCID, and returns the SDP answer.
func (h *Handler) HandleOffer(ctx context.Context, req model.OfferRequest) (*model.Answer, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}

	ctx, cancel := h.negotiationContext(ctx)
	defer cancel()

	kind := kindNew
	if req.PCID != "" {
		kind = kindRenegotiate
		if req.RestartPC {
			kind = kindRestart
		}
	}

	start := time.Now()
	var (
		conn  *Connection
		local webrtc.SessionDescription
		err   error
	)
	if kind == kindNew {
		conn, local, err = h.offerNew(ctx, offer)
	} else {
		conn, local, err = h.offerExisting(ctx, req.PCID, offer, req.RestartPC)
	}
	if err == nil && kind == kindNew {
		err = h.deliver(Established{Conn: conn, RequestData: req.RequestData})
		if err != nil {
			h.drop(conn, "handler closed before delivery")
		}
	}
	err = h.classify(err)

	metrics.NegotiationLatency.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.OffersTotal.WithLabelValues(kind, outcome(err)).Inc()
		fields := []zap.Field{zap.String("kind", kind), zap.String("pc_id", req.PCID), zap.Error(err)}
		if errors.Is(err, ErrCanceled) {
			h.logger.Debug("offer abandoned by caller", fields...)
		} else {
			h.logger.Warn("offer failed", fields...)
		}
		return nil, err
	}
	metrics.OffersTotal.WithLabelValues(kind, "success").Inc()
	conn.logger.Info("answer created", zap.String("kind", kind), zap.Duration("took", time.Since(start)))

	return &model.Answer{
		SDP:  local.SDP,
		Type: local.Type.String(),
		PCID: conn.ID(),
	}, nil
}

func (h *Handler) offerNew(ctx context.Context, offer webrtc.SessionDescription) (*Connection, webrtc.SessionDescription, error) {
	peer, err := h.createPeer()
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	conn := newConnection(uuid.NewString(), peer, h.logger)
	if err := h.track(conn); err != nil {
		_ = peer.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	h.watch(conn, peer)

	conn.exchange.Lock()
	local, err := conn.negotiate(ctx, offer, h.gatherTimeout)
	conn.exchange.Unlock()
	if err != nil {
		h.drop(conn, "negotiation failed")
		return nil, webrtc.SessionDescription{}, err
	}
	return conn, local, nil
}

func (h *Handler) offerExisting(ctx context.Context, pcID string, offer webrtc.SessionDescription, restart bool) (*Connection, webrtc.SessionDescription, error) {
	conn, err := h.lookup(pcID)
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}

	conn.exchange.Lock()
	defer conn.exchange.Unlock()

	if restart {
		peer, err := h.createPeer()
		if err != nil {
			h.drop(conn, "restart failed")
			return nil, webrtc.SessionDescription{}, err
		}
		old, ok := conn.swapPeer(peer)
		if !ok {
			_ = peer.Close()
			return nil, webrtc.SessionDescription{}, ErrNotFound
		}
		h.watch(conn, peer)
		if old != nil {
			_ = old.Close()
		}
		conn.logger.Info("peer connection restarted")
	}

	local, err := conn.negotiate(ctx, offer, h.gatherTimeout)
	if err != nil {
		h.drop(conn, "renegotiation failed")
		return nil, webrtc.SessionDescription{}, err
	}
	return conn, local, nil
}

// HandlePatch applies trickled candidates, in order, to the connection named
// by req.PCID.
func (h *Handler) HandlePatch(ctx context.Context, req model.PatchRequest) error {
	if err := req.Validate(); err != nil {
		metrics.PatchesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	conn, err := h.lookup(req.PCID)
	if err != nil {
		metrics.PatchesTotal.WithLabelValues("not_found").Inc()
		return err
	}

	conn.exchange.Lock()
	defer conn.exchange.Unlock()

	if conn.State() == StateClosed {
		metrics.PatchesTotal.WithLabelValues("not_found").Inc()
		return ErrNotFound
	}

	peer := conn.Peer()
	for i, c := range req.Candidates {
		if err := ctx.Err(); err != nil {
			metrics.PatchesTotal.WithLabelValues("error").Inc()
			return err
		}
		if err := peer.AddICECandidate(c.ToPion()); err != nil {
			metrics.PatchesTotal.WithLabelValues("invalid").Inc()
			return fmt.Errorf("%w: candidates[%d]: %v", ErrInvalidRequest, i, err)
		}
		metrics.CandidatesAppliedTotal.Inc()
	}

	metrics.PatchesTotal.WithLabelValues("success").Inc()
	conn.logger.Debug("candidates applied", zap.Int("count", len(req.Candidates)))
	return nil
}

// Close tears down every connection and fails in-flight negotiations.
// It is idempotent.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		conns := make([]*Connection, 0, len(h.conns))
		for _, c := range h.conns {
			conns = append(conns, c)
		}
		h.conns = make(map[string]*Connection)
		h.mu.Unlock()

		h.cancel()
		for _, c := range conns {
			if err := c.close(); err != nil {
				c.logger.Warn("close peer connection", zap.Error(err))
			}
		}
		h.pending.Wait()
		close(h.events)
		metrics.ActiveConnections.Set(0)

		h.logger.Info("signaling handler closed", zap.Int("connections", len(conns)))
	})
	return nil
}

func (h *Handler) createPeer() (Peer, error) {
	if h.newPeer == nil {
		return nil, errors.New("no peer factory configured")
	}
	peer, err := h.newPeer()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return peer, nil
}

// watch closes conn when the engine reports its current peer as failed or
// closed. Reports from a peer that has since been replaced are ignored.
func (h *Handler) watch(conn *Connection, peer Peer) {
	peer.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		conn.logger.Info("peer connection state", zap.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if conn.Peer() == peer {
				h.drop(conn, "peer "+s.String())
			}
		}
	})
}

func (h *Handler) track(conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.conns[conn.id] = conn
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	return nil
}

func (h *Handler) lookup(pcID string) (*Connection, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	conn, ok := h.conns[pcID]
	if !ok || conn.State() == StateClosed {
		return nil, ErrNotFound
	}
	return conn, nil
}

// drop removes conn from the registry and closes it.
func (h *Handler) drop(conn *Connection, reason string) {
	h.mu.Lock()
	removed := false
	if cur, ok := h.conns[conn.id]; ok && cur == conn {
		delete(h.conns, conn.id)
		removed = true
		metrics.ActiveConnections.Set(float64(len(h.conns)))
	}
	h.mu.Unlock()

	if err := conn.close(); err != nil {
		conn.logger.Warn("close peer connection", zap.Error(err))
	}
	if removed {
		conn.logger.Info("connection closed", zap.String("reason", reason))
	}
}

// deliver hands ev to the events channel without blocking the caller.
func (h *Handler) deliver(ev Established) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	h.pending.Add(1)
	h.mu.RUnlock()

	go func() {
		defer h.pending.Done()
		select {
		case h.events <- ev:
		case <-h.ctx.Done():
			ev.Conn.logger.Warn("established event dropped on shutdown")
		}
	}()
	return nil
}

// negotiationContext bounds ctx by the negotiation timeout and by Close.
func (h *Handler) negotiationContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, h.negotiationTimeout)
	stop := context.AfterFunc(h.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h *Handler) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// classify separates handler shutdown from per-connection failures. Once the
// handler is closed, a closed connection or a canceled context is ErrClosed.
func (h *Handler) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClosed):
		return err
	case h.isClosed() && (errors.Is(err, ErrConnectionClosed) || errors.Is(err, context.Canceled)):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrNegotiationTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrNegotiationTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionClosed):
		return "peer_closed"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	}
	return "error"
}

// CloseConnection closes and forgets the connection named by pcID.
func (h *Handler) CloseConnection(pcID string) error {
	conn, err := h.lookup(pcID)
	if err != nil {
		return err
	}
	h.drop(conn, "closed by client")
	return nil
}
