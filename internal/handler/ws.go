package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/model"
	"github.com/RenatoCabral2022/voice-agent/internal/proxy"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WebSocket message types. An offer message is an OfferRequest body
// ({"type":"offer", ...}); a candidates message is a PatchRequest body with
// "type":"candidates".
const (
	wsTypeOffer      = "offer"
	wsTypeCandidates = "candidates"
	wsTypeAck        = "ack"
	wsTypeError      = "error"
)

type wsEnvelope struct {
	Type string `json:"type"`
}

type wsAck struct {
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

type wsError struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The route checks Origin against ALLOWED_ORIGINS before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket handles GET /ws: the offer/answer and trickle exchange over a
// single socket. With ?session=<id> messages go through the session proxy.
// Peer connections negotiated on the socket are closed when it disconnects.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		if _, err := h.sessions.Get(sessionID); err != nil {
			status, msg := statusFor(err)
			h.log(r, status, err)
			http.Error(w, msg, status)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("remote", r.RemoteAddr), zap.String("session", sessionID))
	logger.Info("websocket signaling opened")

	owned := make(map[string]struct{})
	defer func() {
		for pcID := range owned {
			if err := h.signaling.CloseConnection(pcID); err != nil && !errors.Is(err, signaling.ErrNotFound) {
				logger.Debug("close socket connection", zap.String("pc_id", pcID), zap.Error(err))
			}
		}
		logger.Info("websocket signaling closed", zap.Int("connections", len(owned)))
	}()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	replies := make(chan any, 8)
	writerDone := make(chan struct{})
	go h.wsWriter(ctx, conn, replies, writerDone)
	defer func() {
		cancel()
		<-writerDone
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		var reply any = wsError{Type: wsTypeError, Status: http.StatusBadRequest, Error: "expected text message"}
		if msgType == websocket.TextMessage {
			reply = h.wsDispatch(ctx, sessionID, data, owned)
		}
		select {
		case replies <- reply:
		case <-writerDone:
			return
		}
	}
}

func (h *Handlers) wsDispatch(ctx context.Context, sessionID string, data []byte, owned map[string]struct{}) any {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wsFailure(signaling.ErrInvalidRequest)
	}

	switch env.Type {
	case wsTypeOffer:
		var (
			answer *model.Answer
			err    error
		)
		if sessionID != "" {
			var res any
			res, err = h.proxy.Handle(ctx, sessionID, proxy.OfferPath, http.MethodPost, data)
			answer, _ = res.(*model.Answer)
		} else {
			var req model.OfferRequest
			if err = json.Unmarshal(data, &req); err == nil {
				answer, err = h.signaling.HandleOffer(ctx, req)
			}
		}
		if err != nil {
			h.logger.Warn("websocket offer failed", zap.Error(err))
			return wsFailure(err)
		}
		owned[answer.PCID] = struct{}{}
		return answer

	case wsTypeCandidates:
		var req model.PatchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return wsFailure(signaling.ErrInvalidRequest)
		}
		var err error
		if sessionID != "" {
			_, err = h.proxy.Handle(ctx, sessionID, proxy.OfferPath, http.MethodPatch, data)
		} else {
			err = h.signaling.HandlePatch(ctx, req)
		}
		if err != nil {
			return wsFailure(err)
		}
		return wsAck{Type: wsTypeAck, PCID: req.PCID}
	}

	return wsError{Type: wsTypeError, Status: http.StatusBadRequest, Error: "unknown message type"}
}

func wsFailure(err error) wsError {
	status, msg := statusFor(err)
	return wsError{Type: wsTypeError, Status: status, Error: msg}
}

func (h *Handlers) wsWriter(ctx context.Context, conn *websocket.Conn, replies <-chan any, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case msg := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
