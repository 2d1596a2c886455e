// Package handler is the HTTP surface: signaling, session bootstrap, the
// session-scoped proxy and health.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/config"
	"github.com/RenatoCabral2022/voice-agent/internal/ice"
	"github.com/RenatoCabral2022/voice-agent/internal/model"
	"github.com/RenatoCabral2022/voice-agent/internal/proxy"
	"github.com/RenatoCabral2022/voice-agent/internal/session"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

const maxBodyBytes = 1 << 20

// statusClientClosedRequest is nginx's non-standard code for a caller that
// disconnected before the response.
const statusClientClosedRequest = 499

// Signaler is the signaling surface the handlers drive.
type Signaler interface {
	HandleOffer(ctx context.Context, req model.OfferRequest) (*model.Answer, error)
	HandlePatch(ctx context.Context, req model.PatchRequest) error
	CloseConnection(pcID string) error
	ConnectionCount() int
}

// Sessions creates, looks up and counts /start sessions.
type Sessions interface {
	Create(body json.RawMessage) (string, error)
	Get(id string) (json.RawMessage, error)
	Len() int
}

// BotStats reports pipeline counters.
type BotStats interface {
	Stats() model.BotStatus
}

// Deps wires the handlers.
type Deps struct {
	Signaling Signaler
	Sessions  Sessions
	Proxy     *proxy.Proxy
	ICE       *ice.Policy
	Pipeline  config.Pipeline
	Bots      BotStats
	Logger    *zap.Logger
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	signaling Signaler
	sessions  Sessions
	proxy     *proxy.Proxy
	ice       *ice.Policy
	pipeline  config.Pipeline
	bots      BotStats
	logger    *zap.Logger
}

func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handlers{
		signaling: d.Signaling,
		sessions:  d.Sessions,
		proxy:     d.Proxy,
		ice:       d.ICE,
		pipeline:  d.Pipeline,
		bots:      d.Bots,
		logger:    d.Logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes and a client-safe
// message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "Invalid session"
	case errors.Is(err, signaling.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, signaling.ErrNotFound):
		return http.StatusNotFound, "peer connection not found"
	case errors.Is(err, signaling.ErrClosed):
		return http.StatusServiceUnavailable, "service shutting down"
	case errors.Is(err, signaling.ErrNegotiationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "negotiation timed out"
	case errors.Is(err, signaling.ErrConnectionClosed):
		return http.StatusInternalServerError, "peer connection closed"
	case errors.Is(err, signaling.ErrCanceled), errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "client closed request"
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	h.log(r, status, err)
	writeError(w, status, msg)
}

func (h *Handlers) log(r *http.Request, status int, err error) {
	fields := []zap.Field{zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err)}
	if status >= 500 {
		h.logger.Error("request failed", fields...)
		return
	}
	h.logger.Warn("request rejected", fields...)
}
