// Package proxy translates session-scoped requests
// (/sessions/{id}/...) into signaling calls.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/model"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

// OfferPath is the signaling endpoint suffix recognised under a session.
const OfferPath = "api/offer"

// ErrInvalidRequest marks a proxied body that cannot be translated.
var ErrInvalidRequest = fmt.Errorf("proxy: %w", signaling.ErrInvalidRequest)

// Sessions looks up the body stored for a session id.
type Sessions interface {
	Get(id string) (json.RawMessage, error)
}

// Signaler is the signaling surface the proxy delegates to.
type Signaler interface {
	HandleOffer(ctx context.Context, req model.OfferRequest) (*model.Answer, error)
	HandlePatch(ctx context.Context, req model.PatchRequest) error
}

type Proxy struct {
	sessions  Sessions
	signaling Signaler
	logger    *zap.Logger
}

func New(sessions Sessions, signaler Signaler, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{sessions: sessions, signaling: signaler, logger: logger}
}

// Handle serves one session-scoped request. An unknown session yields the
// store's not-found error. Subpaths and methods other than POST/PATCH on
// api/offer succeed with a nil result and no effect.
func (p *Proxy) Handle(ctx context.Context, sessionID, subpath, method string, body []byte) (any, error) {
	stored, err := p.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(subpath, OfferPath) {
		return nil, nil
	}

	logger := p.logger.With(zap.String("session", sessionID), zap.String("method", method))

	switch method {
	case http.MethodPost:
		req, err := decodeOffer(body)
		if err != nil {
			logger.Warn("invalid proxied offer", zap.Error(err))
			return nil, err
		}
		if model.IsEmptyJSON(req.RequestData) {
			req.RequestData = stored
		}
		return p.signaling.HandleOffer(ctx, req)

	case http.MethodPatch:
		req, err := decodePatch(body)
		if err != nil {
			logger.Warn("invalid proxied patch", zap.Error(err))
			return nil, err
		}
		if err := p.signaling.HandlePatch(ctx, req); err != nil {
			return nil, err
		}
		return model.StatusResponse{Status: "success"}, nil
	}

	return nil, nil
}

func decodeOffer(body []byte) (model.OfferRequest, error) {
	var req model.OfferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: decode offer: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

func decodePatch(body []byte) (model.PatchRequest, error) {
	var req model.PatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: decode patch: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}
