package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/model"
)

// Start handles POST /start. A missing or unparsable body registers an
// empty session.
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	var req model.StartRequest
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Debug("start body is not JSON, using empty session", zap.Error(err))
			req = model.StartRequest{}
		}
	}

	id, err := h.sessions.Create(req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cfg := h.ice.Client()
	writeJSON(w, http.StatusOK, model.StartResponse{
		SessionID: id,
		IceConfig: &cfg,
	})
}

// SessionProxy handles ANY /sessions/{sessionID}/*. Errors are plain text.
func (h *Handlers) SessionProxy(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	subpath := chi.URLParam(r, "*")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log(r, http.StatusBadRequest, err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	res, err := h.proxy.Handle(r.Context(), sessionID, subpath, r.Method, body)
	if err != nil {
		status, msg := statusFor(err)
		h.log(r, status, err)
		http.Error(w, msg, status)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
