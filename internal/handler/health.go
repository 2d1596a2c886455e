package handler

import (
	"net/http"

	"github.com/RenatoCabral2022/voice-agent/internal/model"
)

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:         "ok",
		Pipeline:       model.PipelineStatus{STT: h.pipeline.STT, TTS: h.pipeline.TTS},
		TURNConfigured: h.ice.TURNConfigured(),
		Sessions:       h.sessions.Len(),
		Connections:    h.signaling.ConnectionCount(),
	}
	if h.bots != nil {
		resp.Bots = h.bots.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
