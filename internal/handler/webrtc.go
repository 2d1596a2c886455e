package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/RenatoCabral2022/voice-agent/internal/model"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

// Offer handles POST /api/offer.
func (h *Handlers) Offer(w http.ResponseWriter, r *http.Request) {
	var req model.OfferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: decode offer: %v", signaling.ErrInvalidRequest, err))
		return
	}

	answer, err := h.signaling.HandleOffer(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// Patch handles PATCH /api/offer (trickle ICE).
func (h *Handlers) Patch(w http.ResponseWriter, r *http.Request) {
	var req model.PatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: decode patch: %v", signaling.ErrInvalidRequest, err))
		return
	}

	if err := h.signaling.HandlePatch(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{Status: "success"})
}
