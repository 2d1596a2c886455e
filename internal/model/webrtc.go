package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// OfferRequest is the body of POST /api/offer.
type OfferRequest struct {
	SDP         string          `json:"sdp"`
	Type        string          `json:"type"`
	PCID        string          `json:"pc_id,omitempty"`
	RestartPC   bool            `json:"restart_pc,omitempty"`
	RequestData json.RawMessage `json:"request_data,omitempty"`
}

// Validate checks the fields every offer must carry.
func (r *OfferRequest) Validate() error {
	if strings.TrimSpace(r.SDP) == "" {
		return errors.New("sdp is required")
	}
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.Type != webrtc.SDPTypeOffer.String() {
		return fmt.Errorf("type must be %q, got %q", webrtc.SDPTypeOffer.String(), r.Type)
	}
	return nil
}

// Answer is the response of POST /api/offer.
type Answer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

// PatchRequest is the body of PATCH /api/offer.
type PatchRequest struct {
	PCID       string         `json:"pc_id"`
	Candidates []IceCandidate `json:"candidates"`
}

// Validate checks that the patch names a connection and that every candidate
// entry is well formed.
func (r *PatchRequest) Validate() error {
	if r.PCID == "" {
		return errors.New("pc_id is required")
	}
	for i, c := range r.Candidates {
		if !c.present {
			return fmt.Errorf("candidates[%d]: candidate is required", i)
		}
	}
	return nil
}

// IceCandidate is one trickled candidate. An empty Candidate string signals
// end-of-candidates.
type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	present bool
}

// NewIceCandidate builds a candidate entry in code rather than from JSON.
func NewIceCandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) IceCandidate {
	return IceCandidate{
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
		present:       true,
	}
}

// UnmarshalJSON accepts both the browser spelling (sdpMid, sdpMLineIndex) and
// the snake_case spelling (sdp_mid, sdp_mline_index).
func (c *IceCandidate) UnmarshalJSON(b []byte) error {
	var wire struct {
		Candidate     *string `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		SnakeMid      *string `json:"sdp_mid"`
		SnakeMLine    *uint16 `json:"sdp_mline_index"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	*c = IceCandidate{SDPMid: wire.SDPMid, SDPMLineIndex: wire.SDPMLineIndex}
	if wire.Candidate != nil {
		c.Candidate = *wire.Candidate
		c.present = true
	}
	if c.SDPMid == nil {
		c.SDPMid = wire.SnakeMid
	}
	if c.SDPMLineIndex == nil {
		c.SDPMLineIndex = wire.SnakeMLine
	}
	return nil
}

// ToPion converts the candidate for the media engine.
func (c IceCandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

// StatusResponse is the generic {"status": ...} acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// UnmarshalJSON reads request_data, falling back to requestData when the
// former is empty.
func (r *OfferRequest) UnmarshalJSON(b []byte) error {
	type plain OfferRequest
	var wire struct {
		plain
		RequestDataCamel json.RawMessage `json:"requestData,omitempty"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*r = OfferRequest(wire.plain)
	if IsEmptyJSON(r.RequestData) {
		r.RequestData = nil
		if !IsEmptyJSON(wire.RequestDataCamel) {
			r.RequestData = wire.RequestDataCamel
		}
	}
	return nil
}

// IsEmptyJSON reports whether raw is absent or a falsy JSON value: null,
// false, 0, "", {} or [].
func IsEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "false", `""`:
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case float64:
		return t == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
