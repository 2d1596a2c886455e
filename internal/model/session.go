package model

import "encoding/json"

// StartRequest is the request body for POST /start.
type StartRequest struct {
	Body json.RawMessage `json:"body,omitempty"`
}

// StartResponse is the response for POST /start.
type StartResponse struct {
	SessionID string     `json:"sessionId"`
	IceConfig *IceConfig `json:"iceConfig,omitempty"`
}

// IceConfig is the client-facing ICE configuration.
type IceConfig struct {
	IceServers []IceServer `json:"iceServers"`
}

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string         `json:"status"`
	Pipeline       PipelineStatus `json:"pipeline"`
	TURNConfigured bool           `json:"turn_configured"`
	Sessions       int            `json:"sessions"`
	Connections    int            `json:"connections"`
	Bots           BotStatus      `json:"bots"`
}

type PipelineStatus struct {
	STT string `json:"stt"`
	TTS string `json:"tts"`
}

type BotStatus struct {
	Running int    `json:"running"`
	Started uint64 `json:"started"`
	Failed  uint64 `json:"failed"`
}
