// Package ice builds the STUN/TURN server list handed both to the local
// media engine and to the browser client.
package ice

import (
	"strings"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/config"
	"github.com/RenatoCabral2022/voice-agent/internal/model"
)

// Server is one ICE server entry.
type Server struct {
	URLs       []string
	Username   string
	Credential string
}

// Policy is the ordered ICE server list. Engine and Client are projections of
// the same slice.
type Policy struct {
	servers []Server
}

// Build assembles the ICE servers: the STUN server first, then TURN and its
// TURNS variant when all three TURN fields are set.
func Build(turn config.TURN, stunURL string, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	stunURL = strings.TrimSpace(stunURL)
	if stunURL == "" {
		stunURL = config.DefaultSTUNURL
	}

	servers := []Server{{URLs: []string{stunURL}}}

	url := strings.TrimSpace(turn.URL)
	username := strings.TrimSpace(turn.Username)
	credential := strings.TrimSpace(turn.Credential)

	set := 0
	for _, v := range []string{url, username, credential} {
		if v != "" {
			set++
		}
	}

	switch set {
	case 3:
		logger.Info("TURN server configured", zap.String("url", url))
		servers = append(servers, Server{URLs: []string{url}, Username: username, Credential: credential})
		if strings.HasPrefix(url, "turn:") {
			servers = append(servers, Server{
				URLs:       []string{strings.Replace(url, "turn:", "turns:", 1)},
				Username:   username,
				Credential: credential,
			})
		}
	case 0:
		logger.Warn("no TURN server configured, WebRTC may fail behind NAT; set TURN_URL, TURN_USERNAME, TURN_CREDENTIAL")
	default:
		logger.Warn("TURN partially configured, ignoring it; set all of TURN_URL, TURN_USERNAME, TURN_CREDENTIAL",
			zap.Bool("url_set", url != ""),
			zap.Bool("username_set", username != ""),
			zap.Bool("credential_set", credential != ""),
		)
	}

	return &Policy{servers: servers}
}

// Servers returns a copy of the ordered server list.
func (p *Policy) Servers() []Server {
	out := make([]Server, len(p.servers))
	for i, s := range p.servers {
		out[i] = Server{
			URLs:       append([]string(nil), s.URLs...),
			Username:   s.Username,
			Credential: s.Credential,
		}
	}
	return out
}

// Engine renders the list for server-side PeerConnections.
func (p *Policy) Engine() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(p.servers))
	for _, s := range p.Servers() {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}

// Client renders the list for the browser.
func (p *Policy) Client() model.IceConfig {
	out := make([]model.IceServer, 0, len(p.servers))
	for _, s := range p.Servers() {
		out = append(out, model.IceServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return model.IceConfig{IceServers: out}
}

// TURNConfigured reports whether any entry carries credentials.
func (p *Policy) TURNConfigured() bool {
	for _, s := range p.servers {
		if s.Username != "" {
			return true
		}
	}
	return false
}
