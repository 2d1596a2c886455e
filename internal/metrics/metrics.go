package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_sessions",
		Help: "Number of sessions registered through /start",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_peer_connections",
		Help: "Number of live peer connections",
	})
	RunningBots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_running_bots",
		Help: "Number of bots currently attached to a connection",
	})
)

// Counters
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_sessions_created_total",
		Help: "Total sessions created",
	})
	SessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_sessions_evicted_total",
		Help: "Sessions removed after exceeding the idle TTL",
	})
	OffersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_offers_total",
		Help: "Offers handled by kind (new, renegotiate, restart) and outcome",
	}, []string{"kind", "outcome"})
	CandidatesAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_ice_candidates_applied_total",
		Help: "Trickled ICE candidates applied to a peer connection",
	})
	PatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_patches_total",
		Help: "Trickle ICE patch requests by outcome",
	}, []string{"outcome"})
	BotFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_bot_failures_total",
		Help: "Bots that returned an error or panicked",
	})
	RTPPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_rtp_packets_total",
		Help: "Inbound RTP packets received across all connections",
	})
	RTPGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_rtp_gaps_total",
		Help: "Inbound RTP sequence number gaps detected",
	})
	EncodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_opus_encode_errors_total",
		Help: "Total Opus encode failures",
	})
)

// Histograms
var (
	NegotiationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_agent_negotiation_duration_ms",
		Help:    "Offer/answer exchange duration in milliseconds by kind",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 15000},
	}, []string{"kind"})
)
