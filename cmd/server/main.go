package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/audio/codec"
	"github.com/RenatoCabral2022/voice-agent/internal/config"
	"github.com/RenatoCabral2022/voice-agent/internal/handler"
	"github.com/RenatoCabral2022/voice-agent/internal/ice"
	"github.com/RenatoCabral2022/voice-agent/internal/pipeline"
	"github.com/RenatoCabral2022/voice-agent/internal/pipeline/greeter"
	"github.com/RenatoCabral2022/voice-agent/internal/proxy"
	"github.com/RenatoCabral2022/voice-agent/internal/rtc"
	"github.com/RenatoCabral2022/voice-agent/internal/session"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

const shutdownTimeout = 5 * time.Second

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if dotenvErr != nil {
		logger.Warn("could not read .env", zap.Error(dotenvErr))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	if missing := cfg.MissingAPIKeys(); len(missing) > 0 {
		logger.Warn("pipeline API keys missing", zap.Strings("keys", missing))
	}
	if cfg.APIToken == "" && len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		logger.Warn("CORS allows any origin and API_TOKEN is unset")
	}

	policy := ice.Build(cfg.TURN, cfg.STUNURL, logger)

	api, err := rtc.NewAPI(logger)
	if err != nil {
		logger.Fatal("failed to create webrtc api", zap.Error(err))
	}

	sig := signaling.New(signaling.Config{
		NewPeer: func() (signaling.Peer, error) {
			return rtc.NewPeer(api, policy.Engine(), logger)
		},
		Logger:             logger,
		NegotiationTimeout: cfg.NegotiationTimeout,
		ICEGatherTimeout:   cfg.ICEGatherTimeout,
	})

	store := session.NewStore(cfg.SessionTTL, logger)

	bot := greeter.New(logger, func() (greeter.Encoder, error) { return codec.NewEncoder() })
	runner := pipeline.NewRunner(bot, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.Run(ctx, time.Minute)
	runnerDone := make(chan struct{})
	go func() {
		runner.Run(ctx, sig.Events())
		close(runnerDone)
	}()

	h := handler.NewHandlers(handler.Deps{
		Signaling: sig,
		Sessions:  store,
		Proxy:     proxy.New(store, sig, logger),
		ICE:       policy,
		Pipeline:  cfg.Pipeline,
		Bots:      runner,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: handler.NewRouter(h, handler.RouterOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			APIToken:       cfg.APIToken,
			ClientDir:      cfg.ClientDir,
			Logger:         logger,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.NegotiationTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("voice-agent listening",
			zap.String("addr", cfg.Addr()),
			zap.String("stt", cfg.Pipeline.STT),
			zap.String("tts", cfg.Pipeline.TTS),
			zap.Int("iceServers", len(policy.Servers())),
			zap.Bool("turn", policy.TURNConfigured()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdown(srv, sig, cancel, runnerDone, shutdownTimeout, logger)
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
