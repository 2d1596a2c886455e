package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type closer interface {
	Close() error
}

// shutdown drains HTTP while closing signaling, so offers blocked in
// negotiation fail fast instead of holding the drain for the negotiation
// timeout. Bots are stopped afterwards with their own deadline.
func shutdown(srv *http.Server, sig closer, stopBots context.CancelFunc, botsDone <-chan struct{}, timeout time.Duration, logger *zap.Logger) {
	srv.RegisterOnShutdown(func() {
		if err := sig.Close(); err != nil {
			logger.Warn("signaling close", zap.Error(err))
		}
	})

	httpCtx, httpCancel := context.WithTimeout(context.Background(), timeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sig.Close(); err != nil {
		logger.Warn("signaling close", zap.Error(err))
	}

	stopBots()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-botsDone:
	case <-timer.C:
		logger.Warn("bots did not stop in time")
	}
}
