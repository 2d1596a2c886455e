// Package pipeline runs a bot for every established connection. Bots are
// detached from the signaling request that created the connection: their
// failures are logged and counted, never reported back to the client.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/metrics"
	"github.com/RenatoCabral2022/voice-agent/internal/model"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

// Bot drives one connection until ctx is cancelled. body is the opaque
// request_data the client supplied; only the bot interprets it.
type Bot interface {
	Run(ctx context.Context, conn *signaling.Connection, body json.RawMessage) error
}

// BotFunc adapts a function to Bot.
type BotFunc func(ctx context.Context, conn *signaling.Connection, body json.RawMessage) error

func (f BotFunc) Run(ctx context.Context, conn *signaling.Connection, body json.RawMessage) error {
	return f(ctx, conn, body)
}

type Runner struct {
	bot    Bot
	logger *zap.Logger

	wg      sync.WaitGroup
	running atomic.Int64
	started atomic.Uint64
	failed  atomic.Uint64
}

func NewRunner(bot Bot, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{bot: bot, logger: logger}
}

// Run starts a bot per event until events is closed or ctx is done, then
// cancels the remaining bots and waits for them to return.
func (r *Runner) Run(ctx context.Context, events <-chan signaling.Established) {
	ctx, cancel := context.WithCancel(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			r.start(ctx, ev)
		}
	}

	cancel()
	r.wg.Wait()
	r.logger.Info("pipeline runner stopped", zap.Uint64("started", r.started.Load()), zap.Uint64("failed", r.failed.Load()))
}

// Stats reports bot counters for /health.
func (r *Runner) Stats() model.BotStatus {
	return model.BotStatus{
		Running: int(r.running.Load()),
		Started: r.started.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *Runner) start(ctx context.Context, ev signaling.Established) {
	logger := r.logger.With(zap.String("pc_id", ev.Conn.ID()))

	r.wg.Add(1)
	r.started.Add(1)
	r.running.Add(1)
	metrics.RunningBots.Inc()

	go func() {
		defer func() {
			r.running.Add(-1)
			metrics.RunningBots.Dec()
			r.wg.Done()
		}()

		botCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-ev.Conn.Done():
				cancel()
			case <-botCtx.Done():
			}
		}()

		logger.Info("bot started")
		if err := r.runBot(botCtx, ev); err != nil && !errors.Is(err, context.Canceled) {
			r.failed.Add(1)
			metrics.BotFailuresTotal.Inc()
			logger.Error("bot failed", zap.Error(err))
			return
		}
		logger.Info("bot finished")
	}()
}

func (r *Runner) runBot(ctx context.Context, ev signaling.Established) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("bot panic: %v", p)
		}
	}()
	return r.bot.Run(ctx, ev.Conn, ev.RequestData)
}
