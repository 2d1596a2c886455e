// Package greeter is a diagnostic bot: once the browser connects it plays a
// short tone on the outbound track and then counts the inbound audio it
// receives. It exercises the full media path without any AI provider.
package greeter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/audio"
	"github.com/RenatoCabral2022/voice-agent/internal/metrics"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSamples  = 960 // 20ms at 48kHz
	toneDuration  = 0.6
)

// Encoder encodes one 20ms 48kHz mono frame.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// mediaPeer is implemented by peers that carry real media (*rtc.Peer).
type mediaPeer interface {
	AudioOut() *webrtc.TrackLocalStaticSample
	RemoteAudio() <-chan *webrtc.TrackRemote
	Connected() <-chan struct{}
}

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// Options tune the bot.
type Options struct {
	// Frequency of the greeting tone in Hz.
	Frequency float64 `json:"frequency"`
	// Silent skips the greeting.
	Silent bool `json:"silent"`
}

type Bot struct {
	logger     *zap.Logger
	newEncoder func() (Encoder, error)
}

func New(logger *zap.Logger, newEncoder func() (Encoder, error)) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{logger: logger, newEncoder: newEncoder}
}

// Run attaches to the connection's current peer and re-attaches whenever the
// client restarts it, until ctx is done.
func (b *Bot) Run(ctx context.Context, conn *signaling.Connection, body json.RawMessage) error {
	logger := b.logger.With(zap.String("pc_id", conn.ID()))
	opts := parseOptions(body, logger)

	for {
		restarted := conn.Restarted()
		attachCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		if mp, ok := conn.Peer().(mediaPeer); ok {
			go func() {
				defer close(done)
				b.serve(attachCtx, mp, opts, logger)
			}()
		} else {
			logger.Debug("peer carries no media, idling")
			close(done)
		}

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case <-restarted:
			cancel()
			<-done
			logger.Info("peer restarted, re-attaching")
		}
	}
}

func (b *Bot) serve(ctx context.Context, mp mediaPeer, opts Options, logger *zap.Logger) {
	select {
	case <-mp.Connected():
	case <-ctx.Done():
		return
	}
	logger.Info("peer connected, greeting")

	go b.drain(ctx, mp.RemoteAudio(), logger)

	if !opts.Silent {
		if err := b.greet(ctx, mp.AudioOut(), opts.Frequency); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("greeting failed", zap.Error(err))
		}
	}
	<-ctx.Done()
}

// greet plays the tone on w, pacing frames in real time.
func (b *Bot) greet(ctx context.Context, w sampleWriter, frequency float64) error {
	if b.newEncoder == nil {
		return errors.New("no encoder configured")
	}
	enc, err := b.newEncoder()
	if err != nil {
		return err
	}

	pcm := audio.Upsample16to48(audio.GenerateSineWave(toneDuration, frequency))
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for _, frame := range audio.Frames(pcm, frameSamples) {
		payload, err := enc.Encode(frame)
		if err != nil {
			metrics.EncodeErrorsTotal.Inc()
			continue
		}
		if err := w.WriteSample(media.Sample{Data: payload, Duration: frameDuration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bot) drain(ctx context.Context, tracks <-chan *webrtc.TrackRemote, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case track := <-tracks:
			go readTrack(track, logger)
		}
	}
}

// readTrack counts packets until the track ends, which happens when its
// peer connection closes.
func readTrack(track *webrtc.TrackRemote, logger *zap.Logger) {
	var seq sequenceTracker
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info("inbound audio ended",
				zap.Uint64("packets", seq.packets),
				zap.Uint64("lost", seq.lost),
				zap.Error(err),
			)
			return
		}
		if lost := seq.Observe(pkt); lost > 0 {
			metrics.RTPGapsTotal.Add(float64(lost))
		}
		metrics.RTPPacketsTotal.Inc()
	}
}

// sequenceTracker counts packets lost between consecutive RTP sequence
// numbers, tolerating wraparound and ignoring reordered or duplicate packets.
type sequenceTracker struct {
	started bool
	last    uint16
	packets uint64
	lost    uint64
}

// Observe records pkt and returns how many packets were skipped before it.
func (s *sequenceTracker) Observe(pkt *rtp.Packet) int {
	s.packets++
	seq := pkt.SequenceNumber
	if !s.started {
		s.started = true
		s.last = seq
		return 0
	}
	diff := seq - s.last
	if diff == 0 || diff >= 0x8000 {
		return 0
	}
	s.last = seq
	gap := int(diff) - 1
	s.lost += uint64(gap)
	return gap
}

func parseOptions(body json.RawMessage, logger *zap.Logger) Options {
	opts := Options{Frequency: audio.ToneFrequency}
	if len(body) == 0 {
		return opts
	}
	if err := json.Unmarshal(body, &opts); err != nil {
		logger.Debug("request data is not greeter options", zap.Error(err))
		return Options{Frequency: audio.ToneFrequency}
	}
	if opts.Frequency <= 0 || opts.Frequency > 4000 {
		opts.Frequency = audio.ToneFrequency
	}
	return opts
}
