// Package rtc adapts pion/webrtc to the signaling handler's Peer interface.
package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// OpusPayloadType is the dynamic payload type advertised for Opus.
const OpusPayloadType = 111

// NewAPI creates a webrtc.API with Opus registered and a NACK responder so
// the outbound track can retransmit lost packets. pion's own logs go to
// logger.
func NewAPI(logger *zap.Logger) (*webrtc.API, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: OpusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	ir := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	ir.Add(responder)

	se := webrtc.SettingEngine{LoggerFactory: zapLoggerFactory{logger: logger}}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}
