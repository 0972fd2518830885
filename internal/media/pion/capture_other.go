//go:build !linux || !cgo

package pion

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// newPeerConnection builds a receive-only peer connection. Camera and mic
// capture via pion/mediadevices needs platform drivers we only ship for
// Linux endpoints.
func newPeerConnection(cfg Config, log *zap.Logger) (*webrtc.PeerConnection, *localMedia, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(iceConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(pc, log)
	log.Info("media session ready, receive-only on this platform")
	return pc, nil, nil
}
