package pion

import (
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

func iceConfig(cfg Config) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: cfg.STUNURLs},
		},
	}
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer and CreateAnswer always produce valid m-lines with ICE
// credentials even without local capture.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, log *zap.Logger) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			log.Warn("failed to add recvonly transceiver",
				zap.String("kind", kind.String()),
				zap.Error(err))
		}
	}
}
