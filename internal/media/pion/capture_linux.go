//go:build linux && cgo

package pion

import (
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// newPeerConnection builds a peer connection with VP8+Opus local capture via
// pion/mediadevices (V4L2 and malgo). Capture is attempted video+audio first,
// then video-only, then audio-only; a busy microphone must not take the
// camera down with it. When every attempt fails the session falls back to
// receive-only so the call can still carry remote media.
func newPeerConnection(cfg Config, log *zap.Logger) (*webrtc.PeerConnection, *localMedia, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

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

	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras emit malformed frames that
				// poison the VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn("media capture attempt failed",
				zap.String("attempt", a.label),
				zap.Error(err))
			continue
		}

		tracks := stream.GetTracks()
		local := &localMedia{
			closeFn: func() {
				for _, t := range tracks {
					t.Close()
				}
			},
		}

		ok := true
		for _, track := range tracks {
			sender, err := pc.AddTrack(track)
			if err != nil {
				log.Warn("failed to add local track", zap.Error(err))
				ok = false
				break
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				local.audioTrack = track
				local.audioSender = sender
			case webrtc.RTPCodecTypeVideo:
				local.videoTrack = track
				local.videoSender = sender
			}
		}
		if !ok {
			local.closeFn()
			continue
		}

		log.Info("local media captured",
			zap.String("attempt", a.label),
			zap.Int("tracks", len(tracks)))
		return pc, local, nil
	}

	log.Warn("all media capture attempts failed, proceeding receive-only")
	addRecvOnlyTransceivers(pc, log)
	return pc, nil, nil
}
