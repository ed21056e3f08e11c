package media

import (
	"context"
	"time"

	"github.com/google/uuid"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticAcquirer stands in for capture hardware: its audio track carries
// Opus silence and its video track, when requested, carries nothing.
type SyntheticAcquirer struct {
	Logger *zap.Logger
}

func (a *SyntheticAcquirer) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "local-" + uuid.New().String()

	audio, err := NewTrack(KindAudio, "audio-"+uuid.New().String(), streamID)
	if err != nil {
		return nil, &DeviceError{Kind: DeviceOther, Device: "microphone", Err: err}
	}
	tracks := []*Track{audio}
	if c.Video != nil {
		video, err := NewTrack(KindVideo, "video-"+uuid.New().String(), streamID)
		if err != nil {
			return nil, &DeviceError{Kind: DeviceOther, Device: "camera", Err: err}
		}
		tracks = append(tracks, video)
	}

	stream := NewStream(streamID, tracks...)
	stop := make(chan struct{})
	stream.onStop = func() { close(stop) }
	go a.pump(audio, stop)
	return stream, nil
}

func (a *SyntheticAcquirer) pump(t *Track, stop <-chan struct{}) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				if a.Logger != nil {
					a.Logger.Debug("synthetic audio stopped", zap.Error(err))
				}
				return
			}
		}
	}
}
