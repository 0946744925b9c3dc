package playback

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/teslashibe/go-parley/pkg/tts"
)

// Broadcaster fans messages out to connected clients.
type Broadcaster interface {
	BroadcastJSON(v any) error
}

// AudioMessage is sent to clients when a clip starts.
type AudioMessage struct {
	Type       string `json:"type"`
	MIME       string `json:"mime"`
	SampleRate int    `json:"sampleRate"`
	DurationMs int64  `json:"durationMs"`
	Audio      string `json:"audio"`
}

// BroadcastPlayer plays clips on remote clients, such as browsers connected
// over websocket. A track ends after the clip's estimated duration.
type BroadcastPlayer struct {
	out    Broadcaster
	logger *slog.Logger
}

// NewBroadcastPlayer returns a player writing to out.
func NewBroadcastPlayer(out Broadcaster, logger *slog.Logger) *BroadcastPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastPlayer{out: out, logger: logger.With("component", "playback.broadcast")}
}

// Play sends clip to every client.
func (p *BroadcastPlayer) Play(ctx context.Context, clip *tts.AudioResult) (Track, error) {
	if clip == nil || len(clip.Audio) == 0 {
		return nil, ErrNoAudio
	}
	err := p.out.BroadcastJSON(AudioMessage{
		Type:       "audio.play",
		MIME:       clip.Format.MIME(),
		SampleRate: clip.Format.SampleRate,
		DurationMs: clip.Duration.Milliseconds(),
		Audio:      base64.StdEncoding.EncodeToString(clip.Audio),
	})
	if err != nil {
		return nil, err
	}

	duration := clip.Duration
	if duration <= 0 {
		duration = tts.EstimateDuration(clip.Format.Encoding, len(clip.Audio))
	}
	timer := time.NewTimer(duration)
	var track *baseTrack
	track = newBaseTrack(func() {
		if timer.Stop() {
			if err := p.out.BroadcastJSON(map[string]string{"type": "audio.stop"}); err != nil {
				p.logger.Debug("broadcast stop", "error", err)
			}
		}
	})
	go func() {
		select {
		case <-timer.C:
			track.finish(nil)
		case <-ctx.Done():
			_ = track.Stop()
		case <-track.Done():
		}
	}()
	return track, nil
}

var _ Player = (*BroadcastPlayer)(nil)
