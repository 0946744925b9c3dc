package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/teslashibe/go-parley/pkg/tts"
)

// DefaultCommand plays encoded audio from stdin without a window.
var DefaultCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error"}

// ExecPlayer pipes audio into an external player process, one process per
// clip. Killing the process stops playback.
type ExecPlayer struct {
	command []string
	logger  *slog.Logger
}

// NewExecPlayer returns a player running command. An empty command means
// DefaultCommand. The command must read audio from stdin ("-" is appended).
func NewExecPlayer(command []string, logger *slog.Logger) *ExecPlayer {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPlayer{
		command: command,
		logger:  logger.With("component", "playback.exec"),
	}
}

// Args returns the full argument list used for clip.
func (p *ExecPlayer) Args(clip *tts.AudioResult) []string {
	args := append([]string(nil), p.command[1:]...)
	if clip.Format.Encoding.IsPCM() {
		args = append(args, "-f", "s16le", "-ar", strconv.Itoa(clip.Format.SampleRate))
	}
	return append(args, "-")
}

// Play starts the player process and streams clip to it.
func (p *ExecPlayer) Play(ctx context.Context, clip *tts.AudioResult) (Track, error) {
	if clip == nil || len(clip.Audio) == 0 {
		return nil, ErrNoAudio
	}
	cmd := exec.CommandContext(ctx, p.command[0], p.Args(clip)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("playback: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("playback: start %s: %w", p.command[0], err)
	}

	var stopped atomic.Bool
	track := newBaseTrack(func() {
		stopped.Store(true)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})

	go func() {
		_, werr := io.Copy(stdin, bytes.NewReader(clip.Audio))
		_ = stdin.Close()
		if werr != nil && !stopped.Load() {
			p.logger.Debug("write to player", "error", werr)
		}
	}()

	go func() {
		err := cmd.Wait()
		if stopped.Load() || ctx.Err() != nil {
			track.finish(nil)
			return
		}
		if err != nil {
			track.finish(fmt.Errorf("playback: %s: %w: %s", p.command[0], err, bytes.TrimSpace(stderr.Bytes())))
			return
		}
		track.finish(nil)
	}()

	p.logger.Debug("playing clip", "bytes", len(clip.Audio), "encoding", clip.Format.Encoding)
	return track, nil
}

var _ Player = (*ExecPlayer)(nil)
