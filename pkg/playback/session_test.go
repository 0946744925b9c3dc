package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/tts"
)

type fakePlayer struct {
	mu     sync.Mutex
	err    error
	tracks []*baseTrack
	gate   chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, clip *tts.AudioResult) (Track, error) {
	if p.gate != nil {
		<-p.gate
	}
	if p.err != nil {
		return nil, p.err
	}
	t := newBaseTrack(nil)
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.mu.Unlock()
	return t, nil
}

func (p *fakePlayer) track(i int) *baseTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.tracks) {
		return nil
	}
	return p.tracks[i]
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) PlaybackStarted(id string) { r.add("started:" + id) }
func (r *recorder) PlaybackFinished(id string) { r.add("finished:" + id) }
func (r *recorder) PlaybackStopped(id string) { r.add("stopped:" + id) }
func (r *recorder) PlaybackFailed(id string, err error) { r.add("failed:" + id) }

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func clip() *tts.AudioResult {
	return &tts.AudioResult{Audio: []byte{1, 2, 3, 4}, Format: tts.AudioFormat{Encoding: tts.EncodingPCM24, SampleRate: 24000}}
}

func TestSession_PlayAndFinish(t *testing.T) {
	p := &fakePlayer{}
	rec := &recorder{}
	s := NewSession(p, rec, log.Discard())

	require.NoError(t, s.Play(context.Background(), "a1", clip()))
	require.Eventually(t, func() bool { return s.State() == StatePlaying }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a1", s.Snapshot().SourceTurnID)

	p.track(0).finish(nil)
	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.list()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"started:a1", "finished:a1"}, rec.list())
}

func TestSession_PlaySupersedes(t *testing.T) {
	p := &fakePlayer{}
	rec := &recorder{}
	s := NewSession(p, rec, log.Discard())

	require.NoError(t, s.Play(context.Background(), "a1", clip()))
	require.Eventually(t, func() bool { return s.State() == StatePlaying }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Play(context.Background(), "a2", clip()))
	require.Eventually(t, func() bool {
		return s.State() == StatePlaying && s.Snapshot().SourceTurnID == "a2"
	}, time.Second, 5*time.Millisecond)

	select {
	case <-p.track(0).Done():
	default:
		t.Fatal("first track should have been stopped")
	}
	assert.Equal(t, []string{"started:a1", "stopped:a1", "started:a2"}, rec.list())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	p := &fakePlayer{}
	rec := &recorder{}
	s := NewSession(p, rec, log.Discard())

	s.Stop()
	assert.Empty(t, rec.list())

	require.NoError(t, s.Play(context.Background(), "a1", clip()))
	require.Eventually(t, func() bool { return s.State() == StatePlaying }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []string{"started:a1", "stopped:a1"}, rec.list())
}

func TestSession_StopWhileLoading(t *testing.T) {
	p := &fakePlayer{gate: make(chan struct{})}
	rec := &recorder{}
	s := NewSession(p, rec, log.Discard())

	require.NoError(t, s.Play(context.Background(), "a1", clip()))
	assert.Equal(t, StateLoading, s.State())

	s.Stop()
	close(p.gate)

	require.Eventually(t, func() bool { return p.track(0) != nil }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		select {
		case <-p.track(0).Done():
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []string{"stopped:a1"}, rec.list())
}

func TestSession_StartFailure(t *testing.T) {
	p := &fakePlayer{err: errors.New("no device")}
	rec := &recorder{}
	s := NewSession(p, rec, log.Discard())

	require.NoError(t, s.Play(context.Background(), "a1", clip()))
	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"failed:a1"}, rec.list())
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_TrackError(t *testing.T) {
	p := &fakePlayer{}
	rec := &recorder{}
	s := NewSession(p, rec, log.Discard())

	require.NoError(t, s.Play(context.Background(), "a1", clip()))
	require.Eventually(t, func() bool { return s.State() == StatePlaying }, time.Second, 5*time.Millisecond)

	p.track(0).finish(errors.New("device lost"))
	require.Eventually(t, func() bool { return len(rec.list()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"started:a1", "failed:a1"}, rec.list())
}

func TestSession_EmptyClip(t *testing.T) {
	s := NewSession(&fakePlayer{}, nil, log.Discard())
	assert.ErrorIs(t, s.Play(context.Background(), "a1", &tts.AudioResult{}), ErrNoAudio)
	assert.Equal(t, StateIdle, s.State())
}
