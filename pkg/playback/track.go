package playback

import "sync"

// baseTrack implements the Done/Err bookkeeping shared by players.
type baseTrack struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
	stopFunc func()
}

func newBaseTrack(stop func()) *baseTrack {
	return &baseTrack{done: make(chan struct{}), stopFunc: stop}
}

func (t *baseTrack) Done() <-chan struct{} {
	return t.done
}

func (t *baseTrack) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// finish records err and closes Done. Only the first call counts.
func (t *baseTrack) finish(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *baseTrack) Stop() error {
	if t.stopFunc != nil {
		t.stopFunc()
	}
	t.finish(nil)
	return nil
}
