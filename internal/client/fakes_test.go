package client

import (
	"context"
	"sync"
)

type fakePlayback struct {
	clip string
	done chan struct{}
	once sync.Once
	p    *fakePlayer
}

func (pb *fakePlayback) Done() <-chan struct{} { return pb.done }

func (pb *fakePlayback) Stop() {
	pb.once.Do(func() {
		pb.p.mu.Lock()
		pb.p.stopped = append(pb.p.stopped, pb.clip)
		pb.p.mu.Unlock()
		close(pb.done)
	})
}

func (pb *fakePlayback) finish() {
	pb.once.Do(func() { close(pb.done) })
}

// fakePlayer records clips. With auto set, clips finish as soon as they start;
// otherwise each started playback is sent on started for the test to drive.
type fakePlayer struct {
	auto    bool
	started chan *fakePlayback

	mu      sync.Mutex
	played  []string
	stopped []string
}

func newFakePlayer(auto bool) *fakePlayer {
	return &fakePlayer{auto: auto, started: make(chan *fakePlayback, 16)}
}

func (p *fakePlayer) Play(ctx context.Context, wav []byte) (Playback, error) {
	pb := &fakePlayback{clip: string(wav), done: make(chan struct{}), p: p}
	p.mu.Lock()
	p.played = append(p.played, pb.clip)
	p.mu.Unlock()
	if p.auto {
		pb.finish()
	} else {
		p.started <- pb
	}
	return pb, nil
}

func (p *fakePlayer) playedClips() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func (p *fakePlayer) stoppedClips() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stopped...)
}

type recordingHandler struct {
	NopHandler

	mu        sync.Mutex
	captions  []string
	chunks    []string
	complete  []string
	errors    []string
	timeouts  []string
	ends      int
	cancelled int
	results   []PlaybackResult

	playback chan PlaybackResult
	timeout  chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{playback: make(chan PlaybackResult, 8), timeout: make(chan string, 8)}
}

func (h *recordingHandler) OnCaption(text string) {
	h.mu.Lock()
	h.captions = append(h.captions, text)
	h.mu.Unlock()
}

func (h *recordingHandler) OnResponseChunk(text string) {
	h.mu.Lock()
	h.chunks = append(h.chunks, text)
	h.mu.Unlock()
}

func (h *recordingHandler) OnResponseComplete(text string) {
	h.mu.Lock()
	h.complete = append(h.complete, text)
	h.mu.Unlock()
}

func (h *recordingHandler) OnPlaybackComplete(result PlaybackResult) {
	h.mu.Lock()
	h.results = append(h.results, result)
	h.mu.Unlock()
	h.playback <- result
}

func (h *recordingHandler) OnProcessingEnd() {
	h.mu.Lock()
	h.ends++
	h.mu.Unlock()
}

func (h *recordingHandler) OnCancelled() {
	h.mu.Lock()
	h.cancelled++
	h.mu.Unlock()
}

func (h *recordingHandler) OnError(errorType, message string, chunkIndex *int) {
	h.mu.Lock()
	h.errors = append(h.errors, errorType)
	h.mu.Unlock()
}

func (h *recordingHandler) OnTimeout(kind string) {
	h.mu.Lock()
	h.timeouts = append(h.timeouts, kind)
	h.mu.Unlock()
	h.timeout <- kind
}

func (h *recordingHandler) resultCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}
