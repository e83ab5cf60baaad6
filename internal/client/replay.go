package client

import (
	"errors"
	"sync"

	"github.com/lexiqai/voice-relay/internal/audio"
)

// ErrNothingToReplay is returned when no audio has been received yet.
var ErrNothingToReplay = errors.New("no audio to replay")

// ReplayStore keeps every audio segment of a turn in arrival order, whether
// or not it was played, so the whole response can be heard again.
type ReplayStore struct {
	mu       sync.Mutex
	segments [][]byte
}

// NewReplayStore returns an empty store.
func NewReplayStore() *ReplayStore {
	return &ReplayStore{}
}

// Append adds one segment.
func (r *ReplayStore) Append(clip []byte) {
	if len(clip) == 0 {
		return
	}
	r.mu.Lock()
	r.segments = append(r.segments, append([]byte(nil), clip...))
	r.mu.Unlock()
}

// Len returns the number of audio bytes held.
func (r *ReplayStore) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, seg := range r.segments {
		n += len(seg)
	}
	return n
}

// Clips returns the held audio in arrival order, ready to play. Runs of WAV
// segments sharing a format are joined into one WAV clip; any other segment
// is returned as its own clip.
func (r *ReplayStore) Clips() ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.segments) == 0 {
		return nil, ErrNothingToReplay
	}

	var (
		clips  [][]byte
		pcm    []byte
		format audio.Format
	)
	flushPCM := func() {
		if len(pcm) > 0 {
			clips = append(clips, audio.EncodeWAV(pcm, format.SampleRate, format.Channels))
			pcm = nil
		}
	}
	for _, seg := range r.segments {
		samples, f, err := audio.DecodeWAV(seg)
		if err != nil {
			flushPCM()
			clips = append(clips, seg)
			continue
		}
		if len(pcm) > 0 && f != format {
			flushPCM()
		}
		if len(pcm) == 0 {
			format = f
		}
		pcm = append(pcm, samples...)
	}
	flushPCM()

	if len(clips) == 0 {
		return nil, ErrNothingToReplay
	}
	return clips, nil
}
