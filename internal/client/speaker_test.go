package client

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-relay/internal/audio"
)

type fakeVoice struct {
	mu      sync.Mutex
	pcm     []byte
	playing bool
	paused  bool
	closed  bool
}

func (v *fakeVoice) Play() {
	v.mu.Lock()
	v.playing = true
	v.mu.Unlock()
}

func (v *fakeVoice) Pause() {
	v.mu.Lock()
	v.playing = false
	v.paused = true
	v.mu.Unlock()
}

func (v *fakeVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

func (v *fakeVoice) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

// drain simulates the device reaching the end of the stream.
func (v *fakeVoice) drain() {
	v.mu.Lock()
	v.playing = false
	v.mu.Unlock()
}

func (v *fakeVoice) state() (paused, closed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused, v.closed
}

type fakeDevice struct {
	mu     sync.Mutex
	voices []*fakeVoice
}

func (d *fakeDevice) NewVoice(r io.Reader) speakerVoice {
	pcm, _ := io.ReadAll(r)
	v := &fakeVoice{pcm: pcm}
	d.mu.Lock()
	d.voices = append(d.voices, v)
	d.mu.Unlock()
	return v
}

func newTestSpeaker() (*SpeakerPlayer, *fakeDevice) {
	device := &fakeDevice{}
	p := newSpeakerPlayer(device, 24000, 1)
	p.poll = time.Millisecond
	return p, device
}

func waitDone(t *testing.T, pb Playback) {
	t.Helper()
	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected playback to end")
	}
}

func TestSpeakerPlayer_PlaysToEnd(t *testing.T) {
	p, device := newTestSpeaker()

	pb, err := p.Play(context.Background(), audio.EncodeWAV([]byte{1, 0, 2, 0}, 24000, 1))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	voice := device.voices[0]
	if !bytes.Equal(voice.pcm, []byte{1, 0, 2, 0}) {
		t.Errorf("Expected PCM payload on the device, got %v", voice.pcm)
	}

	select {
	case <-pb.Done():
		t.Fatal("Expected playback to continue until drained")
	case <-time.After(10 * time.Millisecond):
	}

	voice.drain()
	waitDone(t, pb)
	if paused, closed := voice.state(); paused || !closed {
		t.Errorf("Expected voice closed without pause, got paused=%v closed=%v", paused, closed)
	}
}

func TestSpeakerPlayer_Stop(t *testing.T) {
	tests := []struct {
		name string
		stop func(pb Playback, cancel context.CancelFunc)
	}{
		{"stop", func(pb Playback, _ context.CancelFunc) { pb.Stop(); pb.Stop() }},
		{"context", func(_ Playback, cancel context.CancelFunc) { cancel() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, device := newTestSpeaker()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			pb, err := p.Play(ctx, audio.EncodeWAV([]byte{1, 0}, 24000, 1))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			tt.stop(pb, cancel)
			waitDone(t, pb)

			if paused, closed := device.voices[0].state(); !paused || !closed {
				t.Errorf("Expected voice paused and closed, got paused=%v closed=%v", paused, closed)
			}
		})
	}
}

func TestSpeakerPlayer_RejectsClip(t *testing.T) {
	tests := []struct {
		name string
		clip []byte
	}{
		{"not wav", []byte("mp3")},
		{"sample rate", audio.EncodeWAV([]byte{1, 0}, 16000, 1)},
		{"channels", audio.EncodeWAV([]byte{1, 0, 2, 0}, 24000, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, device := newTestSpeaker()
			if _, err := p.Play(context.Background(), tt.clip); err == nil {
				t.Error("Expected error")
			}
			if len(device.voices) != 0 {
				t.Errorf("Expected no voice opened, got %d", len(device.voices))
			}
		})
	}
}
