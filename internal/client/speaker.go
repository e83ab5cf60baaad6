package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lexiqai/voice-relay/internal/audio"
)

// ErrSpeakerUnavailable is returned by NewSpeakerPlayer in builds without
// in-process audio output (build with -tags oto).
var ErrSpeakerUnavailable = errors.New("speaker output not compiled in, build with -tags oto")

const speakerPollInterval = 20 * time.Millisecond

// speakerDevice opens voices on an audio output device.
type speakerDevice interface {
	NewVoice(r io.Reader) speakerVoice
}

// speakerVoice is one PCM stream being pulled by the device.
type speakerVoice interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// SpeakerPlayer plays WAV clips on an in-process audio device. Clips must
// match the device's sample rate and channel count.
type SpeakerPlayer struct {
	device     speakerDevice
	sampleRate int
	channels   int
	poll       time.Duration
}

func newSpeakerPlayer(device speakerDevice, sampleRate, channels int) *SpeakerPlayer {
	return &SpeakerPlayer{
		device:     device,
		sampleRate: sampleRate,
		channels:   channels,
		poll:       speakerPollInterval,
	}
}

// Play decodes wav and starts it on the device.
func (p *SpeakerPlayer) Play(ctx context.Context, wav []byte) (Playback, error) {
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("speaker: %w", err)
	}
	if format.SampleRate != p.sampleRate || format.Channels != p.channels {
		return nil, fmt.Errorf("speaker: clip is %d Hz x%d, device is %d Hz x%d",
			format.SampleRate, format.Channels, p.sampleRate, p.channels)
	}

	voice := p.device.NewVoice(bytes.NewReader(pcm))
	voice.Play()

	pb := &speakerPlayback{
		voice: voice,
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	go pb.watch(ctx, p.poll)
	return pb, nil
}

type speakerPlayback struct {
	voice    speakerVoice
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// watch waits for the voice to drain, be stopped, or ctx to end.
func (p *speakerPlayback) watch(ctx context.Context, poll time.Duration) {
	defer close(p.done)
	defer p.voice.Close()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			p.voice.Pause()
			return
		case <-ctx.Done():
			p.voice.Pause()
			return
		case <-ticker.C:
			if !p.voice.IsPlaying() {
				return
			}
		}
	}
}

func (p *speakerPlayback) Done() <-chan struct{} {
	return p.done
}

func (p *speakerPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
