//go:build oto

package client

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// NewSpeakerPlayer opens the default output device for 16-bit PCM.
// Only one device context may exist per process.
func NewSpeakerPlayer(sampleRate, channels int) (*SpeakerPlayer, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready
	return newSpeakerPlayer(otoDevice{ctx: ctx}, sampleRate, channels), nil
}

type otoDevice struct {
	ctx *oto.Context
}

func (d otoDevice) NewVoice(r io.Reader) speakerVoice {
	return d.ctx.NewPlayer(r)
}
