//go:build !oto

package client

// NewSpeakerPlayer always fails in builds without the oto tag.
func NewSpeakerPlayer(sampleRate, channels int) (*SpeakerPlayer, error) {
	return nil, ErrSpeakerUnavailable
}
