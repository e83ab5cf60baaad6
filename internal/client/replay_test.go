package client

import (
	"bytes"
	"testing"

	"github.com/lexiqai/voice-relay/internal/audio"
)

func TestReplayStore(t *testing.T) {
	r := NewReplayStore()
	if _, err := r.Clips(); err != ErrNothingToReplay {
		t.Errorf("Expected ErrNothingToReplay, got %v", err)
	}

	r.Append(audio.EncodeWAV([]byte{1, 0}, 16000, 1))
	r.Append(nil)
	r.Append(audio.EncodeWAV([]byte{2, 0, 3, 0}, 16000, 1))

	clips, err := r.Clips()
	if err != nil {
		t.Fatalf("Expected clips, got %v", err)
	}
	if len(clips) != 1 {
		t.Fatalf("Expected 1 joined clip, got %d", len(clips))
	}
	pcm, format, err := audio.DecodeWAV(clips[0])
	if err != nil {
		t.Fatalf("Expected decodable WAV, got %v", err)
	}
	if !bytes.Equal(pcm, []byte{1, 0, 2, 0, 3, 0}) || format.SampleRate != 16000 {
		t.Errorf("Unexpected replay %v %+v", pcm, format)
	}
}

func TestReplayStore_RawClips(t *testing.T) {
	r := NewReplayStore()
	r.Append([]byte("mp3-a"))
	r.Append([]byte("mp3-b"))

	clips, err := r.Clips()
	if err != nil || len(clips) != 2 || string(clips[0]) != "mp3-a" || string(clips[1]) != "mp3-b" {
		t.Errorf("Expected both raw clips, got %q %v", clips, err)
	}
	if r.Len() != 10 {
		t.Errorf("Expected 10 bytes held, got %d", r.Len())
	}
}

func TestReplayStore_MixedSegmentsKeepOrder(t *testing.T) {
	r := NewReplayStore()
	r.Append(audio.EncodeWAV([]byte{1, 0}, 24000, 1))
	r.Append([]byte("mp3"))
	r.Append(audio.EncodeWAV([]byte{2, 0}, 24000, 1))
	r.Append(audio.EncodeWAV([]byte{3, 0}, 24000, 1))
	r.Append(audio.EncodeWAV([]byte{4, 0}, 16000, 1))

	clips, err := r.Clips()
	if err != nil {
		t.Fatalf("Expected clips, got %v", err)
	}
	if len(clips) != 4 {
		t.Fatalf("Expected 4 clips, got %d", len(clips))
	}

	tests := []struct {
		clip int
		pcm  []byte
		rate int
	}{
		{0, []byte{1, 0}, 24000},
		{2, []byte{2, 0, 3, 0}, 24000},
		{3, []byte{4, 0}, 16000},
	}
	for _, tt := range tests {
		pcm, format, err := audio.DecodeWAV(clips[tt.clip])
		if err != nil {
			t.Fatalf("Expected clip %d to be WAV, got %v", tt.clip, err)
		}
		if !bytes.Equal(pcm, tt.pcm) || format.SampleRate != tt.rate {
			t.Errorf("Clip %d: expected %v at %d Hz, got %v at %d Hz", tt.clip, tt.pcm, tt.rate, pcm, format.SampleRate)
		}
	}
	if string(clips[1]) != "mp3" {
		t.Errorf("Expected raw segment second, got %q", clips[1])
	}
}
