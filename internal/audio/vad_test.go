package audio

import (
	"testing"
)

func constFrame(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func testVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		FrameSize:       160,
	}
}

func TestVADDetector_ProcessFrame_Speech(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	samples := constFrame(160, 5000)

	for i := 0; i < 5; i++ {
		isSpeaking, speechStarted, _ := vad.ProcessFrame(samples)
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
		if i == 0 && !speechStarted {
			t.Error("Expected speech to start on first frame")
		}
		if i > 0 && speechStarted {
			t.Errorf("Expected speechStarted only once, got it on frame %d", i)
		}
	}
}

func TestVADDetector_ProcessFrame_Silence(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	samples := constFrame(160, 10)

	for i := 0; i < 15; i++ {
		if isSpeaking, _, _ := vad.ProcessFrame(samples); isSpeaking {
			t.Errorf("Expected silence on frame %d", i)
		}
	}
}

func TestVADDetector_ProcessFrame_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(constFrame(160, 5000))
	}

	endedAt := -1
	for i := 0; i < 15; i++ {
		if _, _, ended := vad.ProcessFrame(constFrame(160, 10)); ended {
			endedAt = i
			break
		}
	}
	if endedAt != 9 {
		t.Errorf("Expected speech to end on the 10th silent frame, got %d", endedAt)
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	vad.ProcessFrame(constFrame(160, 5000))
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestTrimSilence(t *testing.T) {
	config := &VADConfig{EnergyThreshold: 500, SilenceFrames: 1, FrameSize: 100}

	var samples []int16
	samples = append(samples, constFrame(500, 0)...)    // 5 silent frames
	samples = append(samples, constFrame(300, 4000)...) // 3 speech frames
	samples = append(samples, constFrame(400, 0)...)    // 4 silent frames
	pcm := SamplesToBytes(samples)

	trimmed := TrimSilence(pcm, config)

	// one frame of padding on each side
	expectedSamples := 100 + 300 + 100
	if len(trimmed) != expectedSamples*2 {
		t.Fatalf("Expected %d bytes, got %d", expectedSamples*2, len(trimmed))
	}
	got := BytesToSamples(trimmed)
	if got[0] != 0 || got[100] != 4000 || got[399] != 4000 || got[400] != 0 {
		t.Errorf("Unexpected trim boundaries: %d %d %d %d", got[0], got[100], got[399], got[400])
	}
}

func TestTrimSilence_AllSilentUnchanged(t *testing.T) {
	pcm := SamplesToBytes(constFrame(1000, 3))
	if trimmed := TrimSilence(pcm, testVADConfig()); len(trimmed) != len(pcm) {
		t.Errorf("Expected silent input to be returned unchanged, got %d bytes", len(trimmed))
	}
}

func TestCalculateRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{"empty", nil, 0},
		{"constant", constFrame(10, 100), 100},
		{"alternating", []int16{300, -300, 300, -300}, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rms := CalculateRMS(tt.samples); rms != tt.expected {
				t.Errorf("Expected %f, got %f", tt.expected, rms)
			}
		})
	}
}
