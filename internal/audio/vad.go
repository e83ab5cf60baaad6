package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end speech
	FrameSize       int     // Samples per frame
}

// DefaultVADConfig returns a default VAD configuration for 16 kHz input
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,  // 200ms
		FrameSize:       320, // 20ms at 16kHz
	}
}

// VADDetector performs energy-based Voice Activity Detection
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool
	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// TrimSilence drops leading and trailing silent frames from 16-bit mono PCM,
// keeping SilenceFrames of padding on each side of the detected speech. The
// input is returned unchanged when no frame crosses the threshold.
func TrimSilence(pcm []byte, config *VADConfig) []byte {
	if config == nil {
		config = DefaultVADConfig()
	}
	samples := BytesToSamples(pcm)
	frame := config.FrameSize
	if frame <= 0 || len(samples) < frame {
		return pcm
	}

	first, last := -1, -1
	for start := 0; start < len(samples); start += frame {
		end := min(start+frame, len(samples))
		if CalculateRMS(samples[start:end]) > config.EnergyThreshold {
			if first < 0 {
				first = start
			}
			last = end
		}
	}
	if first < 0 {
		return pcm
	}

	pad := config.SilenceFrames * frame
	first = max(first-pad, 0)
	last = min(last+pad, len(samples))
	return pcm[first*2 : last*2]
}
