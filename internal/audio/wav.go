package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a wav file")

const wavHeaderSize = 44

// Format describes 16-bit PCM audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV returns the PCM payload and format of a WAV file. Only
// uncompressed 16-bit PCM is accepted; unknown chunks are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	var format Format
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, format, ErrNotWAV
	}

	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			// Streaming writers often leave the data size unset.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, format, fmt.Errorf("wav fmt chunk too short: %d bytes", end-body)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, format, fmt.Errorf("unsupported wav encoding %d", tag)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			if format.BitsPerSample != 16 {
				return nil, format, fmt.Errorf("unsupported bits per sample %d", format.BitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, format, fmt.Errorf("wav data chunk before fmt chunk")
			}
			return data[body:end], format, nil
		}

		offset = end + size%2
	}
	return nil, format, fmt.Errorf("wav file has no data chunk")
}
