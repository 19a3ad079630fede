// Package audio provides PCM helpers shared by the capture path and the
// inference backends: WAV encoding for payloads and retained segment audio,
// and sample-level level math for the voice activity detector.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit mono PCM samples in a standard RIFF/WAVE header.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// DecodePCM converts little-endian 16-bit PCM bytes to samples. Trailing
// odd bytes are dropped.
func DecodePCM(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM converts samples to little-endian 16-bit PCM bytes.
func EncodePCM(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// RMS returns the root-mean-square level of the samples, normalized to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DB converts a normalized level to decibels, clamped at a floor for silence.
func DB(level float64) float64 {
	if level < 1e-9 {
		return -180
	}
	return 20 * math.Log10(level)
}

// WriteSegmentWAV writes segment audio under dir/<dayKey>/segment-<id>.wav,
// creating the directory as needed. Used by the optional retention path.
func WriteSegmentWAV(dir string, dayKey int, segmentID uint64, samples []int16, sampleRate int) (string, error) {
	dayDir := filepath.Join(dir, fmt.Sprintf("%08d", dayKey))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return "", fmt.Errorf("create retention dir: %w", err)
	}
	path := filepath.Join(dayDir, fmt.Sprintf("segment-%d.wav", segmentID))
	if err := os.WriteFile(path, EncodeWAV(samples, sampleRate), 0o644); err != nil {
		return "", fmt.Errorf("write segment audio: %w", err)
	}
	return path, nil
}
