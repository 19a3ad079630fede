package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAV_Header(t *testing.T) {
	samples := []int16{1, -1, 2, -2}
	data := EncodeWAV(samples, 16000)

	if len(data) != 44+len(samples)*2 {
		t.Fatalf("len = %d, want %d", len(data), 44+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		t.Errorf("channels = %d, want mono", ch)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d", bits)
	}
	if dataLen := binary.LittleEndian.Uint32(data[40:44]); dataLen != uint32(len(samples)*2) {
		t.Errorf("data chunk size = %d", dataLen)
	}
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := DecodePCM(EncodePCM(samples))
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestRMSAndDB(t *testing.T) {
	quiet := make([]int16, 160)
	if rms := RMS(quiet); rms != 0 {
		t.Errorf("RMS(silence) = %v", rms)
	}
	if db := DB(0); db != -180 {
		t.Errorf("DB(0) = %v, want floor at -180", db)
	}

	// A constant half-scale signal has RMS 0.5 and sits near -6dB.
	half := make([]int16, 160)
	for i := range half {
		half[i] = 16384
	}
	rms := RMS(half)
	if math.Abs(rms-0.5) > 0.001 {
		t.Errorf("RMS(half scale) = %v, want 0.5", rms)
	}
	if db := DB(rms); math.Abs(db+6.02) > 0.1 {
		t.Errorf("DB(0.5) = %v, want about -6", db)
	}
}

func TestWriteSegmentWAV(t *testing.T) {
	dir := t.TempDir()
	samples := []int16{1, 2, 3, 4}

	path, err := WriteSegmentWAV(dir, 20260307, 9, samples, 16000)
	if err != nil {
		t.Fatalf("WriteSegmentWAV: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "20260307") {
		t.Errorf("path = %s, want day subdirectory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 44+len(samples)*2 {
		t.Errorf("file size = %d", len(data))
	}
	got := DecodePCM(data[44:])
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}
