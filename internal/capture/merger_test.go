package capture

import (
	"context"
	"testing"
	"time"

	"meeting-scribe/internal/models"
)

func TestMemorySource_FramesPushedPCM(t *testing.T) {
	s := NewMemorySource("mic0", 4, 16000)
	var ts int64
	s.SetClock(func() int64 { ts += 1000; return ts })

	s.Push([]int16{1, 2, 3})          // partial, held
	s.Push([]int16{4, 5, 6, 7, 8, 9}) // completes two frames, one sample over
	s.Push([]int16{10, 11, 12})       // completes a third
	s.Close()

	var frames []models.Frame
	for f := range s.Frames() {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	want := [][]int16{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	for i, f := range frames {
		if f.DeviceID != "mic0" {
			t.Errorf("frame %d device = %q", i, f.DeviceID)
		}
		if len(f.Samples) != 4 {
			t.Fatalf("frame %d has %d samples", i, len(f.Samples))
		}
		for j, v := range want[i] {
			if f.Samples[j] != v {
				t.Errorf("frame %d sample %d = %d, want %d", i, j, f.Samples[j], v)
			}
		}
	}
	if frames[0].Timestamp >= frames[1].Timestamp {
		t.Error("timestamps not increasing")
	}
}

func TestMemorySource_CloseIdempotent(t *testing.T) {
	s := NewMemorySource("mic0", 4, 16000)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Push([]int16{1, 2, 3, 4}) // must not panic on the closed channel
}

func TestMerger_OrdersAcrossSources(t *testing.T) {
	a := NewMemorySource("mic0", 2, 16000)
	b := NewMemorySource("mic1", 2, 16000)

	// Interleaved capture times: mic0 at 10,30,50; mic1 at 20,40,60.
	aTs := []int64{10, 30, 50}
	bTs := []int64{20, 40, 60}
	var ai, bi int
	a.SetClock(func() int64 { ts := aTs[ai]; ai++; return ts })
	b.SetClock(func() int64 { ts := bTs[bi]; bi++; return ts })

	m := NewMerger([]Source{a, b}, 20*time.Millisecond, nil)

	// Pre-load both sources and close them; the merger then drains and
	// releases everything in one final ordered pass.
	for i := 0; i < 3; i++ {
		a.Push([]int16{1, 1})
		b.Push([]int16{2, 2})
	}
	a.Close()
	b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	var got []int64
	for f := range m.Frames() {
		got = append(got, f.Timestamp)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int64{10, 20, 30, 40, 50, 60}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestMerger_ContextCancelClosesStream(t *testing.T) {
	a := NewMemorySource("mic0", 2, 16000)
	m := NewMerger([]Source{a}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	a.Push([]int16{1, 1})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("merger did not stop after cancel")
	}

	// The output channel must be closed and drained.
	for range m.Frames() {
	}
}
