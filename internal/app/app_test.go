package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meeting-scribe/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.APIAddr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = "127.0.0.1:0"
	cfg.Capture.UDPPort = 0 // ephemeral, tests must not collide
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApplyConfig_HotChangeAppliesInPlace(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.History().Close()

	next := testConfig(t)
	next.History.Path = cfg.History.Path
	next.Summary.Model = "gpt-4o"
	if err := a.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if got := a.Config().Summary.Model; got != "gpt-4o" {
		t.Errorf("Summary.Model = %q, want gpt-4o", got)
	}
	select {
	case <-a.restartCh:
		t.Error("hot change scheduled a pipeline restart")
	default:
	}
}

func TestApplyConfig_RestartScopedChangeSchedulesRestart(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.History().Close()

	next := testConfig(t)
	next.History.Path = cfg.History.Path
	next.VAD.Threshold = 0.7
	if err := a.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	// The old configuration stays current until Run performs the
	// restart.
	if got := a.Config().VAD.Threshold; got != cfg.VAD.Threshold {
		t.Errorf("Threshold changed before restart: %v", got)
	}
	if err := a.ApplyConfig(next); err == nil || !strings.Contains(err.Error(), "pending") {
		t.Errorf("second restart-scoped reload: err = %v, want pending rejection", err)
	}
	select {
	case pending := <-a.restartCh:
		if pending.VAD.Threshold != 0.7 {
			t.Errorf("pending Threshold = %v, want 0.7", pending.VAD.Threshold)
		}
	default:
		t.Error("no restart scheduled")
	}
}

func TestApplyConfig_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.History().Close()

	next := testConfig(t)
	next.Capture.Devices = nil
	if err := a.ApplyConfig(next); err == nil {
		t.Error("invalid configuration accepted")
	}
}

func TestRun_RebuildsPipelineOnRestartScopedReload(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()
	waitFor(t, "pipeline start", a.running.Load)

	firstAssembler := a.Assembler()

	next := testConfig(t)
	next.History.Path = cfg.History.Path
	next.VAD.Threshold = 0.7
	if err := a.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	waitFor(t, "restart to apply", func() bool {
		return a.Config().VAD.Threshold == 0.7 && a.running.Load()
	})
	if a.Assembler() == firstAssembler {
		t.Error("pipeline stages were not rebuilt")
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not stop")
	}
}
