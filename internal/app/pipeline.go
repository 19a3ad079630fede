package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"meeting-scribe/internal/audio"
	"meeting-scribe/internal/config"
	"meeting-scribe/internal/history"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability"
)

// Run starts every stage and blocks until ctx is canceled and the
// pipeline has drained. A restart-scoped configuration change tears the
// capture pipeline down, rebuilds it from the new configuration, and
// keeps going; the HTTP servers and the process survive.
func (a *Application) Run(ctx context.Context) error {
	a.obs.Start()
	go a.serveAPI(a.api)

	for {
		next, err := a.runPipeline(ctx)
		if err != nil || next == nil {
			a.closeShared()
			return err
		}
		if err := a.restart(ctx, next); err != nil {
			a.closeShared()
			return fmt.Errorf("rebuild pipeline: %w", err)
		}
	}
}

// runPipeline runs the current pipeline until ctx cancellation, a
// capture failure, or a restart request, then drains it. A non-nil
// config return means a rebuild with that config should follow.
func (a *Application) runPipeline(ctx context.Context) (*config.Config, error) {
	cfg := a.Config()
	a.dispatcher.Start()

	captureCtx, stopCapture := context.WithCancel(context.Background())
	defer stopCapture()
	mergeDone := make(chan error, 1)
	go func() { mergeDone <- a.merger.Run(captureCtx) }()
	go a.Assembler().Run(captureCtx)

	if cfg.Retention.Enabled {
		go a.retentionJanitor(captureCtx)
	}
	a.running.Store(true)

	// Main pipeline loop. Ends when capture stops and the merger closes
	// its output. On the way out nothing may be stranded in the
	// merger's heap, so the frame channel is always consumed to close.
	var next *config.Config
loop:
	for {
		select {
		case <-ctx.Done():
			stopCapture()
			for f := range a.merger.Frames() {
				a.process(cfg, f)
			}
			break loop
		case next = <-a.restartCh:
			stopCapture()
			for f := range a.merger.Frames() {
				a.process(cfg, f)
			}
			break loop
		case f, ok := <-a.merger.Frames():
			if !ok {
				break loop
			}
			a.process(cfg, f)
		}
	}
	a.running.Store(false)

	mergeErr := <-mergeDone
	if mergeErr != nil {
		a.log.Error().Err(mergeErr).Msg("capture stopped with error")
	}
	a.drainPipeline(cfg)
	return next, mergeErr
}

func (a *Application) process(cfg *config.Config, f models.Frame) {
	if seg := a.segmenter.Push(f); seg != nil {
		a.emit(cfg, *seg)
	}
}

// emit routes one completed segment into inference and bookkeeping.
func (a *Application) emit(cfg *config.Config, seg models.Segment) {
	a.Assembler().TrackSegment(seg)

	if cfg.Retention.Enabled {
		day := history.DayKey(time.Unix(0, seg.StartTs))
		if _, err := audio.WriteSegmentWAV(cfg.Retention.Dir, day, seg.ID, seg.Samples, seg.SampleRate); err != nil {
			a.log.Warn().Err(err).Uint64("segment_id", seg.ID).Msg("retain segment audio")
		}
	}

	if err := a.dispatcher.Submit(seg); err != nil {
		a.log.Error().Err(err).Uint64("segment_id", seg.ID).Msg("submit segment")
	}
}

// drainPipeline finishes the stopped pipeline's in-flight work and
// releases its resources. Drain order matters: the segmenter flushes
// first so tail segments still reach inference, then the dispatcher
// drains, then the assembler closes its last summary window.
func (a *Application) drainPipeline(cfg *config.Config) {
	for _, seg := range a.segmenter.Flush() {
		a.emit(cfg, seg)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Inference.DrainTimeout+5*time.Second)
	defer cancel()
	if err := a.dispatcher.Close(drainCtx); err != nil {
		a.log.Warn().Err(err).Msg("dispatcher drain incomplete")
	}

	a.Assembler().Flush()

	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil

	if err := a.History().Close(); err != nil {
		a.log.Warn().Err(err).Msg("close history")
	}
}

// restart rebuilds the pipeline for a restart-scoped configuration
// change. The drained pipeline's stages are replaced wholesale; the
// HTTP servers are replaced only when their addresses changed.
func (a *Application) restart(ctx context.Context, next *config.Config) error {
	a.log.Info().Msg("restarting pipeline for configuration change")

	prev := a.Config()
	a.applyHot(next)
	if err := a.buildPipeline(ctx, next); err != nil {
		return err
	}

	if next.Server != prev.Server {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.api.Shutdown(shutdownCtx)
		a.api = a.newAPIServer(next.Server.APIAddr)
		go a.serveAPI(a.api)
		_ = a.obs.Shutdown(shutdownCtx)
		a.obs = observability.NewServer(next.Server.MetricsAddr, a.running.Load)
		a.obs.Start()
	}
	return nil
}

func (a *Application) serveAPI(srv *http.Server) {
	a.log.Info().Str("addr", srv.Addr).Msg("api server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Error().Err(err).Msg("api server failed")
	}
}

// closeShared releases what outlives pipeline rebuilds.
func (a *Application) closeShared() {
	a.mu.RLock()
	pub := a.publisher
	a.mu.RUnlock()
	if err := pub.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close publisher")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.api.Shutdown(shutdownCtx)
	_ = a.obs.Shutdown(shutdownCtx)

	a.log.Info().Msg("pipeline stopped")
}

// retentionJanitor deletes retained audio for days past the retention
// horizon. Day directories are named by their eight digit day key.
func (a *Application) retentionJanitor(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		a.pruneRetained()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Application) pruneRetained() {
	cfg := a.Config()
	cutoff := history.DayKey(time.Now().AddDate(0, 0, -cfg.Retention.Days))

	dirs, err := os.ReadDir(cfg.Retention.Dir)
	if err != nil {
		return // nothing retained yet
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		day, err := strconv.Atoi(d.Name())
		if err != nil || day >= cutoff {
			continue
		}
		path := filepath.Join(cfg.Retention.Dir, d.Name())
		if err := os.RemoveAll(path); err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("prune retained audio")
		} else {
			a.log.Info().Int("day", day).Msg("pruned retained audio")
		}
	}
}
