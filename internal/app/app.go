// Package app assembles the capture, segmentation, inference, and
// assembly stages into one runnable pipeline.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meeting-scribe/internal/capture"
	"meeting-scribe/internal/cluster"
	"meeting-scribe/internal/config"
	"meeting-scribe/internal/dispatch"
	"meeting-scribe/internal/events"
	"meeting-scribe/internal/history"
	"meeting-scribe/internal/httpapi"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/observability/metrics"
	"meeting-scribe/internal/summarize"
	"meeting-scribe/internal/transcript"
	"meeting-scribe/internal/vad"
)

// mergeWatermark bounds how far frame timestamps may be reordered
// across devices before release.
const mergeWatermark = 500 * time.Millisecond

// Application owns every pipeline stage and their lifecycle. The
// capture pipeline can be torn down and rebuilt in place when a
// restart-scoped configuration group changes; the process, its HTTP
// servers, and the segment id generator survive the rebuild.
type Application struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	ids     *vad.IDGenerator

	// mu guards the fields read by the API and the reload path while
	// a rebuild swaps them.
	mu         sync.RWMutex
	cfg        *config.Config
	publisher  *events.Publisher
	summarizer *summarize.Client
	history    *history.Store
	clusterer  *cluster.Clusterer
	assembler  *transcript.Assembler

	// Stages below are owned by the Run goroutine between rebuilds.
	segmenter  *vad.Segmenter
	merger     *capture.Merger
	dispatcher *dispatch.Dispatcher
	closers    []io.Closer

	obs *observability.Server
	api *http.Server

	running   atomic.Bool
	restartCh chan *config.Config
}

// New wires the pipeline from configuration. Nothing starts running
// until Run.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		log:       logging.WithComponent("app"),
		metrics:   metrics.Default,
		ids:       &vad.IDGenerator{},
		restartCh: make(chan *config.Config, 1),
	}

	a.publisher = events.New(cfg.Kafka, a.metrics)
	a.summarizer = summarize.New(cfg.Summary.APIKey, cfg.Summary.Endpoint, cfg.Summary.Model)

	if err := a.buildPipeline(ctx, cfg); err != nil {
		return nil, err
	}

	a.obs = observability.NewServer(cfg.Server.MetricsAddr, a.running.Load)
	a.api = a.newAPIServer(cfg.Server.APIAddr)
	return a, nil
}

// buildPipeline constructs every restart-scoped stage from cfg and
// swaps them in. Called from New and again after a drain when a
// restart-scoped configuration group changed.
func (a *Application) buildPipeline(ctx context.Context, cfg *config.Config) error {
	h, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	params := cfg.ActiveAlgorithm()
	if storedDim, err := h.StoredDim(cfg.Inference.Algorithm); err != nil {
		h.Close()
		return err
	} else if storedDim != 0 && storedDim != params.Dim {
		h.Close()
		return fmt.Errorf("stored %s population has dim %d but configuration says %d",
			cfg.Inference.Algorithm, storedDim, params.Dim)
	}

	maxID, err := h.MaxSegmentID()
	if err != nil {
		h.Close()
		return err
	}
	a.ids.Seed(maxID)

	// The assembler and clusterer reference each other (name resolution
	// one way, reassignment notification the other), so both sides go
	// through the guarded accessors.
	assembler := transcript.New(
		transcript.Config{EverySegments: cfg.Summary.EverySegments, MaxAge: cfg.Summary.MaxAge},
		h, a, a,
		func(speakerID string) string { return a.Clusterer().DisplayName(speakerID) },
		a.metrics,
	)

	cl, err := cluster.New(
		params, cfg.Cluster.BatchSize, cfg.Cluster.MaxHeld,
		clusterStore{h: h, algorithm: cfg.Inference.Algorithm},
		func(as []models.ClusterAssignment) { a.Assembler().SetSpeakers(as) },
		a.metrics,
	)
	if err != nil {
		h.Close()
		return err
	}
	if err := seedClusterer(cl, h, cfg.Inference.Algorithm, cfg.Cluster.WindowDays); err != nil {
		h.Close()
		return fmt.Errorf("seed clusterer: %w", err)
	}

	var closers []io.Closer
	transcriber, tc, err := newTranscriber(ctx, cfg.Inference.Transcription)
	if err != nil {
		h.Close()
		return err
	}
	if tc != nil {
		closers = append(closers, tc)
	}
	embedder, ec, err := newEmbedder(cfg.Inference.Embedding, cfg.Inference.Algorithm, params.Dim)
	if err != nil {
		h.Close()
		return err
	}
	if ec != nil {
		closers = append(closers, ec)
	}

	dispatcher := dispatch.New(
		dispatch.Config{
			TranscribeWindow:  cfg.Inference.Transcription.Window,
			EmbedWindow:       cfg.Inference.Embedding.Window,
			TranscribeTimeout: cfg.Inference.Transcription.Timeout,
			EmbedTimeout:      cfg.Inference.Embedding.Timeout,
			RetryBackoff:      cfg.Inference.RetryBackoff,
			DrainTimeout:      cfg.Inference.DrainTimeout,
		},
		transcriber, embedder,
		func(r models.TranscriptionResult) { a.Assembler().OnTranscription(r) },
		func(ev models.EmbeddingVector) {
			if err := a.Clusterer().OnEmbedding(ev); err != nil {
				a.log.Error().Err(err).Uint64("segment_id", ev.SegmentID).Msg("embedding rejected")
			}
		},
		a.metrics,
	)

	segmenter := vad.NewSegmenter(vad.Config{
		SampleRate:   cfg.Capture.SampleRate,
		FrameSamples: cfg.Capture.FrameSamples,
		Threshold:    cfg.VAD.Threshold,
		HangoverIn:   cfg.VAD.HangoverIn,
		HangoverOut:  cfg.VAD.HangoverOut,
		PreHold:      cfg.VAD.PreHold,
		MaxSegment:   cfg.VAD.MaxSegment,
		MinSegment:   cfg.VAD.MinSegment,
	}, a.ids, func() vad.Detector {
		return vad.NewEnergyDetector(cfg.VAD.NoiseFloorDB, cfg.VAD.SmoothingBeta)
	}, a.metrics)

	merger := capture.NewMerger(buildSources(cfg), mergeWatermark, a.metrics)

	a.mu.Lock()
	a.cfg = cfg
	a.history = h
	a.clusterer = cl
	a.assembler = assembler
	a.mu.Unlock()

	a.segmenter = segmenter
	a.merger = merger
	a.dispatcher = dispatcher
	a.closers = closers
	return nil
}

func (a *Application) newAPIServer(addr string) *http.Server {
	return &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Assembler: a.Assembler,
			Clusterer: a.Clusterer,
			History:   a.History,
			Config:    a.Config,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// buildSources creates one UDP ingress per configured device, on
// consecutive ports starting at the configured base port.
func buildSources(cfg *config.Config) []capture.Source {
	devices := cfg.Capture.Devices
	if len(devices) == 0 {
		devices = []string{"default"}
	}
	sources := make([]capture.Source, 0, len(devices))
	for i, name := range devices {
		sources = append(sources, capture.NewUDPSource(
			name, cfg.Capture.UDPPort+i, cfg.Capture.FrameSamples, cfg.Capture.SampleRate))
	}
	return sources
}

// Config returns the currently applied configuration.
func (a *Application) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Assembler returns the current transcript assembler.
func (a *Application) Assembler() *transcript.Assembler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.assembler
}

// Clusterer returns the current speaker clusterer.
func (a *Application) Clusterer() *cluster.Clusterer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.clusterer
}

// History returns the current history store.
func (a *Application) History() *history.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history
}

// ApplyConfig applies a new configuration. Hot groups (summary, kafka,
// logging) are swapped in place; a change to any restart-scoped group
// schedules an in-process pipeline restart, which Run performs after
// draining the current pipeline.
func (a *Application) ApplyConfig(next *config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}

	if groups := config.RestartRequired(a.Config(), next); len(groups) > 0 {
		select {
		case a.restartCh <- next:
			a.log.Info().Strs("groups", groups).Msg("pipeline restart scheduled")
			return nil
		default:
			return fmt.Errorf("a pipeline restart is already pending")
		}
	}

	a.applyHot(next)
	a.log.Info().Msg("configuration reloaded")
	return nil
}

// applyHot swaps the hot-reloadable collaborators for next's settings.
func (a *Application) applyHot(next *config.Config) {
	logging.Init(logging.Config{Level: next.Logging.Level, Format: next.Logging.Format})

	a.mu.Lock()
	oldPub := a.publisher
	a.publisher = events.New(next.Kafka, a.metrics)
	a.summarizer = summarize.New(next.Summary.APIKey, next.Summary.Endpoint, next.Summary.Model)
	a.cfg = next
	a.mu.Unlock()

	if oldPub != nil {
		_ = oldPub.Close()
	}
}

// PublishEntry implements transcript.Publisher against the current
// (possibly reloaded) publisher.
func (a *Application) PublishEntry(ctx context.Context, e models.TranscriptEntry) error {
	a.mu.RLock()
	p := a.publisher
	a.mu.RUnlock()
	return p.PublishEntry(ctx, e)
}

// PublishSummary implements transcript.Publisher.
func (a *Application) PublishSummary(ctx context.Context, s models.Summary) error {
	a.mu.RLock()
	p := a.publisher
	a.mu.RUnlock()
	return p.PublishSummary(ctx, s)
}

// Enabled implements transcript.Summarizer.
func (a *Application) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summarizer.Enabled()
}

// Summarize implements transcript.Summarizer.
func (a *Application) Summarize(ctx context.Context, entries []models.TranscriptEntry, displayName func(string) string) (models.Summary, error) {
	a.mu.RLock()
	s := a.summarizer
	a.mu.RUnlock()
	return s.Summarize(ctx, entries, displayName)
}
