// Package httpapi exposes the read API over the live transcript,
// per-day history, and speaker management.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"

	"meeting-scribe/internal/cluster"
	"meeting-scribe/internal/config"
	"meeting-scribe/internal/history"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/transcript"
)

// Deps are the collaborators the router reads from. They are getters
// rather than instances: a configuration change can rebuild the
// pipeline behind a running server, and the handlers must follow.
type Deps struct {
	Assembler func() *transcript.Assembler
	Clusterer func() *cluster.Clusterer
	History   func() *history.Store
	// Config returns the currently applied configuration.
	Config func() *config.Config
}

type liveResponse struct {
	Entries   []entryView      `json:"entries"`
	Summaries []models.Summary `json:"summaries"`
}

type dayResponse struct {
	Day       int              `json:"day"`
	Entries   []entryView      `json:"entries"`
	Summaries []models.Summary `json:"summaries"`
}

// entryView is a transcript entry with the speaker's current display
// name resolved for presentation.
type entryView struct {
	models.TranscriptEntry
	SpeakerName string `json:"speakerName,omitempty"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type configCheckResponse struct {
	RestartRequired []string `json:"restartRequired"`
	Hot             bool     `json:"hot"`
}

// NewRouter constructs the HTTP API router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/live", deps.handleLive)
		r.Get("/days", deps.handleDays)
		r.Get("/days/{day}", deps.handleDay)
		r.Get("/speakers", deps.handleSpeakers)
		r.Post("/speakers/{id}/rename", deps.handleRename)
		r.Get("/speakers/{id}/segments", deps.handleSpeakerSegments)
		r.Get("/projection", deps.handleProjection)
		r.Get("/config", deps.handleConfig)
		r.Post("/config/check", deps.handleConfigCheck)
	})

	return r
}

func (d Deps) handleLive(w http.ResponseWriter, _ *http.Request) {
	entries, sums := d.Assembler().Live()
	writeJSON(w, http.StatusOK, liveResponse{
		Entries:   d.withNames(entries),
		Summaries: nonNilSummaries(sums),
	})
}

func (d Deps) handleDays(w http.ResponseWriter, _ *http.Request) {
	days, err := d.History().Days()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if days == nil {
		days = []int{}
	}
	writeJSON(w, http.StatusOK, map[string][]int{"days": days})
}

func (d Deps) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 19700101 || day > 99991231 {
		writeError(w, http.StatusBadRequest, errors.New("day must be YYYYMMDD"))
		return
	}
	entries, err := d.History().Entries(day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sums, err := d.History().Summaries(day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{
		Day:       day,
		Entries:   d.withNames(entries),
		Summaries: nonNilSummaries(sums),
	})
}

func (d Deps) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]cluster.Identity{
		"speakers": d.Clusterer().Identities(),
	})
}

func (d Deps) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if err := d.Clusterer().Rename(chi.URLParam(r, "id"), req.Name); err != nil {
		if errors.Is(err, cluster.ErrUnknownSpeaker) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d Deps) handleSpeakerSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := d.Clusterer().SegmentsFor(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, cluster.ErrUnknownSpeaker) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if segs == nil {
		segs = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"segments": segs})
}

func (d Deps) handleProjection(w http.ResponseWriter, _ *http.Request) {
	pts := d.Clusterer().Projection()
	if pts == nil {
		pts = []cluster.ProjectedPoint{}
	}
	writeJSON(w, http.StatusOK, map[string][]cluster.ProjectedPoint{"points": pts})
}

func (d Deps) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := *d.Config()
	cfg.Summary.APIKey = "" // never expose the credential
	writeJSON(w, http.StatusOK, cfg)
}

// handleConfigCheck parses a candidate YAML configuration and reports
// which settings would need a process restart to take effect.
func (d Deps) handleConfigCheck(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next := config.Default()
	if err := yaml.Unmarshal(body, next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	groups := config.RestartRequired(d.Config(), next)
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, configCheckResponse{
		RestartRequired: groups,
		Hot:             len(groups) == 0,
	})
}

func (d Deps) withNames(entries []models.TranscriptEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			TranscriptEntry: e,
			SpeakerName:     d.Clusterer().DisplayName(e.SpeakerID),
		})
	}
	return out
}

func nonNilSummaries(s []models.Summary) []models.Summary {
	if s == nil {
		return []models.Summary{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lg := logging.WithComponent("httpapi")
		lg.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
