package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meeting-scribe/internal/cluster"
	"meeting-scribe/internal/config"
	"meeting-scribe/internal/history"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/transcript"
)

type nopClusterStore struct{}

func (nopClusterStore) SaveEmbedding(models.EmbeddingVector) error   { return nil }
func (nopClusterStore) Assign(uint64, string) error                  { return nil }
func (nopClusterStore) AssignBatch([]models.ClusterAssignment) error { return nil }
func (nopClusterStore) SaveIdentity(cluster.Identity) error          { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishEntry(context.Context, models.TranscriptEntry) error { return nil }
func (nopPublisher) PublishSummary(context.Context, models.Summary) error       { return nil }

type nopSummarizer struct{}

func (nopSummarizer) Enabled() bool { return false }
func (nopSummarizer) Summarize(context.Context, []models.TranscriptEntry, func(string) string) (models.Summary, error) {
	return models.Summary{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *history.Store, *cluster.Clusterer) {
	t.Helper()

	h, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	params := config.Default().Cluster.Algorithms["speechbrain"]
	c, err := cluster.New(params, 100, 100, nopClusterStore{}, nil, nil)
	if err != nil {
		t.Fatalf("new clusterer: %v", err)
	}

	a := transcript.New(transcript.Config{EverySegments: 100, MaxAge: time.Hour},
		h, nopPublisher{}, nopSummarizer{}, c.DisplayName, nil)

	cfg := config.Default()
	cfg.Summary.APIKey = "sk-secret"

	srv := httptest.NewServer(NewRouter(Deps{
		Assembler: func() *transcript.Assembler { return a },
		Clusterer: func() *cluster.Clusterer { return c },
		History:   func() *history.Store { return h },
		Config:    func() *config.Config { return cfg },
	}))
	t.Cleanup(srv.Close)
	return srv, h, c
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestLiveness(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/liveness")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDaysEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var got struct {
		Days []int `json:"days"`
	}
	getJSON(t, srv.URL+"/v1/days", &got)
	if got.Days == nil || len(got.Days) != 0 {
		t.Errorf("days = %v, want empty non-nil list", got.Days)
	}
}

func TestDayValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, day := range []string{"abc", "123", "00000101"} {
		resp, err := http.Get(srv.URL + "/v1/days/" + day)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("day %q: status = %d, want 400", day, resp.StatusCode)
		}
	}
}

func TestDayEntriesWithSpeakerNames(t *testing.T) {
	srv, h, c := newTestServer(t)

	now := time.Now()
	id := cluster.Identity{ID: "spk-1", DisplayName: "Ada", CreatedAt: now}
	if err := c.Seed([]cluster.SeedMember{
		{SegmentID: 7, DeviceID: "mic0", Vector: make([]float32, 192), SpeakerID: "spk-1"},
	}, []cluster.Identity{id}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.AppendEntry(models.TranscriptEntry{
		SegmentID: 7, SpeakerID: "spk-1", Text: "hello", Timestamp: now,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var got dayResponse
	getJSON(t, srv.URL+"/v1/days/"+now.Format("20060102"), &got)
	if len(got.Entries) != 1 {
		t.Fatalf("got %d entries", len(got.Entries))
	}
	e := got.Entries[0]
	if e.Text != "hello" || e.SpeakerName != "Ada" {
		t.Errorf("entry = %+v, want text hello named Ada", e)
	}
}

func TestRename(t *testing.T) {
	srv, _, c := newTestServer(t)

	if err := c.Seed([]cluster.SeedMember{
		{SegmentID: 1, DeviceID: "mic0", Vector: make([]float32, 192), SpeakerID: "spk-1"},
	}, []cluster.Identity{{ID: "spk-1", DisplayName: "Speaker 1", DefaultName: true}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := strings.NewReader(`{"name":"Grace"}`)
	resp, err := http.Post(srv.URL+"/v1/speakers/spk-1/rename", "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := c.DisplayName("spk-1"); got != "Grace" {
		t.Errorf("DisplayName = %q", got)
	}

	resp, err = http.Post(srv.URL+"/v1/speakers/nope/rename", "application/json",
		strings.NewReader(`{"name":"X"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown speaker: status = %d, want 404", resp.StatusCode)
	}
}

func TestConfigRedactsAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var got config.Config
	getJSON(t, srv.URL+"/v1/config", &got)
	if got.Summary.APIKey != "" {
		t.Error("api key leaked through the config endpoint")
	}
	if got.Capture.SampleRate == 0 {
		t.Error("config body missing capture settings")
	}
}

func TestConfigCheck(t *testing.T) {
	srv, _, _ := newTestServer(t)

	post := func(yaml string) configCheckResponse {
		t.Helper()
		resp, err := http.Post(srv.URL+"/v1/config/check", "application/yaml",
			bytes.NewBufferString(yaml))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var got configCheckResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return got
	}

	if got := post("summary:\n  model: gpt-4o\n"); !got.Hot {
		t.Errorf("summary change reported restart groups %v", got.RestartRequired)
	}
	got := post("capture:\n  sample_rate: 8000\n")
	if got.Hot || len(got.RestartRequired) != 1 || got.RestartRequired[0] != "capture" {
		t.Errorf("capture change = %+v, want restart group capture", got)
	}
}
