package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Capture.SampleRate)
	}
	if cfg.Inference.Algorithm != "speechbrain" {
		t.Errorf("Algorithm = %q", cfg.Inference.Algorithm)
	}
	params := cfg.ActiveAlgorithm()
	if params.Dim != 192 || params.Metric != "cosine" {
		t.Errorf("active params = %+v", params)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
vad:
  threshold: 0.7
  hangover_out: 1s
inference:
  algorithm: pyannote
summary:
  every_segments: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VAD.Threshold != 0.7 {
		t.Errorf("Threshold = %v", cfg.VAD.Threshold)
	}
	if cfg.VAD.HangoverOut != time.Second {
		t.Errorf("HangoverOut = %v", cfg.VAD.HangoverOut)
	}
	if cfg.Summary.EverySegments != 5 {
		t.Errorf("EverySegments = %d", cfg.Summary.EverySegments)
	}
	// File switched the algorithm; its parameters come from the
	// default table since the file did not replace it.
	if got := cfg.ActiveAlgorithm(); got.Dim != 512 || got.Metric != "euclidean" {
		t.Errorf("pyannote params = %+v", got)
	}
	// Untouched sections keep defaults.
	if cfg.Capture.FrameSamples != 512 {
		t.Errorf("FrameSamples = %d", cfg.Capture.FrameSamples)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_API_ADDR", ":18080")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SCRIBE_UDP_PORT", "7200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIAddr != ":18080" {
		t.Errorf("APIAddr = %q", cfg.Server.APIAddr)
	}
	if cfg.Summary.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.Summary.APIKey)
	}
	if !cfg.SummaryEnabled() {
		t.Error("SummaryEnabled() = false with a key set")
	}
	if cfg.Capture.UDPPort != 7200 {
		t.Errorf("UDPPort = %d", cfg.Capture.UDPPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"zero sample rate", func(c *Config) { c.Capture.SampleRate = 0 }, true},
		{"no devices", func(c *Config) { c.Capture.Devices = nil }, true},
		{"threshold out of range", func(c *Config) { c.VAD.Threshold = 1.5 }, true},
		{"zero window", func(c *Config) { c.Inference.Transcription.Window = 0 }, true},
		{"remote without endpoint", func(c *Config) {
			c.Inference.Embedding.Provider = "remote"
			c.Inference.Embedding.Endpoint = ""
		}, true},
		{"unknown algorithm", func(c *Config) { c.Inference.Algorithm = "xvector" }, true},
		{"bad metric", func(c *Config) {
			p := c.Cluster.Algorithms["speechbrain"]
			p.Metric = "manhattan"
			c.Cluster.Algorithms["speechbrain"] = p
		}, true},
		{"kafka enabled without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"retention enabled without days", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.Days = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRestartRequired(t *testing.T) {
	t.Run("hot groups produce no restart", func(t *testing.T) {
		old := Default()
		next := Default()
		next.Summary.APIKey = "sk-new"
		next.Kafka.Enabled = true
		next.Kafka.Brokers = []string{"localhost:9092"}
		next.Logging.Level = "debug"

		if groups := RestartRequired(old, next); len(groups) != 0 {
			t.Errorf("RestartRequired = %v, want none", groups)
		}
	})

	t.Run("pipeline groups require restart", func(t *testing.T) {
		old := Default()
		next := Default()
		next.Capture.SampleRate = 8000
		next.VAD.Threshold = 0.6
		next.History.Path = "elsewhere.sqlite"

		groups := RestartRequired(old, next)
		want := map[string]bool{"capture": true, "vad": true, "history": true}
		if len(groups) != len(want) {
			t.Fatalf("RestartRequired = %v", groups)
		}
		for _, g := range groups {
			if !want[g] {
				t.Errorf("unexpected group %q", g)
			}
		}
	})
}
