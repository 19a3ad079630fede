// Package config loads and validates service configuration from a YAML
// file with environment overrides for deployment-sensitive options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	VAD       VADConfig       `yaml:"vad"`
	Inference InferenceConfig `yaml:"inference"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Summary   SummaryConfig   `yaml:"summary"`
	Retention RetentionConfig `yaml:"retention"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	APIAddr     string `yaml:"api_addr"`     // viewer/control HTTP API
	MetricsAddr string `yaml:"metrics_addr"` // observability HTTP server
}

// CaptureConfig holds audio capture parameters. Devices are identified by
// the name each source registers under; order is not significant.
type CaptureConfig struct {
	SampleRate   int      `yaml:"sample_rate"`
	FrameSamples int      `yaml:"frame_samples"`
	Devices      []string `yaml:"devices"`
	UDPPort      int      `yaml:"udp_port"` // PCM frame ingress for network devices
}

// VADConfig holds voice activity detection parameters. VAD always runs
// locally; there is deliberately no endpoint option here.
type VADConfig struct {
	Threshold     float64       `yaml:"threshold"`
	HangoverIn    time.Duration `yaml:"hangover_in"`
	HangoverOut   time.Duration `yaml:"hangover_out"`
	PreHold       time.Duration `yaml:"pre_hold"`
	MaxSegment    time.Duration `yaml:"max_segment"`
	MinSegment    time.Duration `yaml:"min_segment"`
	NoiseFloorDB  float64       `yaml:"noise_floor_db"`
	SmoothingBeta float64       `yaml:"smoothing_beta"`
}

// BackendConfig selects an execution target for one inference capability.
type BackendConfig struct {
	Provider string        `yaml:"provider"` // mock | whisper | google | filterbank | remote
	Endpoint string        `yaml:"endpoint"` // host:port for remote, URL for whisper
	Language string        `yaml:"language"`
	Window   int           `yaml:"window"` // max concurrent in-flight calls
	Timeout  time.Duration `yaml:"timeout"`
}

// InferenceConfig holds the per-capability backend selection.
type InferenceConfig struct {
	Transcription BackendConfig `yaml:"transcription"`
	Embedding     BackendConfig `yaml:"embedding"`
	Algorithm     string        `yaml:"algorithm"` // speechbrain | pyannote
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// AlgorithmParams are the clustering parameters tied to one embedding
// algorithm. Vectors from different algorithms are never comparable, so
// each algorithm carries its own tuning.
type AlgorithmParams struct {
	Dim        int     `yaml:"dim"`
	Metric     string  `yaml:"metric"` // cosine | euclidean
	Radius     float64 `yaml:"radius"` // fast-path neighborhood radius
	Eps        float64 `yaml:"eps"`    // density reachability radius
	MinPts     int     `yaml:"min_pts"`
	MinInherit int     `yaml:"min_inherit"` // overlap needed to inherit an identity
}

// ClusterConfig holds speaker clustering parameters.
type ClusterConfig struct {
	BatchSize  int                        `yaml:"batch_size"` // pending embeddings before a re-cluster pass
	WindowDays int                        `yaml:"window_days"`
	MaxHeld    int                        `yaml:"max_held"` // cap on embeddings re-clustered per pass
	Algorithms map[string]AlgorithmParams `yaml:"algorithms"`
}

// SummaryConfig holds the summarization collaborator settings. An empty
// APIKey is a valid state that disables summarization.
type SummaryConfig struct {
	APIKey        string        `yaml:"api_key"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	EverySegments int           `yaml:"every_segments"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// RetentionConfig controls optional on-disk retention of segment audio.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Days    int    `yaml:"days"`
	Dir     string `yaml:"dir"`
}

// KafkaConfig holds the optional transcript event publisher settings.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicEntries string   `yaml:"topic_entries"`
	TopicSummary string   `yaml:"topic_summary"`
	Principal    string   `yaml:"principal"`
}

// HistoryConfig holds the history store location.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			APIAddr:     ":8080",
			MetricsAddr: ":9090",
		},
		Capture: CaptureConfig{
			SampleRate:   16000,
			FrameSamples: 512,
			Devices:      []string{"udp"},
			UDPPort:      5004,
		},
		VAD: VADConfig{
			Threshold:     0.5,
			HangoverIn:    100 * time.Millisecond,
			HangoverOut:   700 * time.Millisecond,
			PreHold:       300 * time.Millisecond,
			MaxSegment:    30 * time.Second,
			MinSegment:    200 * time.Millisecond,
			NoiseFloorDB:  -55,
			SmoothingBeta: 0.85,
		},
		Inference: InferenceConfig{
			Transcription: BackendConfig{
				Provider: "mock",
				Language: "en-US",
				Window:   2,
				Timeout:  30 * time.Second,
			},
			Embedding: BackendConfig{
				Provider: "filterbank",
				Window:   2,
				Timeout:  15 * time.Second,
			},
			Algorithm:    "speechbrain",
			RetryBackoff: 2 * time.Second,
			DrainTimeout: 10 * time.Second,
		},
		Cluster: ClusterConfig{
			BatchSize:  8,
			WindowDays: 7,
			MaxHeld:    2000,
			Algorithms: map[string]AlgorithmParams{
				"speechbrain": {Dim: 192, Metric: "cosine", Radius: 0.25, Eps: 0.3, MinPts: 3, MinInherit: 2},
				"pyannote":    {Dim: 512, Metric: "euclidean", Radius: 0.6, Eps: 0.7, MinPts: 3, MinInherit: 2},
			},
		},
		Summary: SummaryConfig{
			Endpoint:      "https://api.openai.com/v1/chat/completions",
			Model:         "gpt-4o-mini",
			EverySegments: 12,
			MaxAge:        5 * time.Minute,
		},
		Retention: RetentionConfig{
			Days: 3,
			Dir:  "data/audio",
		},
		Kafka: KafkaConfig{
			TopicEntries: "scribe.transcript.entries",
			TopicSummary: "scribe.transcript.summaries",
			Principal:    "svc-meeting-scribe",
		},
		History: HistoryConfig{
			Path: "data/history.sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file at path (missing file falls back to
// defaults), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.APIAddr = envOrDefault("SCRIBE_API_ADDR", cfg.Server.APIAddr)
	cfg.Server.MetricsAddr = envOrDefault("SCRIBE_METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Summary.APIKey = envOrDefault("OPENAI_API_KEY", cfg.Summary.APIKey)
	cfg.History.Path = envOrDefault("SCRIBE_HISTORY_PATH", cfg.History.Path)
	cfg.Logging.Level = envOrDefault("SCRIBE_LOG_LEVEL", cfg.Logging.Level)
	if v := os.Getenv("SCRIBE_UDP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Capture.UDPPort = port
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate checks every section for internally consistent values.
func (c *Config) Validate() error {
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture: sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.FrameSamples <= 0 {
		return fmt.Errorf("capture: frame_samples must be positive, got %d", c.Capture.FrameSamples)
	}
	if len(c.Capture.Devices) == 0 {
		return fmt.Errorf("capture: at least one input device must be selected")
	}
	if c.VAD.Threshold <= 0 || c.VAD.Threshold >= 1 {
		return fmt.Errorf("vad: threshold must be in (0,1), got %v", c.VAD.Threshold)
	}
	if c.VAD.MaxSegment <= 0 {
		return fmt.Errorf("vad: max_segment must be positive")
	}
	if c.VAD.HangoverIn < 0 || c.VAD.HangoverOut < 0 {
		return fmt.Errorf("vad: hangover durations must not be negative")
	}
	for name, b := range map[string]BackendConfig{
		"transcription": c.Inference.Transcription,
		"embedding":     c.Inference.Embedding,
	} {
		if b.Window <= 0 {
			return fmt.Errorf("inference.%s: window must be positive, got %d", name, b.Window)
		}
		if b.Provider == "remote" && b.Endpoint == "" {
			return fmt.Errorf("inference.%s: remote provider requires an endpoint", name)
		}
	}
	params, ok := c.Cluster.Algorithms[c.Inference.Algorithm]
	if !ok {
		return fmt.Errorf("cluster: no parameters for embedding algorithm %q", c.Inference.Algorithm)
	}
	if params.Dim <= 0 {
		return fmt.Errorf("cluster: algorithm %q dim must be positive", c.Inference.Algorithm)
	}
	if params.Metric != "cosine" && params.Metric != "euclidean" {
		return fmt.Errorf("cluster: algorithm %q metric must be cosine or euclidean, got %q",
			c.Inference.Algorithm, params.Metric)
	}
	if params.Eps <= 0 || params.MinPts < 2 {
		return fmt.Errorf("cluster: algorithm %q needs eps > 0 and min_pts >= 2", c.Inference.Algorithm)
	}
	if c.Cluster.BatchSize <= 0 {
		return fmt.Errorf("cluster: batch_size must be positive")
	}
	if c.Summary.EverySegments <= 0 {
		return fmt.Errorf("summary: every_segments must be positive")
	}
	if c.Retention.Enabled && c.Retention.Days <= 0 {
		return fmt.Errorf("retention: days must be positive when retention is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers required when enabled")
	}
	return nil
}

// ActiveAlgorithm returns the clustering parameters for the configured
// embedding algorithm. Validate guarantees presence.
func (c *Config) ActiveAlgorithm() AlgorithmParams {
	return c.Cluster.Algorithms[c.Inference.Algorithm]
}

// SummaryEnabled reports whether a summarization credential is configured.
func (c *Config) SummaryEnabled() bool {
	return c.Summary.APIKey != ""
}
