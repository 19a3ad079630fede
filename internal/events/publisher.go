// Package events publishes transcript entries and summaries to Kafka
// for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"meeting-scribe/internal/config"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/observability/metrics"
)

// Publisher writes entry and summary events to separate topics. With no
// brokers configured it runs in log-only mode so the pipeline does not
// depend on a broker being present.
type Publisher struct {
	writerEntries   *kafka.Writer
	writerSummaries *kafka.Writer
	principal       string
	topicEntries    string
	topicSummaries  string
	enabled         bool
	metrics         *metrics.Metrics
}

// New creates a publisher from configuration.
func New(cfg config.KafkaConfig, m *metrics.Metrics) *Publisher {
	log := logging.WithComponent("events")
	if m == nil {
		m = metrics.Default
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicEntries:   cfg.TopicEntries,
			topicSummaries: cfg.TopicSummary,
			metrics:        m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicEntries", cfg.TopicEntries).
		Str("topicSummaries", cfg.TopicSummary).
		Str("principal", cfg.Principal).
		Msg("kafka publisher initialized")

	return &Publisher{
		writerEntries:   newWriter(cfg.TopicEntries),
		writerSummaries: newWriter(cfg.TopicSummary),
		principal:       cfg.Principal,
		topicEntries:    cfg.TopicEntries,
		topicSummaries:  cfg.TopicSummary,
		enabled:         true,
		metrics:         m,
	}
}

// PublishEntry publishes one transcript entry, keyed by segment id.
func (p *Publisher) PublishEntry(ctx context.Context, e models.TranscriptEntry) error {
	return p.publish(ctx, p.writerEntries, p.topicEntries, strconv.FormatUint(e.SegmentID, 10), e)
}

// PublishSummary publishes one generated summary, keyed by range start.
func (p *Publisher) PublishSummary(ctx context.Context, s models.Summary) error {
	return p.publish(ctx, p.writerSummaries, p.topicSummaries, s.RangeStart.Format(time.RFC3339), s)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	start := time.Now()
	log := logging.WithComponent("events")

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	log.Debug().
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordPublish(topic, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("kafka write failed")
		p.metrics.RecordPublish(topic, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerEntries != nil {
		if e := p.writerEntries.Close(); e != nil {
			err = e
		}
	}
	if p.writerSummaries != nil {
		if e := p.writerSummaries.Close(); e != nil {
			err = e
		}
	}
	return err
}
