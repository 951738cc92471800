package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/V4T54L/argos/internal/domain"
)

// Config names the brokers and topics upserts are published to.
type Config struct {
	Brokers      []string
	ClusterTopic string
	ZoneTopic    string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes upserted clusters and zone states, keyed by id so
// a compacted topic keeps the latest value. With no brokers configured it
// publishes nothing.
type KafkaPublisher struct {
	clusters messageWriter
	zones    messageWriter
	logger   *slog.Logger
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(cfg Config, logger *slog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{logger: logger.With("component", "kafka_publisher")}
	if len(cfg.Brokers) == 0 {
		p.logger.Info("no kafka brokers configured, publishing disabled")
		return p
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: cfg.WriteTimeout,
		}
	}
	if cfg.ClusterTopic != "" {
		p.clusters = newWriter(cfg.ClusterTopic)
	}
	if cfg.ZoneTopic != "" {
		p.zones = newWriter(cfg.ZoneTopic)
	}
	return p
}

func (p *KafkaPublisher) PublishClusters(ctx context.Context, clusters []domain.EventCluster) error {
	if p.clusters == nil || len(clusters) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(clusters))
	for _, c := range clusters {
		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode cluster %s: %w", c.ClusterID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(c.ClusterID), Value: value})
	}
	if err := p.clusters.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish clusters: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) PublishZoneStates(ctx context.Context, zones []domain.ConflictZoneState) error {
	if p.zones == nil || len(zones) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(zones))
	for _, z := range zones {
		value, err := json.Marshal(z)
		if err != nil {
			return fmt.Errorf("encode zone %s: %w", z.ZoneID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(z.ZoneID), Value: value})
	}
	if err := p.zones.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish zone states: %w", err)
	}
	return nil
}

// Close flushes and closes the writers.
func (p *KafkaPublisher) Close() error {
	var errs []error
	for _, w := range []messageWriter{p.clusters, p.zones} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}
