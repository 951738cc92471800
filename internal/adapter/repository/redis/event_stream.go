package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/argos/internal/domain"
)

const (
	payloadField    = "payload"
	defaultBlock    = 2 * time.Second
	decodeErrReason = "undecodable payload"
)

// StreamConfig names the keys an EventStream works on.
type StreamConfig struct {
	Stream   string
	DLQ      string
	Group    string
	Consumer string
	// Block bounds how long a read waits for new entries.
	Block time.Duration
	// MaxLen, when positive, caps the stream approximately on every XADD.
	MaxLen int64
}

// EventStream buffers extracted events in a Redis Stream and hands them to
// the engine through a consumer group. Writers fall back to the WAL while
// Redis is unreachable.
type EventStream struct {
	client      *redis.Client
	logger      *slog.Logger
	wal         domain.WALRepository
	cfg         StreamConfig
	isAvailable atomic.Bool
	onFailover  func(active bool)
}

// NewEventStream creates a Redis-backed EventStream. The WAL is optional;
// pass nil on the engine side.
func NewEventStream(client *redis.Client, cfg StreamConfig, wal domain.WALRepository, logger *slog.Logger) *EventStream {
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	s := &EventStream{
		client: client,
		logger: logger.With("component", "event_stream", "stream", cfg.Stream),
		wal:    wal,
		cfg:    cfg,
	}
	s.isAvailable.Store(true)

	if cfg.Group != "" {
		if err := s.setupConsumerGroup(context.Background()); err != nil {
			s.setAvailable(false)
			s.logger.Error("Failed to setup consumer group, Redis may be unavailable on startup", "error", err)
		}
	}
	return s
}

// OnFailover registers a callback fired whenever writes switch between
// Redis and the WAL.
func (s *EventStream) OnFailover(fn func(active bool)) {
	s.onFailover = fn
}

func (s *EventStream) setAvailable(v bool) bool {
	if !s.isAvailable.CompareAndSwap(!v, v) {
		return false
	}
	if s.onFailover != nil {
		s.onFailover(!v)
	}
	return true
}

func (s *EventStream) setupConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// StartHealthCheck pings Redis every interval and replays the WAL once the
// connection comes back. It blocks until ctx is done.
func (s *EventStream) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if s.wal == nil {
		s.logger.Info("WAL is not configured, skipping health check/replayer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting Redis health check and WAL replayer")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			if err := s.client.Ping(ctx).Err(); err != nil {
				if s.setAvailable(false) {
					s.logger.Error("Redis connection lost", "error", err)
				}
				continue
			}
			if s.isAvailable.Load() {
				continue
			}
			s.logger.Info("Redis connection recovered")
			if err := s.ReplayWAL(ctx); err != nil {
				s.logger.Error("Failed to replay WAL after Redis recovery", "error", err)
				continue
			}
			s.setAvailable(true)
		}
	}
}

// ReplayWAL moves WAL contents into the stream and truncates the WAL on
// success. New writes keep going to the WAL until replay completes, so
// arrival order is preserved.
func (s *EventStream) ReplayWAL(ctx context.Context) error {
	s.logger.Info("Attempting to replay WAL to Redis")
	if err := s.wal.Replay(ctx, func(event domain.RawEvent) error {
		return s.add(ctx, event)
	}); err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}
	if err := s.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after successful replay: %w", err)
	}
	s.logger.Info("WAL replay to Redis completed successfully")
	return nil
}

// BufferEvent appends an event to the stream, falling back to the WAL if
// Redis is unavailable.
func (s *EventStream) BufferEvent(ctx context.Context, event domain.RawEvent) error {
	if !s.isAvailable.Load() {
		if s.wal == nil {
			return errors.New("redis is unavailable and WAL is not configured")
		}
		s.logger.Warn("Redis is unavailable, writing to WAL", "event_id", event.ID)
		return s.wal.Write(ctx, event)
	}

	err := s.add(ctx, event)
	if err == nil || !isNetworkError(err) || ctx.Err() != nil {
		return err
	}
	if s.setAvailable(false) {
		s.logger.Error("Redis connection lost during write", "error", err)
	}
	if s.wal == nil {
		return fmt.Errorf("redis became unavailable and WAL is not configured: %w", err)
	}
	s.logger.Warn("Redis became unavailable, writing to WAL", "event_id", event.ID)
	return s.wal.Write(ctx, event)
}

func (s *EventStream) add(ctx context.Context, event domain.RawEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]interface{}{payloadField: payload},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// ReadEventBatch reads up to count entries for this consumer. Entries it
// was given earlier but never acknowledged come first, so a failed cycle's
// batch is redelivered; new entries are read only when none are pending.
// Entries that cannot be decoded are quarantined and acknowledged here;
// everything else is returned with StreamMessageID set.
func (s *EventStream) ReadEventBatch(ctx context.Context, count int) ([]domain.RawEvent, error) {
	msgs, err := s.readGroup(ctx, "0", count, -1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		if msgs, err = s.readGroup(ctx, ">", count, s.cfg.Block); err != nil {
			return nil, err
		}
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	events, bad := decodeMessages(msgs)
	if len(bad) > 0 {
		s.logger.Warn("Undecodable entries in stream, quarantining", "count", len(bad))
		if err := s.quarantineRaw(ctx, bad); err != nil {
			s.logger.Error("Failed to quarantine undecodable entries", "error", err)
		} else {
			ids := make([]string, len(bad))
			for i, m := range bad {
				ids[i] = m.ID
			}
			if err := s.AcknowledgeEvents(ctx, ids...); err != nil {
				s.logger.Error("Failed to acknowledge quarantined entries", "error", err)
			}
		}
	}
	return events, nil
}

func (s *EventStream) readGroup(ctx context.Context, id string, count int, block time.Duration) ([]redis.XMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, id},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// AcknowledgeEvents acknowledges processed entries.
func (s *EventStream) AcknowledgeEvents(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// Quarantine moves rejected events to the dead-letter stream with the
// rejection reason.
func (s *EventStream) Quarantine(ctx context.Context, events []domain.QuarantinedEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	pipe := s.client.Pipeline()
	for _, q := range events {
		payload, err := json.Marshal(q.Event)
		if err != nil {
			s.logger.Error("Failed to marshal event for DLQ", "event_id", q.Event.ID, "error", err)
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.DLQ,
			Values: dlqValues(string(payload), q.Event.ID, q.Reason, s.cfg.Stream, q.Event.StreamMessageID, now),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	s.logger.Warn("Moved events to DLQ", "count", len(events))
	return nil
}

func (s *EventStream) quarantineRaw(ctx context.Context, msgs []redis.XMessage) error {
	now := time.Now().UTC()
	pipe := s.client.Pipeline()
	for _, m := range msgs {
		payload, _ := m.Values[payloadField].(string)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.DLQ,
			Values: dlqValues(payload, "", decodeErrReason, s.cfg.Stream, m.ID, now),
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func dlqValues(payload, eventID, reason, stream, msgID string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		payloadField:      payload,
		"event_id":        eventID,
		"reason":          reason,
		"original_stream": stream,
		"original_msg_id": msgID,
		"failed_at":       at.Format(time.RFC3339),
	}
}

// decodeMessages splits stream entries into decoded events and entries
// whose payload is missing or not valid JSON.
func decodeMessages(msgs []redis.XMessage) (events []domain.RawEvent, bad []redis.XMessage) {
	events = make([]domain.RawEvent, 0, len(msgs))
	for _, msg := range msgs {
		event, err := decodeEvent(msg)
		if err != nil {
			bad = append(bad, msg)
			continue
		}
		events = append(events, event)
	}
	return events, bad
}

func decodeEvent(msg redis.XMessage) (domain.RawEvent, error) {
	var event domain.RawEvent
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return event, fmt.Errorf("message %s: missing %s field", msg.ID, payloadField)
	}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	event.StreamMessageID = msg.ID
	return event, nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
