package domain

import (
	"context"
	"time"
)

// EventBuffer accepts validated events from the ingest side.
type EventBuffer interface {
	// BufferEvent adds a single event to the durable buffer.
	BufferEvent(ctx context.Context, event RawEvent) error
}

// EventSource hands the engine a batch of extracted events per cycle.
type EventSource interface {
	// ReadEventBatch reads up to count events not yet delivered to this consumer.
	ReadEventBatch(ctx context.Context, count int) ([]RawEvent, error)

	// AcknowledgeEvents marks delivered events as fully processed.
	AcknowledgeEvents(ctx context.Context, messageIDs ...string) error
}

// QuarantinedEvent is a record rejected at the ingestion boundary.
type QuarantinedEvent struct {
	Event  RawEvent
	Reason string
}

// EventQuarantine parks malformed records for operator inspection.
type EventQuarantine interface {
	Quarantine(ctx context.Context, events []QuarantinedEvent) error
}

// CandidateQuery bounds a duplicate lookup. Lookups are always windowed so
// cost tracks recent volume rather than total history.
type CandidateQuery struct {
	From            time.Time
	To              time.Time
	Language        string
	ExcludeLanguage string
	Embedding       []float64
	Limit           int
}

// ClusterRepository is the read side of the cluster store.
type ClusterRepository interface {
	// FindCandidates returns clusters whose primary event falls in [From, To]
	// and matches the language filters, nearest to Embedding first when one
	// is given.
	FindCandidates(ctx context.Context, q CandidateQuery) ([]EventCluster, error)

	// GetCluster returns ErrNotFound when no such cluster exists.
	GetCluster(ctx context.Context, clusterID string) (*EventCluster, error)

	// FindClusterByMember returns the cluster whose members include eventID,
	// regardless of time or language, or ErrNotFound.
	FindClusterByMember(ctx context.Context, eventID string) (*EventCluster, error)
}

// ZoneStateRepository is the read side of the zone store.
type ZoneStateRepository interface {
	// GetZoneStates returns the stored states for the given zones. Zones
	// never seen before are absent from the map.
	GetZoneStates(ctx context.Context, zoneIDs []string) (map[string]ConflictZoneState, error)
}

// CycleWriter persists a cycle's output atomically.
type CycleWriter interface {
	PersistCycle(ctx context.Context, clusters []EventCluster, zones []ConflictZoneState) error
}

// SeenRepository is a bounded, TTL-based membership set of processed event ids.
type SeenRepository interface {
	Seen(ctx context.Context, eventIDs []string) (map[string]bool, error)
	MarkSeen(ctx context.Context, eventIDs []string) error
}

// ZoneLocker serializes escalation updates per zone. The returned func
// releases the lock and is safe to call once.
type ZoneLocker interface {
	Lock(ctx context.Context, zoneID string) (unlock func(), err error)
}

// Embedder is the external embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedEvent(ctx context.Context, event RawEvent) ([]float64, error)
}

// UpdatePublisher fans persisted output out to downstream consumers.
type UpdatePublisher interface {
	PublishClusters(ctx context.Context, clusters []EventCluster) error
	PublishZoneStates(ctx context.Context, zones []ConflictZoneState) error
}

// CollectorKeyRepository validates ingest API keys.
type CollectorKeyRepository interface {
	// Lookup returns the collector name bound to an active key.
	// Implementations should handle caching to reduce database load.
	Lookup(ctx context.Context, key string) (collector string, ok bool, err error)
}

// WALRepository defines the interface for the Write-Ahead Log failover mechanism.
type WALRepository interface {
	// Write appends an event to the local WAL file.
	Write(ctx context.Context, event RawEvent) error

	// Replay reads events from the WAL and sends them to a handler function.
	// The handler is responsible for re-buffering the event (e.g., to Redis).
	Replay(ctx context.Context, handler func(event RawEvent) error) error

	// Truncate removes WAL segments that have been successfully replayed.
	Truncate(ctx context.Context) error
}

// StreamAdminRepository inspects and repairs the extracted-event stream.
type StreamAdminRepository interface {
	GetGroupInfo(ctx context.Context, stream string) ([]ConsumerGroupInfo, error)
	GetPendingSummary(ctx context.Context, stream, group string) (*PendingMessageSummary, error)
	GetPendingMessages(ctx context.Context, stream, group, consumer, startID string, count int64) ([]PendingMessageDetail, error)
	ClaimMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, messageIDs []string) ([]RawEvent, error)
	AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error)
	TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error)
	ReadQuarantine(ctx context.Context, stream string, count int64) ([]QuarantineEntry, error)
}
