package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

// MockEventStream is a mock implementation of domain.EventSource,
// domain.EventBuffer and domain.EventQuarantine for testing.
type MockEventStream struct {
	mu              sync.Mutex
	BufferedEvents  []domain.RawEvent
	AckedMessageIDs []string
	Quarantined     []domain.QuarantinedEvent
	ReadBatchResult []domain.RawEvent
	BufferErr       error
	ReadErr         error
	AckErr          error
	QuarantineErr   error
}

func (m *MockEventStream) BufferEvent(ctx context.Context, event domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BufferErr != nil {
		return m.BufferErr
	}
	m.BufferedEvents = append(m.BufferedEvents, event)
	return nil
}

func (m *MockEventStream) ReadEventBatch(ctx context.Context, count int) ([]domain.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := make([]domain.RawEvent, len(m.ReadBatchResult))
	for i, e := range m.ReadBatchResult {
		out[i] = e.Clone()
	}
	return out, nil
}

func (m *MockEventStream) AcknowledgeEvents(ctx context.Context, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

func (m *MockEventStream) Quarantine(ctx context.Context, events []domain.QuarantinedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuarantineErr != nil {
		return m.QuarantineErr
	}
	m.Quarantined = append(m.Quarantined, events...)
	return nil
}

// MockStore is an in-memory cluster and zone store. It implements
// domain.ClusterRepository, domain.ZoneStateRepository and domain.CycleWriter.
type MockStore struct {
	mu            sync.Mutex
	Clusters      map[string]domain.EventCluster
	Zones         map[string]domain.ConflictZoneState
	Queries       []domain.CandidateQuery
	MemberLookups int
	PersistCalls  int
	// FindErr fails both candidate and membership lookups.
	FindErr error
	ZoneErr error
	// PersistErrs is consumed one error per PersistCycle call; nil entries succeed.
	PersistErrs []error
}

func NewMockStore() *MockStore {
	return &MockStore{
		Clusters: make(map[string]domain.EventCluster),
		Zones:    make(map[string]domain.ConflictZoneState),
	}
}

func (m *MockStore) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.EventCluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, q)
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	var out []domain.EventCluster
	for _, c := range m.Clusters {
		ts := c.PrimaryEvent.EstimatedTimestamp
		if ts.Before(q.From) || ts.After(q.To) {
			continue
		}
		if q.Language != "" && c.Language() != q.Language {
			continue
		}
		if q.ExcludeLanguage != "" && c.Language() == q.ExcludeLanguage {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MockStore) GetCluster(ctx context.Context, clusterID string) (*domain.EventCluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Clusters[clusterID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c = c.Clone()
	return &c, nil
}

func (m *MockStore) FindClusterByMember(ctx context.Context, eventID string) (*domain.EventCluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MemberLookups++
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	for _, c := range m.Clusters {
		if c.HasMember(eventID) {
			c = c.Clone()
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockStore) GetZoneStates(ctx context.Context, zoneIDs []string) (map[string]domain.ConflictZoneState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ZoneErr != nil {
		return nil, m.ZoneErr
	}
	out := make(map[string]domain.ConflictZoneState)
	for _, id := range zoneIDs {
		if z, ok := m.Zones[id]; ok {
			z.ContributingEventIDs = append([]string(nil), z.ContributingEventIDs...)
			out[id] = z
		}
	}
	return out, nil
}

func (m *MockStore) PersistCycle(ctx context.Context, clusters []domain.EventCluster, zones []domain.ConflictZoneState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistCalls++
	if len(m.PersistErrs) > 0 {
		err := m.PersistErrs[0]
		m.PersistErrs = m.PersistErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, c := range clusters {
		m.Clusters[c.ClusterID] = c.Clone()
	}
	for _, z := range zones {
		m.Zones[z.ZoneID] = z
	}
	return nil
}

// MockSeenRepository is a mock implementation of domain.SeenRepository.
type MockSeenRepository struct {
	mu      sync.Mutex
	IDs     map[string]bool
	SeenErr error
	MarkErr error
}

func (m *MockSeenRepository) Seen(ctx context.Context, eventIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SeenErr != nil {
		return nil, m.SeenErr
	}
	out := make(map[string]bool)
	for _, id := range eventIDs {
		if m.IDs[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MockSeenRepository) MarkSeen(ctx context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	if m.IDs == nil {
		m.IDs = make(map[string]bool)
	}
	for _, id := range eventIDs {
		m.IDs[id] = true
	}
	return nil
}

// MockZoneLocker records lock order.
type MockZoneLocker struct {
	mu       sync.Mutex
	Locked   []string
	Released []string
	LockErr  error
}

func (m *MockZoneLocker) Lock(ctx context.Context, zoneID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LockErr != nil {
		return nil, m.LockErr
	}
	m.Locked = append(m.Locked, zoneID)
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.Released = append(m.Released, zoneID)
			m.mu.Unlock()
		})
	}, nil
}

// MockEmbedder returns fixed vectors keyed by event id.
type MockEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float64
	Err     error
	Calls   int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vectors[text], nil
}

func (m *MockEmbedder) EmbedEvent(ctx context.Context, event domain.RawEvent) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	v, ok := m.Vectors[event.ID]
	if !ok {
		return nil, domain.ErrEmbeddingUnavailable
	}
	return append([]float64(nil), v...), nil
}

// MockPublisher is a mock implementation of domain.UpdatePublisher.
type MockPublisher struct {
	mu       sync.Mutex
	Clusters []domain.EventCluster
	Zones    []domain.ConflictZoneState
	Err      error
}

func (m *MockPublisher) PublishClusters(ctx context.Context, clusters []domain.EventCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Clusters = append(m.Clusters, clusters...)
	return nil
}

func (m *MockPublisher) PublishZoneStates(ctx context.Context, zones []domain.ConflictZoneState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Zones = append(m.Zones, zones...)
	return nil
}

// MockCollectorKeyRepository is a mock implementation of domain.CollectorKeyRepository.
type MockCollectorKeyRepository struct {
	Keys map[string]string
	Err  error
}

func (m *MockCollectorKeyRepository) Lookup(ctx context.Context, key string) (string, bool, error) {
	if m.Err != nil {
		return "", false, m.Err
	}
	name, ok := m.Keys[key]
	return name, ok, nil
}

// MockWALRepository is a mock implementation of domain.WALRepository.
type MockWALRepository struct {
	mu            sync.Mutex
	WrittenEvents []domain.RawEvent
	WriteErr      error
}

func (m *MockWALRepository) Write(ctx context.Context, event domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.WrittenEvents = append(m.WrittenEvents, event)
	return nil
}

func (m *MockWALRepository) Replay(ctx context.Context, handler func(event domain.RawEvent) error) error {
	m.mu.Lock()
	events := append([]domain.RawEvent(nil), m.WrittenEvents...)
	m.mu.Unlock()
	for _, e := range events {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockWALRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WrittenEvents = nil
	return nil
}

// MockStreamAdminRepository is a mock implementation of domain.StreamAdminRepository.
type MockStreamAdminRepository struct {
	Groups     []domain.ConsumerGroupInfo
	Summary    *domain.PendingMessageSummary
	Pending    []domain.PendingMessageDetail
	Claimed    []domain.RawEvent
	AckCount   int64
	Trimmed    int64
	Quarantine []domain.QuarantineEntry
	Err        error

	LastClaimIdle time.Duration
}

func (m *MockStreamAdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	return m.Groups, m.Err
}

func (m *MockStreamAdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	return m.Summary, m.Err
}

func (m *MockStreamAdminRepository) GetPendingMessages(ctx context.Context, stream, group, consumer, startID string, count int64) ([]domain.PendingMessageDetail, error) {
	return m.Pending, m.Err
}

func (m *MockStreamAdminRepository) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, messageIDs []string) ([]domain.RawEvent, error) {
	m.LastClaimIdle = minIdle
	return m.Claimed, m.Err
}

func (m *MockStreamAdminRepository) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	return m.AckCount, m.Err
}

func (m *MockStreamAdminRepository) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return m.Trimmed, m.Err
}

func (m *MockStreamAdminRepository) ReadQuarantine(ctx context.Context, stream string, count int64) ([]domain.QuarantineEntry, error) {
	return m.Quarantine, m.Err
}
