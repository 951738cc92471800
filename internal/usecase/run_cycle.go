package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/argos/internal/clustering"
	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/escalation"
	"github.com/V4T54L/argos/internal/similarity"
	"github.com/V4T54L/argos/internal/temporal"
)

const (
	defaultBatchSize    = 1000
	defaultRetryCount   = 3
	defaultRetryBackoff = 1 * time.Second
)

// CycleConfig holds the orchestration tunables.
type CycleConfig struct {
	BatchSize      int
	EmbeddingDims  int
	MaxConcurrency int
	RetryCount     int
	RetryBackoff   time.Duration
}

// CycleObserver receives per-cycle measurements. The metrics adapter
// implements it.
type CycleObserver interface {
	ObserveCycle(summary domain.CycleSummary, mode string)
	ObserveZone(zone domain.ConflictZoneState)
}

// RunCycleDeps are the collaborators of one engine cycle. Embedder, Publisher
// and Observer are optional.
type RunCycleDeps struct {
	Source     domain.EventSource
	Quarantine domain.EventQuarantine
	Zones      domain.ZoneStateRepository
	Writer     domain.CycleWriter
	Seen       domain.SeenRepository
	Locker     domain.ZoneLocker
	Embedder   domain.Embedder
	Publisher  domain.UpdatePublisher
	Observer   CycleObserver

	Resolver   *temporal.Resolver
	Similarity *similarity.Engine
	Clustering *clustering.Engine
	Tracker    *escalation.Tracker

	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// RunCycleUseCase runs one batch cycle: collect, embed, deduplicate, cluster,
// escalate, persist and finalize.
type RunCycleUseCase struct {
	deps   RunCycleDeps
	cfg    CycleConfig
	scorer escalation.Scorer
	tracer trace.Tracer
	logger *slog.Logger
}

// NewRunCycleUseCase creates the cycle orchestrator.
func NewRunCycleUseCase(deps RunCycleDeps, cfg CycleConfig, logger *slog.Logger) *RunCycleUseCase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Resolver == nil {
		deps.Resolver = temporal.NewResolver()
	}
	return &RunCycleUseCase{
		deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/V4T54L/argos/internal/usecase"),
		logger: logger.With("component", "cycle"),
	}
}

// cycle is the working state of one run. It is discarded after finalize.
type cycle struct {
	summary domain.CycleSummary
	now     time.Time
	mode    string

	events []domain.RawEvent
	// ack holds stream ids that are safe to acknowledge once the cycle is
	// durable.
	ack []string

	touched    map[string]domain.EventCluster
	touchOrder []string
	created    []domain.EventCluster
	contrib    map[string][]escalation.ScoredEvent
	accepted   []string

	zones   []domain.ConflictZoneState
	unlocks []func()
}

// RunCycle executes one cycle. A non-nil error means the cycle's output was
// not persisted and nothing was acknowledged; the scheduler should retry the
// whole cycle. Per-event failures never abort the cycle and are counted in
// the returned summary instead.
func (uc *RunCycleUseCase) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	now := uc.deps.Clock()
	c := &cycle{
		summary: domain.NewCycleSummary(uuid.NewString(), now),
		now:     now,
		touched: make(map[string]domain.EventCluster),
		contrib: make(map[string][]escalation.ScoredEvent),
	}
	defer c.release()

	ctx, span := uc.tracer.Start(ctx, "cycle.run", trace.WithAttributes(attribute.String("cycle.id", c.summary.CycleID)))
	defer span.End()

	log := uc.logger.With("cycle_id", c.summary.CycleID)
	phases := []struct {
		name string
		run  func(context.Context, *cycle) error
	}{
		{"collect", uc.collect},
		{"embed", uc.embed},
		{"dedup", uc.dedup},
		{"cluster", uc.cluster},
		{"escalate", uc.escalate},
		{"persist", uc.persist},
		{"finalize", uc.finalize},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return uc.finish(c, span, fmt.Errorf("cycle cancelled before %s: %w", p.name, err))
		}
		if err := uc.phase(ctx, p.name, c, p.run); err != nil {
			log.Error("Cycle failed", "phase", p.name, "error", err)
			return uc.finish(c, span, err)
		}
		if p.name == "collect" && len(c.events) == 0 && len(c.ack) == 0 {
			log.Debug("No events to process")
			return uc.finish(c, span, nil)
		}
	}

	log.Info("Cycle complete",
		"events_in", c.summary.EventsIn,
		"duplicates", c.summary.DuplicatesFound,
		"cross_lingual", c.summary.CrossLingualMatches,
		"new_clusters", c.summary.NewClusters,
		"clusters_updated", c.summary.ClustersUpdated,
		"zones_updated", c.summary.ZonesUpdated,
		"skipped", c.summary.Skipped,
		"errors", c.summary.ErrorCount(),
	)
	return uc.finish(c, span, nil)
}

func (uc *RunCycleUseCase) phase(ctx context.Context, name string, c *cycle, run func(context.Context, *cycle) error) error {
	ctx, span := uc.tracer.Start(ctx, "cycle."+name)
	defer span.End()
	if err := run(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (uc *RunCycleUseCase) finish(c *cycle, span trace.Span, err error) (domain.CycleSummary, error) {
	c.release()
	c.summary.FinishedAt = uc.deps.Clock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveCycle(c.summary, c.mode)
	}
	return c.summary, err
}

func (c *cycle) release() {
	for i := len(c.unlocks) - 1; i >= 0; i-- {
		c.unlocks[i]()
	}
	c.unlocks = nil
}

// collect reads the batch and applies the ingestion-boundary checks.
func (uc *RunCycleUseCase) collect(ctx context.Context, c *cycle) error {
	batch, err := uc.deps.Source.ReadEventBatch(ctx, uc.cfg.BatchSize)
	if err != nil {
		c.summary.RecordKind(domain.KindStoreUnavailable)
		return fmt.Errorf("read event batch: %w", err)
	}
	c.summary.EventsIn = len(batch)
	if len(batch) == 0 {
		return nil
	}

	var (
		bad     []domain.QuarantinedEvent
		badAcks []string
		valid   = make([]domain.RawEvent, 0, len(batch))
		inBatch = make(map[string]bool, len(batch))
	)
	for _, ev := range batch {
		err := ev.Validate(uc.cfg.EmbeddingDims)
		switch {
		case errors.Is(err, domain.ErrInvalidVectorDimension):
			uc.logger.Warn("Dropping malformed embedding", "event_id", ev.ID, "error", err)
			c.summary.RecordError(err)
			ev.Embedding = nil
		case err != nil:
			c.summary.RecordError(err)
			bad = append(bad, domain.QuarantinedEvent{Event: ev, Reason: err.Error()})
			badAcks = append(badAcks, ev.StreamMessageID)
			continue
		}
		if inBatch[ev.ID] {
			c.summary.Skipped++
			c.ack = append(c.ack, ev.StreamMessageID)
			continue
		}
		inBatch[ev.ID] = true
		valid = append(valid, ev)
	}

	if len(bad) > 0 {
		if err := uc.quarantine(ctx, bad); err != nil {
			uc.logger.Error("Failed to quarantine invalid events", "count", len(bad), "error", err)
			c.summary.RecordKind(domain.KindQuarantine)
		} else {
			c.ack = append(c.ack, badAcks...)
		}
	}

	valid = uc.filterSeen(ctx, c, valid)
	for i := range valid {
		uc.resolveTime(c, &valid[i])
	}
	c.events = valid
	return nil
}

func (uc *RunCycleUseCase) quarantine(ctx context.Context, bad []domain.QuarantinedEvent) error {
	if uc.deps.Quarantine == nil {
		return errors.New("no quarantine configured")
	}
	return uc.deps.Quarantine.Quarantine(ctx, bad)
}

// filterSeen drops events processed by an earlier cycle. When the seen-set
// fails, re-presented events are still caught by the store's membership
// lookup in dedup.
func (uc *RunCycleUseCase) filterSeen(ctx context.Context, c *cycle, events []domain.RawEvent) []domain.RawEvent {
	if uc.deps.Seen == nil || len(events) == 0 {
		return events
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	seen, err := uc.deps.Seen.Seen(ctx, ids)
	if err != nil {
		uc.logger.Warn("Seen-set lookup failed, processing batch unfiltered", "error", err)
		c.summary.RecordKind(domain.KindSeen)
		return events
	}
	out := events[:0]
	for _, ev := range events {
		if seen[ev.ID] {
			c.summary.Skipped++
			c.ack = append(c.ack, ev.StreamMessageID)
			continue
		}
		out = append(out, ev)
	}
	return out
}

// resolveTime fills in the timestamp of events that arrived with only time
// expressions, using the publication time as the reference.
func (uc *RunCycleUseCase) resolveTime(c *cycle, ev *domain.RawEvent) {
	if !ev.EstimatedTimestamp.IsZero() {
		if ev.Precision == "" {
			ev.Precision = domain.PrecisionExact
		}
		return
	}
	exprs := ev.TimeExpressions
	if len(exprs) == 0 {
		exprs = temporal.Extract(strings.TrimSpace(ev.Headline + ". " + ev.Summary))
	}
	res := uc.deps.Resolver.Resolve(exprs, ev.PublishedAt)
	ev.EstimatedTimestamp = res.Timestamp
	ev.Precision = res.Precision
	ev.TimeConfidence = res.Confidence
	if res.Ambiguous {
		c.summary.RecordError(domain.ErrTemporalAmbiguous)
	}
}

// embed fetches embeddings for events that arrived without one.
func (uc *RunCycleUseCase) embed(ctx context.Context, c *cycle) error {
	if uc.deps.Embedder == nil {
		return nil
	}
	errs := make([]error, len(c.events))
	g := new(errgroup.Group)
	g.SetLimit(uc.cfg.MaxConcurrency)
	for i := range c.events {
		ev := &c.events[i]
		if len(ev.Embedding) > 0 {
			continue
		}
		g.Go(func() error {
			vec, err := uc.deps.Embedder.EmbedEvent(ctx, *ev)
			switch {
			case err != nil:
				if !errors.Is(err, domain.ErrEmbeddingUnavailable) && !errors.Is(err, domain.ErrInvalidVectorDimension) {
					err = fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
				}
				errs[i] = err
			case uc.cfg.EmbeddingDims > 0 && len(vec) != uc.cfg.EmbeddingDims:
				errs[i] = fmt.Errorf("%w: got %d, want %d", domain.ErrInvalidVectorDimension, len(vec), uc.cfg.EmbeddingDims)
			default:
				ev.Embedding = vec
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			uc.logger.Warn("Embedding unavailable, continuing without vector signal", "event_id", c.events[i].ID, "error", err)
			c.summary.RecordError(err)
		}
	}
	return nil
}

type lookup struct {
	match        *similarity.Match
	crossLingual bool
}

// dedup matches each event against stored clusters. Lookups run in
// parallel; merges are applied serially in input order so two events
// matching the same cluster both land in it.
func (uc *RunCycleUseCase) dedup(ctx context.Context, c *cycle) error {
	results := make([]lookup, len(c.events))
	errs := make([]error, len(c.events))
	g := new(errgroup.Group)
	g.SetLimit(uc.cfg.MaxConcurrency)
	for i := range c.events {
		ev := &c.events[i]
		g.Go(func() error {
			results[i], errs[i] = uc.findDuplicate(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	var fresh []domain.RawEvent
	for i, ev := range c.events {
		if errs[i] != nil {
			c.summary.RecordError(errs[i])
		}
		m := results[i].match
		if m == nil {
			fresh = append(fresh, ev)
			continue
		}

		target, ok := c.touched[m.Cluster.ClusterID]
		if !ok {
			target = m.Cluster
		}
		updated, err := clustering.Absorb(target, ev, m.Score(), c.now)
		switch {
		case errors.Is(err, domain.ErrAlreadyMember):
			c.summary.Skipped++
			c.ack = append(c.ack, ev.StreamMessageID)
			continue
		case err != nil:
			uc.logger.Warn("Failed to merge duplicate, clustering it instead", "event_id", ev.ID, "cluster_id", target.ClusterID, "error", err)
			c.summary.RecordKind(domain.KindMerge)
			fresh = append(fresh, ev)
			continue
		}

		if !ok {
			c.touchOrder = append(c.touchOrder, updated.ClusterID)
		}
		c.touched[updated.ClusterID] = updated
		c.summary.DuplicatesFound++
		if results[i].crossLingual {
			c.summary.CrossLingualMatches++
		}
		uc.contribute(c, &ev, updated.ZoneID())
	}
	c.summary.ClustersUpdated = len(c.touched)
	c.events = fresh
	return nil
}

func (uc *RunCycleUseCase) findDuplicate(ctx context.Context, ev *domain.RawEvent) (lookup, error) {
	m, err := uc.deps.Similarity.FindDuplicate(ctx, ev, 0, 0)
	if err != nil {
		return lookup{}, err
	}
	if m != nil {
		return lookup{match: m}, nil
	}
	matches, err := uc.deps.Similarity.FindCrossLingualDuplicate(ctx, ev, 0, 0)
	if err != nil || len(matches) == 0 {
		return lookup{}, err
	}
	return lookup{match: &matches[0], crossLingual: true}, nil
}

// cluster groups the events that matched nothing stored.
func (uc *RunCycleUseCase) cluster(ctx context.Context, c *cycle) error {
	if len(c.events) == 0 {
		return nil
	}
	res := uc.deps.Clustering.Batch(ctx, c.events, c.now)
	c.mode = res.Mode
	if res.Degraded != nil {
		c.summary.RecordError(res.Degraded)
	}
	for i := 0; i < res.MergeFailures; i++ {
		c.summary.RecordKind(domain.KindMerge)
	}

	byID := make(map[string]*domain.RawEvent, len(c.events))
	for i := range c.events {
		byID[c.events[i].ID] = &c.events[i]
	}
	for _, cl := range res.Clusters {
		for _, id := range cl.MemberEventIDs {
			if ev, ok := byID[id]; ok {
				uc.contribute(c, ev, cl.ZoneID())
			}
		}
	}
	c.created = res.Clusters
	c.summary.NewClusters = len(res.Clusters)
	return nil
}

// contribute records an accepted event against its zone. An event without a
// country of its own counts toward its cluster's zone.
func (uc *RunCycleUseCase) contribute(c *cycle, ev *domain.RawEvent, clusterZone string) {
	c.accepted = append(c.accepted, ev.ID)
	c.ack = append(c.ack, ev.StreamMessageID)
	zone := ev.ZoneID()
	if zone == "" {
		zone = clusterZone
	}
	if zone == "" {
		return
	}
	c.contrib[zone] = append(c.contrib[zone], escalation.ScoredEvent{ID: ev.ID, Score: uc.scorer.Score(ev)})
}

// escalate locks every affected zone in sorted order, loads its state and
// applies the tracker. Locks are held until the cycle is persisted so that
// updates to one zone apply strictly in cycle order.
func (uc *RunCycleUseCase) escalate(ctx context.Context, c *cycle) error {
	if len(c.contrib) == 0 {
		return nil
	}
	zoneIDs := make([]string, 0, len(c.contrib))
	for id := range c.contrib {
		zoneIDs = append(zoneIDs, id)
	}
	sort.Strings(zoneIDs)

	if uc.deps.Locker != nil {
		for _, id := range zoneIDs {
			unlock, err := uc.deps.Locker.Lock(ctx, id)
			if err != nil {
				c.summary.RecordKind(domain.KindStoreUnavailable)
				return fmt.Errorf("lock zone %s: %w", id, err)
			}
			c.unlocks = append(c.unlocks, unlock)
		}
	}

	states, err := uc.deps.Zones.GetZoneStates(ctx, zoneIDs)
	if err != nil {
		c.summary.RecordKind(domain.KindStoreUnavailable)
		return fmt.Errorf("%w: load zone states: %w", domain.ErrStoreUnavailable, err)
	}
	for _, id := range zoneIDs {
		prev, ok := states[id]
		if !ok {
			prev = domain.NewZoneState(id, c.now)
		}
		next := uc.deps.Tracker.Update(prev, c.contrib[id], c.now)
		c.zones = append(c.zones, next)
		uc.logger.Debug("Zone updated", "zone_id", id, "score", next.CurrentEscalationScore, "events", len(c.contrib[id]))
	}
	c.summary.ZonesUpdated = len(c.zones)
	return nil
}

func (c *cycle) clusters() []domain.EventCluster {
	out := make([]domain.EventCluster, 0, len(c.touchOrder)+len(c.created))
	for _, id := range c.touchOrder {
		out = append(out, c.touched[id])
	}
	return append(out, c.created...)
}

// persist writes all clusters and zone states in one transaction.
func (uc *RunCycleUseCase) persist(ctx context.Context, c *cycle) error {
	clusters := c.clusters()
	if len(clusters) == 0 && len(c.zones) == 0 {
		return nil
	}
	if err := uc.writeWithRetry(ctx, clusters, c.zones); err != nil {
		c.summary.RecordKind(domain.KindStoreUnavailable)
		return fmt.Errorf("%w: persist cycle: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (uc *RunCycleUseCase) writeWithRetry(ctx context.Context, clusters []domain.EventCluster, zones []domain.ConflictZoneState) error {
	var lastErr error
	for i := 0; i < uc.cfg.RetryCount; i++ {
		err := uc.deps.Writer.PersistCycle(ctx, clusters, zones)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("Failed to persist cycle, retrying...", "attempt", i+1, "error", err)
		if i == uc.cfg.RetryCount-1 {
			break
		}
		select {
		case <-time.After(uc.cfg.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// finalize runs once the cycle is durable. Its failures are counted but do
// not fail the cycle: unacknowledged events are redelivered and skipped by
// membership checks.
func (uc *RunCycleUseCase) finalize(ctx context.Context, c *cycle) error {
	c.release()

	if uc.deps.Seen != nil && len(c.accepted) > 0 {
		if err := uc.deps.Seen.MarkSeen(ctx, c.accepted); err != nil {
			uc.logger.Warn("Failed to mark events seen", "count", len(c.accepted), "error", err)
			c.summary.RecordKind(domain.KindSeen)
		}
	}

	if ids := nonEmpty(c.ack); len(ids) > 0 {
		if err := uc.deps.Source.AcknowledgeEvents(ctx, ids...); err != nil {
			uc.logger.Error("Failed to acknowledge events", "count", len(ids), "error", err)
			c.summary.RecordKind(domain.KindAck)
		}
	}

	for _, z := range c.zones {
		if uc.deps.Observer != nil {
			uc.deps.Observer.ObserveZone(z)
		}
	}

	if uc.deps.Publisher == nil {
		return nil
	}
	if clusters := c.clusters(); len(clusters) > 0 {
		if err := uc.deps.Publisher.PublishClusters(ctx, clusters); err != nil {
			uc.logger.Warn("Failed to publish clusters", "count", len(clusters), "error", err)
			c.summary.RecordKind(domain.KindPublish)
		}
	}
	if len(c.zones) > 0 {
		if err := uc.deps.Publisher.PublishZoneStates(ctx, c.zones); err != nil {
			uc.logger.Warn("Failed to publish zone states", "count", len(c.zones), "error", err)
			c.summary.RecordKind(domain.KindPublish)
		}
	}
	return nil
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
