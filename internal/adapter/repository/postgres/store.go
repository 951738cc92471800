package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/V4T54L/argos/internal/domain"
)

const (
	clustersTable = "event_clusters"
	zonesTable    = "conflict_zones"
)

// Store is the cluster and zone store. Candidate lookups use pgvector's
// cosine distance operator on cluster centroids.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a new PostgreSQL cluster and zone store.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "postgres_store")}
}

// Migrate creates the schema. dims fixes the centroid vector width.
func (s *Store) Migrate(ctx context.Context, dims int) error {
	if dims <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cluster_id          TEXT PRIMARY KEY,
			primary_event       JSONB NOT NULL,
			primary_ts          TIMESTAMPTZ NOT NULL,
			language            TEXT NOT NULL DEFAULT '',
			zone_id             TEXT NOT NULL DEFAULT '',
			member_event_ids    TEXT[] NOT NULL,
			member_similarities DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
			source_count        INTEGER NOT NULL,
			source_diversity    DOUBLE PRECISION NOT NULL,
			confidence          DOUBLE PRECISION NOT NULL,
			languages           TEXT[] NOT NULL DEFAULT '{}',
			centroid            vector(%d),
			embedded_count      INTEGER NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ NOT NULL,
			last_updated_at     TIMESTAMPTZ NOT NULL
		)`, clustersTable, dims),
		`CREATE INDEX IF NOT EXISTS event_clusters_primary_ts_idx ON ` + clustersTable + ` (primary_ts)`,
		`CREATE INDEX IF NOT EXISTS event_clusters_zone_idx ON ` + clustersTable + ` (zone_id)`,
		`CREATE INDEX IF NOT EXISTS event_clusters_members_idx ON ` + clustersTable + ` USING GIN (member_event_ids)`,
		`CREATE TABLE IF NOT EXISTS ` + zonesTable + ` (
			zone_id                TEXT PRIMARY KEY,
			current_score          DOUBLE PRECISION NOT NULL,
			peak_score             DOUBLE PRECISION NOT NULL,
			last_updated           TIMESTAMPTZ NOT NULL,
			contributing_event_ids TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS collector_keys (
			key        TEXT PRIMARY KEY,
			collector  TEXT NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT true,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.logger.Info("schema migrated", "dims", dims)
	return nil
}

const clusterColumns = `cluster_id, primary_event, member_event_ids, member_similarities, source_count,
	source_diversity, confidence, languages, centroid::text, embedded_count, created_at, last_updated_at`

// FindCandidates returns clusters whose primary event falls inside the query
// window, nearest centroid first when the query carries an embedding.
func (s *Store) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.EventCluster, error) {
	query, args := candidateQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.EventCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func candidateQuery(q domain.CandidateQuery) (string, []any) {
	var b strings.Builder
	args := []any{q.From, q.To}
	b.WriteString(`SELECT ` + clusterColumns + ` FROM ` + clustersTable + ` WHERE primary_ts BETWEEN $1 AND $2`)
	if q.Language != "" {
		args = append(args, q.Language)
		fmt.Fprintf(&b, ` AND language = $%d`, len(args))
	}
	if q.ExcludeLanguage != "" {
		args = append(args, q.ExcludeLanguage)
		fmt.Fprintf(&b, ` AND language <> $%d`, len(args))
	}
	if len(q.Embedding) > 0 {
		args = append(args, vectorLiteral(q.Embedding))
		fmt.Fprintf(&b, ` ORDER BY centroid <=> $%d::vector NULLS LAST, last_updated_at DESC`, len(args))
	} else {
		b.WriteString(` ORDER BY last_updated_at DESC`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args
}

// GetCluster returns domain.ErrNotFound when no such cluster exists.
func (s *Store) GetCluster(ctx context.Context, clusterID string) (*domain.EventCluster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM `+clustersTable+` WHERE cluster_id = $1`, clusterID)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster %q: %w", clusterID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindClusterByMember returns the cluster holding eventID. The containment
// operator lets the lookup use the GIN index on member_event_ids.
func (s *Store) FindClusterByMember(ctx context.Context, eventID string) (*domain.EventCluster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM `+clustersTable+`
		WHERE member_event_ids @> ARRAY[$1]::text[] ORDER BY created_at LIMIT 1`, eventID)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %q: %w", eventID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster by member: %w", err)
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCluster(row scanner) (domain.EventCluster, error) {
	var (
		c        domain.EventCluster
		primary  []byte
		centroid sql.NullString
	)
	err := row.Scan(&c.ClusterID, &primary, pq.Array(&c.MemberEventIDs), pq.Array(&c.MemberSimilarities),
		&c.SourceCount, &c.SourceDiversityScore, &c.Confidence, pq.Array(&c.Languages), &centroid,
		&c.EmbeddedCount, &c.CreatedAt, &c.LastUpdatedAt)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(primary, &c.PrimaryEvent); err != nil {
		return c, fmt.Errorf("cluster %s: decode primary event: %w", c.ClusterID, err)
	}
	if centroid.Valid {
		if c.Centroid, err = parseVector(centroid.String); err != nil {
			return c, fmt.Errorf("cluster %s: %w", c.ClusterID, err)
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastUpdatedAt = c.LastUpdatedAt.UTC()
	return c, nil
}

// GetZoneStates returns stored states for the given zones.
func (s *Store) GetZoneStates(ctx context.Context, zoneIDs []string) (map[string]domain.ConflictZoneState, error) {
	out := make(map[string]domain.ConflictZoneState, len(zoneIDs))
	if len(zoneIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT zone_id, current_score, peak_score, last_updated, contributing_event_ids
		FROM `+zonesTable+` WHERE zone_id = ANY($1)`, pq.Array(zoneIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query zone states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var z domain.ConflictZoneState
		if err := rows.Scan(&z.ZoneID, &z.CurrentEscalationScore, &z.PeakScore, &z.LastUpdated, pq.Array(&z.ContributingEventIDs)); err != nil {
			return nil, err
		}
		z.LastUpdated = z.LastUpdated.UTC()
		out[z.ZoneID] = z
	}
	return out, rows.Err()
}

// PersistCycle upserts a cycle's clusters and zone states in one transaction.
// Rows are staged with COPY into temp tables and merged with ON CONFLICT, so
// re-persisting the same cycle is idempotent.
func (s *Store) PersistCycle(ctx context.Context, clusters []domain.EventCluster, zones []domain.ConflictZoneState) error {
	if len(clusters) == 0 && len(zones) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if len(clusters) > 0 {
		if err := copyClusters(ctx, txn, clusters); err != nil {
			return fmt.Errorf("persist clusters: %w", err)
		}
	}
	if len(zones) > 0 {
		if err := copyZones(ctx, txn, zones); err != nil {
			return fmt.Errorf("persist zones: %w", err)
		}
	}
	return txn.Commit()
}

func copyClusters(ctx context.Context, txn *sql.Tx, clusters []domain.EventCluster) error {
	const temp = "event_clusters_import"
	if _, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+temp+` (LIKE `+clustersTable+` INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return err
	}
	stmt, err := txn.Prepare(pq.CopyIn(temp, "cluster_id", "primary_event", "primary_ts", "language", "zone_id",
		"member_event_ids", "member_similarities", "source_count", "source_diversity", "confidence",
		"languages", "centroid", "embedded_count", "created_at", "last_updated_at"))
	if err != nil {
		return err
	}
	for _, c := range clusters {
		primary, err := json.Marshal(c.PrimaryEvent)
		if err != nil {
			_ = stmt.Close()
			return fmt.Errorf("cluster %s: encode primary event: %w", c.ClusterID, err)
		}
		var centroid any
		if len(c.Centroid) > 0 {
			centroid = vectorLiteral(c.Centroid)
		}
		_, err = stmt.ExecContext(ctx, c.ClusterID, string(primary), c.PrimaryEvent.EstimatedTimestamp, c.Language(), c.ZoneID(),
			pq.Array(c.MemberEventIDs), pq.Array(nonNil(c.MemberSimilarities)), c.SourceCount, c.SourceDiversityScore,
			c.Confidence, pq.Array(nonNilStrings(c.Languages)), centroid, c.EmbeddedCount, c.CreatedAt, c.LastUpdatedAt)
		if err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	// created_at is never overwritten.
	_, err = txn.ExecContext(ctx, `
		INSERT INTO `+clustersTable+` SELECT * FROM `+temp+`
		ON CONFLICT (cluster_id) DO UPDATE SET
			primary_event = EXCLUDED.primary_event,
			primary_ts = EXCLUDED.primary_ts,
			language = EXCLUDED.language,
			zone_id = EXCLUDED.zone_id,
			member_event_ids = EXCLUDED.member_event_ids,
			member_similarities = EXCLUDED.member_similarities,
			source_count = EXCLUDED.source_count,
			source_diversity = EXCLUDED.source_diversity,
			confidence = EXCLUDED.confidence,
			languages = EXCLUDED.languages,
			centroid = EXCLUDED.centroid,
			embedded_count = EXCLUDED.embedded_count,
			last_updated_at = EXCLUDED.last_updated_at`)
	return err
}

func copyZones(ctx context.Context, txn *sql.Tx, zones []domain.ConflictZoneState) error {
	const temp = "conflict_zones_import"
	if _, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+temp+` (LIKE `+zonesTable+` INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return err
	}
	stmt, err := txn.Prepare(pq.CopyIn(temp, "zone_id", "current_score", "peak_score", "last_updated", "contributing_event_ids"))
	if err != nil {
		return err
	}
	for _, z := range zones {
		if _, err := stmt.ExecContext(ctx, z.ZoneID, z.CurrentEscalationScore, z.PeakScore, z.LastUpdated,
			pq.Array(nonNilStrings(z.ContributingEventIDs))); err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	_, err = txn.ExecContext(ctx, `
		INSERT INTO `+zonesTable+` SELECT * FROM `+temp+`
		ON CONFLICT (zone_id) DO UPDATE SET
			current_score = EXCLUDED.current_score,
			peak_score = EXCLUDED.peak_score,
			last_updated = EXCLUDED.last_updated,
			contributing_event_ids = EXCLUDED.contributing_event_ids`)
	return err
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float64) string {
	var b strings.Builder
	b.Grow(len(v) * 8)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		out[i] = f
	}
	return out, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
