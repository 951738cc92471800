package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/escalation"
)

// QueryUseCase serves read-only views of engine output.
type QueryUseCase struct {
	clusters domain.ClusterRepository
	zones    domain.ZoneStateRepository
	tracker  *escalation.Tracker
	clock    func() time.Time
}

// NewQueryUseCase creates a new QueryUseCase.
func NewQueryUseCase(clusters domain.ClusterRepository, zones domain.ZoneStateRepository, tracker *escalation.Tracker) *QueryUseCase {
	return &QueryUseCase{
		clusters: clusters,
		zones:    zones,
		tracker:  tracker,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// GetZone returns a zone's state as it reads now. The stored score is the
// value at the last cycle; decay since then is applied to the returned copy.
func (uc *QueryUseCase) GetZone(ctx context.Context, zoneID string) (*domain.ConflictZoneState, error) {
	id := domain.NormalizeZone(zoneID)
	states, err := uc.zones.GetZoneStates(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	state, ok := states[id]
	if !ok {
		return nil, fmt.Errorf("zone %q: %w", id, domain.ErrNotFound)
	}
	view := uc.tracker.View(state, uc.clock())
	return &view, nil
}

// GetCluster returns a stored cluster.
func (uc *QueryUseCase) GetCluster(ctx context.Context, clusterID string) (*domain.EventCluster, error) {
	return uc.clusters.GetCluster(ctx, clusterID)
}
