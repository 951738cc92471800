package domain

import "errors"

// Error taxonomy. Every failure in a cycle maps to one of these kinds and is
// counted under ErrorKind's name in the cycle summary.
var (
	ErrEmbeddingUnavailable      = errors.New("embedding unavailable")
	ErrExternalClusteringFailure = errors.New("external clustering failure")
	ErrTemporalAmbiguous         = errors.New("temporal expression ambiguous")
	ErrInvalidVectorDimension    = errors.New("invalid vector dimension")
	ErrStoreUnavailable          = errors.New("store unavailable")
	ErrInvalidEvent              = errors.New("invalid event")
	ErrAlreadyMember             = errors.New("event already merged")
	ErrNotFound                  = errors.New("not found")
)

// Counter names used in CycleSummary.Errors and the cycle_errors_total metric.
const (
	KindEmbeddingUnavailable = "embedding_unavailable"
	KindExternalClustering   = "external_clustering_failure"
	KindTemporalAmbiguous    = "temporal_ambiguous"
	KindInvalidVector        = "invalid_vector_dimension"
	KindStoreUnavailable     = "store_unavailable"
	KindInvalidEvent         = "invalid_event"
	KindQuarantine           = "quarantine_failure"
	KindMerge                = "merge_failure"
	KindSeen                 = "seen_set_failure"
	KindAck                  = "ack_failure"
	KindPublish              = "publish_failure"
	KindUnknown              = "unknown"
)

// ErrorKind maps err to its counter name.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmbeddingUnavailable):
		return KindEmbeddingUnavailable
	case errors.Is(err, ErrExternalClusteringFailure):
		return KindExternalClustering
	case errors.Is(err, ErrTemporalAmbiguous):
		return KindTemporalAmbiguous
	case errors.Is(err, ErrInvalidVectorDimension):
		return KindInvalidVector
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrInvalidEvent):
		return KindInvalidEvent
	}
	return KindUnknown
}
