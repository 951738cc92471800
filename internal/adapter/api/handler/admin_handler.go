package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/usecase"
)

// AdminHandler handles HTTP requests for engine queries and stream administration.
type AdminHandler struct {
	streams *usecase.EventStreamAdminUseCase
	query   *usecase.QueryUseCase
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(streams *usecase.EventStreamAdminUseCase, query *usecase.QueryUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{streams: streams, query: query, logger: logger.With("component", "admin_handler")}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetZone returns a zone's escalation state with decay applied up to now.
// GET /admin/zones/{zoneID}
func (h *AdminHandler) GetZone(w http.ResponseWriter, r *http.Request) {
	zone, err := h.query.GetZone(r.Context(), chi.URLParam(r, "zoneID"))
	if err != nil {
		h.fail(w, "failed to get zone", err)
		return
	}
	respondWithJSON(w, http.StatusOK, zone)
}

// GET /admin/clusters/{clusterID}
func (h *AdminHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := h.query.GetCluster(r.Context(), chi.URLParam(r, "clusterID"))
	if err != nil {
		h.fail(w, "failed to get cluster", err)
		return
	}
	respondWithJSON(w, http.StatusOK, cluster)
}

// ReadQuarantine lists recently quarantined events.
// GET /admin/quarantine?count={count}
func (h *AdminHandler) ReadQuarantine(w http.ResponseWriter, r *http.Request) {
	count, ok := queryInt(w, r, "count")
	if !ok {
		return
	}
	entries, err := h.streams.ReadQuarantine(r.Context(), count)
	if err != nil {
		h.fail(w, "failed to read quarantine", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// GET /admin/streams/{stream}/groups
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	groups, err := h.streams.GetGroupInfo(r.Context(), chi.URLParam(r, "stream"))
	if err != nil {
		h.fail(w, "failed to get group info", err)
		return
	}
	respondWithJSON(w, http.StatusOK, groups)
}

// GET /admin/streams/{stream}/groups/{group}/pending
func (h *AdminHandler) GetPendingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.streams.GetPendingSummary(r.Context(), chi.URLParam(r, "stream"), chi.URLParam(r, "group"))
	if err != nil {
		h.fail(w, "failed to get pending summary", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// GetPendingMessages lists pending deliveries.
// GET /admin/streams/{stream}/groups/{group}/pending/messages?consumer=&start=&count=
func (h *AdminHandler) GetPendingMessages(w http.ResponseWriter, r *http.Request) {
	count, ok := queryInt(w, r, "count")
	if !ok {
		return
	}
	q := r.URL.Query()
	messages, err := h.streams.GetPendingMessages(r.Context(),
		chi.URLParam(r, "stream"), chi.URLParam(r, "group"),
		q.Get("consumer"), q.Get("start"), count)
	if err != nil {
		h.fail(w, "failed to get pending messages", err)
		return
	}
	respondWithJSON(w, http.StatusOK, messages)
}

// ClaimMessages reassigns pending deliveries to another consumer.
// POST /admin/streams/{stream}/groups/{group}/claim
func (h *AdminHandler) ClaimMessages(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Consumer    string   `json:"consumer"`
		MinIdleTime string   `json:"min_idle_time"`
		MessageIDs  []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var minIdle time.Duration
	if payload.MinIdleTime != "" {
		d, err := time.ParseDuration(payload.MinIdleTime)
		if err != nil {
			http.Error(w, "invalid min_idle_time format", http.StatusBadRequest)
			return
		}
		minIdle = d
	}

	claimed, err := h.streams.ClaimMessages(r.Context(), chi.URLParam(r, "stream"), chi.URLParam(r, "group"),
		payload.Consumer, minIdle, payload.MessageIDs)
	if err != nil {
		h.fail(w, "failed to claim messages", err)
		return
	}
	respondWithJSON(w, http.StatusOK, claimed)
}

// POST /admin/streams/{stream}/groups/{group}/ack
func (h *AdminHandler) AcknowledgeMessages(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.streams.AcknowledgeMessages(r.Context(), chi.URLParam(r, "stream"), chi.URLParam(r, "group"), payload.MessageIDs...)
	if err != nil {
		h.fail(w, "failed to acknowledge messages", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"acknowledged": n})
}

// POST /admin/streams/{stream}/trim
func (h *AdminHandler) TrimStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MaxLen int64 `json:"maxlen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trimmed, err := h.streams.TrimStream(r.Context(), chi.URLParam(r, "stream"), payload.MaxLen)
	if err != nil {
		h.fail(w, "failed to trim stream", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"trimmed": trimmed})
}

func (h *AdminHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads an optional integer query parameter; it writes a 400 and
// returns false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid "+name+" parameter", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
