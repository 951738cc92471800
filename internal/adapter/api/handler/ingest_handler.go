package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/argos/internal/adapter/api/middleware"
	"github.com/V4T54L/argos/internal/adapter/metrics"
	"github.com/V4T54L/argos/internal/domain"
)

// EventIngester accepts one extracted event.
type EventIngester interface {
	Ingest(ctx context.Context, event *domain.RawEvent) error
}

// IngestHandler handles HTTP requests for event ingestion.
type IngestHandler struct {
	useCase      EventIngester
	logger       *slog.Logger
	maxEventSize int64
	metrics      *metrics.IngestMetrics
}

// NewIngestHandler creates a new IngestHandler. maxEventSize bounds the
// whole request body.
func NewIngestHandler(uc EventIngester, logger *slog.Logger, maxEventSize int64, m *metrics.IngestMetrics) *IngestHandler {
	return &IngestHandler{
		useCase:      uc,
		logger:       logger.With("component", "ingest_handler"),
		maxEventSize: maxEventSize,
		metrics:      m,
	}
}

type ingestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// ServeHTTP accepts a single JSON event or an NDJSON batch.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" && mediaType != "application/x-ndjson" {
		h.count("error_media_type", 1)
		http.Error(w, "Unsupported Media Type: "+r.Header.Get("Content-Type"), http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)
	body := &countingReader{r: r.Body}
	defer func() {
		if h.metrics != nil {
			h.metrics.BytesTotal.Add(float64(body.n))
		}
	}()

	if mediaType == "application/json" {
		h.handleSingleJSON(w, r, body)
		return
	}
	h.handleNDJSON(w, r, body)
}

func (h *IngestHandler) handleSingleJSON(w http.ResponseWriter, r *http.Request, body io.Reader) {
	var event domain.RawEvent
	if err := json.NewDecoder(body).Decode(&event); err != nil {
		h.decodeFailure(w, err, "Bad Request: Failed to decode JSON")
		return
	}

	if err := h.useCase.Ingest(r.Context(), &event); err != nil {
		h.ingestFailure(w, r, err, &event)
		return
	}
	h.count("accepted", 1)
	w.WriteHeader(http.StatusAccepted)
}

// handleNDJSON ingests each line on its own. A malformed line rejects the
// request from that point; events failing validation are reported and
// skipped.
func (h *IngestHandler) handleNDJSON(w http.ResponseWriter, r *http.Request, body io.Reader) {
	var res ingestResult
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(h.maxEventSize))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event domain.RawEvent
		if err := json.Unmarshal(line, &event); err != nil {
			h.decodeFailure(w, err, "Bad Request: Failed to decode NDJSON line")
			return
		}

		err := h.useCase.Ingest(r.Context(), &event)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, domain.ErrInvalidEvent):
			res.Rejected++
			res.Errors = append(res.Errors, err.Error())
		default:
			h.ingestFailure(w, r, err, &event)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		h.decodeFailure(w, err, "Bad Request: Failed to read NDJSON stream")
		return
	}

	h.count("accepted", res.Accepted)
	h.count("error_validation", res.Rejected)
	respondWithJSON(w, http.StatusAccepted, res)
}

func (h *IngestHandler) decodeFailure(w http.ResponseWriter, err error, msg string) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		h.count("error_size", 1)
		http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
		return
	}
	h.count("error_parse", 1)
	http.Error(w, msg, http.StatusBadRequest)
}

func (h *IngestHandler) ingestFailure(w http.ResponseWriter, r *http.Request, err error, event *domain.RawEvent) {
	if errors.Is(err, domain.ErrInvalidEvent) {
		h.count("error_validation", 1)
		http.Error(w, "Unprocessable Entity: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.count("error_buffer", 1)
	h.logger.Error("failed to ingest event", "error", err, "event_id", event.ID,
		"collector", middleware.CollectorFromContext(r.Context()))
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (h *IngestHandler) count(status string, n int) {
	if h.metrics != nil && n > 0 {
		h.metrics.EventsTotal.WithLabelValues(status).Add(float64(n))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
