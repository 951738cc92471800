package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/V4T54L/argos/internal/domain/mocks"
)

func TestAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &mocks.MockCollectorKeyRepository{Keys: map[string]string{"valid-key": "rss-poller"}}

	var gotCollector string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCollector = CollectorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Auth(repo, logger)(next)

	tests := []struct {
		name           string
		key            string
		repoErr        error
		expectedStatus int
		expectedName   string
	}{
		{name: "Valid Key", key: "valid-key", expectedStatus: http.StatusNoContent, expectedName: "rss-poller"},
		{name: "Missing Key", expectedStatus: http.StatusUnauthorized},
		{name: "Unknown Key", key: "nope", expectedStatus: http.StatusUnauthorized},
		{name: "Repository Error", key: "valid-key", repoErr: errors.New("db down"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCollector = ""
			repo.Err = tt.repoErr

			req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if gotCollector != tt.expectedName {
				t.Errorf("expected collector %q, got %q", tt.expectedName, gotCollector)
			}
		})
	}
}

func TestCollectorFromContext_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if got := CollectorFromContext(req.Context()); got != "" {
		t.Errorf("expected empty collector, got %q", got)
	}
}
