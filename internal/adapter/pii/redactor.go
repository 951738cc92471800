package pii

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/V4T54L/argos/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor strips personal fields, such as author handles scraped from
// social feeds, out of an event's metadata before it is buffered.
type Redactor struct {
	// Each path is a dotted field path into the metadata object.
	paths  [][]string
	logger *slog.Logger
}

// NewRedactor creates a Redactor for the given field paths. A path may name a
// nested field, e.g. "author.handle".
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	seen := make(map[string]struct{}, len(fields))
	paths := make([][]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		paths = append(paths, strings.Split(field, "."))
	}
	return &Redactor{paths: paths, logger: logger}
}

// Redact rewrites event.Metadata in place. It returns an error if the
// metadata is not a JSON object.
func (r *Redactor) Redact(event *domain.RawEvent) error {
	if len(r.paths) == 0 || len(event.Metadata) == 0 {
		return nil
	}

	var metadata map[string]any
	if err := json.Unmarshal(event.Metadata, &metadata); err != nil {
		r.logger.Warn("failed to unmarshal metadata for PII redaction", "error", err, "event_id", event.ID)
		return err
	}

	redacted := false
	for _, path := range r.paths {
		if redactPath(metadata, path) {
			redacted = true
		}
	}
	if !redacted {
		return nil
	}

	modified, err := json.Marshal(metadata)
	if err != nil {
		r.logger.Error("failed to marshal metadata after PII redaction", "error", err, "event_id", event.ID)
		return err
	}
	event.Metadata = modified
	event.MetadataRedacted = true
	return nil
}

func redactPath(obj map[string]any, path []string) bool {
	v, ok := obj[path[0]]
	if !ok {
		return false
	}
	if len(path) == 1 {
		obj[path[0]] = RedactedPlaceholder
		return true
	}
	switch child := v.(type) {
	case map[string]any:
		return redactPath(child, path[1:])
	case []any:
		hit := false
		for _, item := range child {
			if m, ok := item.(map[string]any); ok && redactPath(m, path[1:]) {
				hit = true
			}
		}
		return hit
	}
	return false
}
