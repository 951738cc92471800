package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

const (
	segmentPrefix = "segment-"
	segmentSuffix = ".log"
	filePerm      = 0644
	// Events carry embeddings, so lines are far longer than bufio's default.
	maxLineSize = 8 << 20
)

// ErrFull is returned when a write would push the WAL past its disk budget.
var ErrFull = errors.New("wal: max total size exceeded")

// WALRepository is a segmented, file-based write-ahead log of events that
// could not be buffered while redis was unreachable.
type WALRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
	seq            int
}

// NewWALRepository opens (or creates) a WAL in dir.
func NewWALRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &WALRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal_repository"),
	}

	total, err := w.calculateTotalSize()
	if err != nil {
		return nil, fmt.Errorf("failed to size WAL directory: %w", err)
	}
	w.totalSize = total

	if err := w.openLatestSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends an event to the current segment and syncs it to disk.
func (w *WALRepository) Write(ctx context.Context, event domain.RawEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	event.StreamMessageID = ""
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for WAL: %w", err)
	}
	data = append(data, '\n')

	if w.totalSize+int64(len(data)) > w.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrFull, w.totalSize, len(data), w.maxTotalSize)
	}

	if w.currentSegment == nil {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.currentSegment.Write(data)
	w.currentSize += int64(n)
	w.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to WAL segment: %w", err)
	}
	if err := w.currentSegment.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL segment: %w", err)
	}

	if w.currentSize >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			w.logger.Error("Failed to rotate WAL segment", "error", err)
		}
	}
	return nil
}

// Replay reads every segment in order and calls handler for each event. It
// stops at the first handler error so nothing is truncated past it.
func (w *WALRepository) Replay(ctx context.Context, handler func(event domain.RawEvent) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeCurrent()

	segments, err := w.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		w.logger.Info("WAL is empty, nothing to replay")
		return nil
	}
	w.logger.Info("Starting WAL replay", "segment_count", len(segments))

	replayed := 0
	for _, segmentPath := range segments {
		n, err := replaySegment(ctx, segmentPath, handler, w.logger)
		replayed += n
		if err != nil {
			return err
		}
	}

	w.logger.Info("WAL replay completed", "events", replayed)
	return nil
}

func replaySegment(ctx context.Context, path string, handler func(domain.RawEvent) error, logger *slog.Logger) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	n := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var event domain.RawEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			// A torn final line from a crash mid-write.
			logger.Warn("Failed to unmarshal event from WAL, skipping", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(event); err != nil {
			logger.Error("WAL replay handler failed, stopping replay", "event_id", event.ID, "error", err)
			return n, fmt.Errorf("replay handler failed: %w", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return n, nil
}

// Truncate removes all segments and starts a fresh one.
func (w *WALRepository) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeCurrent()

	segments, err := w.getSortedSegments()
	if err != nil {
		return err
	}
	for _, segmentPath := range segments {
		if err := os.Remove(segmentPath); err != nil {
			w.logger.Error("Failed to remove WAL segment", "path", segmentPath, "error", err)
		}
	}

	total, err := w.calculateTotalSize()
	if err != nil {
		return err
	}
	w.totalSize = total
	w.logger.Info("WAL truncated")
	return w.openLatestSegment()
}

// Size is the number of bytes currently held in the WAL.
func (w *WALRepository) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalSize
}

func (w *WALRepository) closeCurrent() {
	if w.currentSegment == nil {
		return
	}
	if err := w.currentSegment.Close(); err != nil {
		w.logger.Error("Failed to close WAL segment", "error", err)
	}
	w.currentSegment = nil
}

func (w *WALRepository) rotate() error {
	if w.currentSegment != nil {
		if err := w.currentSegment.Sync(); err != nil {
			w.logger.Error("Failed to sync WAL segment before rotating", "error", err)
		}
		w.closeCurrent()
	}

	// Fixed-width names keep lexical order equal to creation order.
	w.seq++
	segmentName := fmt.Sprintf("%s%020d-%06d%s", segmentPrefix, time.Now().UnixNano(), w.seq%1000000, segmentSuffix)
	path := filepath.Join(w.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new WAL segment %s: %w", path, err)
	}

	w.currentSegment = f
	w.currentSize = 0
	w.logger.Debug("Rotated to new WAL segment", "path", path)
	return nil
}

func (w *WALRepository) openLatestSegment() error {
	segments, err := w.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return w.rotate()
	}

	latestSegmentPath := segments[len(segments)-1]
	stat, err := os.Stat(latestSegmentPath)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latestSegmentPath, err)
	}
	if stat.Size() >= w.maxSegmentSize {
		return w.rotate()
	}

	f, err := os.OpenFile(latestSegmentPath, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latestSegmentPath, err)
	}
	w.currentSegment = f
	w.currentSize = stat.Size()
	w.logger.Info("Opened existing WAL segment", "path", latestSegmentPath, "size", w.currentSize)
	return nil
}

func (w *WALRepository) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (w *WALRepository) calculateTotalSize() (int64, error) {
	var totalSize int64
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), segmentPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		totalSize += info.Size()
	}
	return totalSize, nil
}

// Close closes the current segment.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentSegment != nil {
		err := w.currentSegment.Close()
		w.currentSegment = nil
		return err
	}
	return nil
}
