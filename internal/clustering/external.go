package clustering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

// ExternalConfig describes the out-of-process density clustering command.
type ExternalConfig struct {
	Command        string
	Args           []string
	MinClusterSize int
	MinSamples     int
	Metric         string
	Epsilon        float64
	UsePCA         bool
	Timeout        time.Duration
	TempDir        string
	Env            []string
}

// DefaultExternalConfig returns the density clustering defaults.
func DefaultExternalConfig() ExternalConfig {
	return ExternalConfig{
		MinClusterSize: 2,
		MinSamples:     1,
		Metric:         "euclidean",
		Epsilon:        0.3,
		Timeout:        60 * time.Second,
	}
}

// External delegates batch clustering to a subprocess. The request is
// written to a temp file passed as --data; the command prints either
// {"labels":[...]} or {"clusters":[{"cluster_id","event_ids"}],...}.
type External struct {
	cfg    ExternalConfig
	logger *slog.Logger
}

// NewExternal returns an out-of-process clustering algorithm.
func NewExternal(cfg ExternalConfig, logger *slog.Logger) *External {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExternalConfig().Timeout
	}
	return &External{cfg: cfg, logger: logger.With("component", "external_clustering")}
}

func (x *External) Name() string { return "external:" + x.cfg.Command }

type externalItem struct {
	ID        string           `json:"id"`
	Embedding []float64        `json:"embedding"`
	Metadata  externalMetadata `json:"metadata"`
	Features  []float64        `json:"features"`
}

type externalMetadata struct {
	Timestamp time.Time        `json:"timestamp"`
	Language  string           `json:"language,omitempty"`
	Country   string           `json:"country,omitempty"`
	Location  string           `json:"location,omitempty"`
	EventType domain.EventType `json:"event_type,omitempty"`
}

type externalResponse struct {
	Labels   []int `json:"labels"`
	Clusters []struct {
		ClusterID int      `json:"cluster_id"`
		EventIDs  []string `json:"event_ids"`
	} `json:"clusters"`
	NoiseCount *int `json:"noise_count"`
}

// Labels runs the command. Events without an embedding are not sent and are
// labelled -1. Every failure wraps domain.ErrExternalClusteringFailure.
func (x *External) Labels(ctx context.Context, events []domain.RawEvent) ([]int, error) {
	labels := make([]int, len(events))
	var (
		items []externalItem
		index []int
	)
	for i, ev := range events {
		labels[i] = -1
		if len(ev.Embedding) == 0 {
			continue
		}
		items = append(items, toItem(ev))
		index = append(index, i)
	}
	if len(items) == 0 {
		return labels, nil
	}

	out, err := x.run(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExternalClusteringFailure, err)
	}
	sub, err := parseResponse(out, items)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExternalClusteringFailure, err)
	}
	for k, i := range index {
		labels[i] = sub[k]
	}
	return labels, nil
}

func toItem(ev domain.RawEvent) externalItem {
	item := externalItem{
		ID:        ev.ID,
		Embedding: ev.Embedding,
		Metadata: externalMetadata{
			Timestamp: ev.EstimatedTimestamp,
			Language:  ev.Language,
			Country:   ev.Country,
			Location:  ev.LocationName,
			EventType: ev.EventType,
		},
		Features: []float64{0, 0, float64(ev.EstimatedTimestamp.Unix()) / 3600},
	}
	if ev.Coordinates != nil {
		item.Features[0], item.Features[1] = ev.Coordinates.Lat, ev.Coordinates.Lng
	}
	return item
}

func (x *External) run(ctx context.Context, items []externalItem) ([]byte, error) {
	f, err := os.CreateTemp(x.cfg.TempDir, "argos-cluster-*.json")
	if err != nil {
		return nil, fmt.Errorf("create request file: %w", err)
	}
	defer func() {
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			x.logger.Warn("Failed to remove clustering request file", "path", f.Name(), "error", err)
		}
	}()
	if err := json.NewEncoder(f).Encode(items); err != nil {
		f.Close()
		return nil, fmt.Errorf("write request file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close request file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	args := append(append([]string(nil), x.cfg.Args...),
		"--data", f.Name(),
		"--min-cluster-size", strconv.Itoa(x.cfg.MinClusterSize),
		"--min-samples", strconv.Itoa(x.cfg.MinSamples),
		"--metric", x.cfg.Metric,
		"--cluster-selection-epsilon", strconv.FormatFloat(x.cfg.Epsilon, 'f', -1, 64),
	)
	if x.cfg.UsePCA {
		args = append(args, "--use-pca")
	}
	cmd := exec.CommandContext(ctx, x.cfg.Command, args...)
	if len(x.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), x.cfg.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s", x.cfg.Timeout)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", x.cfg.Command, err, strings.TrimSpace(stderr.String()))
	}
	x.logger.Debug("External clustering finished", "items", len(items), "duration", time.Since(start))
	return stdout.Bytes(), nil
}

func parseResponse(out []byte, items []externalItem) ([]int, error) {
	var resp externalResponse
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return nil, fmt.Errorf("malformed output: %w", err)
	}

	switch {
	case resp.Labels != nil:
		if len(resp.Labels) != len(items) {
			return nil, fmt.Errorf("got %d labels for %d items", len(resp.Labels), len(items))
		}
		for _, l := range resp.Labels {
			if l < -1 {
				return nil, fmt.Errorf("invalid label %d", l)
			}
		}
		return resp.Labels, nil

	case resp.Clusters != nil || resp.NoiseCount != nil:
		pos := make(map[string]int, len(items))
		labels := make([]int, len(items))
		for i, it := range items {
			pos[it.ID] = i
			labels[i] = -1
		}
		for _, c := range resp.Clusters {
			if c.ClusterID < 0 {
				continue
			}
			for _, id := range c.EventIDs {
				i, ok := pos[id]
				if !ok {
					return nil, fmt.Errorf("unknown event id %q in output", id)
				}
				labels[i] = c.ClusterID
			}
		}
		return labels, nil
	}
	return nil, errors.New("output has neither labels nor clusters")
}
