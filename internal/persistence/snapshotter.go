package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vanish.share/internal/metrics"
	"vanish.share/internal/store"
)

const DefaultInterval = 30 * time.Second

// Source is the registry side of a snapshot.
type Source interface {
	Snapshot() store.Document
	Restore(doc store.Document) error
	Version() uint64
}

type SnapshotterConfig struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Snapshotter periodically writes the registry to a Backend when it has
// changed since the last successful save.
type Snapshotter struct {
	source   Source
	backend  Backend
	codec    Codec
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu    sync.Mutex
	saved uint64
	dirty bool
}

func NewSnapshotter(source Source, backend Backend, codec Codec, cfg SnapshotterConfig) *Snapshotter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Snapshotter{
		source:   source,
		backend:  backend,
		codec:    codec,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		dirty:    true,
	}
}

// Restore loads the stored snapshot into the registry. A missing snapshot
// is not an error; the registry simply starts empty.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	data, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.logger.Info("no snapshot found, starting empty")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	doc, err := Decode(data)
	if err != nil {
		return 0, err
	}
	if doc.Version > store.DocumentVersion {
		return 0, fmt.Errorf("snapshot version %d is newer than supported %d", doc.Version, store.DocumentVersion)
	}
	if err := s.source.Restore(doc); err != nil {
		return 0, fmt.Errorf("restore registry: %w", err)
	}

	s.mu.Lock()
	s.saved = s.source.Version()
	s.dirty = false
	s.mu.Unlock()

	s.logger.Info("registry restored",
		zap.Int("bundles", len(doc.Bundles)),
		zap.Int("principals", len(doc.Principals)),
		zap.Time("saved_at", doc.SavedAt),
	)
	return len(doc.Bundles), nil
}

// SaveNow writes a snapshot if the registry changed since the last save.
// It reports whether anything was written.
func (s *Snapshotter) SaveNow(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.source.Version()
	if !s.dirty && version == s.saved {
		return false, nil
	}

	start := s.clock.Now()
	doc := s.source.Snapshot()
	doc.SavedAt = start.UTC()

	data, err := s.codec.Encode(doc)
	if err == nil {
		err = s.backend.Save(ctx, data)
	}
	s.metrics.SnapshotSaved(s.clock.Since(start), err)
	if err != nil {
		return false, err
	}

	s.saved = version
	s.dirty = false
	s.logger.Debug("snapshot saved", zap.Int("bytes", len(data)), zap.Uint64("version", version))
	return true, nil
}

// Run saves every interval until ctx is cancelled, then saves once more.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := s.SaveNow(final); err != nil {
				s.logger.Error("final snapshot failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.Chan():
			if _, err := s.SaveNow(ctx); err != nil {
				s.logger.Warn("snapshot failed, retrying next tick", zap.Error(err))
			}
		}
	}
}
