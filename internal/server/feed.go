package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/metrics"
	"github.com/binarybattles/coderelay/internal/store"
)

const (
	feedRecentSubmissions = 10
	feedRecentViolations  = 20
)

// PublicSnapshot is the payload of the public leaderboard stream.
type PublicSnapshot struct {
	Leaderboard []coderelay.LeaderboardEntry `json:"leaderboard"`
	Competition CompetitionWindowView        `json:"competition"`
}

// AdminSnapshot is the payload of the admin live stream.
type AdminSnapshot struct {
	Leaderboard       []coderelay.LeaderboardEntry `json:"leaderboard"`
	Competition       CompetitionWindowView        `json:"competition"`
	RecentSubmissions []SubmissionView             `json:"recentSubmissions"`
	RecentViolations  []coderelay.Violation        `json:"recentViolations"`
	Stats             coderelay.Stats              `json:"stats"`
}

// Feed polls the store on a fixed interval and publishes a snapshot per
// topic whenever its serialized form differs from the previous one.
type Feed struct {
	store      *store.Store
	broker     *Broker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	problemIDs []int
	now        func() time.Time

	mu   sync.RWMutex
	last map[string][]byte
}

func NewFeed(s *store.Store, b *Broker, logger *slog.Logger, m *metrics.Metrics, interval time.Duration, problemIDs []int, now func() time.Time) *Feed {
	if m == nil {
		m = metrics.New(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &Feed{
		store:      s,
		broker:     b,
		logger:     logger,
		metrics:    m,
		interval:   interval,
		problemIDs: problemIDs,
		now:        now,
		last:       make(map[string][]byte),
	}
}

// Run polls until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.Tick(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("feed tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick builds every snapshot once and publishes those that changed.
func (f *Feed) Tick(ctx context.Context) error {
	board, err := f.store.Leaderboard(ctx)
	if err != nil {
		return fmt.Errorf("loading leaderboard: %w", err)
	}
	window, err := f.store.Competition(ctx)
	if err != nil {
		return fmt.Errorf("loading competition: %w", err)
	}
	comp := windowView(window)
	board = nonNil(board)
	f.publish(TopicPublic, PublicSnapshot{Leaderboard: board, Competition: comp})

	subs, err := f.store.ListSubmissions(ctx, "", feedRecentSubmissions)
	if err != nil {
		return fmt.Errorf("loading submissions: %w", err)
	}
	viol, err := f.store.ListViolations(ctx, "", feedRecentViolations)
	if err != nil {
		return fmt.Errorf("loading violations: %w", err)
	}
	stats, err := f.store.Stats(ctx, f.now(), f.problemIDs)
	if err != nil {
		return fmt.Errorf("loading stats: %w", err)
	}
	f.publish(TopicAdmin, AdminSnapshot{
		Leaderboard:       board,
		Competition:       comp,
		RecentSubmissions: submissionViews(subs, false),
		RecentViolations:  nonNil(viol),
		Stats:             stats,
	})
	return nil
}

func (f *Feed) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		f.logger.Error("encoding feed snapshot", "topic", topic, "error", err)
		return
	}
	f.mu.Lock()
	unchanged := bytes.Equal(f.last[topic], data)
	if !unchanged {
		f.last[topic] = data
	}
	f.mu.Unlock()
	if unchanged {
		return
	}
	f.broker.Publish(topic, data)
	f.metrics.FeedPublishes.WithLabelValues(topic).Inc()
}

// Latest returns the most recent snapshot of topic, or nil before the
// first tick.
func (f *Feed) Latest(topic string) []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last[topic]
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
