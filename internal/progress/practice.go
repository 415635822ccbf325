package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/hafiz/internal/observe"
)

// DateLayout is the on-disk format of practice log entries.
const DateLayout = "2006-01-02"

// LogToday adds today's local date to the practice log if it is not there
// yet. The stored log stays sorted and free of duplicates.
func (s *Store) LogToday(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().Format(DateLayout)
	log := s.loadLog(ctx)
	if slices.Contains(log, today) {
		return nil
	}
	log = append(log, today)
	slices.Sort(log)
	log = slices.Compact(log)

	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("progress: encode practice log: %w", err)
	}
	return s.set(ctx, practiceLogKey, string(raw))
}

// Dates returns the practice dates in ascending order, as midnight in the
// store clock's location. Malformed entries are skipped.
func (s *Store) Dates(ctx context.Context) []time.Time {
	loc := s.now().Location()
	log := s.loadLog(ctx)
	dates := make([]time.Time, 0, len(log))
	for _, d := range log {
		t, err := time.ParseInLocation(DateLayout, d, loc)
		if err != nil {
			observe.Logger(ctx).Warn("progress: skipping malformed practice date", "value", d)
			continue
		}
		dates = append(dates, t)
	}
	return dates
}

// Streak returns the current consecutive-day practice streak.
func (s *Store) Streak(ctx context.Context) int {
	return ComputeStreak(s.Dates(ctx), s.now())
}

func (s *Store) loadLog(ctx context.Context) []string {
	raw, ok := s.get(ctx, practiceLogKey)
	if !ok {
		return nil
	}
	var log []string
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		observe.Logger(ctx).Error("progress: decode practice log", "key", s.key(practiceLogKey), "err", err)
		return nil
	}
	slices.Sort(log)
	return slices.Compact(log)
}
