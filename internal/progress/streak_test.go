package progress_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/MrWong99/hafiz/internal/progress"
)

func TestComputeStreak(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 15, 4, 5, 0, time.UTC)
	day := func(offset int) time.Time {
		return time.Date(2026, 10, 18+offset, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		dates []time.Time
		want  int
	}{
		{"empty", nil, 0},
		{"today only", []time.Time{day(0)}, 1},
		{"three days ending today", []time.Time{day(-2), day(-1), day(0)}, 3},
		{"yesterday keeps streak alive", []time.Time{day(-1)}, 1},
		{"ending yesterday", []time.Time{day(-3), day(-2), day(-1)}, 3},
		{"two missed days reset", []time.Time{day(-5), day(-4), day(-3), day(-2)}, 0},
		{"gap stops counting", []time.Time{day(-3), day(-1), day(0)}, 2},
		{"unordered input", []time.Time{day(0), day(-2), day(-1)}, 3},
		{"duplicates", []time.Time{day(0), day(0), day(-1)}, 2},
		{"future only", []time.Time{day(1)}, 0},
		{"across month boundary", []time.Time{
			time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := progress.ComputeStreak(tt.dates, now); got != tt.want {
				t.Errorf("ComputeStreak = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeStreak_MonthBoundary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dates := []time.Time{
		time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if got := progress.ComputeStreak(dates, now); got != 3 {
		t.Errorf("ComputeStreak = %d, want 3", got)
	}
}

func TestComputeStreak_DaylightSaving(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// Clocks jump forward on 2026-03-29, making that day 23 hours long.
	dates := []time.Time{
		time.Date(2026, 3, 28, 0, 0, 0, 0, berlin),
		time.Date(2026, 3, 29, 0, 0, 0, 0, berlin),
		time.Date(2026, 3, 30, 0, 0, 0, 0, berlin),
	}
	now := time.Date(2026, 3, 30, 0, 30, 0, 0, berlin)
	if got := progress.ComputeStreak(dates, now); got != 3 {
		t.Errorf("ComputeStreak across DST = %d, want 3", got)
	}
}
