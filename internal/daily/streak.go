package daily

import (
	"time"

	"daily-prompt/internal/domain"
)

// StreakAdvance is the streak state after one more successful submission.
type StreakAdvance struct {
	Current int
	Max     int
}

// NextStreak advances the streak by one submission. Negative inputs count as
// unset. There is no reset for missed days.
func NextStreak(current, currentMax int) StreakAdvance {
	if current < 0 {
		current = 0
	}
	if currentMax < 0 {
		currentMax = 0
	}
	next := current + 1
	return StreakAdvance{Current: next, Max: max(currentMax, next)}
}

// Apply returns the stored record for userID after the advance.
func (a StreakAdvance) Apply(userID string, now time.Time) domain.Streak {
	return domain.Streak{
		UserID:        userID,
		CurrentStreak: a.Current,
		MaxStreak:     a.Max,
		UpdatedAt:     now.UTC(),
	}
}

const weekDays = 7

// WeekCounts returns per-day answer counts for the seven UTC days ending on
// now's day, oldest first.
func WeekCounts(answers []domain.Answer, now time.Time) []domain.DayCount {
	today := DayIndex(now)
	counts := make([]domain.DayCount, weekDays)
	for i := range counts {
		day := today - int64(weekDays-1-i)
		counts[i].Date = time.UnixMilli(day * dayMillis).UTC().Format(time.DateOnly)
	}
	for _, a := range answers {
		offset := today - DayIndex(a.CreatedAt)
		if offset < 0 || offset >= weekDays {
			continue
		}
		counts[weekDays-1-offset].Count++
	}
	return counts
}
