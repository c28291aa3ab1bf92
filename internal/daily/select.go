package daily

import (
	"time"

	"daily-prompt/internal/domain"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// DayIndex returns the number of whole UTC days between the Unix epoch and t.
// Instants before the epoch floor toward negative infinity.
func DayIndex(t time.Time) int64 {
	ms := t.UnixMilli()
	idx := ms / dayMillis
	if ms%dayMillis < 0 {
		idx--
	}
	return idx
}

// Unanswered returns the catalog entries whose IDs are not in answered, in
// catalog order.
func Unanswered(all []domain.Question, answered map[string]struct{}) []domain.Question {
	out := make([]domain.Question, 0, len(all))
	for _, q := range all {
		if _, ok := answered[q.ID]; ok {
			continue
		}
		out = append(out, q)
	}
	return out
}

// SelectQuestion picks the question of the day for asOf. The boolean is false
// when every catalog entry has been answered, including the empty catalog.
//
// The choice only holds for the answered set it was computed from; callers
// must re-derive it after each submission.
func SelectQuestion(all []domain.Question, answered map[string]struct{}, asOf time.Time) (domain.Question, bool) {
	remaining := Unanswered(all, answered)
	if len(remaining) == 0 {
		return domain.Question{}, false
	}
	n := int64(len(remaining))
	i := DayIndex(asOf) % n
	if i < 0 {
		i += n
	}
	return remaining[i], true
}

// AnsweredSet builds the lookup set SelectQuestion expects.
func AnsweredSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
