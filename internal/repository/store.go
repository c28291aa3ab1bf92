package repository

import (
	"context"
	"errors"
	"sort"

	"daily-prompt/internal/domain"
)

var (
	// ErrNotFound is returned when a user-scoped lookup matches nothing.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateAnswer is returned when the store itself rejects a second
	// answer for the same (user, question) pair.
	ErrDuplicateAnswer = errors.New("repository: answer already recorded")
)

// ReadWriter defines the persistence operations consumed by the usecases.
// Both the DynamoDB and SQLite stores implement it.
type ReadWriter interface {
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	PutQuestion(ctx context.Context, q domain.Question) error
	AnsweredQuestionIDs(ctx context.Context, userID string) ([]string, error)
	InsertAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error)
	ListAnswers(ctx context.Context, userID string) ([]domain.AnswerRecord, error)
	GetAnswer(ctx context.Context, userID, answerID string) (domain.AnswerRecord, error)
	GetStreak(ctx context.Context, userID string) (domain.Streak, error)
	UpsertStreak(ctx context.Context, s domain.Streak) error
}

var (
	_ ReadWriter = (*Client)(nil)
	_ ReadWriter = (*SQLiteStore)(nil)
)

// sortCatalog orders questions by creation time, then ID, so the daily
// rotation sees the same sequence on every read.
func sortCatalog(qs []domain.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if !qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].CreatedAt.Before(qs[j].CreatedAt)
		}
		return qs[i].ID < qs[j].ID
	})
}

func questionTexts(qs []domain.Question) map[string]string {
	m := make(map[string]string, len(qs))
	for _, q := range qs {
		m[q.ID] = q.Text
	}
	return m
}
