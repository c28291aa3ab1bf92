package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"daily-prompt/internal/domain"
)

// seedEpoch anchors seeded creation times so re-seeding keeps file order as
// rotation order.
var seedEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type QuestionWriter interface {
	PutQuestion(ctx context.Context, q domain.Question) error
}

type seedQuestion struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// SeedQuestions loads a JSON array of {"id","text"} objects from path and
// writes each entry. Existing questions with the same id are replaced.
func SeedQuestions(ctx context.Context, w QuestionWriter, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var entries []seedQuestion
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("seed: decode %s: %w", path, err)
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return 0, fmt.Errorf("seed: entry %d: %w", i, err)
		}
		if _, dup := seen[e.ID]; dup {
			return 0, fmt.Errorf("seed: entry %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	for i, e := range entries {
		q := domain.Question{ID: e.ID, Text: e.Text, CreatedAt: seedEpoch.Add(time.Duration(i) * time.Second)}
		if err := w.PutQuestion(ctx, q); err != nil {
			return i, fmt.Errorf("seed: put %q: %w", e.ID, err)
		}
	}
	return len(entries), nil
}
