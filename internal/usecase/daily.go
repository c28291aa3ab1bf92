package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"daily-prompt/internal/daily"
	"daily-prompt/internal/domain"
	"daily-prompt/internal/repository"
)

type StateReadWriter interface {
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	AnsweredQuestionIDs(ctx context.Context, userID string) ([]string, error)
	InsertAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error)
	ListAnswers(ctx context.Context, userID string) ([]domain.AnswerRecord, error)
	GetAnswer(ctx context.Context, userID, answerID string) (domain.AnswerRecord, error)
	GetStreak(ctx context.Context, userID string) (domain.Streak, error)
	UpsertStreak(ctx context.Context, s domain.Streak) error
}

type FeedbackGenerator interface {
	Generate(ctx context.Context, answerText string) (string, error)
}

// DailyService serves the question of the day and records submissions.
type DailyService struct {
	state    StateReadWriter
	feedback FeedbackGenerator
	logger   *slog.Logger
	now      func() time.Time
}

type TodayOutput struct {
	// Question is nil when nothing is left to answer.
	Question     *domain.Question
	Completed    bool
	CatalogEmpty bool
	Streak       domain.Streak
}

type SubmitInput struct {
	UserID     string
	QuestionID string
	AnswerText string
}

// SubmitOutput is returned together with a write error so the caller can
// still show the feedback. Answer is zero if the insert failed.
type SubmitOutput struct {
	Answer   domain.Answer
	Feedback domain.FeedbackView
	Streak   domain.Streak
}

type AnswerDetail struct {
	Record   domain.AnswerRecord
	Feedback domain.FeedbackView
}

func NewDailyService(s StateReadWriter, fb FeedbackGenerator, logger *slog.Logger) (*DailyService, error) {
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if fb == nil {
		return nil, errors.New("usecase: feedback generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyService{state: s, feedback: fb, logger: logger, now: time.Now}, nil
}

func (s *DailyService) Today(ctx context.Context, userID string) (TodayOutput, error) {
	if err := requireUser(userID); err != nil {
		return TodayOutput{}, err
	}
	catalog, answered, err := s.loadCatalog(ctx, userID)
	if err != nil {
		return TodayOutput{}, err
	}
	streak, err := s.state.GetStreak(ctx, userID)
	if err != nil {
		return TodayOutput{}, newError(ErrorInternal, "streak_read_error", err)
	}

	out := TodayOutput{Streak: streak, CatalogEmpty: len(catalog) == 0}
	q, ok := daily.SelectQuestion(catalog, answered, s.now())
	if !ok {
		out.Completed = true
		return out, nil
	}
	out.Question = &q
	return out, nil
}

// Submit generates feedback for the answer and records it. Nothing is written
// when feedback generation fails. The answer insert and streak upsert are two
// separate writes; if the second fails the answer stays recorded and the
// streak catches up from its last stored value on the next submission.
func (s *DailyService) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	if err := requireUser(in.UserID); err != nil {
		return SubmitOutput{}, err
	}
	questionID := strings.TrimSpace(in.QuestionID)
	if questionID == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "question_id_required", nil)
	}
	if strings.TrimSpace(in.AnswerText) == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "answer_required", nil)
	}

	catalog, answered, err := s.loadCatalog(ctx, in.UserID)
	if err != nil {
		return SubmitOutput{}, err
	}
	if !containsQuestion(catalog, questionID) {
		return SubmitOutput{}, newError(ErrorNotFound, "question_not_found", nil)
	}
	if _, done := answered[questionID]; done {
		return SubmitOutput{}, newError(ErrorConflict, "already_answered", nil)
	}

	raw, err := s.feedback.Generate(ctx, in.AnswerText)
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) {
			return SubmitOutput{}, ucErr
		}
		return SubmitOutput{}, newError(ErrorUpstream, "feedback_error", err)
	}
	out := SubmitOutput{Feedback: domain.NormalizeFeedback(raw)}

	now := s.now()
	answer, err := s.state.InsertAnswer(ctx, domain.Answer{
		UserID:     in.UserID,
		QuestionID: questionID,
		AnswerText: strings.TrimSpace(in.AnswerText),
		Feedback:   raw,
		CreatedAt:  now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateAnswer) {
			return out, newError(ErrorConflict, "already_answered", err)
		}
		return out, newError(ErrorInternal, "answer_write_error", err)
	}
	out.Answer = answer

	current, err := s.state.GetStreak(ctx, in.UserID)
	if err != nil {
		s.logStaleStreak(ctx, answer, err)
		return out, newError(ErrorInternal, "streak_read_error", err)
	}
	next := daily.NextStreak(current.CurrentStreak, current.MaxStreak).Apply(in.UserID, now)
	if err := s.state.UpsertStreak(ctx, next); err != nil {
		out.Streak = current
		s.logStaleStreak(ctx, answer, err)
		return out, newError(ErrorInternal, "streak_write_error", err)
	}
	out.Streak = next
	return out, nil
}

func (s *DailyService) History(ctx context.Context, userID string) ([]domain.AnswerRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	recs, err := s.state.ListAnswers(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "answers_read_error", err)
	}
	return recs, nil
}

func (s *DailyService) Answer(ctx context.Context, userID, answerID string) (AnswerDetail, error) {
	if err := requireUser(userID); err != nil {
		return AnswerDetail{}, err
	}
	answerID = strings.TrimSpace(answerID)
	if answerID == "" {
		return AnswerDetail{}, newError(ErrorInvalidInput, "answer_id_required", nil)
	}
	rec, err := s.state.GetAnswer(ctx, userID, answerID)
	if errors.Is(err, repository.ErrNotFound) {
		return AnswerDetail{}, newError(ErrorNotFound, "answer_not_found", err)
	}
	if err != nil {
		return AnswerDetail{}, newError(ErrorInternal, "answer_read_error", err)
	}
	return AnswerDetail{Record: rec, Feedback: domain.NormalizeFeedback(rec.Feedback)}, nil
}

func (s *DailyService) Progress(ctx context.Context, userID string) (domain.Progress, error) {
	if err := requireUser(userID); err != nil {
		return domain.Progress{}, err
	}
	streak, err := s.state.GetStreak(ctx, userID)
	if err != nil {
		return domain.Progress{}, newError(ErrorInternal, "streak_read_error", err)
	}
	recs, err := s.state.ListAnswers(ctx, userID)
	if err != nil {
		return domain.Progress{}, newError(ErrorInternal, "answers_read_error", err)
	}
	answers := make([]domain.Answer, 0, len(recs))
	for _, r := range recs {
		answers = append(answers, r.Answer)
	}
	return domain.Progress{
		CurrentStreak: streak.CurrentStreak,
		MaxStreak:     streak.MaxStreak,
		TotalAnswers:  len(recs),
		Week:          daily.WeekCounts(answers, s.now()),
	}, nil
}

// loadCatalog reads the catalog and the user's answered set fresh on every
// call; a cached view could select an answered or out-of-range entry.
func (s *DailyService) loadCatalog(ctx context.Context, userID string) ([]domain.Question, map[string]struct{}, error) {
	catalog, err := s.state.ListQuestions(ctx)
	if err != nil {
		return nil, nil, newError(ErrorInternal, "questions_read_error", err)
	}
	ids, err := s.state.AnsweredQuestionIDs(ctx, userID)
	if err != nil {
		return nil, nil, newError(ErrorInternal, "answered_read_error", err)
	}
	return catalog, daily.AnsweredSet(ids), nil
}

func (s *DailyService) logStaleStreak(ctx context.Context, a domain.Answer, err error) {
	s.logger.WarnContext(ctx, "answer recorded but streak not updated",
		"user_id", a.UserID,
		"answer_id", a.ID,
		"question_id", a.QuestionID,
		"error", err,
	)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newError(ErrorUnauthorized, "missing_user", nil)
	}
	return nil
}

func containsQuestion(catalog []domain.Question, id string) bool {
	for _, q := range catalog {
		if q.ID == id {
			return true
		}
	}
	return false
}
