package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"daily-prompt/internal/domain"
)

// SQLiteStore is the local-development store. It keeps the same semantics as
// the DynamoDB Client, including one answer per user and question.
type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// OpenSQLite opens (or creates) the database at dbPath and applies migrations.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("open: empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("open: create db dir: %w", err)
	}

	dsn := "file:" + dbPath + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: sql open: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open: migrate: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now, newID: uuid.NewString}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, created_at FROM questions;`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListQuestions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var qs []domain.Question
	for rows.Next() {
		var (
			q       domain.Question
			created string
		)
		if err := rows.Scan(&q.ID, &q.Text, &created); err != nil {
			return nil, fmt.Errorf("repository: ListQuestions scan: %w", err)
		}
		if q.CreatedAt, err = parseSortable(created); err != nil {
			return nil, fmt.Errorf("repository: ListQuestions: %w", err)
		}
		qs = append(qs, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListQuestions rows: %w", err)
	}
	sortCatalog(qs)
	return qs, nil
}

func (s *SQLiteStore) PutQuestion(ctx context.Context, q domain.Question) error {
	if strings.TrimSpace(q.ID) == "" {
		return errors.New("repository: PutQuestion: id is required")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO questions(id, text, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, created_at = excluded.created_at;`,
		q.ID, q.Text, formatSortable(q.CreatedAt))
	if err != nil {
		return fmt.Errorf("repository: PutQuestion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AnsweredQuestionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id FROM answers WHERE user_id = ?;`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: AnsweredQuestionIDs query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: AnsweredQuestionIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: AnsweredQuestionIDs rows: %w", err)
	}
	return ids, nil
}

// InsertAnswer returns ErrDuplicateAnswer when the user already answered the question.
func (s *SQLiteStore) InsertAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error) {
	if a.UserID == "" || a.QuestionID == "" {
		return domain.Answer{}, errors.New("repository: InsertAnswer: user and question ids are required")
	}
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers(id, user_id, question_id, answer_text, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?);`,
		a.ID, a.UserID, a.QuestionID, a.AnswerText, a.Feedback, formatSortable(a.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Answer{}, ErrDuplicateAnswer
		}
		return domain.Answer{}, fmt.Errorf("repository: InsertAnswer: %w", err)
	}
	return a, nil
}

const answerColumns = `a.id, a.user_id, a.question_id, a.answer_text, a.feedback, a.created_at, COALESCE(q.text, '')`

func (s *SQLiteStore) ListAnswers(ctx context.Context, userID string) ([]domain.AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers a LEFT JOIN questions q ON q.id = a.question_id
		WHERE a.user_id = ?
		ORDER BY a.created_at DESC, a.id DESC;`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListAnswers query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recs := []domain.AnswerRecord{}
	for rows.Next() {
		rec, err := scanAnswerRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListAnswers: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListAnswers rows: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStore) GetAnswer(ctx context.Context, userID, answerID string) (domain.AnswerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers a LEFT JOIN questions q ON q.id = a.question_id
		WHERE a.id = ? AND a.user_id = ?;`, answerID, userID)
	rec, err := scanAnswerRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnswerRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("repository: GetAnswer: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetStreak(ctx context.Context, userID string) (domain.Streak, error) {
	var (
		st      = domain.Streak{UserID: userID}
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_streak, max_streak, updated_at FROM streaks WHERE user_id = ?;`, userID,
	).Scan(&st.CurrentStreak, &st.MaxStreak, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return domain.Streak{}, fmt.Errorf("repository: GetStreak: %w", err)
	}
	if st.UpdatedAt, err = parseSortable(updated); err != nil {
		return domain.Streak{}, fmt.Errorf("repository: GetStreak: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) UpsertStreak(ctx context.Context, st domain.Streak) error {
	if st.UserID == "" {
		return errors.New("repository: UpsertStreak: user id is required")
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streaks(user_id, current_streak, max_streak, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			max_streak = excluded.max_streak,
			updated_at = excluded.updated_at;`,
		st.UserID, st.CurrentStreak, st.MaxStreak, formatSortable(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("repository: UpsertStreak: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnswerRecord(r rowScanner) (domain.AnswerRecord, error) {
	var (
		rec     domain.AnswerRecord
		created string
	)
	err := r.Scan(&rec.ID, &rec.UserID, &rec.QuestionID, &rec.AnswerText, &rec.Feedback, &created, &rec.QuestionText)
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	if rec.CreatedAt, err = parseSortable(created); err != nil {
		return domain.AnswerRecord{}, err
	}
	return rec, nil
}

func formatSortable(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func parseSortable(v string) (time.Time, error) {
	t, err := time.Parse(sortableTime, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
