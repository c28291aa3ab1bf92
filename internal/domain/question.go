package domain

import "time"

// Question is a single writing prompt from the shared catalog.
type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Answer is a user's response to a question together with the feedback it
// received. Feedback holds the serialized payload exactly as generated.
type Answer struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	QuestionID string    `json:"questionId"`
	AnswerText string    `json:"answerText"`
	Feedback   string    `json:"feedback"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AnswerRecord is an Answer joined with the text of the question it answers.
type AnswerRecord struct {
	Answer
	QuestionText string `json:"questionText"`
}

// Streak is the per-user completion counter.
type Streak struct {
	UserID        string    `json:"userId"`
	CurrentStreak int       `json:"currentStreak"`
	MaxStreak     int       `json:"maxStreak"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DayCount is the number of answers recorded on one UTC calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Progress summarizes a user's activity.
type Progress struct {
	CurrentStreak int        `json:"currentStreak"`
	MaxStreak     int        `json:"maxStreak"`
	TotalAnswers  int        `json:"totalAnswers"`
	Week          []DayCount `json:"week"`
}
