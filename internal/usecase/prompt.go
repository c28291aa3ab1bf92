package usecase

import (
	"strings"

	"daily-prompt/internal/domain"
)

const (
	feedbackMaxTokens   = 500
	feedbackTemperature = 0.7
)

func buildFeedbackMessages(answerText string) []domain.ChatMessage {
	return []domain.ChatMessage{
		domain.SystemMessage(buildFeedbackPrompt()),
		domain.UserMessage(answerText),
	}
}

func buildFeedbackPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are an English writing teacher reviewing a student's short written answer.",
		"",
		"Task:",
		"Give specific, constructive feedback in three categories.",
		"",
		"Categories:",
		"- structure: organization, flow, introduction, conclusion, paragraphs",
		"- vocabulary: word choice, variety, appropriateness, usage",
		"- grammar: sentence structure, tenses, punctuation, syntax",
		"",
		"Rules:",
		"1) Provide 2-4 feedback points per category.",
		"2) Mark each point isPositive=true for a strength and isPositive=false for something to improve.",
		"3) Refer to the student's own wording where possible.",
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func outputContract() string {
	return "Return ONLY a JSON object with keys structure, vocabulary and grammar. " +
		"Each key holds an array of objects with keys text (string) and isPositive (boolean). " +
		"Do not add any text outside the JSON object."
}
