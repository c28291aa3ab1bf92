package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FeedbackItem is one remark within a feedback category.
type FeedbackItem struct {
	Text       string `json:"text"`
	IsPositive bool   `json:"isPositive"`
}

// StructuredFeedback is the categorized critique produced by the model.
type StructuredFeedback struct {
	Structure  []FeedbackItem `json:"structure"`
	Vocabulary []FeedbackItem `json:"vocabulary"`
	Grammar    []FeedbackItem `json:"grammar"`
}

// Encode serializes the payload in the form stored in Answer.Feedback.
// Nil categories are written as empty lists so the result always reads back as
// structured feedback.
func (s StructuredFeedback) Encode() (string, error) {
	s.Structure = nonNil(s.Structure)
	s.Vocabulary = nonNil(s.Vocabulary)
	s.Grammar = nonNil(s.Grammar)
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("domain: encode feedback: %w", err)
	}
	return string(b), nil
}

func nonNil(items []FeedbackItem) []FeedbackItem {
	if items == nil {
		return []FeedbackItem{}
	}
	return items
}

type FeedbackKind string

const (
	FeedbackStructured FeedbackKind = "structured"
	FeedbackPlainText  FeedbackKind = "plain_text"
)

// FeedbackView is the renderable form of a stored feedback string. Exactly one
// of Structured or Text is meaningful, selected by Kind.
type FeedbackView struct {
	Kind       FeedbackKind
	Structured StructuredFeedback
	Text       string
}

func (v FeedbackView) IsStructured() bool {
	return v.Kind == FeedbackStructured
}

func (v FeedbackView) MarshalJSON() ([]byte, error) {
	if v.IsStructured() {
		return json.Marshal(struct {
			Kind FeedbackKind `json:"kind"`
			StructuredFeedback
		}{Kind: v.Kind, StructuredFeedback: v.Structured})
	}
	return json.Marshal(struct {
		Kind FeedbackKind `json:"kind"`
		Text string       `json:"text"`
	}{Kind: FeedbackPlainText, Text: v.Text})
}

// NormalizeFeedback never fails: anything that is not a single well-formed
// structured object degrades to the plain-text view of raw.
func NormalizeFeedback(raw string) FeedbackView {
	structured, err := decodeStructured(raw)
	if err != nil {
		return FeedbackView{Kind: FeedbackPlainText, Text: raw}
	}
	return FeedbackView{Kind: FeedbackStructured, Structured: structured}
}

func decodeStructured(raw string) (StructuredFeedback, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return StructuredFeedback{}, errors.New("domain: feedback is not a JSON object")
	}

	var out StructuredFeedback
	dec := json.NewDecoder(bytes.NewBufferString(trimmed))
	if err := dec.Decode(&out); err != nil {
		return StructuredFeedback{}, fmt.Errorf("domain: decode feedback: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return StructuredFeedback{}, errors.New("domain: decode feedback: trailing data")
	}
	if out.Structure == nil && out.Vocabulary == nil && out.Grammar == nil {
		return StructuredFeedback{}, errors.New("domain: feedback has no categories")
	}
	return out, nil
}
