package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"daily-prompt/internal/integrations/openai"
)

const defaultMaxAnswer = 5000

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, p openai.ChatParams) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// FeedbackService proxies an answer to the chat model and returns the raw
// feedback text.
type FeedbackService struct {
	params       ParamGetter
	llm          LLMClient
	paramPrefix  string
	maxAnswerLen int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	openaiModel string
}

type FeedbackOption func(*FeedbackService)

// WithModel fixes the model name and skips the parameter store lookup.
func WithModel(model string) FeedbackOption {
	return func(s *FeedbackService) {
		model = strings.TrimSpace(model)
		if model == "" {
			return
		}
		s.openaiModel = model
		s.cacheLoaded = true
	}
}

func NewFeedbackService(p ParamGetter, llm LLMClient, paramPrefix string, maxAnswerLen int, opts ...FeedbackOption) (*FeedbackService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	s := &FeedbackService{
		params:       p,
		llm:          llm,
		paramPrefix:  strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		maxAnswerLen: maxAnswerLen,
	}
	if s.maxAnswerLen <= 0 {
		s.maxAnswerLen = defaultMaxAnswer
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheLoaded {
		return s, nil
	}
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if s.paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return s, nil
}

// Generate returns the model's feedback on answerText. The reply is not
// validated here; readers normalize it with domain.NormalizeFeedback.
func (s *FeedbackService) Generate(ctx context.Context, answerText string) (string, error) {
	answer := strings.TrimSpace(answerText)
	if answer == "" {
		return "", newError(ErrorInvalidInput, "answer_required", nil)
	}
	if utf8.RuneCountInString(answer) > s.maxAnswerLen {
		return "", newError(ErrorInvalidInput, "answer_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}

	temperature := feedbackTemperature
	raw, err := s.llm.Chat(ctx, openai.ChatParams{
		Model:          s.model(),
		Messages:       buildFeedbackMessages(answer),
		MaxTokens:      feedbackMaxTokens,
		Temperature:    &temperature,
		FeedbackSchema: true,
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return "", newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return "", newError(ErrorUpstream, "openai_error", err)
	}
	return raw, nil
}

func (s *FeedbackService) model() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.openaiModel
}

func (s *FeedbackService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}
	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

func (s *FeedbackService) loadSSMParams(ctx context.Context) (openaiModel string, err error) {
	name := s.paramPrefix + "/config/openai_model"
	values, err := s.params.GetParameters(ctx, name)
	if err != nil {
		return "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	openaiModel = strings.TrimSpace(values[name])
	if openaiModel == "" {
		return "", errors.New("usecase: openai model parameter is empty")
	}
	return openaiModel, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
