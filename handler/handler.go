package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"daily-prompt/internal/auth"
	"daily-prompt/internal/domain"
	"daily-prompt/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, content-type, x-correlation-id",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
}

type DailyUseCase interface {
	Today(ctx context.Context, userID string) (usecase.TodayOutput, error)
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	History(ctx context.Context, userID string) ([]domain.AnswerRecord, error)
	Answer(ctx context.Context, userID, answerID string) (usecase.AnswerDetail, error)
	Progress(ctx context.Context, userID string) (domain.Progress, error)
}

type FeedbackUseCase interface {
	Generate(ctx context.Context, answerText string) (string, error)
}

type TokenVerifier interface {
	Subject(ctx context.Context, token string) (string, error)
}

// Handler serves the API Gateway proxy integration.
type Handler struct {
	daily    DailyUseCase
	feedback FeedbackUseCase
	verifier TokenVerifier
	validate *validator.Validate
	logger   *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler wires the usecases. v may be nil, in which case only identities
// asserted by the API Gateway authorizer are accepted.
func NewHandler(d DailyUseCase, f FeedbackUseCase, v TokenVerifier, opts ...Option) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: daily usecase must not be nil")
	}
	if f == nil {
		return nil, errors.New("handler: feedback usecase must not be nil")
	}
	h := &Handler{
		daily:    d,
		feedback: f,
		verifier: v,
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type submitRequest struct {
	QuestionID string `json:"questionId" validate:"required"`
	AnswerText string `json:"answerText" validate:"required"`
}

type feedbackRequest struct {
	AnswerText string `json:"answerText" validate:"required"`
}

type questionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type streakView struct {
	CurrentStreak int `json:"currentStreak"`
	MaxStreak     int `json:"maxStreak"`
}

type todayResponse struct {
	Question     *questionView `json:"question"`
	Completed    bool          `json:"completed"`
	CatalogEmpty bool          `json:"catalogEmpty"`
	Streak       streakView    `json:"streak"`
}

type answerView struct {
	ID           string              `json:"id"`
	QuestionID   string              `json:"questionId"`
	QuestionText string              `json:"questionText,omitempty"`
	AnswerText   string              `json:"answerText"`
	Feedback     domain.FeedbackView `json:"feedback"`
	CreatedAt    time.Time           `json:"createdAt"`
}

type submitResponse struct {
	Answer   *answerView         `json:"answer,omitempty"`
	Feedback domain.FeedbackView `json:"feedback"`
	Streak   streakView          `json:"streak"`
}

type historyResponse struct {
	Answers []answerView `json:"answers"`
}

type answerResponse struct {
	Answer answerView `json:"answer"`
}

// feedbackResponse carries either Feedback or Error, always with status 200.
type feedbackResponse struct {
	Feedback string `json:"feedback,omitempty"`
	Error    string `json:"error,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	// Feedback is kept on a failed save so the caller does not lose it.
	Feedback *domain.FeedbackView `json:"feedback,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	resp := h.route(ctx, req, logger)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	for k, v := range corsHeaders {
		resp.Headers[k] = v
	}
	resp.Headers[correlationHeader] = correlationID

	logger.InfoContext(ctx, "request handled", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest, logger *slog.Logger) events.APIGatewayProxyResponse {
	method := strings.ToUpper(req.HTTPMethod)
	if method == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}

	path := "/" + strings.Trim(req.Path, "/")
	if path == "/feedback" {
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.generateFeedback(ctx, req, logger)
	}

	var handle func(ctx context.Context, userID string, logger *slog.Logger) events.APIGatewayProxyResponse
	switch {
	case path == "/daily" && method == http.MethodGet:
		handle = h.today
	case path == "/answers" && method == http.MethodPost:
		handle = func(ctx context.Context, userID string, logger *slog.Logger) events.APIGatewayProxyResponse {
			return h.submit(ctx, userID, req.Body, logger)
		}
	case path == "/answers" && method == http.MethodGet:
		handle = h.history
	case strings.HasPrefix(path, "/answers/") && method == http.MethodGet:
		answerID := strings.TrimPrefix(path, "/answers/")
		handle = func(ctx context.Context, userID string, logger *slog.Logger) events.APIGatewayProxyResponse {
			return h.answer(ctx, userID, answerID, logger)
		}
	case path == "/progress" && method == http.MethodGet:
		handle = h.progress
	case path == "/daily", path == "/answers", path == "/progress", strings.HasPrefix(path, "/answers/"):
		return methodNotAllowed()
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"})
	}

	userID, err := h.identify(ctx, req)
	if err != nil {
		return h.errorResult(ctx, logger, err)
	}
	return handle(ctx, userID, logger.With("user_id", userID))
}

func (h *Handler) today(ctx context.Context, userID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	out, err := h.daily.Today(ctx, userID)
	if err != nil {
		return h.errorResult(ctx, logger, err)
	}
	body := todayResponse{
		Completed:    out.Completed,
		CatalogEmpty: out.CatalogEmpty,
		Streak:       toStreakView(out.Streak),
	}
	if out.Question != nil {
		body.Question = &questionView{ID: out.Question.ID, Text: out.Question.Text}
	}
	return jsonResponse(http.StatusOK, body)
}

func (h *Handler) submit(ctx context.Context, userID, rawBody string, logger *slog.Logger) events.APIGatewayProxyResponse {
	var in submitRequest
	if err := h.decode(rawBody, &in); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: invalidReason(err)})
	}

	out, err := h.daily.Submit(ctx, usecase.SubmitInput{
		UserID:     userID,
		QuestionID: in.QuestionID,
		AnswerText: in.AnswerText,
	})
	if err != nil {
		status, body := h.errorBody(ctx, logger, err)
		if out.Feedback.Kind != "" {
			body.Feedback = &out.Feedback
		}
		return jsonResponse(status, body)
	}

	a := toAnswerView(domain.AnswerRecord{Answer: out.Answer}, out.Feedback)
	return jsonResponse(http.StatusCreated, submitResponse{
		Answer:   &a,
		Feedback: out.Feedback,
		Streak:   toStreakView(out.Streak),
	})
}

func (h *Handler) history(ctx context.Context, userID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	recs, err := h.daily.History(ctx, userID)
	if err != nil {
		return h.errorResult(ctx, logger, err)
	}
	body := historyResponse{Answers: make([]answerView, 0, len(recs))}
	for _, r := range recs {
		body.Answers = append(body.Answers, toAnswerView(r, domain.NormalizeFeedback(r.Feedback)))
	}
	return jsonResponse(http.StatusOK, body)
}

func (h *Handler) answer(ctx context.Context, userID, answerID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	d, err := h.daily.Answer(ctx, userID, answerID)
	if err != nil {
		return h.errorResult(ctx, logger, err)
	}
	return jsonResponse(http.StatusOK, answerResponse{Answer: toAnswerView(d.Record, d.Feedback)})
}

func (h *Handler) progress(ctx context.Context, userID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	p, err := h.daily.Progress(ctx, userID)
	if err != nil {
		return h.errorResult(ctx, logger, err)
	}
	return jsonResponse(http.StatusOK, p)
}

// generateFeedback reports every outcome with status 200; callers check the
// error field.
func (h *Handler) generateFeedback(ctx context.Context, req events.APIGatewayProxyRequest, logger *slog.Logger) events.APIGatewayProxyResponse {
	if _, err := h.identify(ctx, req); err != nil {
		logger.WarnContext(ctx, "feedback request rejected", "err", err)
		return jsonResponse(http.StatusOK, feedbackResponse{Error: feedbackErrorMessage(err)})
	}

	var in feedbackRequest
	if err := h.decode(req.Body, &in); err != nil {
		return jsonResponse(http.StatusOK, feedbackResponse{Error: "answerText is required."})
	}

	raw, err := h.feedback.Generate(ctx, in.AnswerText)
	if err != nil {
		logger.ErrorContext(ctx, "feedback generation failed", "err", err)
		return jsonResponse(http.StatusOK, feedbackResponse{Error: feedbackErrorMessage(err)})
	}
	return jsonResponse(http.StatusOK, feedbackResponse{Feedback: raw})
}

// identify returns the caller's user id, preferring the claim asserted by the
// API Gateway authorizer over a bearer token.
func (h *Handler) identify(ctx context.Context, req events.APIGatewayProxyRequest) (string, error) {
	if sub := authorizerSubject(req.RequestContext.Authorizer); sub != "" {
		return sub, nil
	}
	token, ok := bearerToken(headerValue(req.Headers, "Authorization"))
	if !ok || h.verifier == nil {
		return "", &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_credentials"}
	}
	sub, err := h.verifier.Subject(ctx, token)
	if errors.Is(err, auth.ErrInvalidToken) {
		return "", &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_token", Err: err}
	}
	if err != nil {
		return "", &usecase.Error{Code: usecase.ErrorInternal, Reason: "auth_secret_error", Err: err}
	}
	return sub, nil
}

func (h *Handler) decode(body string, v any) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

// invalidReason maps a missing required field to the reason the usecase
// reports for the same input.
func invalidReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid_body"
	}
	switch verrs[0].StructField() {
	case "QuestionID":
		return "question_id_required"
	case "AnswerText":
		return "answer_required"
	}
	return "invalid_body"
}

func (h *Handler) errorResult(ctx context.Context, logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	return jsonResponse(h.errorBody(ctx, logger, err))
}

func (h *Handler) errorBody(ctx context.Context, logger *slog.Logger, err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.ErrorContext(ctx, "unexpected error", "err", err)
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.InfoContext(ctx, "request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func feedbackErrorMessage(err error) string {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return "Failed to get feedback."
	}
	switch {
	case ucErr.Reason == "answer_required":
		return "answerText is required."
	case ucErr.Reason == "answer_too_long":
		return "answerText is too long."
	case ucErr.Code == usecase.ErrorUnauthorized:
		return "Unauthorized."
	case ucErr.Code == usecase.ErrorRateLimited:
		return "Feedback service is busy, please try again shortly."
	default:
		return "Failed to get feedback."
	}
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"})
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(buf),
	}
}

func toStreakView(s domain.Streak) streakView {
	return streakView{CurrentStreak: s.CurrentStreak, MaxStreak: s.MaxStreak}
}

func toAnswerView(r domain.AnswerRecord, fb domain.FeedbackView) answerView {
	return answerView{
		ID:           r.ID,
		QuestionID:   r.QuestionID,
		QuestionText: r.QuestionText,
		AnswerText:   r.AnswerText,
		Feedback:     fb,
		CreatedAt:    r.CreatedAt,
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authorizerSubject reads "sub" from JWT authorizer claims.
func authorizerSubject(authorizer map[string]interface{}) string {
	claims, ok := authorizer["claims"].(map[string]interface{})
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return strings.TrimSpace(sub)
}

var newUUID = func() string {
	return uuid.NewString()
}
