package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"daily-prompt/internal/domain"
)

const (
	pkCatalog        = "CATALOG"
	skPrefixQuestion = "QUESTION#"
	skPrefixAnswer   = "ANSWER#"
	skPrefixAnswered = "ANSWERED#"
	skStreak         = "STREAK"

	// sortableTime keeps a fixed width so sort keys order chronologically.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores questions, answers and streaks in a single DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:       api,
		tableName: tableName,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func userPK(userID string) string {
	return "USER#" + userID
}

func questionSK(questionID string) string {
	return skPrefixQuestion + questionID
}

// answerSK sorts a user's answers by creation time.
func answerSK(createdAt time.Time, answerID string) string {
	return skPrefixAnswer + createdAt.UTC().Format(sortableTime) + "#" + answerID
}

// answeredSK marks a question as answered; at most one exists per user and question.
func answeredSK(questionID string) string {
	return skPrefixAnswered + questionID
}

// ListQuestions returns the whole catalog in rotation order.
func (c *Client) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkCatalog},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixQuestion},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListQuestions query: %w", err)
	}

	qs := make([]domain.Question, 0, len(items))
	for _, item := range items {
		q, err := itemToQuestion(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListQuestions unmarshal: %w", err)
		}
		qs = append(qs, q)
	}
	sortCatalog(qs)
	return qs, nil
}

// PutQuestion writes or replaces a catalog entry.
func (c *Client) PutQuestion(ctx context.Context, q domain.Question) error {
	if strings.TrimSpace(q.ID) == "" {
		return errors.New("repository: PutQuestion: id is required")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      questionItem(q),
	})
	if err != nil {
		return fmt.Errorf("repository: PutQuestion: %w", err)
	}
	return nil
}

// AnsweredQuestionIDs returns the question ids the user has answered, read
// from the markers written by InsertAnswer.
func (c *Client) AnsweredQuestionIDs(ctx context.Context, userID string) ([]string, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ProjectionExpression:   aws.String("questionId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAnswered},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: AnsweredQuestionIDs query: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := strAttr(item, "questionId")
		if err != nil {
			return nil, fmt.Errorf("repository: AnsweredQuestionIDs unmarshal: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// InsertAnswer records a new answer, assigning its ID and timestamp when unset.
// The answer and its ANSWERED# marker are written in one transaction, so a
// second answer to the same question fails with ErrDuplicateAnswer.
func (c *Client) InsertAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error) {
	if a.UserID == "" || a.QuestionID == "" {
		return domain.Answer{}, errors.New("repository: InsertAnswer: user and question ids are required")
	}
	if a.ID == "" {
		a.ID = c.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = c.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                answeredItem(a),
					ConditionExpression: aws.String("attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                answerItem(a),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if isConditionalFailure(err) {
		return domain.Answer{}, fmt.Errorf("repository: InsertAnswer: %w", ErrDuplicateAnswer)
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("repository: InsertAnswer: %w", err)
	}
	return a, nil
}

// isConditionalFailure reports whether a write was rejected by its condition
// expression, either directly or as a cancelled transaction.
func isConditionalFailure(err error) bool {
	if err == nil {
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return false
	}
	for _, r := range txErr.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// ListAnswers returns the user's answers newest first, joined with question text.
func (c *Client) ListAnswers(ctx context.Context, userID string) ([]domain.AnswerRecord, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAnswer},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListAnswers query: %w", err)
	}
	return c.joinQuestions(ctx, items, "ListAnswers")
}

// GetAnswer returns one of the user's answers, or ErrNotFound.
func (c *Client) GetAnswer(ctx context.Context, userID, answerID string) (domain.AnswerRecord, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("answerId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAnswer},
			":id":     &types.AttributeValueMemberS{Value: answerID},
		},
	})
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("repository: GetAnswer query: %w", err)
	}
	if len(items) == 0 {
		return domain.AnswerRecord{}, ErrNotFound
	}
	recs, err := c.joinQuestions(ctx, items[:1], "GetAnswer")
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	return recs[0], nil
}

// GetStreak returns the user's streak, or a zero streak if none is stored.
func (c *Client) GetStreak(ctx context.Context, userID string) (domain.Streak, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skStreak},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Streak{}, fmt.Errorf("repository: GetStreak get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Streak{UserID: userID}, nil
	}

	s, err := itemToStreak(userID, out.Item)
	if err != nil {
		return domain.Streak{}, fmt.Errorf("repository: GetStreak decode: %w", err)
	}
	return s, nil
}

// UpsertStreak writes or replaces the user's streak record.
func (c *Client) UpsertStreak(ctx context.Context, s domain.Streak) error {
	if s.UserID == "" {
		return errors.New("repository: UpsertStreak: user id is required")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      streakItem(s),
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertStreak: %w", err)
	}
	return nil
}

// queryAll follows LastEvaluatedKey until the result set is exhausted.
func (c *Client) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *Client) joinQuestions(ctx context.Context, items []map[string]types.AttributeValue, op string) ([]domain.AnswerRecord, error) {
	recs := make([]domain.AnswerRecord, 0, len(items))
	if len(items) == 0 {
		return recs, nil
	}
	qs, err := c.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: %s: %w", op, err)
	}
	texts := questionTexts(qs)
	for _, item := range items {
		a, err := itemToAnswer(item)
		if err != nil {
			return nil, fmt.Errorf("repository: %s unmarshal: %w", op, err)
		}
		recs = append(recs, domain.AnswerRecord{Answer: a, QuestionText: texts[a.QuestionID]})
	}
	return recs, nil
}

func questionItem(q domain.Question) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: pkCatalog},
		"SK":         &types.AttributeValueMemberS{Value: questionSK(q.ID)},
		"questionId": &types.AttributeValueMemberS{Value: q.ID},
		"text":       &types.AttributeValueMemberS{Value: q.Text},
		"createdAt":  &types.AttributeValueMemberS{Value: q.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func answerItem(a domain.Answer) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(a.UserID)},
		"SK":         &types.AttributeValueMemberS{Value: answerSK(a.CreatedAt, a.ID)},
		"answerId":   &types.AttributeValueMemberS{Value: a.ID},
		"userId":     &types.AttributeValueMemberS{Value: a.UserID},
		"questionId": &types.AttributeValueMemberS{Value: a.QuestionID},
		"answerText": &types.AttributeValueMemberS{Value: a.AnswerText},
		"feedback":   &types.AttributeValueMemberS{Value: a.Feedback},
		"createdAt":  &types.AttributeValueMemberS{Value: a.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func answeredItem(a domain.Answer) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(a.UserID)},
		"SK":         &types.AttributeValueMemberS{Value: answeredSK(a.QuestionID)},
		"questionId": &types.AttributeValueMemberS{Value: a.QuestionID},
		"answerId":   &types.AttributeValueMemberS{Value: a.ID},
		"createdAt":  &types.AttributeValueMemberS{Value: a.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func streakItem(s domain.Streak) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: userPK(s.UserID)},
		"SK":            &types.AttributeValueMemberS{Value: skStreak},
		"userId":        &types.AttributeValueMemberS{Value: s.UserID},
		"currentStreak": &types.AttributeValueMemberN{Value: strconv.Itoa(s.CurrentStreak)},
		"maxStreak":     &types.AttributeValueMemberN{Value: strconv.Itoa(s.MaxStreak)},
		"updatedAt":     &types.AttributeValueMemberS{Value: s.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToQuestion(item map[string]types.AttributeValue) (domain.Question, error) {
	id, err := strAttr(item, "questionId")
	if err != nil {
		return domain.Question{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Question{}, err
	}
	created, err := optionalTimeAttr(item, "createdAt")
	if err != nil {
		return domain.Question{}, err
	}
	return domain.Question{ID: id, Text: text, CreatedAt: created}, nil
}

func itemToAnswer(item map[string]types.AttributeValue) (domain.Answer, error) {
	id, err := strAttr(item, "answerId")
	if err != nil {
		return domain.Answer{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Answer{}, err
	}
	questionID, err := strAttr(item, "questionId")
	if err != nil {
		return domain.Answer{}, err
	}
	text, _ := strAttr(item, "answerText")   // allow empty
	feedback, _ := strAttr(item, "feedback") // allow empty
	created, err := optionalTimeAttr(item, "createdAt")
	if err != nil {
		return domain.Answer{}, err
	}
	return domain.Answer{
		ID:         id,
		UserID:     userID,
		QuestionID: questionID,
		AnswerText: text,
		Feedback:   feedback,
		CreatedAt:  created,
	}, nil
}

// itemToStreak treats missing counters as zero.
func itemToStreak(userID string, item map[string]types.AttributeValue) (domain.Streak, error) {
	s := domain.Streak{UserID: userID}
	var err error
	if _, ok := item["currentStreak"]; ok {
		if s.CurrentStreak, err = intAttr(item, "currentStreak"); err != nil {
			return domain.Streak{}, err
		}
	}
	if _, ok := item["maxStreak"]; ok {
		if s.MaxStreak, err = intAttr(item, "maxStreak"); err != nil {
			return domain.Streak{}, err
		}
	}
	if s.UpdatedAt, err = optionalTimeAttr(item, "updatedAt"); err != nil {
		return domain.Streak{}, err
	}
	return s, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optionalTimeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	if _, ok := item[key]; !ok {
		return time.Time{}, nil
	}
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
