package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"daily-prompt/internal/domain"
)

type fakeDynamo struct {
	getOut   *dynamodb.GetItemOutput
	getErr   error
	putErr   error
	queryErr error
	txErr    error

	// queryPages are returned in order, one per Query call, for each
	// partition key.
	queryPages map[string][]*dynamodb.QueryOutput

	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
	queries      []queryCall
}

type queryCall struct {
	in       *dynamodb.QueryInput
	startKey map[string]types.AttributeValue
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, queryCall{in: in, startKey: in.ExclusiveStartKey})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	pages := f.queryPages[pk]
	if len(pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	f.queryPages[pk] = pages[1:]
	return pages[0], nil
}

func strAV(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }

func questionRow(id, text, created string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strAV(pkCatalog), "SK": strAV(questionSK(id)),
		"questionId": strAV(id), "text": strAV(text), "createdAt": strAV(created),
	}
}

func answerRow(id, questionID, feedback string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strAV("USER#u1"), "SK": strAV("ANSWER#x#" + id),
		"answerId": strAV(id), "userId": strAV("u1"), "questionId": strAV(questionID),
		"answerText": strAV("my answer"), "feedback": strAV(feedback),
		"createdAt": strAV("2026-10-14T08:00:00Z"),
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	if db.queryPages == nil {
		db.queryPages = map[string][]*dynamodb.QueryOutput{}
	}
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) }
	c.newID = func() string { return "ans-1" }
	return c
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestListQuestions_PaginatesAndSorts(t *testing.T) {
	lastKey := map[string]types.AttributeValue{"PK": strAV(pkCatalog), "SK": strAV("QUESTION#b")}
	db := &fakeDynamo{queryPages: map[string][]*dynamodb.QueryOutput{
		pkCatalog: {
			{Items: []map[string]types.AttributeValue{
				questionRow("b", "Second", "2026-01-02T00:00:00Z"),
				questionRow("c", "Third", "2026-01-02T00:00:00Z"),
			}, LastEvaluatedKey: lastKey},
			{Items: []map[string]types.AttributeValue{
				questionRow("a", "First", "2026-01-01T00:00:00Z"),
			}},
		},
	}}
	c := mustNewClient(t, db)

	qs, err := c.ListQuestions(context.Background())
	require.NoError(t, err)
	require.Len(t, qs, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{qs[0].ID, qs[1].ID, qs[2].ID})
	require.Equal(t, "First", qs[0].Text)

	require.Len(t, db.queries, 2)
	require.Nil(t, db.queries[0].startKey)
	require.Equal(t, lastKey, db.queries[1].startKey)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queries[0].in.KeyConditionExpression)
}

func TestListQuestions_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.ListQuestions(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListQuestions")
}

func TestListQuestions_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryPages: map[string][]*dynamodb.QueryOutput{
		pkCatalog: {{Items: []map[string]types.AttributeValue{{"PK": strAV(pkCatalog), "questionId": strAV("a")}}}},
	}}
	_, err := mustNewClient(t, db).ListQuestions(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "text")
}

func TestPutQuestion(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.PutQuestion(context.Background(), domain.Question{ID: "q1", Text: "Describe your city."}))
	require.Equal(t, "QUESTION#q1", db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2026-10-15T12:00:00Z", db.lastPutInput.Item["createdAt"].(*types.AttributeValueMemberS).Value)

	require.Error(t, c.PutQuestion(context.Background(), domain.Question{Text: "no id"}))
}

func TestAnsweredQuestionIDs(t *testing.T) {
	db := &fakeDynamo{queryPages: map[string][]*dynamodb.QueryOutput{
		"USER#u1": {{Items: []map[string]types.AttributeValue{
			{"questionId": strAV("a")},
			{"questionId": strAV("c")},
		}}},
	}}
	c := mustNewClient(t, db)

	ids, err := c.AnsweredQuestionIDs(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, ids)
	in := db.queries[0].in
	require.Equal(t, "questionId", *in.ProjectionExpression)
	require.True(t, *in.ConsistentRead)
	require.Equal(t, "ANSWERED#", in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value)
}

func TestAnsweredQuestionIDs_QueryError(t *testing.T) {
	_, err := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")}).AnsweredQuestionIDs(context.Background(), "u1")
	require.ErrorContains(t, err, "AnsweredQuestionIDs")
}

func TestInsertAnswer_AssignsIDAndTimestamp(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	a, err := c.InsertAnswer(context.Background(), domain.Answer{
		UserID: "u1", QuestionID: "q1", AnswerText: "text", Feedback: `{"grammar":[]}`,
	})
	require.NoError(t, err)
	require.Equal(t, "ans-1", a.ID)
	require.Equal(t, time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), a.CreatedAt)

	require.Nil(t, db.lastPutInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	marker := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "USER#u1", marker.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ANSWERED#q1", marker.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "q1", marker.Item["questionId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(SK)", *marker.ConditionExpression)

	answer := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "USER#u1", answer.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ANSWER#2026-10-15T12:00:00.000000000Z#ans-1", answer.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, `{"grammar":[]}`, answer.Item["feedback"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *answer.ConditionExpression)
}

func TestInsertAnswer_SecondAnswerToSameQuestionIsDuplicate(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"transaction cancelled", &types.TransactionCanceledException{
			Message: aws.String("Transaction cancelled"),
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("ConditionalCheckFailed")},
				{Code: aws.String("None")},
			},
		}},
		{"conditional check", &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := mustNewClient(t, &fakeDynamo{txErr: tc.err})
			_, err := c.InsertAnswer(context.Background(), domain.Answer{UserID: "u1", QuestionID: "q1"})
			require.ErrorIs(t, err, ErrDuplicateAnswer)
		})
	}
}

func TestInsertAnswer_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("ProvisionedThroughputExceededException")})
	_, err := c.InsertAnswer(context.Background(), domain.Answer{UserID: "u1", QuestionID: "q1"})
	require.ErrorContains(t, err, "InsertAnswer")
	require.NotErrorIs(t, err, ErrDuplicateAnswer)

	c = mustNewClient(t, &fakeDynamo{txErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ThrottlingError")}},
	}})
	_, err = c.InsertAnswer(context.Background(), domain.Answer{UserID: "u1", QuestionID: "q1"})
	require.NotErrorIs(t, err, ErrDuplicateAnswer)

	_, err = c.InsertAnswer(context.Background(), domain.Answer{UserID: "u1"})
	require.ErrorContains(t, err, "required")
}

func TestAnswerSK_SortsChronologically(t *testing.T) {
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	early := answerSK(base.Add(100*time.Millisecond), "z")
	late := answerSK(base.Add(time.Second), "a")
	require.Less(t, early, late)
}

func TestListAnswers_JoinsQuestionText(t *testing.T) {
	db := &fakeDynamo{queryPages: map[string][]*dynamodb.QueryOutput{
		"USER#u1": {{Items: []map[string]types.AttributeValue{
			answerRow("a2", "q2", "fb2"),
			answerRow("a1", "q1", "fb1"),
		}}},
		pkCatalog: {{Items: []map[string]types.AttributeValue{
			questionRow("q1", "First prompt", "2026-01-01T00:00:00Z"),
			questionRow("q2", "Second prompt", "2026-01-02T00:00:00Z"),
		}}},
	}}
	c := mustNewClient(t, db)

	recs, err := c.ListAnswers(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "a2", recs[0].ID)
	require.Equal(t, "Second prompt", recs[0].QuestionText)
	require.Equal(t, "First prompt", recs[1].QuestionText)
	require.False(t, *db.queries[0].in.ScanIndexForward)
}

func TestListAnswers_EmptySkipsCatalog(t *testing.T) {
	db := &fakeDynamo{}
	recs, err := mustNewClient(t, db).ListAnswers(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Len(t, db.queries, 1)
}

func TestGetAnswer(t *testing.T) {
	db := &fakeDynamo{queryPages: map[string][]*dynamodb.QueryOutput{
		"USER#u1":  {{Items: []map[string]types.AttributeValue{answerRow("a1", "q1", "fb1")}}},
		pkCatalog: {{Items: []map[string]types.AttributeValue{questionRow("q1", "First prompt", "2026-01-01T00:00:00Z")}}},
	}}
	c := mustNewClient(t, db)

	rec, err := c.GetAnswer(context.Background(), "u1", "a1")
	require.NoError(t, err)
	require.Equal(t, "fb1", rec.Feedback)
	require.Equal(t, "First prompt", rec.QuestionText)
	require.Equal(t, "answerId = :id", *db.queries[0].in.FilterExpression)
}

func TestGetAnswer_NotFound(t *testing.T) {
	_, err := mustNewClient(t, &fakeDynamo{}).GetAnswer(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetStreak(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":            strAV("USER#u1"),
		"SK":            strAV(skStreak),
		"currentStreak": &types.AttributeValueMemberN{Value: "4"},
		"maxStreak":     &types.AttributeValueMemberN{Value: "9"},
		"updatedAt":     strAV("2026-10-14T08:00:00Z"),
	}}}
	c := mustNewClient(t, db)

	st, err := c.GetStreak(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 4, st.CurrentStreak)
	require.Equal(t, 9, st.MaxStreak)
	require.Equal(t, "u1", st.UserID)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, skStreak, db.lastGetInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestGetStreak_MissingRowIsZero(t *testing.T) {
	st, err := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}).GetStreak(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, domain.Streak{UserID: "u1"}, st)
}

func TestGetStreak_MissingMaxIsZero(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"currentStreak": &types.AttributeValueMemberN{Value: "2"},
	}}}
	st, err := mustNewClient(t, db).GetStreak(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 2, st.CurrentStreak)
	require.Zero(t, st.MaxStreak)
}

func TestGetStreak_Errors(t *testing.T) {
	_, err := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")}).GetStreak(context.Background(), "u1")
	require.ErrorContains(t, err, "GetStreak")

	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"currentStreak": strAV("bad"),
	}}}
	_, err = mustNewClient(t, db).GetStreak(context.Background(), "u1")
	require.ErrorContains(t, err, "decode")
}

func TestUpsertStreak(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.UpsertStreak(context.Background(), domain.Streak{UserID: "u1", CurrentStreak: 5, MaxStreak: 5}))

	item := db.lastPutInput.Item
	require.Equal(t, "5", item["currentStreak"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, skStreak, item["SK"].(*types.AttributeValueMemberS).Value)
	require.Nil(t, db.lastPutInput.ConditionExpression)

	require.Error(t, c.UpsertStreak(context.Background(), domain.Streak{}))

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("internal server error")})
	require.ErrorContains(t, c.UpsertStreak(context.Background(), domain.Streak{UserID: "u1"}), "UpsertStreak")
}
