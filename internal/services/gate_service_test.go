package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/gate"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/oracle"
	"github.com/readgate/readgate/internal/reader"
	"github.com/readgate/readgate/internal/repository"
	"github.com/readgate/readgate/internal/repository/sqlite"
	"github.com/readgate/readgate/internal/services"
	"github.com/readgate/readgate/internal/testutil"
	"github.com/readgate/readgate/internal/testutil/mocks"
)

type gateFixture struct {
	svc      services.GateService
	feed     services.FeedService
	client   *mocks.OracleClient
	attempts repository.AttemptRepository
	profile  *models.Profile
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	t.Cleanup(func() { testutil.MustClose(t, db) })

	client := new(mocks.OracleClient)
	attempts := sqlite.NewAttemptRepository(db)
	feed := services.NewFeedService(sqlite.NewProfileRepository(db), sqlite.NewPostRepository(db))

	orc := gate.New(client, nil, services.NewAttemptRecorder(nil, attempts), nil, gate.Config{
		DefaultQuestionCount:    3,
		ReshareWordsPerQuestion: 120,
		MinQuestions:            2,
		MaxQuestions:            5,
		Reader:                  reader.Config{VisibleAheadBlocks: 100},
	})
	svc := services.NewGateService(orc, feed, attempts)
	t.Cleanup(svc.Shutdown)

	profile, err := feed.GetOrCreateProfile(context.Background(), "alice")
	require.NoError(t, err)

	return &gateFixture{svc: svc, feed: feed, client: client, attempts: attempts, profile: profile}
}

func singleQuestionSet() *oracle.QuestionSet {
	return &oracle.QuestionSet{
		QAID: "qa-1",
		Questions: []models.QuizQuestion{
			{ID: "q1", Stem: "What was the text about?", Choices: []models.QuizChoice{
				{ID: "a", Text: "First"},
				{ID: "b", Text: "Second"},
			}},
		},
	}
}

func TestStartGate_UnknownProfile(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.svc.StartGate(context.Background(), services.StartGateRequest{
		ProfileID: 9999,
		GateType:  models.GateComposer,
		OwnText:   "some text",
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestStartGate_TestModePropagates(t *testing.T) {
	f := newGateFixture(t)

	f.client.On("GenerateQuestionSet", mock.Anything, mock.MatchedBy(func(req oracle.GenerateRequest) bool {
		return req.TestMode
	})).Return(singleQuestionSet(), nil)

	view, err := f.svc.StartGate(context.Background(), services.StartGateRequest{
		ProfileID: f.profile.ID,
		GateType:  models.GateComposer,
		OwnText:   strings.Repeat("word ", 100),
		TestMode:  true,
	})
	require.NoError(t, err)
	require.NotNil(t, view.Question)
	f.client.AssertExpectations(t)
}

func TestGateFlow_PassPublishesDraftAndRecordsAttempt(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	f.client.On("GenerateQuestionSet", mock.Anything, mock.Anything).
		Return(singleQuestionSet(), nil)
	f.client.On("ValidateStep", mock.Anything, "qa-1", "q1", "a").
		Return(&oracle.StepResult{IsCorrect: true}, nil)
	f.client.On("CommitFinal", mock.Anything, "qa-1", mock.Anything).
		Return(&oracle.FinalResult{Passed: true, Score: 1, Total: 1}, nil)

	view, err := f.svc.StartGate(ctx, services.StartGateRequest{
		ProfileID: f.profile.ID,
		GateType:  models.GateComposer,
		OwnText:   strings.Repeat("word ", 100),
		DraftBody: "my own take",
	})
	require.NoError(t, err)
	require.NotNil(t, view.Question)
	assert.False(t, view.RequiresReading)

	step, err := f.svc.SubmitAnswer(ctx, view.SessionID, "a")
	require.NoError(t, err)
	assert.True(t, step.Done)
	assert.Equal(t, gate.PhasePassed, step.Phase)

	posts, _, err := f.feed.ListFeed(ctx, models.PostFilter{ProfileID: f.profile.ID})
	require.NoError(t, err)
	require.Len(t, posts, 1, "a passed gate publishes the draft")
	assert.Equal(t, "my own take", posts[0].Body)
	assert.Equal(t, view.SessionID, posts[0].AttemptID)

	// Audit write is asynchronous.
	require.Eventually(t, func() bool {
		attempt, err := f.attempts.Get(ctx, view.SessionID)
		return err == nil && attempt != nil && attempt.Passed
	}, 2*time.Second, 10*time.Millisecond)

	// The session is torn down after resolution.
	_, err = f.svc.GetSession(ctx, view.SessionID)
	require.Error(t, err)
}

func TestGateFlow_FailDoesNotPublish(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	f.client.On("GenerateQuestionSet", mock.Anything, mock.Anything).
		Return(singleQuestionSet(), nil)
	f.client.On("ValidateStep", mock.Anything, "qa-1", "q1", "b").
		Return(&oracle.StepResult{IsCorrect: false}, nil)

	view, err := f.svc.StartGate(ctx, services.StartGateRequest{
		ProfileID: f.profile.ID,
		GateType:  models.GateComposer,
		OwnText:   strings.Repeat("word ", 100),
		DraftBody: "should never appear",
	})
	require.NoError(t, err)

	step, err := f.svc.SubmitAnswer(ctx, view.SessionID, "b")
	require.NoError(t, err)
	assert.False(t, step.Done)

	step, err = f.svc.SubmitAnswer(ctx, view.SessionID, "b")
	require.NoError(t, err)
	require.True(t, step.Done)
	assert.Equal(t, gate.PhaseFailed, step.Phase)

	posts, _, err := f.feed.ListFeed(ctx, models.PostFilter{ProfileID: f.profile.ID})
	require.NoError(t, err)
	assert.Empty(t, posts, "a failed gate never publishes")

	require.Eventually(t, func() bool {
		attempt, err := f.attempts.Get(ctx, view.SessionID)
		return err == nil && attempt != nil && !attempt.Passed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseSession_NoPublishNoAudit(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	f.client.On("GenerateQuestionSet", mock.Anything, mock.Anything).
		Return(singleQuestionSet(), nil)

	view, err := f.svc.StartGate(ctx, services.StartGateRequest{
		ProfileID: f.profile.ID,
		GateType:  models.GateComment,
		OwnText:   strings.Repeat("word ", 100),
		DraftBody: "abandoned",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.CloseSession(ctx, view.SessionID))
	require.Error(t, f.svc.CloseSession(ctx, view.SessionID), "session is gone after close")

	posts, _, err := f.feed.ListFeed(ctx, models.PostFilter{ProfileID: f.profile.ID})
	require.NoError(t, err)
	assert.Empty(t, posts)

	attempt, err := f.attempts.Get(ctx, view.SessionID)
	require.NoError(t, err)
	assert.Nil(t, attempt, "cancelled sessions leave no audit record")
}

func TestListAttempts(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	require.NoError(t, f.attempts.Insert(ctx, models.GateAttempt{
		ID:          "attempt-1",
		ProfileID:   f.profile.ID,
		GateType:    models.GateShare,
		SourceRef:   "src-1",
		Answers:     map[string]string{"q1": "a"},
		Score:       1,
		Total:       1,
		Passed:      true,
		CompletedAt: time.Now().UTC(),
	}))

	attempts, total, err := f.svc.ListAttempts(ctx, models.AttemptFilter{ProfileID: f.profile.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, attempts, 1)
	assert.Equal(t, "attempt-1", attempts[0].ID)
}
