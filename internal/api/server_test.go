package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/readgate/readgate/internal/api"
	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/gate"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/oracle"
	"github.com/readgate/readgate/internal/reader"
	"github.com/readgate/readgate/internal/repository/sqlite"
	"github.com/readgate/readgate/internal/services"
	"github.com/readgate/readgate/internal/session"
	"github.com/readgate/readgate/internal/testutil"
	"github.com/readgate/readgate/internal/testutil/mocks"
)

type apiFixture struct {
	server *httptest.Server
	client *mocks.OracleClient
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	t.Cleanup(func() { testutil.MustClose(t, db) })

	client := new(mocks.OracleClient)
	attempts := sqlite.NewAttemptRepository(db)
	feed := services.NewFeedService(sqlite.NewProfileRepository(db), sqlite.NewPostRepository(db))
	orc := gate.New(client, nil, services.NewAttemptRecorder(nil, attempts), nil, gate.Config{
		Reader: reader.Config{VisibleAheadBlocks: 100},
	})
	gateSvc := services.NewGateService(orc, feed, attempts)
	t.Cleanup(gateSvc.Shutdown)

	srv := &api.Server{FeedService: feed, GateService: gateSvc}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &apiFixture{server: ts, client: client}
}

func (f *apiFixture) do(t *testing.T, method, path, profileID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if profileID != "" {
		req.Header.Set("X-Profile-ID", profileID)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (f *apiFixture) createProfile(t *testing.T, username string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/profiles", "", map[string]string{"username": username})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile models.Profile
	decodeBody(t, resp, &profile)
	var id string
	for _, c := range resp.Cookies() {
		if c.Name == "profile_id" {
			id = c.Value
		}
	}
	require.NotEmpty(t, id, "profile cookie must be set")
	return id
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateRoutesRequireProfile(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/gate/start", "", map[string]string{"gate_type": "share"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateStart_RetryableErrorShape(t *testing.T) {
	f := newAPIFixture(t)
	profileID := f.createProfile(t, "alice")

	f.client.On("FetchSourcePreview", mock.Anything, mock.Anything).
		Return(&oracle.SourcePreview{Title: "T", Content: "Some usable body text.", SourceRef: "src-1"}, nil)
	f.client.On("GenerateQuestionSet", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewInsufficientContentError("src-1"))

	resp := f.do(t, http.MethodPost, "/api/v1/gate/start", profileID, map[string]any{
		"gate_type":  "share",
		"source_url": "https://example.com/a",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Error struct {
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, apperrors.ErrCodeInsufficientContent, body.Error.Code)
	assert.True(t, body.Error.Retryable, "content-quality errors must invite a force-refresh retry")
}

func TestGateFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	profileID := f.createProfile(t, "alice")

	f.client.On("GenerateQuestionSet", mock.Anything, mock.Anything).
		Return(&oracle.QuestionSet{
			QAID: "qa-1",
			Questions: []models.QuizQuestion{
				{ID: "q1", Stem: "About what?", Choices: []models.QuizChoice{
					{ID: "a", Text: "First"},
					{ID: "b", Text: "Second"},
				}},
			},
		}, nil)
	f.client.On("ValidateStep", mock.Anything, "qa-1", "q1", "a").
		Return(&oracle.StepResult{IsCorrect: true}, nil)
	f.client.On("CommitFinal", mock.Anything, "qa-1", mock.Anything).
		Return(&oracle.FinalResult{Passed: true, Score: 1, Total: 1}, nil)

	resp := f.do(t, http.MethodPost, "/api/v1/gate/start", profileID, map[string]any{
		"gate_type":  "composer",
		"own_text":   strings.Repeat("word ", 150),
		"draft_body": "my take",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view services.GateView
	decodeBody(t, resp, &view)
	require.NotEmpty(t, view.SessionID)
	require.NotNil(t, view.Question)
	assert.Len(t, view.Question.Choices, 2)

	// The serialized question must carry nothing but ids, stems and texts.
	raw, err := json.Marshal(view.Question)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct")

	resp = f.do(t, http.MethodPost, "/api/v1/gate/"+view.SessionID+"/answer", profileID, map[string]string{
		"choice_id": "a",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var step services.StepView
	decodeBody(t, resp, &step)
	assert.True(t, step.Done)
	assert.Equal(t, gate.PhasePassed, step.Phase)

	resp = f.do(t, http.MethodGet, "/api/v1/feed?limit=10", profileID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feedBody struct {
		Posts []models.Post `json:"posts"`
		Total int           `json:"total"`
	}
	decodeBody(t, resp, &feedBody)
	require.Equal(t, 1, feedBody.Total)
	assert.Equal(t, "my take", feedBody.Posts[0].Body)
}

func TestSessionResumeMarksCredentialSuspect(t *testing.T) {
	var refreshes int32
	guard := session.NewGuard(func(context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}, session.Config{})

	srv := &api.Server{Guard: guard}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	require.NoError(t, guard.EnsureReady(context.Background()))
	require.Zero(t, atomic.LoadInt32(&refreshes), "a fresh credential needs no refresh")

	resp, err := http.Post(ts.URL+"/api/v1/session/resume", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, guard.EnsureReady(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes), "resume makes the next call verify first")
}

func TestGateClose(t *testing.T) {
	f := newAPIFixture(t)
	profileID := f.createProfile(t, "alice")

	f.client.On("GenerateQuestionSet", mock.Anything, mock.Anything).
		Return(&oracle.QuestionSet{
			QAID: "qa-1",
			Questions: []models.QuizQuestion{
				{ID: "q1", Stem: "About what?", Choices: []models.QuizChoice{
					{ID: "a", Text: "First"},
					{ID: "b", Text: "Second"},
				}},
			},
		}, nil)

	resp := f.do(t, http.MethodPost, "/api/v1/gate/start", profileID, map[string]any{
		"gate_type": "comment",
		"own_text":  strings.Repeat("word ", 100),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var view services.GateView
	decodeBody(t, resp, &view)

	resp = f.do(t, http.MethodPost, "/api/v1/gate/"+view.SessionID+"/close", profileID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/gate/"+view.SessionID, profileID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
