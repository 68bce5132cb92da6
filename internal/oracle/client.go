package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
)

// SourcePreview is the extracted view of an external source.
type SourcePreview struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Quality   string `json:"quality"`
	SourceRef string `json:"source_ref"`
}

// GenerateRequest asks the oracle for a question set. Exactly one of
// SourceRef or RawText anchors the questions.
type GenerateRequest struct {
	Title         string `json:"title,omitempty"`
	SourceRef     string `json:"source_ref,omitempty"`
	RawText       string `json:"raw_text,omitempty"`
	QuestionCount int    `json:"question_count,omitempty"`
	TestMode      bool   `json:"test_mode,omitempty"`
	ForceRefresh  bool   `json:"force_refresh,omitempty"`
}

// QuestionSet is a quiz session seed. Questions never carry the correct
// choice id; only the oracle knows it.
type QuestionSet struct {
	QAID      string                `json:"qa_id"`
	Questions []models.QuizQuestion `json:"questions"`
}

// StepResult is the oracle's answer to one step validation. The shape is
// deliberately this small: a wrong-answer response must not leak the key.
type StepResult struct {
	IsCorrect bool `json:"is_correct"`
}

// FinalResult is the authoritative verdict from the final commit.
type FinalResult struct {
	Passed       bool  `json:"passed"`
	Score        int   `json:"score"`
	Total        int   `json:"total"`
	WrongIndexes []int `json:"wrong_indexes"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	genLimiter *rate.Limiter
	log        *logger.Logger

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithGenerateRate limits how often question generation may be requested.
// Generation is the expensive oracle call; force-refresh retries must not
// storm it.
func WithGenerateRate(perSec float64, burst int) Option {
	return func(c *Client) { c.genLimiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		genLimiter: rate.NewLimiter(rate.Limit(1), 3),
		log:        logger.Default().WithPrefix("oracle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FetchSourcePreview(ctx context.Context, url string) (*SourcePreview, error) {
	log := logger.FromContext(ctx).WithPrefix("oracle").WithField("url", url)
	log.Debug("fetching source preview")
	start := time.Now()

	var out SourcePreview
	if err := c.do(ctx, http.MethodPost, "/v1/source/preview", map[string]string{"url": url}, &out); err != nil {
		log.Error("failed to fetch source preview: %v", err)
		return nil, err
	}

	log.Debug("source preview received in %v, quality=%s", time.Since(start), out.Quality)
	if strings.TrimSpace(out.Content) == "" {
		log.Warn("source preview has no usable content")
		return nil, apperrors.NewContentFetchError(fmt.Errorf("empty content for %s", url))
	}
	return &out, nil
}

func (c *Client) GenerateQuestionSet(ctx context.Context, req GenerateRequest) (*QuestionSet, error) {
	log := logger.FromContext(ctx).WithPrefix("oracle").WithField("source_ref", req.SourceRef)

	if err := c.genLimiter.Wait(ctx); err != nil {
		return nil, apperrors.NewTransportError(err)
	}

	log.Debug("requesting question set: count=%d, force_refresh=%v", req.QuestionCount, req.ForceRefresh)
	start := time.Now()

	var out struct {
		QAID      string                `json:"qa_id"`
		Questions []models.QuizQuestion `json:"questions"`
		ErrorCode string                `json:"error_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/questions/generate", req, &out); err != nil {
		log.Error("failed to generate question set: %v", err)
		return nil, err
	}

	switch out.ErrorCode {
	case "":
	case "INSUFFICIENT_CONTENT":
		log.Warn("oracle reports insufficient content")
		return nil, apperrors.NewInsufficientContentError(req.SourceRef)
	case "METADATA_ONLY":
		log.Warn("oracle reports metadata-only source")
		return nil, apperrors.NewMetadataOnlyError(req.SourceRef)
	default:
		log.Error("oracle reports generation error: %s", out.ErrorCode)
		return nil, apperrors.NewQuestionGenerationError(fmt.Errorf("error code %s", out.ErrorCode))
	}

	log.Info("question set received in %v: qa_id=%s, questions=%d", time.Since(start), out.QAID, len(out.Questions))
	return &QuestionSet{QAID: out.QAID, Questions: out.Questions}, nil
}

func (c *Client) ValidateStep(ctx context.Context, qaID, questionID, choiceID string) (*StepResult, error) {
	log := logger.FromContext(ctx).WithPrefix("oracle").WithFields(map[string]any{
		"qa_id":       qaID,
		"question_id": questionID,
	})
	log.Debug("validating step")

	payload := map[string]string{
		"qa_id":       qaID,
		"question_id": questionID,
		"choice_id":   choiceID,
	}
	var out StepResult
	if err := c.do(ctx, http.MethodPost, "/v1/questions/validate", payload, &out); err != nil {
		log.Error("failed to validate step: %v", err)
		return nil, err
	}
	log.Debug("step validated: is_correct=%v", out.IsCorrect)
	return &out, nil
}

func (c *Client) CommitFinal(ctx context.Context, qaID string, answers map[string]string) (*FinalResult, error) {
	log := logger.FromContext(ctx).WithPrefix("oracle").WithField("qa_id", qaID)
	log.Debug("committing final answers: count=%d", len(answers))

	payload := map[string]any{
		"qa_id":   qaID,
		"answers": answers,
	}
	var out *FinalResult
	if err := c.do(ctx, http.MethodPost, "/v1/questions/commit", payload, &out); err != nil {
		log.Error("failed to commit final answers: %v", err)
		return nil, err
	}
	if out == nil {
		log.Error("oracle returned a null verdict")
		return nil, nil
	}
	log.Info("final verdict: passed=%v, score=%d/%d", out.Passed, out.Score, out.Total)
	return out, nil
}

func (c *Client) RefreshCredential(ctx context.Context) error {
	log := logger.FromContext(ctx).WithPrefix("oracle")
	log.Debug("refreshing credential")
	start := time.Now()

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", nil, &out); err != nil {
		log.Error("credential refresh failed: %v", err)
		return err
	}
	if out.Token == "" {
		log.Error("credential refresh returned an empty token")
		return apperrors.NewTransportError(fmt.Errorf("empty token in refresh response"))
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()

	log.Info("credential refreshed in %v", time.Since(start))
	return nil
}

// SetToken seeds the bearer token, e.g. from an initial login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.NewTransportError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = "credential rejected"
		}
		return apperrors.NewAuthError(resp.StatusCode, msg)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.NewTransportError(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewTransportError(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
