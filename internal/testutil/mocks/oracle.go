package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/readgate/readgate/internal/oracle"
)

// OracleClient is a mock of oracle.ClientInterface.
type OracleClient struct {
	mock.Mock
}

var _ oracle.ClientInterface = (*OracleClient)(nil)

func (m *OracleClient) FetchSourcePreview(ctx context.Context, url string) (*oracle.SourcePreview, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.SourcePreview), args.Error(1)
}

func (m *OracleClient) GenerateQuestionSet(ctx context.Context, req oracle.GenerateRequest) (*oracle.QuestionSet, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.QuestionSet), args.Error(1)
}

func (m *OracleClient) ValidateStep(ctx context.Context, qaID, questionID, choiceID string) (*oracle.StepResult, error) {
	args := m.Called(ctx, qaID, questionID, choiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.StepResult), args.Error(1)
}

func (m *OracleClient) CommitFinal(ctx context.Context, qaID string, answers map[string]string) (*oracle.FinalResult, error) {
	args := m.Called(ctx, qaID, answers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.FinalResult), args.Error(1)
}

func (m *OracleClient) RefreshCredential(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
