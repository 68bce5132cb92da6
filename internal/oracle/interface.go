package oracle

import "context"

// ClientInterface defines the operations the gate performs against the
// trusted remote oracle. This interface enables testability by allowing
// mock implementations.
type ClientInterface interface {
	FetchSourcePreview(ctx context.Context, url string) (*SourcePreview, error)
	GenerateQuestionSet(ctx context.Context, req GenerateRequest) (*QuestionSet, error)
	ValidateStep(ctx context.Context, qaID, questionID, choiceID string) (*StepResult, error)
	CommitFinal(ctx context.Context, qaID string, answers map[string]string) (*FinalResult, error)
	RefreshCredential(ctx context.Context) error
}

// Ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)
