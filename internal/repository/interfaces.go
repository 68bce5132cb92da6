package repository

import (
	"context"

	"github.com/readgate/readgate/internal/models"
)

// ProfileRepository handles profile data access
type ProfileRepository interface {
	Get(ctx context.Context, id int64) (*models.Profile, error)
	List(ctx context.Context) ([]models.Profile, error)
	Upsert(ctx context.Context, username string) (*models.Profile, error)
}

// PostRepository handles feed post data access
type PostRepository interface {
	Insert(ctx context.Context, post models.Post) (int64, error)
	Get(ctx context.Context, id int64) (*models.Post, error)
	List(ctx context.Context, filter models.PostFilter) ([]models.Post, error)
	Count(ctx context.Context, filter models.PostFilter) (int, error)
}

// AttemptRepository handles gate-attempt audit records. The interface is
// deliberately insert-and-read only: attempts are immutable.
type AttemptRepository interface {
	Insert(ctx context.Context, attempt models.GateAttempt) error
	Get(ctx context.Context, id string) (*models.GateAttempt, error)
	List(ctx context.Context, filter models.AttemptFilter) ([]models.GateAttempt, error)
	Count(ctx context.Context, filter models.AttemptFilter) (int, error)
}
