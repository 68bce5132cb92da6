package services

import (
	"context"
	"strings"

	"github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/repository"
)

// FeedService handles profile and post business logic
type FeedService interface {
	GetOrCreateProfile(ctx context.Context, username string) (*models.Profile, error)
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	CreatePost(ctx context.Context, post models.Post) (*models.Post, error)
	ListFeed(ctx context.Context, filter models.PostFilter) ([]models.Post, int, error)
}

type feedService struct {
	profiles repository.ProfileRepository
	posts    repository.PostRepository
}

// NewFeedService creates a new FeedService
func NewFeedService(profiles repository.ProfileRepository, posts repository.PostRepository) FeedService {
	return &feedService{profiles: profiles, posts: posts}
}

func (s *feedService) GetOrCreateProfile(ctx context.Context, username string) (*models.Profile, error) {
	log := logger.FromContext(ctx)

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.NewValidationError("username", "cannot be empty")
	}
	if len(username) > 64 {
		return nil, errors.NewValidationError("username", "too long")
	}

	profile, err := s.profiles.Upsert(ctx, username)
	if err != nil {
		log.Error("failed to upsert profile: %v", err)
		return nil, errors.NewInternalError(err)
	}
	return profile, nil
}

func (s *feedService) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	profile, err := s.profiles.Get(ctx, id)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if profile == nil {
		return nil, errors.NewNotFoundError("profile", id)
	}
	return profile, nil
}

func (s *feedService) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	return profiles, nil
}

func (s *feedService) CreatePost(ctx context.Context, post models.Post) (*models.Post, error) {
	log := logger.FromContext(ctx)
	log.Debug("creating post: profile_id=%d", post.ProfileID)

	if strings.TrimSpace(post.Body) == "" {
		return nil, errors.NewValidationError("body", "cannot be empty")
	}
	if profile, err := s.profiles.Get(ctx, post.ProfileID); err != nil {
		return nil, errors.NewInternalError(err)
	} else if profile == nil {
		return nil, errors.NewNotFoundError("profile", post.ProfileID)
	}

	id, err := s.posts.Insert(ctx, post)
	if err != nil {
		log.Error("failed to insert post: %v", err)
		return nil, errors.NewInternalError(err)
	}

	created, err := s.posts.Get(ctx, id)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	log.Info("post created: id=%d, profile_id=%d", id, post.ProfileID)
	return created, nil
}

func (s *feedService) ListFeed(ctx context.Context, filter models.PostFilter) ([]models.Post, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}

	posts, err := s.posts.List(ctx, filter)
	if err != nil {
		return nil, 0, errors.NewInternalError(err)
	}
	total, err := s.posts.Count(ctx, filter)
	if err != nil {
		return nil, 0, errors.NewInternalError(err)
	}
	return posts, total, nil
}
