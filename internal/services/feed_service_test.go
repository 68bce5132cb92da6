package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/repository/sqlite"
	"github.com/readgate/readgate/internal/services"
	"github.com/readgate/readgate/internal/testutil"
)

func newFeedService(t *testing.T) services.FeedService {
	t.Helper()
	db := testutil.NewTestDB(t)
	t.Cleanup(func() { testutil.MustClose(t, db) })
	return services.NewFeedService(sqlite.NewProfileRepository(db), sqlite.NewPostRepository(db))
}

func TestGetOrCreateProfile(t *testing.T) {
	svc := newFeedService(t)
	ctx := context.Background()

	profile, err := svc.GetOrCreateProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)

	again, err := svc.GetOrCreateProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, again.ID)

	_, err = svc.GetOrCreateProfile(ctx, "   ")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
}

func TestCreatePost(t *testing.T) {
	svc := newFeedService(t)
	ctx := context.Background()

	profile, err := svc.GetOrCreateProfile(ctx, "alice")
	require.NoError(t, err)

	post, err := svc.CreatePost(ctx, models.Post{
		ProfileID: profile.ID,
		Body:      "worth reading",
		LinkURL:   "https://example.com/a",
	})
	require.NoError(t, err)
	assert.Positive(t, post.ID)
	assert.Equal(t, "worth reading", post.Body)

	_, err = svc.CreatePost(ctx, models.Post{ProfileID: profile.ID, Body: "  "})
	require.Error(t, err)

	_, err = svc.CreatePost(ctx, models.Post{ProfileID: 9999, Body: "orphan"})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestListFeed(t *testing.T) {
	svc := newFeedService(t)
	ctx := context.Background()

	profile, err := svc.GetOrCreateProfile(ctx, "alice")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.CreatePost(ctx, models.Post{ProfileID: profile.ID, Body: "post"})
		require.NoError(t, err)
	}

	posts, total, err := svc.ListFeed(ctx, models.PostFilter{ProfileID: profile.ID})
	require.NoError(t, err)
	assert.Len(t, posts, 3)
	assert.Equal(t, 3, total)
}
