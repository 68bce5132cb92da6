package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/repository"
	"github.com/readgate/readgate/internal/repository/sqlite"
	"github.com/readgate/readgate/internal/testutil"
)

type AttemptRepositorySuite struct {
	suite.Suite
	db   *sql.DB
	repo repository.AttemptRepository
}

func (s *AttemptRepositorySuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.repo = sqlite.NewAttemptRepository(s.db)
}

func (s *AttemptRepositorySuite) TearDownTest() {
	testutil.MustClose(s.T(), s.db)
}

func (s *AttemptRepositorySuite) setupProfile() int64 {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (username) VALUES (?)`, "testuser")
	s.Require().NoError(err)

	var profileID int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE username = ?`, "testuser").Scan(&profileID)
	s.Require().NoError(err)
	return profileID
}

func (s *AttemptRepositorySuite) newAttempt(profileID int64, id string, passed bool) models.GateAttempt {
	return models.GateAttempt{
		ID:          id,
		ProfileID:   profileID,
		GateType:    models.GateShare,
		SourceRef:   "src-1",
		Answers:     map[string]string{"q1": "a", "q2": "b"},
		Score:       2,
		Total:       3,
		Passed:      passed,
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func (s *AttemptRepositorySuite) TestInsertAndGet() {
	ctx := context.Background()
	profileID := s.setupProfile()

	attempt := s.newAttempt(profileID, "attempt-1", true)
	s.Require().NoError(s.repo.Insert(ctx, attempt))

	got, err := s.repo.Get(ctx, "attempt-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(attempt.ProfileID, got.ProfileID)
	s.Equal(models.GateShare, got.GateType)
	s.Equal(map[string]string{"q1": "a", "q2": "b"}, got.Answers)
	s.True(got.Passed)
}

func (s *AttemptRepositorySuite) TestGetMissingReturnsNil() {
	got, err := s.repo.Get(context.Background(), "nope")
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *AttemptRepositorySuite) TestInsertIsWriteOnce() {
	ctx := context.Background()
	profileID := s.setupProfile()

	attempt := s.newAttempt(profileID, "attempt-1", false)
	s.Require().NoError(s.repo.Insert(ctx, attempt))

	// A retried audit job must neither duplicate nor mutate the record.
	mutated := attempt
	mutated.Passed = true
	mutated.Score = 3
	s.Require().NoError(s.repo.Insert(ctx, mutated))

	got, err := s.repo.Get(ctx, "attempt-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.False(got.Passed, "the original record survives a duplicate insert")

	count, err := s.repo.Count(ctx, models.AttemptFilter{ProfileID: profileID})
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *AttemptRepositorySuite) TestListWithFilters() {
	ctx := context.Background()
	profileID := s.setupProfile()

	pass := s.newAttempt(profileID, "attempt-pass", true)
	s.Require().NoError(s.repo.Insert(ctx, pass))

	fail := s.newAttempt(profileID, "attempt-fail", false)
	fail.GateType = models.GateComposer
	fail.CompletedAt = fail.CompletedAt.Add(time.Minute)
	s.Require().NoError(s.repo.Insert(ctx, fail))

	all, err := s.repo.List(ctx, models.AttemptFilter{ProfileID: profileID})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("attempt-fail", all[0].ID, "newest first")

	passed := true
	onlyPassed, err := s.repo.List(ctx, models.AttemptFilter{ProfileID: profileID, Passed: &passed})
	s.Require().NoError(err)
	s.Require().Len(onlyPassed, 1)
	s.Equal("attempt-pass", onlyPassed[0].ID)

	composer, err := s.repo.List(ctx, models.AttemptFilter{ProfileID: profileID, GateType: models.GateComposer})
	s.Require().NoError(err)
	s.Require().Len(composer, 1)
	s.Equal("attempt-fail", composer[0].ID)
}

func TestAttemptRepositorySuite(t *testing.T) {
	suite.Run(t, new(AttemptRepositorySuite))
}
