package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/repository"
)

type attemptRepository struct {
	db *sql.DB
}

// NewAttemptRepository creates a new AttemptRepository implementation
func NewAttemptRepository(db *sql.DB) repository.AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Insert(ctx context.Context, attempt models.GateAttempt) error {
	log := logger.FromContext(ctx).WithPrefix("attempt_repo")
	log.Debug("inserting gate attempt: id=%s, passed=%v", attempt.ID, attempt.Passed)

	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		log.Error("failed to marshal answers: %v", err)
		return err
	}

	// Write-once: a retried audit job must not duplicate or overwrite the
	// record, so an existing id makes the insert a no-op.
	return tx(ctx, r.db, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM gate_attempts WHERE id = ?`, attempt.ID).Scan(&existing)
		if err == nil {
			log.Debug("gate attempt already recorded: id=%s", attempt.ID)
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO gate_attempts (id, profile_id, gate_type, source_ref, answers, score, total, passed, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, attempt.ID, attempt.ProfileID, string(attempt.GateType), attempt.SourceRef,
			string(answers), attempt.Score, attempt.Total, attempt.Passed, attempt.CompletedAt)
		if err != nil {
			log.Error("failed to insert gate attempt: %v", err)
			return err
		}
		log.Debug("gate attempt inserted: id=%s", attempt.ID)
		return nil
	})
}

func (r *attemptRepository) Get(ctx context.Context, id string) (*models.GateAttempt, error) {
	log := logger.FromContext(ctx).WithPrefix("attempt_repo")

	row := r.db.QueryRowContext(ctx, `
SELECT id, profile_id, gate_type, source_ref, answers, score, total, passed, completed_at, created_at
FROM gate_attempts
WHERE id = ?
`, id)

	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("gate attempt not found: id=%s", id)
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get gate attempt: %v", err)
		return nil, err
	}
	return attempt, nil
}

func (r *attemptRepository) List(ctx context.Context, filter models.AttemptFilter) ([]models.GateAttempt, error) {
	log := logger.FromContext(ctx).WithPrefix("attempt_repo")
	log.Debug("listing gate attempts: profile_id=%d", filter.ProfileID)

	query := sqlBuilder.
		Select("id", "profile_id", "gate_type", "source_ref", "answers", "score", "total", "passed", "completed_at", "created_at").
		From("gate_attempts").
		OrderBy("completed_at DESC")
	query = applyAttemptFilter(query, filter)
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Error("failed to build attempt query: %v", err)
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		log.Error("failed to list gate attempts: %v", err)
		return nil, err
	}
	defer rows.Close()

	var attempts []models.GateAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			log.Error("failed to scan attempt row: %v", err)
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}

	log.Debug("found %d gate attempts", len(attempts))
	return attempts, rows.Err()
}

func (r *attemptRepository) Count(ctx context.Context, filter models.AttemptFilter) (int, error) {
	log := logger.FromContext(ctx).WithPrefix("attempt_repo")

	query := sqlBuilder.Select("COUNT(*)").From("gate_attempts")
	query = applyAttemptFilter(query, filter)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		log.Error("failed to count gate attempts: %v", err)
		return 0, err
	}
	return count, nil
}

func applyAttemptFilter(query squirrel.SelectBuilder, filter models.AttemptFilter) squirrel.SelectBuilder {
	if filter.ProfileID > 0 {
		query = query.Where(squirrel.Eq{"profile_id": filter.ProfileID})
	}
	if filter.GateType != "" {
		query = query.Where(squirrel.Eq{"gate_type": string(filter.GateType)})
	}
	if filter.Passed != nil {
		query = query.Where(squirrel.Eq{"passed": *filter.Passed})
	}
	return query
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*models.GateAttempt, error) {
	var (
		a        models.GateAttempt
		gateType string
		answers  string
	)
	if err := row.Scan(&a.ID, &a.ProfileID, &gateType, &a.SourceRef, &answers,
		&a.Score, &a.Total, &a.Passed, &a.CompletedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.GateType = models.GateType(gateType)
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return nil, err
	}
	return &a, nil
}
