package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/repository"
)

var sqlBuilder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

type postRepository struct {
	db *sql.DB
}

// NewPostRepository creates a new PostRepository implementation
func NewPostRepository(db *sql.DB) repository.PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Insert(ctx context.Context, post models.Post) (int64, error) {
	log := logger.FromContext(ctx).WithPrefix("post_repo")
	log.Debug("inserting post for profile %d", post.ProfileID)

	res, err := r.db.ExecContext(ctx, `
INSERT INTO posts (profile_id, body, link_url, attempt_id)
VALUES (?, ?, ?, ?)
`, post.ProfileID, post.Body, post.LinkURL, post.AttemptID)
	if err != nil {
		log.Error("failed to insert post: %v", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	log.Debug("post inserted: id=%d", id)
	return id, nil
}

func (r *postRepository) Get(ctx context.Context, id int64) (*models.Post, error) {
	log := logger.FromContext(ctx).WithPrefix("post_repo")

	var p models.Post
	err := r.db.QueryRowContext(ctx, `
SELECT id, profile_id, body, link_url, attempt_id, created_at
FROM posts
WHERE id = ?
`, id).Scan(&p.ID, &p.ProfileID, &p.Body, &p.LinkURL, &p.AttemptID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("post not found: id=%d", id)
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get post: %v", err)
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) List(ctx context.Context, filter models.PostFilter) ([]models.Post, error) {
	log := logger.FromContext(ctx).WithPrefix("post_repo")
	log.Debug("listing posts: profile_id=%d, limit=%d, offset=%d", filter.ProfileID, filter.Limit, filter.Offset)

	query := sqlBuilder.
		Select("id", "profile_id", "body", "link_url", "attempt_id", "created_at").
		From("posts").
		OrderBy("created_at DESC")
	query = applyPostFilter(query, filter)
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Error("failed to build post query: %v", err)
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		log.Error("failed to list posts: %v", err)
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.ProfileID, &p.Body, &p.LinkURL, &p.AttemptID, &p.CreatedAt); err != nil {
			log.Error("failed to scan post row: %v", err)
			return nil, err
		}
		posts = append(posts, p)
	}

	log.Debug("found %d posts", len(posts))
	return posts, rows.Err()
}

func (r *postRepository) Count(ctx context.Context, filter models.PostFilter) (int, error) {
	log := logger.FromContext(ctx).WithPrefix("post_repo")

	query := sqlBuilder.Select("COUNT(*)").From("posts")
	query = applyPostFilter(query, filter)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		log.Error("failed to count posts: %v", err)
		return 0, err
	}
	return count, nil
}

func applyPostFilter(query squirrel.SelectBuilder, filter models.PostFilter) squirrel.SelectBuilder {
	if filter.ProfileID > 0 {
		query = query.Where(squirrel.Eq{"profile_id": filter.ProfileID})
	}
	return query
}
