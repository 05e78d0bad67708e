package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const toggleAttempts = 3

// toggleMembership deletes the (user, target) row when present and inserts it
// otherwise. It reports whether the membership is active afterwards. Only the
// call whose INSERT actually lands reports active; losing an insert race to a
// concurrent toggle restarts the cycle, which then deletes the winner's row.
func (s *PostgresStore) toggleMembership(ctx context.Context, table, targetColumn, userID, targetID string) (bool, error) {
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		deleted, err := s.deleteMembership(ctx, table, targetColumn, userID, targetID)
		if err != nil || deleted {
			return false, err
		}
		var inserted int
		err = s.q(ctx).QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING 1`, table, targetColumn),
			userID, targetID).Scan(&inserted)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("insert %s: %w", table, mapError(err))
		}
		return true, nil
	}
	return false, fmt.Errorf("toggle %s: %w", table, ErrContended)
}

func (s *PostgresStore) deleteMembership(ctx context.Context, table, targetColumn, userID, targetID string) (bool, error) {
	result, err := s.q(ctx).ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE user_id=$1 AND %s=$2`, table, targetColumn),
		userID, targetID)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", table, mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s rows: %w", table, err)
	}
	return affected > 0, nil
}

// ToggleUpvote flips the upvote and recomputes issues.upvote_count from the
// upvotes table.
func (s *PostgresStore) ToggleUpvote(ctx context.Context, userID, issueID string) (bool, int, error) {
	active, err := s.toggleMembership(ctx, "upvotes", "issue_id", userID, issueID)
	if err != nil {
		return false, 0, err
	}
	var count int
	err = s.q(ctx).QueryRowContext(ctx, `
		UPDATE issues SET upvote_count = (SELECT COUNT(*) FROM upvotes WHERE issue_id = $1)
		WHERE id = $1
		RETURNING upvote_count
	`, issueID).Scan(&count)
	if err != nil {
		return false, 0, fmt.Errorf("recount upvotes: %w", mapError(err))
	}
	return active, count, nil
}

func (s *PostgresStore) ToggleBookmark(ctx context.Context, userID, issueID string) (bool, error) {
	return s.toggleMembership(ctx, "bookmarks", "issue_id", userID, issueID)
}

func (s *PostgresStore) RecountComments(ctx context.Context, issueID string) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `
		UPDATE issues SET comment_count = (SELECT COUNT(*) FROM comments WHERE issue_id = $1)
		WHERE id = $1
		RETURNING comment_count
	`, issueID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("recount comments: %w", mapError(err))
	}
	return count, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	if comment.ID == "" {
		comment.ID = newID()
	}
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO comments (id, issue_id, author_id, parent_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, comment.ID, comment.IssueID, comment.AuthorID, comment.ParentID, comment.Content).Scan(&comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", mapError(err))
	}
	return comment, nil
}

const commentColumns = `c.id, c.issue_id, c.author_id, u.full_name, c.parent_id, c.content, c.like_count, c.created_at, c.updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.AuthorName, &c.ParentID, &c.Content, &c.LikeCount, &c.CreatedAt, &c.UpdatedAt, &c.IsLiked)
	return c, err
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(s.q(ctx).QueryRowContext(ctx, `
		SELECT `+commentColumns+`, FALSE
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id = $1
	`, id))
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", mapError(err))
	}
	return c, nil
}

// ListComments returns every comment on the issue oldest first. IsLiked is
// computed for viewerID when it is set.
func (s *PostgresStore) ListComments(ctx context.Context, issueID, viewerID string) ([]Comment, error) {
	query := `
		SELECT ` + commentColumns + `, FALSE
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.issue_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`
	args := []any{issueID}
	if viewerID != "" {
		query = `
			SELECT ` + commentColumns + `,
				EXISTS (SELECT 1 FROM comment_likes cl WHERE cl.comment_id = c.id AND cl.user_id = $2)
			FROM comments c
			JOIN users u ON u.id = c.author_id
			WHERE c.issue_id = $1
			ORDER BY c.created_at ASC, c.id ASC
		`
		args = append(args, viewerID)
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	return expectOne(result, err, "delete comment")
}

// ToggleCommentLike flips the like and recomputes comments.like_count.
func (s *PostgresStore) ToggleCommentLike(ctx context.Context, userID, commentID string) (bool, int, error) {
	active, err := s.toggleMembership(ctx, "comment_likes", "comment_id", userID, commentID)
	if err != nil {
		return false, 0, err
	}
	var count int
	err = s.q(ctx).QueryRowContext(ctx, `
		UPDATE comments SET like_count = (SELECT COUNT(*) FROM comment_likes WHERE comment_id = $1)
		WHERE id = $1
		RETURNING like_count
	`, commentID).Scan(&count)
	if err != nil {
		return false, 0, fmt.Errorf("recount comment likes: %w", mapError(err))
	}
	return active, count, nil
}
