package store

import (
	"context"
	"database/sql"
	"fmt"
)

const discussionColumns = `id, document_id, user_id, COALESCE(document_content, ''), document_content_rich, is_resolved, created_at, updated_at`

const commentColumns = `id, discussion_id, user_id, content, content_rich, comment_type, is_edited, created_at, updated_at`

func scanDiscussion(row rowScanner) (Discussion, error) {
	var d Discussion
	var rich []byte
	if err := row.Scan(&d.ID, &d.DocumentID, &d.UserID, &d.DocumentContent, &rich, &d.IsResolved, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Discussion{}, err
	}
	d.DocumentContentRich = rawJSON(rich)
	d.Comments = []Comment{}
	return d, nil
}

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	var rich []byte
	var updated sql.NullTime
	if err := row.Scan(&c.ID, &c.DiscussionID, &c.UserID, &c.Content, &rich, &c.CommentType, &c.IsEdited, &c.CreatedAt, &updated); err != nil {
		return Comment{}, err
	}
	c.ContentRich = rawJSON(rich)
	if updated.Valid {
		t := updated.Time
		c.UpdatedAt = &t
	}
	return c, nil
}

// ListDiscussions loads every discussion of a document with its comments in
// creation order.
func (s *PostgresStore) ListDiscussions(ctx context.Context, documentID string) ([]Discussion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+discussionColumns+` FROM discussions WHERE document_id=$1 ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	defer rows.Close()

	discussions := make([]Discussion, 0)
	index := map[string]int{}
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		index[d.ID] = len(discussions)
		discussions = append(discussions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discussions: %w", err)
	}
	if len(discussions) == 0 {
		return discussions, nil
	}

	commentRows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c", commentColumns)+`
		FROM comments c
		JOIN discussions d ON d.id = c.discussion_id
		WHERE d.document_id=$1
		ORDER BY c.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer commentRows.Close()

	for commentRows.Next() {
		c, err := scanComment(commentRows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if i, ok := index[c.DiscussionID]; ok {
			discussions[i].Comments = append(discussions[i].Comments, c)
		}
	}
	return discussions, commentRows.Err()
}

func (s *PostgresStore) GetDiscussion(ctx context.Context, discussionID string) (Discussion, error) {
	d, err := scanDiscussion(s.db.QueryRowContext(ctx, `SELECT `+discussionColumns+` FROM discussions WHERE id=$1`, discussionID))
	if err != nil {
		return Discussion{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE discussion_id=$1 ORDER BY created_at ASC
	`, discussionID)
	if err != nil {
		return Discussion{}, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return Discussion{}, fmt.Errorf("scan comment: %w", err)
		}
		d.Comments = append(d.Comments, c)
	}
	return d, rows.Err()
}

// InsertDiscussion stores the discussion and its initial comments in one
// transaction.
func (s *PostgresStore) InsertDiscussion(ctx context.Context, d Discussion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert discussion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO discussions (id, document_id, user_id, document_content, document_content_rich, is_resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.DocumentID, d.UserID, nullString(d.DocumentContent), jsonArg(d.DocumentContentRich), d.IsResolved, d.CreatedAt, d.UpdatedAt); err != nil {
		return fmt.Errorf("insert discussion: %w", err)
	}

	for _, c := range d.Comments {
		if err := insertComment(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert discussion: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDiscussionResolved(ctx context.Context, discussionID string, resolved bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE discussions SET is_resolved=$2, updated_at=NOW() WHERE id=$1
	`, discussionID, resolved)
	if err != nil {
		return fmt.Errorf("set discussion resolved: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteDiscussion(ctx context.Context, discussionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM discussions WHERE id=$1`, discussionID)
	if err != nil {
		return fmt.Errorf("delete discussion: %w", err)
	}
	return requireAffected(result)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertComment(ctx context.Context, db execer, c Comment) error {
	commentType := c.CommentType
	if commentType == "" {
		commentType = "formatting"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO comments (id, discussion_id, user_id, content, content_rich, comment_type, is_edited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.DiscussionID, c.UserID, c.Content, jsonArg(c.ContentRich), commentType, c.IsEdited, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) error {
	if err := insertComment(ctx, s.db, c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE discussions SET updated_at=NOW() WHERE id=$1`, c.DiscussionID)
	if err != nil {
		return fmt.Errorf("touch discussion: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, c Comment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET content=$2, content_rich=$3, is_edited=$4, updated_at=$5 WHERE id=$1
	`, c.ID, c.Content, jsonArg(c.ContentRich), c.IsEdited, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireAffected(result)
}

