package store

import (
	"context"
	"fmt"
)

const fileColumns = `id, user_id, document_id, object_key, name, size, url, app_url, type, created_at`

func scanFile(row rowScanner) (File, error) {
	var f File
	err := row.Scan(&f.ID, &f.UserID, &f.DocumentID, &f.ObjectKey, &f.Name, &f.Size, &f.URL, &f.AppURL, &f.Type, &f.CreatedAt)
	if err != nil {
		return File{}, err
	}
	return f, nil
}

func (s *PostgresStore) InsertFile(ctx context.Context, f File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, user_id, document_id, object_key, name, size, url, app_url, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.UserID, f.DocumentID, f.ObjectKey, f.Name, f.Size, f.URL, f.AppURL, f.Type)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (File, error) {
	return scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, fileID))
}

func (s *PostgresStore) ListFiles(ctx context.Context, documentID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files WHERE document_id=$1 ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireAffected(result)
}
