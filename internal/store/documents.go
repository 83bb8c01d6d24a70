package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const documentColumns = `id, user_id, COALESCE(organization_id, ''), COALESCE(parent_document_id, ''), COALESCE(template_id, ''),
	title, content, content_rich, COALESCE(cover_image, ''), COALESCE(icon, ''), is_published, is_archived,
	text_style, small_text, full_width, lock_page, toc, created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var rich []byte
	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.OrganizationID,
		&doc.ParentDocumentID,
		&doc.TemplateID,
		&doc.Title,
		&doc.Content,
		&rich,
		&doc.CoverImage,
		&doc.Icon,
		&doc.IsPublished,
		&doc.IsArchived,
		&doc.TextStyle,
		&doc.SmallText,
		&doc.FullWidth,
		&doc.LockPage,
		&doc.TOC,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.ContentRich = rawJSON(rich)
	return doc, nil
}

// ListDocuments returns documents owned by userID or belonging to one of the
// user's organizations, newest first.
func (s *PostgresStore) ListDocuments(ctx context.Context, userID string, filter DocumentFilter) ([]Document, error) {
	where := []string{`(d.user_id=$1 OR d.organization_id IN (SELECT organization_id FROM members WHERE user_id=$1))`}
	args := []any{userID}
	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		where = append(where, fmt.Sprintf("d.organization_id=$%d", len(args)))
	}
	if filter.ParentDocumentID != "" {
		args = append(args, filter.ParentDocumentID)
		where = append(where, fmt.Sprintf("d.parent_document_id=$%d", len(args)))
	}
	if filter.Archived != nil {
		args = append(args, *filter.Archived)
		where = append(where, fmt.Sprintf("d.is_archived=$%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("d", documentColumns)+`
		FROM documents d
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY d.updated_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	documents := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	textStyle := doc.TextStyle
	if textStyle == "" {
		textStyle = "DEFAULT"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, user_id, organization_id, parent_document_id, template_id, title, content, content_rich,
			cover_image, icon, is_published, is_archived, text_style, small_text, full_width, lock_page, toc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		doc.ID, doc.UserID, nullString(doc.OrganizationID), nullString(doc.ParentDocumentID), nullString(doc.TemplateID),
		doc.Title, doc.Content, jsonArg(doc.ContentRich), nullString(doc.CoverImage), nullString(doc.Icon),
		doc.IsPublished, doc.IsArchived, textStyle, doc.SmallText, doc.FullWidth, doc.LockPage, doc.TOC,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocument writes every mutable column of doc.
func (s *PostgresStore) UpdateDocument(ctx context.Context, doc Document) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET
			organization_id=$2, parent_document_id=$3, title=$4, content=$5, content_rich=$6,
			cover_image=$7, icon=$8, is_published=$9, is_archived=$10, text_style=$11,
			small_text=$12, full_width=$13, lock_page=$14, toc=$15, updated_at=NOW()
		WHERE id=$1
	`,
		doc.ID, nullString(doc.OrganizationID), nullString(doc.ParentDocumentID), doc.Title, doc.Content,
		jsonArg(doc.ContentRich), nullString(doc.CoverImage), nullString(doc.Icon), doc.IsPublished,
		doc.IsArchived, doc.TextStyle, doc.SmallText, doc.FullWidth, doc.LockPage, doc.TOC,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) InsertDocumentVersion(ctx context.Context, version DocumentVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, user_id, title, content_rich, commit_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, version.ID, version.DocumentID, version.UserID, version.Title, jsonArg(version.ContentRich), version.CommitHash)
	if err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, title, content_rich, commit_hash, created_at
		FROM document_versions WHERE document_id=$1 ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	versions := make([]DocumentVersion, 0)
	for rows.Next() {
		version, err := scanDocumentVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) GetDocumentVersion(ctx context.Context, documentID, versionID string) (DocumentVersion, error) {
	return scanDocumentVersion(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, title, content_rich, commit_hash, created_at
		FROM document_versions WHERE document_id=$1 AND id=$2
	`, documentID, versionID))
}

func scanDocumentVersion(row rowScanner) (DocumentVersion, error) {
	var version DocumentVersion
	var rich []byte
	err := row.Scan(&version.ID, &version.DocumentID, &version.UserID, &version.Title, &rich, &version.CommitHash, &version.CreatedAt)
	if err != nil {
		return DocumentVersion{}, err
	}
	version.ContentRich = rawJSON(rich)
	return version, nil
}

func rawJSON(value []byte) json.RawMessage {
	if len(value) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(value))
	copy(out, value)
	return out
}

func jsonArg(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}
