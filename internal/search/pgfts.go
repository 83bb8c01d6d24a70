package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"inkwell/api/internal/slate"
)

// PgFTS searches the generated tsvector columns directly. It backs search
// whenever Meilisearch is missing or down.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true. The database is required to serve at all.
func (p *PgFTS) Healthy() bool { return true }

const (
	ftsDocuments = `
		SELECT 'document' AS type, d.id, d.title,
			ts_headline('english', coalesce(d.content, ''), q.query, 'MaxFragments=1,MaxWords=30') AS snippet,
			d.id AS document_id, coalesce(d.organization_id, '') AS organization_id,
			ts_rank(d.fts, q.query) AS rank
		FROM documents d, q
		WHERE d.fts @@ q.query AND %s`
	ftsComments = `
		SELECT 'comment' AS type, c.id, d.title,
			ts_headline('english', coalesce(c.content, ''), q.query, 'MaxFragments=1,MaxWords=30') AS snippet,
			d.id AS document_id, coalesce(d.organization_id, '') AS organization_id,
			ts_rank(c.fts, q.query) AS rank
		FROM comments c
		JOIN discussions di ON di.id = c.discussion_id
		JOIN documents d ON d.id = di.document_id, q
		WHERE c.fts @@ q.query AND %s`
)

// ftsSQL builds the ranked union for q and its positional arguments:
// $1 text, $2 limit, $3 offset, then $4 user and $5 organizations for
// non-admins.
func ftsSQL(q Query) (string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	args := []any{q.Text, limit, max(q.Offset, 0)}
	access := "TRUE"
	if !q.Access.IsAdmin {
		args = append(args, q.Access.UserID, textArray(q.Access.OrganizationIDs))
		access = "(d.user_id = $4 OR d.organization_id = ANY($5::text[]) OR d.is_published)"
	}

	var parts []string
	if q.FilterType == "" || q.FilterType == ResultDocument {
		parts = append(parts, fmt.Sprintf(ftsDocuments, access))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		parts = append(parts, fmt.Sprintf(ftsComments, access))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return `WITH q AS (SELECT websearch_to_tsquery('english', $1) AS query)
		SELECT type, id, title, snippet, document_id, organization_id, count(*) OVER () AS total
		FROM (` + strings.Join(parts, " UNION ALL ") + `) hits
		ORDER BY rank DESC, id
		LIMIT $2 OFFSET $3`, args
}

// Search returns one page of ranked hits and the total match count.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	query, args := ftsSQL(q)
	if query == "" {
		return nil, 0, nil
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.OrganizationID, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, total, nil
}

// textArray renders ids as a Postgres text[] literal.
func textArray(ids []string) string {
	escape := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`"` + escape.Replace(id) + `"`)
	}
	b.WriteByte('}')
	return b.String()
}

// LoadAllRecords reads every document and comment for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	documents := []DocumentRecord{}
	err := p.scanAll(ctx, `
		SELECT id, title, content, user_id, coalesce(organization_id, ''), is_published
		FROM documents`, func(rows *sql.Rows) error {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &d.OrganizationID, &d.IsPublished); err != nil {
			return err
		}
		documents = append(documents, d)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}

	comments := []CommentRecord{}
	err = p.scanAll(ctx, `
		SELECT c.id, c.content, c.content_rich, c.discussion_id, c.user_id,
			d.id, d.title, d.user_id, coalesce(d.organization_id, ''), d.is_published
		FROM comments c
		JOIN discussions di ON di.id = c.discussion_id
		JOIN documents d ON d.id = di.document_id`, func(rows *sql.Rows) error {
		var (
			c    CommentRecord
			rich []byte
		)
		if err := rows.Scan(&c.ID, &c.Content, &rich, &c.DiscussionID, &c.UserID,
			&c.DocumentID, &c.DocumentTitle, &c.OwnerID, &c.OrganizationID, &c.IsPublished); err != nil {
			return err
		}
		if c.Content == "" && len(rich) > 0 {
			c.Content = slate.PlainTextFromRaw(rich)
		}
		comments = append(comments, c)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	return documents, comments, nil
}

func (p *PgFTS) scanAll(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
