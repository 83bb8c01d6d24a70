package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

var errMeiliUnhealthy = errors.New("meilisearch unhealthy")

// meiliIndex describes one index and how its hits map to results.
type meiliIndex struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
}

var meiliIndexes = []meiliIndex{
	{
		uid:        "inkwell_documents",
		kind:       ResultDocument,
		filterable: []string{"ownerId", "organizationId", "isPublished"},
		searchable: []string{"title", "content"},
	},
	{
		uid:        "inkwell_comments",
		kind:       ResultComment,
		filterable: []string{"ownerId", "organizationId", "isPublished", "documentId", "discussionId"},
		searchable: []string{"content", "documentTitle"},
	},
}

func indexFor(kind ResultType) string {
	for _, idx := range meiliIndexes {
		if idx.kind == kind {
			return idx.uid
		}
	}
	return ""
}

// Meili implements Engine on Meilisearch. It tracks server health and
// refuses queries while the server is down so callers can fall back.
type Meili struct {
	client   meili.ServiceManager
	logger   *zap.Logger
	interval time.Duration
	healthy  atomic.Bool
	stop     context.CancelFunc
}

// NewMeili connects to url and starts a health probe. An unreachable server
// only marks the engine unhealthy; indexes are configured once it answers.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		logger:   logger.With(zap.String("component", "meilisearch")),
		interval: 10 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	if !m.probe() {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url))
	}
	go m.watch(ctx)
	return m
}

// probe refreshes the health flag and configures indexes on recovery.
func (m *Meili) probe() bool {
	_, err := m.client.Health()
	up := err == nil
	if up && !m.healthy.Swap(true) {
		m.configure()
	}
	if !up {
		m.healthy.Store(false)
	}
	return up
}

func (m *Meili) watch(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Meili) configure() {
	for _, idx := range meiliIndexes {
		log := m.logger.With(zap.String("index", idx.uid))
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			log.Debug("create index", zap.Error(err))
		}
		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, 0, len(idx.filterable))
		for _, attr := range idx.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Warn("set filterable attributes", zap.Error(err))
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Warn("set searchable attributes", zap.Error(err))
		}
	}
}

// Close stops the health probe.
func (m *Meili) Close() { m.stop() }

func (m *Meili) Healthy() bool { return m.healthy.Load() }

// Search runs one multi-search over the selected indexes and concatenates
// the hits in index order.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errMeiliUnhealthy
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	filter := accessFilter(q.Access)

	req := &meili.MultiSearchRequest{}
	for _, idx := range meiliIndexes {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 int64(limit),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filter != "" {
			sr.Filter = filter
		}
		req.Queries = append(req.Queries, sr)
	}
	if len(req.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}
	var (
		results []Result
		total   int
	)
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		kind := ResultType("")
		for _, idx := range meiliIndexes {
			if idx.uid == sr.IndexUID {
				kind = idx.kind
			}
		}
		for _, hit := range sr.Hits {
			r, err := decodeHit(hit, kind)
			if err != nil {
				m.logger.Debug("skip undecodable hit", zap.Error(err))
				continue
			}
			results = append(results, r)
		}
	}
	return results, total, nil
}

// accessFilter builds the Meilisearch filter for a caller. Admins get none.
func accessFilter(a Access) string {
	if a.IsAdmin {
		return ""
	}
	clauses := []string{"isPublished = true"}
	if a.UserID != "" {
		clauses = append(clauses, fmt.Sprintf("ownerId = %q", a.UserID))
	}
	if len(a.OrganizationIDs) > 0 {
		quoted := make([]string, len(a.OrganizationIDs))
		for i, id := range a.OrganizationIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		clauses = append(clauses, fmt.Sprintf("organizationId IN [%s]", strings.Join(quoted, ", ")))
	}
	return strings.Join(clauses, " OR ")
}

type hitFields struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	DocumentTitle string `json:"documentTitle"`
}

type meiliHit struct {
	hitFields
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	OrganizationID string    `json:"organizationId"`
	Formatted      hitFields `json:"_formatted"`
}

// decodeHit prefers highlighted fields and falls back to the raw ones.
func decodeHit(hit meili.Hit, kind ResultType) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	var h meiliHit
	if err := json.Unmarshal(raw, &h); err != nil {
		return Result{}, err
	}
	pick := func(formatted, plain string) string {
		if strings.TrimSpace(formatted) != "" {
			return strings.TrimSpace(formatted)
		}
		return plain
	}
	r := Result{
		Type:           kind,
		ID:             h.ID,
		OrganizationID: h.OrganizationID,
		Snippet:        pick(h.Formatted.Content, h.Content),
	}
	if kind == ResultComment {
		r.Title = pick(h.Formatted.DocumentTitle, h.DocumentTitle)
		r.DocumentID = h.DocumentID
	} else {
		r.Title = pick(h.Formatted.Title, h.Title)
		r.DocumentID = h.ID
	}
	return r, nil
}

func (m *Meili) IndexDocuments(documents []DocumentRecord) error {
	if len(documents) == 0 {
		return nil
	}
	if _, err := m.client.Index(indexFor(ResultDocument)).AddDocuments(documents, nil); err != nil {
		return fmt.Errorf("index documents: %w", err)
	}
	return nil
}

func (m *Meili) IndexComments(comments []CommentRecord) error {
	if len(comments) == 0 {
		return nil
	}
	if _, err := m.client.Index(indexFor(ResultComment)).AddDocuments(comments, nil); err != nil {
		return fmt.Errorf("index comments: %w", err)
	}
	return nil
}

func (m *Meili) DeleteDocument(id string) error {
	if _, err := m.client.Index(indexFor(ResultDocument)).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (m *Meili) DeleteComments(ids []string) error {
	index := m.client.Index(indexFor(ResultComment))
	var errs []error
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete comment %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
