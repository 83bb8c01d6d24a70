package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Service is the facade that tries the primary engine first and falls back
// to a secondary searcher. Index writes are fire-and-forget.
type Service struct {
	engine   Engine
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// RecordLoader supplies every searchable record for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error)
}

// NewService creates a search service. engine may be nil when Meilisearch
// is not configured.
func NewService(engine Engine, fallback Searcher, loader RecordLoader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, fallback: fallback, loader: loader, logger: logger}
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search tries the engine if healthy, otherwise the fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineReady() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search engine failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) async(op string, id string, fn func() error) {
	if !s.engineReady() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Warn("search index write failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		}
	}()
}

func (s *Service) IndexDocument(doc DocumentRecord) {
	s.async("index_document", doc.ID, func() error {
		return s.engine.IndexDocuments([]DocumentRecord{doc})
	})
}

func (s *Service) IndexComments(comments ...CommentRecord) {
	if len(comments) == 0 {
		return
	}
	s.async("index_comments", comments[0].ID, func() error {
		return s.engine.IndexComments(comments)
	})
}

// DeleteDocument removes a document and the given comments from the index.
func (s *Service) DeleteDocument(id string, commentIDs []string) {
	s.async("delete_document", id, func() error {
		if err := s.engine.DeleteDocument(id); err != nil {
			return err
		}
		return s.engine.DeleteComments(commentIDs)
	})
}

func (s *Service) DeleteComments(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.async("delete_comments", ids[0], func() error {
		return s.engine.DeleteComments(ids)
	})
}

// ReindexAll pushes every record from the loader into the engine.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.engineReady() || s.loader == nil {
		return
	}
	documents, comments, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("search reindex load failed", zap.Error(err))
		return
	}
	if err := s.engine.IndexDocuments(documents); err != nil {
		s.logger.Error("search reindex documents failed", zap.Error(err))
	}
	if err := s.engine.IndexComments(comments); err != nil {
		s.logger.Error("search reindex comments failed", zap.Error(err))
	}
	s.logger.Info("search index rebuilt", zap.Int("documents", len(documents)), zap.Int("comments", len(comments)))
}

// Wait blocks until pending index writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
