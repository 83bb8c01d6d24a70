package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"go.uber.org/zap"

	"inkwell/api/internal/rbac"
	"inkwell/api/internal/storage"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const maxUploadSize = 10 << 20

// Upload is one multipart file handed to UploadFile.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

func storageUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
}

func filePayload(f store.File) map[string]any {
	return map[string]any{
		"id":         f.ID,
		"userId":     f.UserID,
		"documentId": f.DocumentID,
		"name":       f.Name,
		"size":       f.Size,
		"url":        f.URL,
		"appUrl":     f.AppURL,
		"type":       f.Type,
		"createdAt":  formatTime(f.CreatedAt),
	}
}

func (s *Service) UploadFile(ctx context.Context, session Session, documentID string, upload Upload) (map[string]any, error) {
	if s.files == nil {
		return nil, storageUnavailable()
	}
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if upload.Size > maxUploadSize {
		return nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the 10 MiB limit", nil)
	}
	contentType := firstNonBlank(upload.ContentType, "application/octet-stream")

	id := util.NewID("file")
	key := storage.ObjectKey(doc.ID, id, upload.Name)
	obj, err := s.files.Put(ctx, key, upload.Body, upload.Size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	f := store.File{
		ID:         id,
		UserID:     session.UserID,
		DocumentID: doc.ID,
		ObjectKey:  obj.Key,
		Name:       path.Base(obj.Key),
		Size:       obj.Size,
		URL:        obj.URL,
		AppURL:     "/api/files/" + id,
		Type:       contentType,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertFile(ctx, f); err != nil {
		if rmErr := s.files.Remove(ctx, obj.Key); rmErr != nil {
			s.logger.Warn("remove orphaned upload failed", zap.String("key", obj.Key), zap.Error(rmErr))
		}
		return nil, err
	}
	return map[string]any{"file": filePayload(f)}, nil
}

func (s *Service) ListFiles(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, f := range files {
		items = append(items, filePayload(f))
	}
	return map[string]any{"files": items}, nil
}

// GetFile returns a file the caller can read through its document.
func (s *Service) GetFile(ctx context.Context, session Session, fileID string) (store.File, error) {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return store.File{}, err
	}
	if _, err := s.loadDocument(ctx, session, f.DocumentID, rbac.ActionRead); err != nil {
		return store.File{}, err
	}
	return f, nil
}

// DeleteFile is allowed for the uploader and the document owner.
func (s *Service) DeleteFile(ctx context.Context, session Session, fileID string) error {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if f.UserID != session.UserID && !session.isSystemAdmin() {
		doc, err := s.store.GetDocument(ctx, f.DocumentID)
		if err != nil {
			return err
		}
		if doc.UserID != session.UserID {
			return forbidden("Only the uploader or the document owner can delete this file")
		}
	}
	if s.files != nil {
		if err := s.files.Remove(ctx, f.ObjectKey); err != nil {
			return fmt.Errorf("remove object: %w", err)
		}
	}
	return s.store.DeleteFile(ctx, f.ID)
}
