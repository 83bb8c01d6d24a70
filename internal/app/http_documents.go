package app

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"inkwell/api/internal/store"
)

func (s *HTTPServer) documentRoutes(r chi.Router) {
	r.Route("/api/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/", s.handleCreateDocument)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Put("/", s.handleUpdateDocument)
			r.Delete("/", s.handleDeleteDocument)

			r.Get("/history", s.handleHistory)
			r.Get("/history/{revision}", s.handleRevision)
			r.Get("/versions", s.handleListVersions)
			r.Post("/versions", s.handleCreateVersion)
			r.Post("/versions/{versionID}/restore", s.handleRestoreVersion)
			r.Get("/export", s.handleExport)

			r.Get("/discussions", s.handleListDiscussions)
			r.Post("/discussions", s.handleCreateDiscussion)

			r.Get("/suggestions", s.handleListSuggestions)
			r.Post("/suggestions/{suggestionID}/{action}", s.handleResolveSuggestion)

			r.Get("/files", s.handleListFiles)
			r.Post("/files", s.handleUploadFile)
		})
	})
}

func (s *HTTPServer) discussionRoutes(r chi.Router) {
	r.Route("/api/discussions/{discussionID}", func(r chi.Router) {
		r.Delete("/", s.handleDeleteDiscussion)
		r.Post("/comments", s.handleReplyDiscussion)
		r.Put("/comments/{commentID}", s.handleUpdateComment)
		r.Delete("/comments/{commentID}", s.handleDeleteComment)
		r.Post("/resolve", s.handleResolveDiscussion(true))
		r.Post("/reopen", s.handleResolveDiscussion(false))
	})
}

func (s *HTTPServer) fileRoutes(r chi.Router) {
	r.Get("/api/files/{fileID}", s.handleGetFile)
	r.Delete("/api/files/{fileID}", s.handleDeleteFile)
}

func queryInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func queryList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.DocumentFilter{
		OrganizationID:   strings.TrimSpace(query.Get("organizationId")),
		ParentDocumentID: strings.TrimSpace(query.Get("parentDocumentId")),
	}
	if raw := query.Get("archived"); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "archived must be true or false", nil)
			return
		}
		filter.Archived = &archived
	}
	payload, err := s.service.ListDocuments(r.Context(), sessionFrom(r.Context()), filter)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input DocumentInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.CreateDocument(r.Context(), sessionFrom(r.Context()), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var input DocumentInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.History(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), queryInt(r.URL.Query().Get("limit")))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRevision(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ContentAtRevision(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), chi.URLParam(r, "revision"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListVersions(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	payload, err := s.service.CreateVersion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), strings.TrimSpace(body.Title))
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RestoreVersion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), chi.URLParam(r, "versionID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	input := ExportInput{
		Format:             firstNonBlank(query.Get("format"), "html"),
		IncludeDiscussions: query.Get("includeDiscussions") == "true",
		Types:              queryList(query.Get("types")),
	}
	result, err := s.service.ExportDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), input)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	types := queryList(r.URL.Query().Get("types"))
	payload, err := s.service.ListDiscussions(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), types)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateDiscussion(w http.ResponseWriter, r *http.Request) {
	var input DiscussionInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.CreateDiscussion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleReplyDiscussion(w http.ResponseWriter, r *http.Request) {
	var input CommentInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.ReplyDiscussion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "discussionID"), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var input CommentInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateComment(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "discussionID"), chi.URLParam(r, "commentID"), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.DeleteComment(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "discussionID"), chi.URLParam(r, "commentID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleResolveDiscussion(resolved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := s.service.SetDiscussionResolved(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "discussionID"), resolved)
		s.respond(w, r, http.StatusOK, payload, err)
	}
}

func (s *HTTPServer) handleDeleteDiscussion(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteDiscussion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "discussionID"))
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}

func (s *HTTPServer) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListSuggestions(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleResolveSuggestion(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ResolveSuggestion(r.Context(), sessionFrom(r.Context()),
		chi.URLParam(r, "documentID"),
		chi.URLParam(r, "suggestionID"),
		chi.URLParam(r, "action"),
	)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListFiles(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the 10 MiB limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	payload, err := s.service.UploadFile(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.service.GetFile(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "fileID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	http.Redirect(w, r, file.URL, http.StatusFound)
}

func (s *HTTPServer) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteFile(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "fileID"))
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}
