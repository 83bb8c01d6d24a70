package app

import (
	"context"

	"inkwell/api/internal/search"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Search runs a full-text query limited to documents the caller can read.
func (s *Service) Search(ctx context.Context, session Session, text, resultType string, limit, offset int) (search.Response, error) {
	filter := search.ResultType(resultType)
	switch filter {
	case "", search.ResultDocument, search.ResultComment:
	default:
		return search.Response{}, validationError("type must be document or comment")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)
	offset = max(offset, 0)

	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	memberships, err := s.store.ListMembershipsForUser(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	orgIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		orgIDs = append(orgIDs, m.OrganizationID)
	}

	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: filter,
		Limit:      limit,
		Offset:     offset,
		Access: search.Access{
			UserID:          session.UserID,
			OrganizationIDs: orgIDs,
			IsAdmin:         session.isSystemAdmin(),
		},
	}), nil
}
