package services

import (
	"context"
	"strings"

	"chitter/pkg/errs"
	"chitter/pkg/model"

	"github.com/ServiceWeaver/weaver"
)

type SearchService interface {
	SearchUsers(ctx context.Context, reqID int64, query string) ([]model.User, error)
}

type searchService struct {
	weaver.Implements[SearchService]
	identityService weaver.Ref[IdentityService]
}

func validateSearchQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return errs.New(errs.InvalidInput, "search query is required")
	}
	return nil
}

// matchesQuery reports whether q occurs case-insensitively in the user's
// first name, last name or email.
func matchesQuery(u model.User, q string) bool {
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(u.FirstName), q) ||
		strings.Contains(strings.ToLower(u.LastName), q) ||
		strings.Contains(strings.ToLower(u.Email), q)
}

// SearchUsers is a linear substring scan of the user directory. No matches is
// an empty result, not an error.
func (s *searchService) SearchUsers(ctx context.Context, reqID int64, query string) ([]model.User, error) {
	logger := s.Logger(ctx)
	logger.Debug("entering SearchUsers", "req_id", reqID, "query", query)

	if err := validateSearchQuery(query); err != nil {
		return nil, err
	}

	users, err := s.identityService.Get().ListUsers(ctx, reqID)
	if err != nil {
		return nil, err
	}
	matched := []model.User{}
	for _, u := range users {
		if matchesQuery(u, query) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}
