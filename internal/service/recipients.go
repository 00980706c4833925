package service

import (
	"context"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/repository"
)

// RecipientPolicy expands the explicitly addressed users of an event into
// the final recipient set. The result must be duplicate-free.
type RecipientPolicy func(ctx context.Context, users repository.UserRepository, explicit []domain.User) ([]int64, error)

// CopyJudges addresses the explicit users plus every judge.
func CopyJudges(ctx context.Context, users repository.UserRepository, explicit []domain.User) ([]int64, error) {
	judges, err := users.ListJudges(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(explicit)+len(judges))
	for _, u := range explicit {
		ids = append(ids, u.ID)
	}
	for _, j := range judges {
		ids = append(ids, j.ID)
	}
	return domain.UniqueIDs(ids), nil
}

// ExplicitOnly addresses exactly the explicit users.
func ExplicitOnly(_ context.Context, _ repository.UserRepository, explicit []domain.User) ([]int64, error) {
	ids := make([]int64, 0, len(explicit))
	for _, u := range explicit {
		ids = append(ids, u.ID)
	}
	return domain.UniqueIDs(ids), nil
}
