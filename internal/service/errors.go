package service

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapRepoError classifies a repository failure into a domain error kind.
// Domain errors pass through untouched.
func mapRepoError(err error, resource string, details map[string]any) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, details)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperrors.NewConflict(resource+" already exists", withConstraint(details, pgErr.ConstraintName))
		case pgForeignKeyViolation:
			return apperrors.NewConflict(resource+" is referenced by other records", withConstraint(details, pgErr.ConstraintName))
		}
	}
	return apperrors.NewStorageError(err)
}

func withConstraint(details map[string]any, constraint string) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	if constraint != "" {
		out["constraint"] = constraint
	}
	return out
}
