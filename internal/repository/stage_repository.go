package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dispute-service/internal/domain"
)

// StageRepository stores contract stages. Stages are addressed by their
// zero-based index in creation order within a case.
type StageRepository interface {
	Create(ctx context.Context, stage *domain.ContractStage) error
	ListByCase(ctx context.Context, caseID int64) ([]domain.ContractStage, error)
	GetByPosition(ctx context.Context, caseID int64, index int) (*domain.ContractStage, error)
	GetByPositionForUpdate(ctx context.Context, caseID int64, index int) (*domain.ContractStage, error)
	UpdateSchedule(ctx context.Context, stage *domain.ContractStage) error
	UpdateDispute(ctx context.Context, stage *domain.ContractStage) error
}

type stageRepository struct {
	db DBTX
}

// NewStageRepository builds repository.
func NewStageRepository(db DBTX) StageRepository {
	return &stageRepository{db: db}
}

const stageSelect = `
        SELECT id, contract_id, position, start, dispute_start_allowed, owner_id,
               dispute_started, dispute_starter_id, dispute_finished, result_file
        FROM contract_stages`

func (r *stageRepository) Create(ctx context.Context, stage *domain.ContractStage) error {
	const query = `
        INSERT INTO contract_stages (contract_id, position, start, dispute_start_allowed, owner_id)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		stage.ContractID,
		stage.Position,
		stage.Start,
		stage.DisputeStartAllowed,
		stage.OwnerID,
	).Scan(&stage.ID)
}

func (r *stageRepository) ListByCase(ctx context.Context, caseID int64) ([]domain.ContractStage, error) {
	rows, err := r.db.Query(ctx, stageSelect+` WHERE contract_id=$1 ORDER BY position, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.ContractStage{}
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *stage)
	}
	return result, rows.Err()
}

// GetByPosition returns the index-th stage of the case in creation order.
// pgx.ErrNoRows is returned when index is past the last stage.
func (r *stageRepository) GetByPosition(ctx context.Context, caseID int64, index int) (*domain.ContractStage, error) {
	const query = stageSelect + ` WHERE contract_id=$1 ORDER BY position, id LIMIT 1 OFFSET $2`
	return scanStage(r.db.QueryRow(ctx, query, caseID, index))
}

// GetByPositionForUpdate is GetByPosition with a row lock held until the
// surrounding transaction ends.
func (r *stageRepository) GetByPositionForUpdate(ctx context.Context, caseID int64, index int) (*domain.ContractStage, error) {
	const query = stageSelect + ` WHERE contract_id=$1 ORDER BY position, id LIMIT 1 OFFSET $2 FOR UPDATE`
	return scanStage(r.db.QueryRow(ctx, query, caseID, index))
}

// UpdateSchedule writes start, dispute_start_allowed and owner. The dispute
// columns are untouched.
func (r *stageRepository) UpdateSchedule(ctx context.Context, stage *domain.ContractStage) error {
	const query = `
        UPDATE contract_stages
        SET start=$1, dispute_start_allowed=$2, owner_id=$3
        WHERE id=$4`
	cmd, err := r.db.Exec(ctx, query,
		stage.Start,
		stage.DisputeStartAllowed,
		stage.OwnerID,
		stage.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateDispute writes the dispute columns of the stage.
func (r *stageRepository) UpdateDispute(ctx context.Context, stage *domain.ContractStage) error {
	const query = `
        UPDATE contract_stages
        SET dispute_started=$1, dispute_starter_id=$2, dispute_finished=$3, result_file=$4
        WHERE id=$5`
	cmd, err := r.db.Exec(ctx, query,
		stage.DisputeStarted,
		stage.DisputeStarterID,
		stage.DisputeFinished,
		stage.ResultFile,
		stage.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanStage(row pgx.Row) (*domain.ContractStage, error) {
	var stage domain.ContractStage
	if err := row.Scan(
		&stage.ID,
		&stage.ContractID,
		&stage.Position,
		&stage.Start,
		&stage.DisputeStartAllowed,
		&stage.OwnerID,
		&stage.DisputeStarted,
		&stage.DisputeStarterID,
		&stage.DisputeFinished,
		&stage.ResultFile,
	); err != nil {
		return nil, err
	}
	return &stage, nil
}
