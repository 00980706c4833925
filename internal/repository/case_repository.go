package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dispute-service/internal/domain"
)

// CaseRepository encapsulates contract case persistence. Stages are handled
// by StageRepository.
type CaseRepository interface {
	Create(ctx context.Context, c *domain.ContractCase) error
	GetByID(ctx context.Context, id int64) (*domain.ContractCase, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.ContractCase, error)
	Update(ctx context.Context, c *domain.ContractCase) error
	UpdateFinished(ctx context.Context, id int64, finished domain.FinishedState) error
	ListByParty(ctx context.Context, userID int64) ([]domain.ContractCase, error)
}

type caseRepository struct {
	db DBTX
}

// NewCaseRepository instantiates repository.
func NewCaseRepository(db DBTX) CaseRepository {
	return &caseRepository{db: db}
}

const caseSelect = `
        SELECT c.id, c.name, c.files, c.finished, c.created_at,
               ARRAY(SELECT p.user_id FROM contract_case_parties p WHERE p.contract_id = c.id ORDER BY p.user_id)
        FROM contract_cases c`

// Create inserts the case and its party links. Run it inside a transaction.
func (r *caseRepository) Create(ctx context.Context, c *domain.ContractCase) error {
	const query = `
        INSERT INTO contract_cases (name, files, finished)
        VALUES ($1, $2, $3)
        RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, query, c.Name, c.Files, int16(c.Finished)).Scan(&c.ID, &c.CreatedAt); err != nil {
		return err
	}

	const parties = `
        INSERT INTO contract_case_parties (contract_id, user_id)
        SELECT $1, unnest($2::bigint[])
        ON CONFLICT DO NOTHING`
	_, err := r.db.Exec(ctx, parties, c.ID, c.PartyIDs)
	return err
}

func (r *caseRepository) GetByID(ctx context.Context, id int64) (*domain.ContractCase, error) {
	return scanCase(r.db.QueryRow(ctx, caseSelect+` WHERE c.id=$1`, id))
}

// GetByIDForUpdate locks the case row until the surrounding transaction ends.
func (r *caseRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.ContractCase, error) {
	return scanCase(r.db.QueryRow(ctx, caseSelect+` WHERE c.id=$1 FOR UPDATE OF c`, id))
}

// Update writes name and files. Parties and the finished state are left
// alone.
func (r *caseRepository) Update(ctx context.Context, c *domain.ContractCase) error {
	cmd, err := r.db.Exec(ctx, `UPDATE contract_cases SET name=$1, files=$2 WHERE id=$3`, c.Name, c.Files, c.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *caseRepository) UpdateFinished(ctx context.Context, id int64, finished domain.FinishedState) error {
	cmd, err := r.db.Exec(ctx, `UPDATE contract_cases SET finished=$1 WHERE id=$2`, int16(finished), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *caseRepository) ListByParty(ctx context.Context, userID int64) ([]domain.ContractCase, error) {
	const where = `
        WHERE EXISTS (SELECT 1 FROM contract_case_parties p WHERE p.contract_id = c.id AND p.user_id = $1)
        ORDER BY c.finished, c.id`
	rows, err := r.db.Query(ctx, caseSelect+where, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.ContractCase{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanCase(row pgx.Row) (*domain.ContractCase, error) {
	var (
		c        domain.ContractCase
		finished int16
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Files, &finished, &c.CreatedAt, &c.PartyIDs); err != nil {
		return nil, err
	}
	c.Finished = domain.FinishedState(finished)
	if !c.Finished.Valid() {
		return nil, fmt.Errorf("contract %d: invalid finished state %d", c.ID, finished)
	}
	return &c, nil
}
