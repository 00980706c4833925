package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dispute-service/internal/domain"
)

// UserRepository defines persistence access for users and their info.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	CreateInfo(ctx context.Context, info *domain.UserInfo) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.User, error)
	GetByAccount(ctx context.Context, account string) (*domain.User, error)
	ListJudges(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	UpdateInfo(ctx context.Context, info *domain.UserInfo) error
	Delete(ctx context.Context, id int64) error
}

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userSelect = `
        SELECT u.id, u.email, u.name, u.family_name, u.active, u.judge, u.staff, u.admin, u.created_at,
               i.id, i.eth_account, i.organization_name, i.tax_num, i.payment_num, i.files
        FROM users u
        LEFT JOIN user_infos i ON i.user_id = u.id`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, name, family_name, active, judge, staff, admin)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at`

	return r.db.QueryRow(ctx, query,
		user.Email,
		user.Name,
		user.FamilyName,
		user.Active,
		user.Judge,
		user.Staff,
		user.Admin,
	).Scan(&user.ID, &user.CreatedAt)
}

func (r *userRepository) CreateInfo(ctx context.Context, info *domain.UserInfo) error {
	const query = `
        INSERT INTO user_infos (user_id, eth_account, organization_name, tax_num, payment_num, files)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`

	return r.db.QueryRow(ctx, query,
		info.UserID,
		info.EthAccount,
		info.OrganizationName,
		info.TaxNum,
		info.PaymentNum,
		info.Files,
	).Scan(&info.ID)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, userSelect+` WHERE u.id=$1`, id))
}

func (r *userRepository) GetByAccount(ctx context.Context, account string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, userSelect+` WHERE i.eth_account=$1`, account))
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	rows, err := r.db.Query(ctx, userSelect+` WHERE u.id = ANY($1) ORDER BY u.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *userRepository) ListJudges(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, userSelect+` WHERE u.judge ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Update writes the name columns of the user. Email and role flags are not
// editable.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET name=$1, family_name=$2 WHERE id=$3`,
		user.Name, user.FamilyName, user.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateInfo writes the organization columns of the info row. The account
// stays fixed once registered.
func (r *userRepository) UpdateInfo(ctx context.Context, info *domain.UserInfo) error {
	const query = `
        UPDATE user_infos
        SET organization_name=$1, tax_num=$2, payment_num=$3, files=$4
        WHERE user_id=$5`
	cmd, err := r.db.Exec(ctx, query,
		info.OrganizationName,
		info.TaxNum,
		info.PaymentNum,
		info.Files,
		info.UserID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes a user. Foreign keys are RESTRICT, so a user that still owns
// info, stages, cases or events fails with a foreign key violation.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user   domain.User
		infoID *int64
		info   domain.UserInfo
		acct   *string
		org    *string
		paynum *string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.FamilyName,
		&user.Active,
		&user.Judge,
		&user.Staff,
		&user.Admin,
		&user.CreatedAt,
		&infoID,
		&acct,
		&org,
		&info.TaxNum,
		&paynum,
		&info.Files,
	); err != nil {
		return nil, err
	}
	if infoID != nil {
		info.ID = *infoID
		info.UserID = user.ID
		info.EthAccount = deref(acct)
		info.OrganizationName = deref(org)
		info.PaymentNum = deref(paynum)
		user.Info = &info
	}
	return &user, nil
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	result := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *user)
	}
	return result, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
