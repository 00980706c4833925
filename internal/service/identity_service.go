package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/repository"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

// IdentityService is the identity and party registry.
type IdentityService struct {
	repos  repository.Repositories
	tx     repository.Transactor
	logger *zap.Logger
}

// IdentityDependencies bundles collaborators for the identity service.
type IdentityDependencies struct {
	Repos      repository.Repositories
	Transactor repository.Transactor
	Logger     *zap.Logger
}

// UserCreateInput describes a user registered together with its info.
type UserCreateInput struct {
	Email      string
	Name       string
	FamilyName string
	Judge      bool
	Staff      bool
	Admin      bool
	Info       UserInfoInput
}

// UserInfoInput describes the organization and account data of a user.
type UserInfoInput struct {
	EthAccount       string
	OrganizationName string
	TaxNum           *string
	PaymentNum       string
	Files            *string
}

// UserUpdateInput carries the fields a user may edit on their own profile.
// A nil field is left as is. Email, account and roles are fixed.
type UserUpdateInput struct {
	Name             *string
	FamilyName       *string
	OrganizationName *string
	TaxNum           *string
	PaymentNum       *string
	Files            *string
}

func (in UserUpdateInput) touchesInfo() bool {
	return in.OrganizationName != nil || in.TaxNum != nil || in.PaymentNum != nil || in.Files != nil
}

// NewIdentityService constructs the service.
func NewIdentityService(deps IdentityDependencies) *IdentityService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{repos: deps.Repos, tx: deps.Transactor, logger: logger}
}

// RegisterUser creates a user and its info in one transaction.
func (s *IdentityService) RegisterUser(ctx context.Context, input UserCreateInput) (*domain.User, error) {
	user, info, err := buildUser(input)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Users.Create(ctx, user); err != nil {
			return mapRepoError(err, "user", map[string]any{"email": user.Email})
		}
		info.UserID = user.ID
		if err := repos.Users.CreateInfo(ctx, info); err != nil {
			return mapRepoError(err, "account", map[string]any{"eth_account": info.EthAccount})
		}
		user.Info = info
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "user", nil)
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.Bool("judge", user.Judge))
	return user, nil
}

// GetUser returns a user with its info.
func (s *IdentityService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.repos.Users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

// LookupByAccount resolves the user owning the given blockchain account.
func (s *IdentityService) LookupByAccount(ctx context.Context, account string) (*domain.User, error) {
	return lookupByAccount(ctx, s.repos.Users, account)
}

// ListJudges returns every user flagged as judge.
func (s *IdentityService) ListJudges(ctx context.Context) ([]domain.User, error) {
	judges, err := s.repos.Users.ListJudges(ctx)
	if err != nil {
		return nil, mapRepoError(err, "judge", nil)
	}
	return judges, nil
}

// UpdateUser applies a profile edit. Blank organization and payment fields
// fall back to their registration defaults.
func (s *IdentityService) UpdateUser(ctx context.Context, id int64, input UserUpdateInput) (*domain.User, error) {
	var user *domain.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = repos.Users.GetByID(ctx, id)
		if err != nil {
			return mapRepoError(err, "user", map[string]any{"user_id": id})
		}
		if err := applyUserUpdate(user, input); err != nil {
			return err
		}
		if err := repos.Users.Update(ctx, user); err != nil {
			return mapRepoError(err, "user", map[string]any{"user_id": id})
		}
		if input.touchesInfo() {
			if err := repos.Users.UpdateInfo(ctx, user.Info); err != nil {
				return mapRepoError(err, "user info", map[string]any{"user_id": id})
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "user", nil)
	}

	s.logger.Info("user updated", zap.Int64("user_id", id))
	return user, nil
}

// DeleteUser removes a user that nothing references any more. A user with
// registered info is protected.
func (s *IdentityService) DeleteUser(ctx context.Context, id int64) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		user, err := repos.Users.GetByID(ctx, id)
		if err != nil {
			return mapRepoError(err, "user", map[string]any{"user_id": id})
		}
		if user.Info != nil {
			return apperrors.NewConflict("user info still references the user", map[string]any{"user_id": id})
		}
		if err := repos.Users.Delete(ctx, id); err != nil {
			return mapRepoError(err, "user", map[string]any{"user_id": id})
		}
		return nil
	})
	if err != nil {
		return mapRepoError(err, "user", nil)
	}
	s.logger.Info("user deleted", zap.Int64("user_id", id))
	return nil
}

func lookupByAccount(ctx context.Context, users repository.UserRepository, account string) (*domain.User, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, apperrors.NewValidationError("account required", nil)
	}
	user, err := users.GetByAccount(ctx, account)
	if err != nil {
		return nil, mapRepoError(err, "account", map[string]any{"eth_account": account})
	}
	return user, nil
}

func buildUser(input UserCreateInput) (*domain.User, *domain.UserInfo, error) {
	email := normalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	family := strings.TrimSpace(input.FamilyName)
	account := strings.TrimSpace(input.Info.EthAccount)

	problems := map[string]any{}
	if email == "" || !strings.Contains(email, "@") {
		problems["email"] = "valid email required"
	}
	if name == "" {
		problems["name"] = "required"
	}
	if family == "" {
		problems["family_name"] = "required"
	}
	if account == "" {
		problems["eth_account"] = "required"
	} else if len(account) > domain.MaxEthAccountLen {
		problems["eth_account"] = "too long"
	}

	info := &domain.UserInfo{
		EthAccount:       account,
		OrganizationName: strings.TrimSpace(input.Info.OrganizationName),
		TaxNum:           input.Info.TaxNum,
		PaymentNum:       strings.TrimSpace(input.Info.PaymentNum),
		Files:            input.Info.Files,
	}
	if info.OrganizationName == "" {
		info.OrganizationName = domain.DefaultOrganizationName
	}
	if info.PaymentNum == "" {
		info.PaymentNum = domain.DefaultPaymentNum
	}
	if len(info.OrganizationName) > domain.MaxOrganizationNameLen {
		problems["organization_name"] = "too long"
	}
	if len(info.PaymentNum) > domain.MaxPaymentNumLen {
		problems["payment_num"] = "too long"
	}
	if info.TaxNum != nil && len(*info.TaxNum) > domain.MaxTaxNumLen {
		problems["tax_num"] = "too long"
	}
	if len(problems) > 0 {
		return nil, nil, apperrors.NewValidationError("invalid user", problems)
	}

	user := &domain.User{
		Email:      email,
		Name:       name,
		FamilyName: family,
		Active:     true,
		Judge:      input.Judge,
		Staff:      input.Staff || input.Admin,
		Admin:      input.Admin,
	}
	return user, info, nil
}

func applyUserUpdate(user *domain.User, input UserUpdateInput) error {
	problems := map[string]any{}
	if input.Name != nil {
		user.Name = strings.TrimSpace(*input.Name)
		if user.Name == "" {
			problems["name"] = "required"
		}
	}
	if input.FamilyName != nil {
		user.FamilyName = strings.TrimSpace(*input.FamilyName)
		if user.FamilyName == "" {
			problems["family_name"] = "required"
		}
	}
	if input.touchesInfo() {
		if user.Info == nil {
			return apperrors.NewNotFound("user info", map[string]any{"user_id": user.ID})
		}
		info := user.Info
		if input.OrganizationName != nil {
			info.OrganizationName = strings.TrimSpace(*input.OrganizationName)
			if info.OrganizationName == "" {
				info.OrganizationName = domain.DefaultOrganizationName
			}
		}
		if input.PaymentNum != nil {
			info.PaymentNum = strings.TrimSpace(*input.PaymentNum)
			if info.PaymentNum == "" {
				info.PaymentNum = domain.DefaultPaymentNum
			}
		}
		if input.TaxNum != nil {
			info.TaxNum = input.TaxNum
		}
		if input.Files != nil {
			info.Files = input.Files
		}
		if len(info.OrganizationName) > domain.MaxOrganizationNameLen {
			problems["organization_name"] = "too long"
		}
		if len(info.PaymentNum) > domain.MaxPaymentNumLen {
			problems["payment_num"] = "too long"
		}
		if info.TaxNum != nil && len(*info.TaxNum) > domain.MaxTaxNumLen {
			problems["tax_num"] = "too long"
		}
	}
	if len(problems) > 0 {
		return apperrors.NewValidationError("invalid user", problems)
	}
	return nil
}

// normalizeEmail trims the address and lowercases its domain part.
func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + strings.ToLower(email[at:])
}
