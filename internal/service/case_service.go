package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/repository"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

// CaseService is the case registry and the read side of the stage lifecycle.
type CaseService struct {
	repos  repository.Repositories
	tx     repository.Transactor
	logger *zap.Logger
}

// CaseDependencies bundles collaborators for the case service.
type CaseDependencies struct {
	Repos      repository.Repositories
	Transactor repository.Transactor
	Logger     *zap.Logger
}

// CaseCreateInput describes a case created together with its stages.
type CaseCreateInput struct {
	Name     string
	Files    string
	PartyIDs []int64
	Stages   []StageInput
}

// StageInput describes one stage of a new case. Stages are stored in the
// order they are given.
type StageInput struct {
	Start               *time.Time
	DisputeStartAllowed *time.Time
	OwnerID             int64
}

// CaseUpdateInput carries the editable case fields. A nil field is left as
// is.
type CaseUpdateInput struct {
	Name  *string
	Files *string
}

// StageUpdateInput carries the editable schedule of a stage. Dispute fields
// are written by the notification engine only.
type StageUpdateInput struct {
	Start               *time.Time
	DisputeStartAllowed *time.Time
	OwnerID             *int64
}

// NewCaseService constructs the service.
func NewCaseService(deps CaseDependencies) *CaseService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseService{repos: deps.Repos, tx: deps.Transactor, logger: logger}
}

// CreateCase stores the case and its stages in one transaction. The case
// starts as not finished.
func (s *CaseService) CreateCase(ctx context.Context, input CaseCreateInput) (*domain.ContractCase, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name required", nil)
	}
	partyIDs := domain.UniqueIDs(input.PartyIDs)
	if len(partyIDs) == 0 {
		return nil, apperrors.NewValidationError("at least one party required", nil)
	}

	c := &domain.ContractCase{
		Name:     name,
		Files:    input.Files,
		Finished: domain.FinishedNo,
		PartyIDs: partyIDs,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := requireUsers(ctx, repos.Users, partyIDs, "party_ids"); err != nil {
			return err
		}
		owners := make([]int64, 0, len(input.Stages))
		for _, st := range input.Stages {
			owners = append(owners, st.OwnerID)
		}
		if err := requireUsers(ctx, repos.Users, domain.UniqueIDs(owners), "stages.owner_id"); err != nil {
			return err
		}

		if err := repos.Cases.Create(ctx, c); err != nil {
			return mapRepoError(err, "contract", nil)
		}
		c.Stages = make([]domain.ContractStage, 0, len(input.Stages))
		for i, st := range input.Stages {
			stage := domain.ContractStage{
				ContractID:          c.ID,
				Position:            i,
				Start:               dayPtr(st.Start),
				DisputeStartAllowed: dayPtr(st.DisputeStartAllowed),
				OwnerID:             st.OwnerID,
			}
			if err := repos.Stages.Create(ctx, &stage); err != nil {
				return mapRepoError(err, "stage", map[string]any{"position": i})
			}
			c.Stages = append(c.Stages, stage)
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "contract", nil)
	}

	s.logger.Info("contract created",
		zap.Int64("contract_id", c.ID),
		zap.Int("stages", len(c.Stages)),
		zap.Int64s("parties", c.PartyIDs))
	return c, nil
}

// GetCase returns the case with its parties and its stages in order.
func (s *CaseService) GetCase(ctx context.Context, id int64) (*domain.ContractCase, error) {
	c, err := s.repos.Cases.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "contract", map[string]any{"contract_id": id})
	}
	stages, err := s.repos.Stages.ListByCase(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "stage", map[string]any{"contract_id": id})
	}
	c.Stages = stages
	return c, nil
}

// GetStageByPosition returns the index-th stage of the case in creation
// order.
func (s *CaseService) GetStageByPosition(ctx context.Context, caseID int64, index int) (*domain.ContractStage, error) {
	if _, err := s.repos.Cases.GetByID(ctx, caseID); err != nil {
		return nil, mapRepoError(err, "contract", map[string]any{"contract_id": caseID})
	}
	return stageAt(ctx, s.repos.Stages, caseID, index, false)
}

// ListCasesForUser returns the cases the user is a party of, unfinished
// first.
func (s *CaseService) ListCasesForUser(ctx context.Context, userID int64) ([]domain.ContractCase, error) {
	if _, err := s.repos.Users.GetByID(ctx, userID); err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": userID})
	}
	cases, err := s.repos.Cases.ListByParty(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err, "contract", nil)
	}
	return cases, nil
}

// UpdateCase renames the case or replaces its files. The actor must be a
// party or an admin; a nil actor skips the check.
func (s *CaseService) UpdateCase(ctx context.Context, id int64, actor *domain.User, input CaseUpdateInput) (*domain.ContractCase, error) {
	var name *string
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, apperrors.NewValidationError("name required", nil)
		}
		name = &trimmed
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		c, err := repos.Cases.GetByIDForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err, "contract", map[string]any{"contract_id": id})
		}
		if actor != nil && !actor.Admin && !c.HasParty(actor.ID) {
			return apperrors.NewForbidden("only a party may edit the contract")
		}
		if name != nil {
			c.Name = *name
		}
		if input.Files != nil {
			c.Files = *input.Files
		}
		if err := repos.Cases.Update(ctx, c); err != nil {
			return mapRepoError(err, "contract", map[string]any{"contract_id": id})
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "contract", nil)
	}

	s.logger.Info("contract updated", zap.Int64("contract_id", id))
	return s.GetCase(ctx, id)
}

// UpdateStage reschedules a stage or hands it to another owner. The actor
// must own the stage or be a judge or an admin. The dispute window of a
// disputed stage is frozen.
func (s *CaseService) UpdateStage(ctx context.Context, caseID int64, index int, actor *domain.User, input StageUpdateInput) (*domain.ContractStage, error) {
	var stage *domain.ContractStage
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		c, err := repos.Cases.GetByIDForUpdate(ctx, caseID)
		if err != nil {
			return mapRepoError(err, "contract", map[string]any{"contract_id": caseID})
		}
		stage, err = stageAt(ctx, repos.Stages, c.ID, index, true)
		if err != nil {
			return err
		}
		if actor != nil && !actor.Admin && !actor.Judge && stage.OwnerID != actor.ID {
			return apperrors.NewForbidden("only the stage owner or a judge may edit the stage")
		}
		if input.DisputeStartAllowed != nil && stage.Disputed() {
			return apperrors.NewConflict("stage already disputed", map[string]any{"contract_id": caseID, "stage_num": index})
		}
		if input.OwnerID != nil {
			if err := requireUsers(ctx, repos.Users, []int64{*input.OwnerID}, "owner"); err != nil {
				return err
			}
			stage.OwnerID = *input.OwnerID
		}
		if input.Start != nil {
			stage.Start = dayPtr(input.Start)
		}
		if input.DisputeStartAllowed != nil {
			stage.DisputeStartAllowed = dayPtr(input.DisputeStartAllowed)
		}
		if err := repos.Stages.UpdateSchedule(ctx, stage); err != nil {
			return mapRepoError(err, "stage", map[string]any{"contract_id": caseID, "stage_num": index})
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "stage", nil)
	}

	s.logger.Info("stage updated",
		zap.Int64("contract_id", caseID),
		zap.Int("stage_num", index),
		zap.Int64("owner_id", stage.OwnerID))
	return stage, nil
}

// stageAt is the single place stages are addressed by position.
func stageAt(ctx context.Context, stages repository.StageRepository, caseID int64, index int, forUpdate bool) (*domain.ContractStage, error) {
	details := map[string]any{"contract_id": caseID, "stage_num": index}
	if index < 0 {
		return nil, apperrors.NewNotFound("stage", details)
	}
	var (
		stage *domain.ContractStage
		err   error
	)
	if forUpdate {
		stage, err = stages.GetByPositionForUpdate(ctx, caseID, index)
	} else {
		stage, err = stages.GetByPosition(ctx, caseID, index)
	}
	if err != nil {
		return nil, mapRepoError(err, "stage", details)
	}
	return stage, nil
}

// requireUsers fails with a validation error naming field when any id is
// unknown.
func requireUsers(ctx context.Context, users repository.UserRepository, ids []int64, field string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := users.GetByIDs(ctx, ids)
	if err != nil {
		return mapRepoError(err, "user", nil)
	}
	if missing := missingIDs(ids, found); len(missing) > 0 {
		return apperrors.NewValidationError("unknown users", map[string]any{field: missing})
	}
	return nil
}

func missingIDs(ids []int64, found []domain.User) []int64 {
	known := make(map[int64]struct{}, len(found))
	for _, u := range found {
		known[u.ID] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func dayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := domain.Day(*t)
	return &d
}
