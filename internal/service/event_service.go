package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/events"
	"github.com/spec-kit/dispute-service/internal/observability"
	"github.com/spec-kit/dispute-service/internal/repository"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

// EventService is the notification engine. It is the only writer of stage
// dispute fields and of the case finished state.
type EventService struct {
	repos        repository.Repositories
	tx           repository.Transactor
	dispatcher   events.Dispatcher
	recipients   RecipientPolicy
	systemUserID int64
	now          func() time.Time
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// EventDependencies bundles collaborators for the engine.
type EventDependencies struct {
	Repos        repository.Repositories
	Transactor   repository.Transactor
	Dispatcher   events.Dispatcher
	Recipients   RecipientPolicy
	SystemUserID int64
	Clock        func() time.Time
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// SubmitEventInput is the request accepted by SubmitEvent. StageNum is the
// zero-based position of the stage within the case.
type SubmitEventInput struct {
	CaseID    int64
	StageNum  int
	EventType domain.EventType
	UserTo    []int64
	AddressBy *string
	Finished  *bool
	FileHash  *string
}

// NewEventService constructs the engine. Recipients defaults to CopyJudges.
func NewEventService(deps EventDependencies) *EventService {
	svc := &EventService{
		repos:        deps.Repos,
		tx:           deps.Transactor,
		dispatcher:   deps.Dispatcher,
		recipients:   deps.Recipients,
		systemUserID: deps.SystemUserID,
		now:          deps.Clock,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
	}
	if svc.recipients == nil {
		svc.recipients = CopyJudges
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// SubmitEvent validates the request, records a notify event and applies the
// state transition of its type. Everything happens in one transaction.
func (s *EventService) SubmitEvent(ctx context.Context, input SubmitEventInput) (*domain.NotifyEvent, error) {
	if !input.EventType.Valid() {
		return nil, apperrors.NewValidationError("unknown event type", map[string]any{"event_type": string(input.EventType)})
	}
	var fileHash string
	if input.EventType == domain.EventDisputeDone {
		if input.FileHash != nil {
			fileHash = strings.TrimSpace(*input.FileHash)
		}
		if fileHash == "" {
			return nil, apperrors.NewValidationError("filehash required", nil)
		}
		if len(fileHash) > domain.MaxResultFileLen {
			return nil, apperrors.NewValidationError("filehash too long", map[string]any{"max": domain.MaxResultFileLen})
		}
	}

	var (
		event  *domain.NotifyEvent
		result transitionResult
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		c, err := repos.Cases.GetByIDForUpdate(ctx, input.CaseID)
		if err != nil {
			return mapRepoError(err, "contract", map[string]any{"contract_id": input.CaseID})
		}
		stage, err := stageAt(ctx, repos.Stages, c.ID, input.StageNum, true)
		if err != nil {
			return err
		}
		emitter, err := s.resolveEmitter(ctx, repos.Users, input.AddressBy)
		if err != nil {
			return err
		}
		explicit, err := resolveExplicit(ctx, repos.Users, input.UserTo)
		if err != nil {
			return err
		}
		recipients, err := s.recipients(ctx, repos.Users, explicit)
		if err != nil {
			return mapRepoError(err, "user", nil)
		}

		now := s.now()
		event = &domain.NotifyEvent{
			CreatedAt:    now,
			ContractID:   c.ID,
			StageID:      stage.ID,
			UserByID:     emitter.ID,
			RecipientIDs: domain.UniqueIDs(recipients),
			Seen:         false,
			Type:         input.EventType,
		}
		if err := repos.Events.Create(ctx, event); err != nil {
			return mapRepoError(err, "notify event", nil)
		}

		result, err = applyTransition(ctx, repos, c, stage, emitter, input, fileHash, domain.Day(now))
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, "notify event", nil)
	}

	s.metrics.RecordEvent(string(event.Type))
	s.logger.Info("notify event submitted",
		zap.Int64("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("contract_id", event.ContractID),
		zap.Int("stage_num", input.StageNum),
		zap.Int64("user_by", event.UserByID),
		zap.Int64s("user_to", event.RecipientIDs))

	s.publishEvent(ctx, events.Event{
		Type:    events.EventNotifyCreated,
		CaseID:  event.ContractID,
		ActorID: event.UserByID,
		Payload: events.NotifyCreatedPayload{
			NotifyEventID: event.ID,
			StageID:       event.StageID,
			StageNum:      input.StageNum,
			EventType:     event.Type,
			RecipientIDs:  event.RecipientIDs,
			Finished:      result.finished,
			ResultFile:    result.resultFile,
		},
	})
	return event, nil
}

// GetEvent returns an event. A non-nil viewer must be a recipient, the
// emitter or an admin.
func (s *EventService) GetEvent(ctx context.Context, id int64, viewer *domain.User) (*domain.NotifyEvent, error) {
	event, err := s.repos.Events.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "notify event", map[string]any{"event_id": id})
	}
	if viewer != nil && !viewer.Admin && viewer.ID != event.UserByID && !event.AddressedTo(viewer.ID) {
		return nil, apperrors.NewForbidden("event is not addressed to user")
	}
	return event, nil
}

// ListEventsForUser returns events addressed to the user, newest first.
func (s *EventService) ListEventsForUser(ctx context.Context, userID int64, limit, offset int) ([]domain.NotifyEvent, error) {
	list, err := s.repos.Events.ListByRecipient(ctx, userID, limit, offset)
	if err != nil {
		return nil, mapRepoError(err, "notify event", nil)
	}
	return list, nil
}

// MarkSeen flags the event as seen. Only a recipient may do that.
func (s *EventService) MarkSeen(ctx context.Context, eventID, userID int64) (*domain.NotifyEvent, error) {
	event, err := s.repos.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, mapRepoError(err, "notify event", map[string]any{"event_id": eventID})
	}
	if !event.AddressedTo(userID) {
		return nil, apperrors.NewForbidden("event is not addressed to user")
	}
	if event.Seen {
		return event, nil
	}
	if err := s.repos.Events.MarkSeen(ctx, eventID); err != nil {
		return nil, mapRepoError(err, "notify event", map[string]any{"event_id": eventID})
	}
	event.Seen = true

	s.publishEvent(ctx, events.Event{
		Type:    events.EventNotifySeen,
		CaseID:  event.ContractID,
		ActorID: userID,
		Payload: events.NotifySeenPayload{
			NotifyEventID: event.ID,
			EmitterID:     event.UserByID,
			RecipientID:   userID,
		},
	})
	return event, nil
}

type transitionResult struct {
	finished   domain.FinishedState
	resultFile string
}

// applyTransition checks the precondition of the event type and mutates the
// case or stage. Callers hold row locks on both.
func applyTransition(
	ctx context.Context,
	repos repository.Repositories,
	c *domain.ContractCase,
	stage *domain.ContractStage,
	emitter *domain.User,
	input SubmitEventInput,
	fileHash string,
	today time.Time,
) (transitionResult, error) {
	result := transitionResult{finished: c.Finished, resultFile: stage.ResultFile}
	details := map[string]any{"contract_id": c.ID, "stage_num": input.StageNum}

	switch input.EventType {
	case domain.EventOpen:
		return result, nil

	case domain.EventDisputeOpen:
		if stage.Disputed() {
			return result, apperrors.NewConflict("stage already disputed", details)
		}
		if !stage.DisputeWindowOpen(today) {
			details["dispute_start_allowed"] = stage.DisputeStartAllowed.Format(time.DateOnly)
			return result, apperrors.NewConflict("dispute window not open yet", details)
		}
		starter := emitter.ID
		stage.DisputeStarted = &today
		stage.DisputeStarterID = &starter
		if err := repos.Stages.UpdateDispute(ctx, stage); err != nil {
			return result, mapRepoError(err, "stage", details)
		}

	case domain.EventDisputeDone:
		if !stage.DisputeOpen() {
			return result, apperrors.NewConflict("stage has no open dispute", details)
		}
		stage.DisputeFinished = &today
		stage.ResultFile = fileHash
		if err := repos.Stages.UpdateDispute(ctx, stage); err != nil {
			return result, mapRepoError(err, "stage", details)
		}
		result.resultFile = fileHash

	case domain.EventFinish:
		finished := domain.FinishedPending
		if input.Finished != nil && *input.Finished {
			finished = domain.FinishedYes
		}
		if err := repos.Cases.UpdateFinished(ctx, c.ID, finished); err != nil {
			return result, mapRepoError(err, "contract", details)
		}
		c.Finished = finished
		result.finished = finished
	}
	return result, nil
}

// resolveEmitter returns the owner of the given account, or the configured
// system user when no account is given.
func (s *EventService) resolveEmitter(ctx context.Context, users repository.UserRepository, addressBy *string) (*domain.User, error) {
	if addressBy != nil && strings.TrimSpace(*addressBy) != "" {
		return lookupByAccount(ctx, users, *addressBy)
	}
	user, err := users.GetByID(ctx, s.systemUserID)
	if err != nil {
		return nil, mapRepoError(err, "system user", map[string]any{"user_id": s.systemUserID})
	}
	return user, nil
}

func resolveExplicit(ctx context.Context, users repository.UserRepository, ids []int64) ([]domain.User, error) {
	ids = domain.UniqueIDs(ids)
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	found, err := users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, mapRepoError(err, "user", nil)
	}
	if missing := missingIDs(ids, found); len(missing) > 0 {
		return nil, apperrors.NewValidationError("unknown users", map[string]any{"user_to": missing})
	}
	return found, nil
}

func (s *EventService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish notify event failed",
			zap.String("type", string(event.Type)),
			zap.Int64("contract_id", event.CaseID),
			zap.Error(err))
	}
}
