// Package repotest provides an in-memory implementation of the repositories
// and the transactor for tests. It mimics the Postgres constraints the
// services rely on: unique keys, restrictive foreign keys and row ordering.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/repository"
)

// State is a snapshot of every table.
type State struct {
	nextID int64
	Users  map[int64]domain.User
	Infos  map[int64]domain.UserInfo // keyed by user id
	Cases  map[int64]domain.ContractCase
	Stages map[int64]domain.ContractStage
	Events map[int64]domain.NotifyEvent
}

func newState() *State {
	return &State{
		Users:  map[int64]domain.User{},
		Infos:  map[int64]domain.UserInfo{},
		Cases:  map[int64]domain.ContractCase{},
		Stages: map[int64]domain.ContractStage{},
		Events: map[int64]domain.NotifyEvent{},
	}
}

func (s *State) clone() *State {
	out := newState()
	out.nextID = s.nextID
	for k, v := range s.Users {
		out.Users[k] = v
	}
	for k, v := range s.Infos {
		out.Infos[k] = v
	}
	for k, v := range s.Cases {
		v.PartyIDs = append([]int64(nil), v.PartyIDs...)
		out.Cases[k] = v
	}
	for k, v := range s.Stages {
		out.Stages[k] = v
	}
	for k, v := range s.Events {
		v.RecipientIDs = append([]int64(nil), v.RecipientIDs...)
		out.Events[k] = v
	}
	return out
}

func (s *State) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is the in-memory database. Transactions hold the store lock, work on
// a copy and swap it in on commit, so they are serializable.
type Store struct {
	mu    sync.Mutex
	state *State

	// Now stamps created_at columns.
	Now func() time.Time

	// Injected failures, returned by the matching write while set.
	FailStageUpdate error
	FailCaseUpdate  error
	FailEventCreate error

	commits   int
	rollbacks int
	locks     []string
}

// ErrLockOutsideTx is returned by a locking read made without a transaction.
var ErrLockOutsideTx = errors.New("repotest: row lock requested outside a transaction")

// New returns an empty store.
func New() *Store {
	return &Store{
		state: newState(),
		Now:   func() time.Time { return time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC) },
	}
}

// Repos returns repositories reading and writing committed state directly.
func (m *Store) Repos() repository.Repositories {
	return m.bind(&view{store: m})
}

func (m *Store) bind(v *view) repository.Repositories {
	return repository.Repositories{
		Users:  userRepo{v},
		Cases:  caseRepo{v},
		Stages: stageRepo{v},
		Events: eventRepo{v},
	}
}

// WithinTx implements repository.Transactor.
func (m *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, m.bind(&view{store: m, tx: work})); err != nil {
		m.rollbacks++
		return err
	}
	m.state = work
	m.commits++
	return nil
}

// Snapshot returns a copy of the committed state.
func (m *Store) Snapshot() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// EventCount returns the number of committed notify events.
func (m *Store) EventCount() int {
	return len(m.Snapshot().Events)
}

// Commits returns the number of committed transactions.
func (m *Store) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns the number of rolled back transactions.
func (m *Store) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// Locks returns the rows locked by reads inside transactions, in order, as
// "table:id".
func (m *Store) Locks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.locks...)
}

var _ repository.Transactor = (*Store)(nil)

type view struct {
	store *Store
	tx    *State
}

// lock records a row lock. The store lock is already held by WithinTx.
func (v *view) lock(table string, id int64) error {
	if v.tx == nil {
		return ErrLockOutsideTx
	}
	v.store.locks = append(v.store.locks, fmt.Sprintf("%s:%d", table, id))
	return nil
}

func (v *view) with(fn func(st *State) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

// UniqueViolation builds the error Postgres returns for a duplicate key.
func UniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// ForeignKeyViolation builds the error Postgres returns for a broken or
// restricted reference.
func ForeignKeyViolation(constraint string) error {
	return &pgconn.PgError{Code: "23503", ConstraintName: constraint}
}

type userRepo struct{ *view }

func (r userRepo) Create(_ context.Context, user *domain.User) error {
	return r.with(func(st *State) error {
		for _, u := range st.Users {
			if u.Email == user.Email {
				return UniqueViolation("users_email_key")
			}
		}
		user.ID = st.id()
		user.CreatedAt = r.store.Now()
		stored := *user
		stored.Info = nil
		st.Users[user.ID] = stored
		return nil
	})
}

func (r userRepo) CreateInfo(_ context.Context, info *domain.UserInfo) error {
	return r.with(func(st *State) error {
		if _, ok := st.Users[info.UserID]; !ok {
			return ForeignKeyViolation("user_infos_user_id_fkey")
		}
		if _, ok := st.Infos[info.UserID]; ok {
			return UniqueViolation("user_infos_user_id_key")
		}
		for _, i := range st.Infos {
			if i.EthAccount == info.EthAccount {
				return UniqueViolation("user_infos_eth_account_key")
			}
		}
		info.ID = st.id()
		st.Infos[info.UserID] = *info
		return nil
	})
}

func loadUser(st *State, id int64) (domain.User, bool) {
	u, ok := st.Users[id]
	if !ok {
		return u, false
	}
	if info, ok := st.Infos[id]; ok {
		u.Info = &info
	}
	return u, true
}

func (r userRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	var out domain.User
	err := r.with(func(st *State) error {
		u, ok := loadUser(st, id)
		if !ok {
			return pgx.ErrNoRows
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r userRepo) GetByIDs(_ context.Context, ids []int64) ([]domain.User, error) {
	out := []domain.User{}
	err := r.with(func(st *State) error {
		for _, id := range domain.UniqueIDs(ids) {
			if u, ok := loadUser(st, id); ok {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}

func (r userRepo) GetByAccount(_ context.Context, account string) (*domain.User, error) {
	var out domain.User
	err := r.with(func(st *State) error {
		for uid, info := range st.Infos {
			if info.EthAccount == account {
				out, _ = loadUser(st, uid)
				return nil
			}
		}
		return pgx.ErrNoRows
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r userRepo) ListJudges(_ context.Context) ([]domain.User, error) {
	out := []domain.User{}
	err := r.with(func(st *State) error {
		for id, u := range st.Users {
			if u.Judge {
				u, _ = loadUser(st, id)
				out = append(out, u)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r userRepo) Update(_ context.Context, user *domain.User) error {
	return r.with(func(st *State) error {
		current, ok := st.Users[user.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		current.Name = user.Name
		current.FamilyName = user.FamilyName
		st.Users[user.ID] = current
		return nil
	})
}

func (r userRepo) UpdateInfo(_ context.Context, info *domain.UserInfo) error {
	return r.with(func(st *State) error {
		current, ok := st.Infos[info.UserID]
		if !ok {
			return pgx.ErrNoRows
		}
		current.OrganizationName = info.OrganizationName
		current.TaxNum = info.TaxNum
		current.PaymentNum = info.PaymentNum
		current.Files = info.Files
		st.Infos[info.UserID] = current
		return nil
	})
}

func (r userRepo) Delete(_ context.Context, id int64) error {
	return r.with(func(st *State) error {
		if _, ok := st.Users[id]; !ok {
			return pgx.ErrNoRows
		}
		if _, ok := st.Infos[id]; ok {
			return ForeignKeyViolation("user_infos_user_id_fkey")
		}
		for _, c := range st.Cases {
			if c.HasParty(id) {
				return ForeignKeyViolation("contract_case_parties_user_id_fkey")
			}
		}
		for _, s := range st.Stages {
			if s.OwnerID == id || (s.DisputeStarterID != nil && *s.DisputeStarterID == id) {
				return ForeignKeyViolation("contract_stages_owner_id_fkey")
			}
		}
		for _, e := range st.Events {
			if e.UserByID == id || e.AddressedTo(id) {
				return ForeignKeyViolation("notify_events_user_by_id_fkey")
			}
		}
		delete(st.Users, id)
		return nil
	})
}

type caseRepo struct{ *view }

func (r caseRepo) Create(_ context.Context, c *domain.ContractCase) error {
	return r.with(func(st *State) error {
		for _, id := range c.PartyIDs {
			if _, ok := st.Users[id]; !ok {
				return ForeignKeyViolation("contract_case_parties_user_id_fkey")
			}
		}
		c.ID = st.id()
		c.CreatedAt = r.store.Now()
		stored := *c
		stored.PartyIDs = domain.UniqueIDs(c.PartyIDs)
		stored.Stages = nil
		st.Cases[c.ID] = stored
		return nil
	})
}

func (r caseRepo) GetByID(_ context.Context, id int64) (*domain.ContractCase, error) {
	var out domain.ContractCase
	err := r.with(func(st *State) error {
		c, ok := st.Cases[id]
		if !ok {
			return pgx.ErrNoRows
		}
		c.PartyIDs = append([]int64(nil), c.PartyIDs...)
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r caseRepo) GetByIDForUpdate(ctx context.Context, id int64) (*domain.ContractCase, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.lock("contract_cases", c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (r caseRepo) Update(_ context.Context, c *domain.ContractCase) error {
	return r.with(func(st *State) error {
		if r.store.FailCaseUpdate != nil {
			return r.store.FailCaseUpdate
		}
		current, ok := st.Cases[c.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		current.Name = c.Name
		current.Files = c.Files
		st.Cases[c.ID] = current
		return nil
	})
}

func (r caseRepo) UpdateFinished(_ context.Context, id int64, finished domain.FinishedState) error {
	return r.with(func(st *State) error {
		if r.store.FailCaseUpdate != nil {
			return r.store.FailCaseUpdate
		}
		c, ok := st.Cases[id]
		if !ok {
			return pgx.ErrNoRows
		}
		c.Finished = finished
		st.Cases[id] = c
		return nil
	})
}

func (r caseRepo) ListByParty(_ context.Context, userID int64) ([]domain.ContractCase, error) {
	out := []domain.ContractCase{}
	err := r.with(func(st *State) error {
		for _, c := range st.Cases {
			if c.HasParty(userID) {
				c.PartyIDs = append([]int64(nil), c.PartyIDs...)
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Finished != out[j].Finished {
			return out[i].Finished < out[j].Finished
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

type stageRepo struct{ *view }

func (r stageRepo) Create(_ context.Context, stage *domain.ContractStage) error {
	return r.with(func(st *State) error {
		if _, ok := st.Cases[stage.ContractID]; !ok {
			return ForeignKeyViolation("contract_stages_contract_id_fkey")
		}
		if _, ok := st.Users[stage.OwnerID]; !ok {
			return ForeignKeyViolation("contract_stages_owner_id_fkey")
		}
		for _, s := range st.Stages {
			if s.ContractID == stage.ContractID && s.Position == stage.Position {
				return UniqueViolation("contract_stages_contract_id_position_key")
			}
		}
		stage.ID = st.id()
		st.Stages[stage.ID] = *stage
		return nil
	})
}

func orderedStages(st *State, caseID int64) []domain.ContractStage {
	out := []domain.ContractStage{}
	for _, s := range st.Stages {
		if s.ContractID == caseID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r stageRepo) ListByCase(_ context.Context, caseID int64) ([]domain.ContractStage, error) {
	var out []domain.ContractStage
	err := r.with(func(st *State) error {
		out = orderedStages(st, caseID)
		return nil
	})
	return out, err
}

func (r stageRepo) GetByPosition(_ context.Context, caseID int64, index int) (*domain.ContractStage, error) {
	var out domain.ContractStage
	err := r.with(func(st *State) error {
		list := orderedStages(st, caseID)
		if index < 0 || index >= len(list) {
			return pgx.ErrNoRows
		}
		out = list[index]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r stageRepo) GetByPositionForUpdate(ctx context.Context, caseID int64, index int) (*domain.ContractStage, error) {
	stage, err := r.GetByPosition(ctx, caseID, index)
	if err != nil {
		return nil, err
	}
	if err := r.lock("contract_stages", stage.ID); err != nil {
		return nil, err
	}
	return stage, nil
}

func (r stageRepo) UpdateSchedule(_ context.Context, stage *domain.ContractStage) error {
	return r.with(func(st *State) error {
		if r.store.FailStageUpdate != nil {
			return r.store.FailStageUpdate
		}
		current, ok := st.Stages[stage.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		if _, ok := st.Users[stage.OwnerID]; !ok {
			return ForeignKeyViolation("contract_stages_owner_id_fkey")
		}
		current.Start = stage.Start
		current.DisputeStartAllowed = stage.DisputeStartAllowed
		current.OwnerID = stage.OwnerID
		st.Stages[stage.ID] = current
		return nil
	})
}

func (r stageRepo) UpdateDispute(_ context.Context, stage *domain.ContractStage) error {
	return r.with(func(st *State) error {
		if r.store.FailStageUpdate != nil {
			return r.store.FailStageUpdate
		}
		current, ok := st.Stages[stage.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		current.DisputeStarted = stage.DisputeStarted
		current.DisputeStarterID = stage.DisputeStarterID
		current.DisputeFinished = stage.DisputeFinished
		current.ResultFile = stage.ResultFile
		st.Stages[stage.ID] = current
		return nil
	})
}

type eventRepo struct{ *view }

func (r eventRepo) Create(_ context.Context, event *domain.NotifyEvent) error {
	return r.with(func(st *State) error {
		if r.store.FailEventCreate != nil {
			return r.store.FailEventCreate
		}
		for _, id := range event.RecipientIDs {
			if _, ok := st.Users[id]; !ok {
				return ForeignKeyViolation("notify_event_recipients_user_id_fkey")
			}
		}
		event.ID = st.id()
		stored := *event
		stored.RecipientIDs = domain.UniqueIDs(event.RecipientIDs)
		st.Events[event.ID] = stored
		return nil
	})
}

func (r eventRepo) GetByID(_ context.Context, id int64) (*domain.NotifyEvent, error) {
	var out domain.NotifyEvent
	err := r.with(func(st *State) error {
		e, ok := st.Events[id]
		if !ok {
			return pgx.ErrNoRows
		}
		e.RecipientIDs = append([]int64(nil), e.RecipientIDs...)
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r eventRepo) ListByRecipient(_ context.Context, userID int64, limit, offset int) ([]domain.NotifyEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	all := []domain.NotifyEvent{}
	err := r.with(func(st *State) error {
		for _, e := range st.Events {
			if e.AddressedTo(userID) {
				e.RecipientIDs = append([]int64(nil), e.RecipientIDs...)
				all = append(all, e)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if offset >= len(all) {
		return []domain.NotifyEvent{}, err
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], err
}

func (r eventRepo) MarkSeen(_ context.Context, id int64) error {
	return r.with(func(st *State) error {
		e, ok := st.Events[id]
		if !ok {
			return pgx.ErrNoRows
		}
		e.Seen = true
		st.Events[id] = e
		return nil
	})
}
