package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/events"
	"github.com/spec-kit/dispute-service/internal/observability"
	"github.com/spec-kit/dispute-service/internal/repository/repotest"
)

var testNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	store      *repotest.Store
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	identity   *IdentityService
	cases      *CaseService
	engine     *EventService
	system     *domain.User

	mu        sync.Mutex
	published []events.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPolicy(t, nil)
}

func newTestEnvWithPolicy(t *testing.T, policy RecipientPolicy) *testEnv {
	t.Helper()
	store := repotest.New()
	env := &testEnv{
		store:      store,
		dispatcher: events.NewInMemoryDispatcher(),
		metrics:    observability.NewMetrics(),
	}
	env.dispatcher.Subscribe(events.EventNotifyCreated, env.record)
	env.dispatcher.Subscribe(events.EventNotifySeen, env.record)

	env.identity = NewIdentityService(IdentityDependencies{Repos: store.Repos(), Transactor: store})
	env.cases = NewCaseService(CaseDependencies{Repos: store.Repos(), Transactor: store})
	env.system = env.user(t, "system@dispute.local", "0xSYSTEM", false)
	env.engine = NewEventService(EventDependencies{
		Repos:        store.Repos(),
		Transactor:   store,
		Dispatcher:   env.dispatcher,
		Recipients:   policy,
		SystemUserID: env.system.ID,
		Clock:        func() time.Time { return testNow },
		Metrics:      env.metrics,
	})
	return env
}

func (e *testEnv) record(_ context.Context, ev events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, ev)
	return nil
}

func (e *testEnv) publishedEvents() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.Event(nil), e.published...)
}

func (e *testEnv) user(t *testing.T, email, account string, judge bool) *domain.User {
	t.Helper()
	u, err := e.identity.RegisterUser(context.Background(), UserCreateInput{
		Email:      email,
		Name:       "Test",
		FamilyName: "User",
		Judge:      judge,
		Info:       UserInfoInput{EthAccount: account},
	})
	require.NoError(t, err)
	return u
}

// twoStageCase creates a case between the parties with two stages whose
// dispute windows are already open.
func (e *testEnv) twoStageCase(t *testing.T, owner *domain.User, parties ...int64) *domain.ContractCase {
	t.Helper()
	allowed := testNow.AddDate(0, 0, -9)
	start := testNow.AddDate(0, 0, -30)
	c, err := e.cases.CreateCase(context.Background(), CaseCreateInput{
		Name:     "Supply agreement",
		Files:    "contract.pdf",
		PartyIDs: parties,
		Stages: []StageInput{
			{Start: &start, DisputeStartAllowed: &allowed, OwnerID: owner.ID},
			{Start: &start, DisputeStartAllowed: &allowed, OwnerID: owner.ID},
		},
	})
	require.NoError(t, err)
	return c
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
