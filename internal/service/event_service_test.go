package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/dispute-service/internal/domain"
	"github.com/spec-kit/dispute-service/internal/events"
	"github.com/spec-kit/dispute-service/internal/repository"
	"github.com/spec-kit/dispute-service/internal/repository/repotest"
	apperrors "github.com/spec-kit/dispute-service/pkg/errorutil"
)

func TestSubmitDisputeOpenByAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	bob := env.user(t, "bob@example.com", "0xDEF", false)
	judge := env.user(t, "judge@example.com", "0xJ1", true)
	c := env.twoStageCase(t, alice, alice.ID, bob.ID)

	event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{
		CaseID:    c.ID,
		StageNum:  0,
		EventType: domain.EventDisputeOpen,
		UserTo:    []int64{bob.ID},
		AddressBy: strPtr("0xABC"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.EventDisputeOpen, event.Type)
	assert.Equal(t, alice.ID, event.UserByID)
	assert.Equal(t, c.Stages[0].ID, event.StageID)
	assert.False(t, event.Seen)
	assert.Equal(t, []int64{bob.ID, judge.ID}, event.RecipientIDs)
	assert.Equal(t, testNow, event.CreatedAt)

	stage0, err := env.cases.GetStageByPosition(ctx, c.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, stage0.DisputeStarted)
	require.NotNil(t, stage0.DisputeStarterID)
	assert.Equal(t, domain.Day(testNow), *stage0.DisputeStarted)
	assert.Equal(t, alice.ID, *stage0.DisputeStarterID)

	stage1, err := env.cases.GetStageByPosition(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, stage1.DisputeStarted)
	assert.Nil(t, stage1.DisputeStarterID)

	assert.Equal(t, 1, env.store.EventCount())
	assert.Equal(t, int64(1), env.metrics.Snapshot().Events["disp_open"])
}

func TestSubmitDisputeOpenTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	bob := env.user(t, "bob@example.com", "0xDEF", false)
	c := env.twoStageCase(t, alice, alice.ID, bob.ID)

	_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, StageNum: 1, EventType: domain.EventDisputeOpen, AddressBy: strPtr("0xABC")})
	require.NoError(t, err)

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, StageNum: 1, EventType: domain.EventDisputeOpen, AddressBy: strPtr("0xDEF")})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	stage, err := env.cases.GetStageByPosition(ctx, c.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stage.DisputeStarterID)
	assert.Equal(t, alice.ID, *stage.DisputeStarterID)
	assert.Equal(t, 1, env.store.EventCount())
}

func TestSubmitDisputeOpenBeforeWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	allowed := testNow.AddDate(0, 0, 1)
	c, err := env.cases.CreateCase(ctx, CaseCreateInput{
		Name:     "Lease",
		PartyIDs: []int64{alice.ID},
		Stages:   []StageInput{{DisputeStartAllowed: &allowed, OwnerID: alice.ID}},
	})
	require.NoError(t, err)

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeOpen})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 0, env.store.EventCount())

	// the window opens on the allowed day itself
	env.engine.now = func() time.Time { return allowed.Add(time.Hour) }
	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeOpen})
	require.NoError(t, err)
}

func TestSubmitDisputeClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)

	_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeDone, FileHash: strPtr("QmResult")})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err), "closing an undisputed stage")

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeOpen})
	require.NoError(t, err)

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeDone, FileHash: strPtr("QmResult")})
	require.NoError(t, err)

	stage, err := env.cases.GetStageByPosition(ctx, c.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, stage.DisputeFinished)
	assert.Equal(t, domain.Day(testNow), *stage.DisputeFinished)
	assert.Equal(t, "QmResult", stage.ResultFile)

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeDone, FileHash: strPtr("QmOther")})
	assert.True(t, apperrors.IsConflict(err), "closing twice")
}

func TestSubmitDisputeCloseValidatesFileHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	commits := env.store.Commits()

	for _, hash := range []*string{nil, strPtr("   "), strPtr(strings.Repeat("x", domain.MaxResultFileLen+1))} {
		_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeDone, FileHash: hash})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	}
	assert.Equal(t, commits, env.store.Commits())
	assert.Equal(t, 0, env.store.Rollbacks())
}

func TestSubmitFinishSetsTriState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	assert.Equal(t, domain.FinishedNo, c.Finished)

	cases := []struct {
		name     string
		finished *bool
		want     domain.FinishedState
	}{
		{name: "true", finished: boolPtr(true), want: domain.FinishedYes},
		{name: "false", finished: boolPtr(false), want: domain.FinishedPending},
		{name: "omitted", finished: nil, want: domain.FinishedPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventFinish, Finished: tc.finished})
			require.NoError(t, err)
			got, err := env.cases.GetCase(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Finished)
		})
	}
}

func TestSubmitOpenIsInformational(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	before := env.store.Snapshot()

	event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, StageNum: 1, EventType: domain.EventOpen, UserTo: []int64{alice.ID}})
	require.NoError(t, err)
	assert.Equal(t, c.Stages[1].ID, event.StageID)

	after := env.store.Snapshot()
	assert.Equal(t, before.Stages, after.Stages)
	assert.Equal(t, before.Cases[c.ID].Finished, after.Cases[c.ID].Finished)
}

func TestSubmitAlwaysCopiesJudges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	j1 := env.user(t, "j1@example.com", "0xJ1", true)
	j2 := env.user(t, "j2@example.com", "0xJ2", true)
	c := env.twoStageCase(t, alice, alice.ID)

	event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen})
	require.NoError(t, err)
	assert.Equal(t, []int64{j1.ID, j2.ID}, event.RecipientIDs)

	// explicit judges and duplicates collapse
	event, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{j2.ID, alice.ID, alice.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, j1.ID, j2.ID}, event.RecipientIDs)
}

func TestSubmitWithCustomRecipientPolicy(t *testing.T) {
	env := newTestEnvWithPolicy(t, ExplicitOnly)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	env.user(t, "j1@example.com", "0xJ1", true)
	c := env.twoStageCase(t, alice, alice.ID)

	event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{alice.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID}, event.RecipientIDs)
}

func TestSubmitEventRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	bob := env.user(t, "bob@example.com", "0xDEF", false)
	judge := env.user(t, "judge@example.com", "0xJ1", true)
	c := env.twoStageCase(t, alice, alice.ID, bob.ID)

	created, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{bob.ID, alice.ID, bob.ID}})
	require.NoError(t, err)

	loaded, err := env.engine.GetEvent(ctx, created.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.EventOpen, loaded.Type)
	assert.False(t, loaded.Seen)
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID, judge.ID}, loaded.RecipientIDs)
	assert.Equal(t, created.UserByID, loaded.UserByID)
	assert.Equal(t, env.system.ID, loaded.UserByID)
}

func TestSubmitUnknownCase(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "judge@example.com", "0xJ1", true)

	_, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: 9999, EventType: domain.EventOpen})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, 0, env.store.EventCount())
}

func TestSubmitStagePositionOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)

	for _, idx := range []int{2, -1} {
		_, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, StageNum: idx, EventType: domain.EventOpen})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err), "index %d", idx)
	}
	assert.Equal(t, 0, env.store.EventCount())
}

func TestSubmitRejectsUnknownInputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)

	_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: "dis_open"})
	assert.True(t, apperrors.IsValidation(err), "historical event spelling")

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, AddressBy: strPtr("0xNOPE")})
	assert.True(t, apperrors.IsNotFound(err), "unknown account")

	_, err = env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{alice.ID, 4242}})
	assert.True(t, apperrors.IsValidation(err), "unknown recipient")

	assert.Equal(t, 0, env.store.EventCount())
}

func TestSubmitMissingSystemUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	env.engine.systemUserID = 777

	_, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSubmitRollsBackWhenStageWriteFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	env.store.FailStageUpdate = errors.New("disk full")

	_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeOpen})
	require.Error(t, err)
	assert.True(t, apperrors.IsStorage(err))

	assert.Equal(t, 0, env.store.EventCount())
	stage, err := env.cases.GetStageByPosition(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, stage.DisputeStarted)
	assert.Empty(t, env.publishedEvents())
	assert.Equal(t, 1, env.store.Rollbacks())
}

func TestSubmitRollsBackWhenCaseWriteFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	env.store.FailCaseUpdate = errors.New("connection reset")

	_, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventFinish, Finished: boolPtr(true)})
	assert.True(t, apperrors.IsStorage(err))
	assert.Equal(t, 0, env.store.EventCount())

	got, err := env.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinishedNo, got.Finished)
}

func TestSubmitEventCreateFailureIsStorage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	env.store.FailEventCreate = errors.New("timeout")

	_, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen})
	assert.True(t, apperrors.IsStorage(err))
}

func TestConcurrentDisputeOpensSerialize(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)

	const workers = 8
	var (
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, EventType: domain.EventDisputeOpen})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.IsConflict(err):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, env.store.EventCount())
	assert.Len(t, env.store.Locks(), 2*workers)
}

func TestSubmitLocksCaseThenStage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	stage, err := env.cases.GetStageByPosition(context.Background(), c.ID, 1)
	require.NoError(t, err)

	_, err = env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, StageNum: 1, EventType: domain.EventDisputeOpen})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"contract_cases:" + strconv.FormatInt(c.ID, 10),
		"contract_stages:" + strconv.FormatInt(stage.ID, 10),
	}, env.store.Locks())

	_, err = env.store.Repos().Cases.GetByIDForUpdate(context.Background(), c.ID)
	assert.ErrorIs(t, err, repotest.ErrLockOutsideTx)
}

func TestSubmitPublishesAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	judge := env.user(t, "judge@example.com", "0xJ1", true)
	c := env.twoStageCase(t, alice, alice.ID)

	event, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, StageNum: 1, EventType: domain.EventFinish, Finished: boolPtr(true)})
	require.NoError(t, err)

	published := env.publishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventNotifyCreated, published[0].Type)
	assert.Equal(t, c.ID, published[0].CaseID)
	assert.NotEmpty(t, published[0].ID)
	payload, ok := published[0].Payload.(events.NotifyCreatedPayload)
	require.True(t, ok)
	assert.Equal(t, event.ID, payload.NotifyEventID)
	assert.Equal(t, 1, payload.StageNum)
	assert.Equal(t, domain.FinishedYes, payload.Finished)
	assert.Equal(t, []int64{judge.ID}, payload.RecipientIDs)
}

func TestSubmitSucceedsWhenSubscriberFails(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)
	env.dispatcher.Subscribe(events.EventNotifyCreated, func(context.Context, events.Event) error {
		return errors.New("redis down")
	})

	_, err := env.engine.SubmitEvent(context.Background(), SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.EventCount())
}

func TestMarkSeen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	bob := env.user(t, "bob@example.com", "0xDEF", false)
	c := env.twoStageCase(t, alice, alice.ID, bob.ID)

	event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{bob.ID}})
	require.NoError(t, err)

	_, err = env.engine.MarkSeen(ctx, event.ID, alice.ID)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = env.engine.MarkSeen(ctx, 31337, bob.ID)
	assert.True(t, apperrors.IsNotFound(err))

	seen, err := env.engine.MarkSeen(ctx, event.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, seen.Seen)

	loaded, err := env.engine.GetEvent(ctx, event.ID, nil)
	require.NoError(t, err)
	assert.True(t, loaded.Seen)

	published := env.publishedEvents()
	require.Len(t, published, 2)
	assert.Equal(t, events.EventNotifySeen, published[1].Type)
	assert.Equal(t, events.NotifySeenPayload{NotifyEventID: event.ID, EmitterID: env.system.ID, RecipientID: bob.ID}, published[1].Payload)

	// idempotent, no second notification
	_, err = env.engine.MarkSeen(ctx, event.ID, bob.ID)
	require.NoError(t, err)
	assert.Len(t, env.publishedEvents(), 2)
}

func TestGetEventVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	bob := env.user(t, "bob@example.com", "0xDEF", false)
	carol := env.user(t, "carol@example.com", "0xCAFE", false)
	c := env.twoStageCase(t, alice, alice.ID, bob.ID)

	event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{bob.ID}, AddressBy: strPtr("0xABC")})
	require.NoError(t, err)

	_, err = env.engine.GetEvent(ctx, event.ID, bob)
	assert.NoError(t, err, "recipient")
	_, err = env.engine.GetEvent(ctx, event.ID, alice)
	assert.NoError(t, err, "emitter")
	_, err = env.engine.GetEvent(ctx, event.ID, &domain.User{ID: 999, Admin: true})
	assert.NoError(t, err, "admin")
	_, err = env.engine.GetEvent(ctx, event.ID, carol)
	assert.True(t, apperrors.IsForbidden(err), "stranger")
}

func TestListEventsForUserNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com", "0xABC", false)
	c := env.twoStageCase(t, alice, alice.ID)

	var ids []int64
	for i := 0; i < 3; i++ {
		env.engine.now = func() time.Time { return testNow.Add(time.Duration(i) * time.Minute) }
		event, err := env.engine.SubmitEvent(ctx, SubmitEventInput{CaseID: c.ID, EventType: domain.EventOpen, UserTo: []int64{alice.ID}})
		require.NoError(t, err)
		ids = append(ids, event.ID)
	}

	list, err := env.engine.ListEventsForUser(ctx, alice.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	list, err = env.engine.ListEventsForUser(ctx, env.system.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCopyJudgesPolicy(t *testing.T) {
	store := repotest.New()
	ctx := context.Background()
	users := store.Repos().Users
	for _, u := range []*domain.User{
		{Email: "a@x.io", Judge: false},
		{Email: "j@x.io", Judge: true},
	} {
		require.NoError(t, users.Create(ctx, u))
	}

	ids, err := CopyJudges(ctx, users, []domain.User{{ID: 1}, {ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ids, err = CopyJudges(ctx, users, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

var _ repository.Transactor = (*repotest.Store)(nil)
