package access

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	mu         sync.Mutex
	categories map[int64]Category
	leaders    map[int64][]int64
	loads      int
	leaderErr  error
}

func (s *stubStore) FindCategory(_ context.Context, id int64) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	cat, ok := s.categories[id]
	if !ok {
		return Category{}, ErrCategoryNotFound
	}
	return cat, nil
}

func (s *stubStore) ActiveLeaders(_ context.Context, categoryID int64) (LeaderSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaderErr != nil {
		return LeaderSet{}, s.leaderErr
	}
	return NewLeaderSet(s.leaders[categoryID]...), nil
}

func (s *stubStore) setLeaders(categoryID int64, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaders[categoryID] = ids
}

type decisionLog struct {
	entries []string
}

func (d *decisionLog) ObserveDecision(check string, allowed bool, reason string) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	d.entries = append(d.entries, check+"/"+outcome+"/"+reason)
}

func newStubStore() *stubStore {
	return &stubStore{
		categories: map[int64]Category{
			1: {ID: 1, GroupID: 10, IsLocked: false},
			2: {ID: 2, GroupID: 10, IsLocked: true},
		},
		leaders: map[int64][]int64{2: {memberA.ID}},
	}
}

func TestServiceEvaluatesFreshEveryCall(t *testing.T) {
	store := newStubStore()
	svc := NewService(store, store, nil, nil)
	ctx := context.Background()

	d, err := svc.AccessCategory(ctx, memberA, 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	store.setLeaders(2)

	d, err = svc.AccessCategory(ctx, memberA, 2)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: false, Reason: ReasonNoLeaders}, d)
	assert.Equal(t, 2, store.loads)
}

func TestServiceRecordsDecisions(t *testing.T) {
	store := newStubStore()
	log := &decisionLog{}
	svc := NewService(store, store, log, nil)
	ctx := context.Background()

	_, err := svc.AccessCategory(ctx, memberB, 2)
	require.NoError(t, err)
	_, err = svc.AuthorTransaction(ctx, treasurer, 1)
	require.NoError(t, err)
	svc.ManageCategory(groupAcct)

	assert.Equal(t, []string{
		"access_category/deny/not_leader",
		"author_transaction/allow/permission",
		"manage_category/allow/top_authority",
	}, log.entries)
}

func TestServiceRequireHelpers(t *testing.T) {
	store := newStubStore()
	svc := NewService(store, store, nil, nil)
	ctx := context.Background()

	err := svc.RequireAccessCategory(ctx, memberB, 2)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), string(ReasonNotLeader))

	assert.NoError(t, svc.RequireAccessCategory(ctx, memberA, 2))
	assert.ErrorIs(t, svc.RequireManageCategory(memberA), ErrPermissionDenied)
	assert.NoError(t, svc.RequireManageCategory(president))
}

func TestServicePropagatesLoadErrors(t *testing.T) {
	store := newStubStore()
	svc := NewService(store, store, nil, nil)

	_, err := svc.AccessCategory(context.Background(), memberA, 42)
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	boom := errors.New("db down")
	store.leaderErr = boom
	_, err = svc.AuthorTransaction(context.Background(), memberA, 1)
	assert.ErrorIs(t, err, boom)

	_, err = svc.ManageEvent(context.Background(), memberA, PaymentEvent{ID: 1, CategoryID: int64Ptr(2)})
	assert.ErrorIs(t, err, boom)
}

func TestServiceManageEventSkipsLeaderLoadWithoutCategory(t *testing.T) {
	store := newStubStore()
	store.leaderErr = errors.New("must not be called")
	svc := NewService(store, store, nil, nil)

	d, err := svc.ManageEvent(context.Background(), treasurer, PaymentEvent{ID: 3, GroupID: 10})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
