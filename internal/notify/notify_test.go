package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/roles"
	"github.com/fanfare-hq/fanfare/jobs"
)

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Notification
	events map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[int64]Notification), events: make(map[string]int64)}
}

func (m *memRepo) Insert(_ context.Context, n Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[n.EventID]; ok {
		return false, nil
	}
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Date(2026, 1, 1, 0, 0, int(n.ID), 0, time.UTC)
	m.rows[n.ID] = n
	m.events[n.EventID] = n.ID
	return true, nil
}

func (m *memRepo) Find(_ context.Context, id int64) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return Notification{}, ErrNotificationNotFound
	}
	return n, nil
}

func (m *memRepo) ListForRecipient(_ context.Context, recipientID int64, filter ListFilter) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.RecipientID != recipientID || (filter.UnreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) MarkRead(_ context.Context, id int64, at time.Time) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return Notification{}, ErrNotificationNotFound
	}
	n.IsRead = true
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	m.rows[id] = n
	return n, nil
}

type recordingSink struct {
	mu      sync.Mutex
	events  []Event
	err     error
	block   chan struct{}
	ctxErrs []error
}

func (s *recordingSink) Enqueue(ctx context.Context, event Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

type dispatchCounter struct {
	mu       sync.Mutex
	failures int
	success  int
}

func (c *dispatchCounter) ObserveDispatch(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures++
		return
	}
	c.success++
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, nil, nil)

	done := make(chan struct{})
	go func() {
		d.Notify(context.Background(), Event{RecipientID: 7, Kind: KindLeadershipAssigned})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the sink")
	}
	close(sink.block)
	d.Wait()
	require.Len(t, sink.events, 1)
	assert.NotEmpty(t, sink.events[0].ID)
}

func TestDispatcherSurvivesCancelledRequest(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, Event{ID: "evt-1", RecipientID: 7, Kind: KindLeadershipAssigned})
	d.Wait()

	require.Len(t, sink.ctxErrs, 1)
	assert.NoError(t, sink.ctxErrs[0])
	assert.Equal(t, "evt-1", sink.events[0].ID)
}

func TestDispatcherSwallowsSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis unavailable")}
	counter := &dispatchCounter{}
	d := NewDispatcher(sink, nil, counter)

	d.Notify(context.Background(), Event{RecipientID: 1, Kind: KindLeadershipAssigned})
	d.Notify(context.Background(), Event{RecipientID: 2, Kind: KindLeadershipAssigned})
	d.Wait()

	assert.Equal(t, 2, counter.failures)
	assert.Equal(t, 0, counter.success)
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Notify(context.Background(), Event{RecipientID: 1})
	d.Wait()
}

type fakeEnqueuer struct {
	payloads []jobs.NotificationPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueNotification(_ context.Context, p jobs.NotificationPayload) (*asynq.TaskInfo, error) {
	f.payloads = append(f.payloads, p)
	return &asynq.TaskInfo{ID: p.EventID}, f.err
}

func TestQueueSinkEncodesPayload(t *testing.T) {
	enq := &fakeEnqueuer{}
	sink := NewQueueSink(enq)

	err := sink.Enqueue(context.Background(), Event{
		ID:          "evt-9",
		RecipientID: 42,
		Kind:        KindLeadershipAssigned,
		Payload:     map[string]any{"role": "president", "category_id": 3},
	})
	require.NoError(t, err)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, "evt-9", enq.payloads[0].EventID)
	assert.JSONEq(t, `{"role":"president","category_id":3}`, string(enq.payloads[0].Payload))
}

func TestQueueSinkTreatsDuplicateAsDelivered(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	require.NoError(t, NewQueueSink(enq).Enqueue(context.Background(), Event{ID: "e", RecipientID: 1, Kind: "k"}))

	enq.err = errors.New("dial tcp: refused")
	assert.Error(t, NewQueueSink(enq).Enqueue(context.Background(), Event{ID: "e", RecipientID: 1, Kind: "k"}))
}

func TestTaskHandlerPersistsOnce(t *testing.T) {
	repo := newMemRepo()
	h := NewTaskHandler(repo, nil, nil)
	task, err := jobs.NewNotificationTask(jobs.NotificationPayload{
		EventID:     "evt-1",
		RecipientID: 42,
		Kind:        KindLeadershipAssigned,
		Payload:     json.RawMessage(`{"role":"secretary"}`),
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), task))
	require.NoError(t, h.Handle(context.Background(), task))

	items, err := repo.ListForRecipient(context.Background(), 42, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"role":"secretary"}`, string(items[0].Payload))
}

func TestTaskHandlerSkipsMalformedPayload(t *testing.T) {
	h := NewTaskHandler(newMemRepo(), nil, nil)

	err := h.Handle(context.Background(), asynq.NewTask(jobs.TaskNotificationDeliver, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.Handle(context.Background(), asynq.NewTask(jobs.TaskNotificationDeliver, []byte(`{"event_id":"x","kind":"k"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

var (
	recipient = identity.Principal{Kind: identity.KindMember, ID: 42, GroupID: 1, Role: roles.RoleMember}
	otherOne  = identity.Principal{Kind: identity.KindMember, ID: 43, GroupID: 1, Role: roles.RolePresident}
	groupAcct = identity.Principal{Kind: identity.KindGroup, ID: 1, GroupID: 1}
)

func seedNotification(t *testing.T, repo *memRepo, recipientID int64, eventID string) int64 {
	t.Helper()
	_, err := repo.Insert(context.Background(), Notification{EventID: eventID, RecipientID: recipientID, Kind: KindLeadershipAssigned, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	return repo.events[eventID]
}

func TestMarkReadOnlyByRecipient(t *testing.T) {
	repo := newMemRepo()
	readAt := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo).WithNow(func() time.Time { return readAt })
	id := seedNotification(t, repo, recipient.ID, "evt-1")
	ctx := context.Background()

	_, err := svc.MarkRead(ctx, otherOne, id)
	assert.ErrorIs(t, err, ErrNotRecipient)
	_, err = svc.MarkRead(ctx, groupAcct, id)
	assert.ErrorIs(t, err, ErrNotRecipient)
	_, err = svc.MarkRead(ctx, recipient, 999)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	n, err := svc.MarkRead(ctx, recipient, id)
	require.NoError(t, err)
	assert.True(t, n.IsRead)
	require.NotNil(t, n.ReadAt)
	assert.Equal(t, readAt, *n.ReadAt)

	svc.WithNow(func() time.Time { return readAt.Add(time.Hour) })
	again, err := svc.MarkRead(ctx, recipient, id)
	require.NoError(t, err)
	assert.Equal(t, readAt, *again.ReadAt)
}

func TestListForRecipient(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	first := seedNotification(t, repo, recipient.ID, "evt-1")
	seedNotification(t, repo, recipient.ID, "evt-2")
	seedNotification(t, repo, otherOne.ID, "evt-3")
	_, err := svc.MarkRead(context.Background(), recipient, first)
	require.NoError(t, err)

	all, err := svc.ListForRecipient(context.Background(), recipient, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	unread, err := svc.ListForRecipient(context.Background(), recipient, ListFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.False(t, unread[0].IsRead)

	none, err := svc.ListForRecipient(context.Background(), groupAcct, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestHandlerMarkRead(t *testing.T) {
	repo := newMemRepo()
	id := seedNotification(t, repo, recipient.ID, "evt-1")
	h := NewHandler(nil, NewService(repo))
	r := chi.NewRouter()
	r.Route("/notifications", h.MountRoutes)

	do := func(p *identity.Principal, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if p != nil {
			req = req.WithContext(identity.ContextWithPrincipal(req.Context(), *p))
		}
		res := httptest.NewRecorder()
		r.ServeHTTP(res, req)
		return res
	}

	assert.Equal(t, http.StatusUnauthorized, do(nil, "/notifications/1/read").Code)
	assert.Equal(t, http.StatusBadRequest, do(&recipient, "/notifications/abc/read").Code)
	assert.Equal(t, http.StatusNotFound, do(&recipient, "/notifications/77/read").Code)
	assert.Equal(t, http.StatusForbidden, do(&otherOne, "/notifications/1/read").Code)

	res := do(&recipient, "/notifications/1/read")
	require.Equal(t, http.StatusOK, res.Code)
	var n Notification
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &n))
	assert.Equal(t, id, n.ID)
	assert.True(t, n.IsRead)
}
