package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/tests"
)

var ctx = context.Background()

type fixture struct {
	store  testutil.Store
	clock  *testutil.Clock
	engine *lifecycle.Engine
	events *recorder
}

func setup(t *testing.T, opts ...func(*lifecycle.Options)) *fixture {
	return setupWithStore(t, testutil.NewMemStore(t), opts...)
}

func setupWithStore(t *testing.T, store testutil.Store, opts ...func(*lifecycle.Options)) *fixture {
	t.Helper()
	clock := testutil.NewClock(testutil.Now)
	bus := lifecycle.NewEventBus(nil)
	rec := &recorder{}
	bus.Subscribe(rec.record)

	opts = append([]func(*lifecycle.Options){func(o *lifecycle.Options) { o.Bus = bus }}, opts...)
	return &fixture{
		store:  store,
		clock:  clock,
		engine: testutil.NewEngine(store, clock, opts...),
		events: rec,
	}
}

func (f *fixture) setNow(now time.Time) {
	f.clock.Advance(now.Sub(f.clock.Now()))
}

func (f *fixture) getRequest(t *testing.T, id int64) lifecycle.ApprovalRequest {
	t.Helper()
	req, err := f.store.GetApprovalRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetApprovalRequest() failed: %v", err)
	}
	return req
}

func (f *fixture) getSurvey(t *testing.T, id int64) lifecycle.Survey {
	t.Helper()
	s, err := f.store.GetSurvey(ctx, id)
	if err != nil {
		t.Fatalf("GetSurvey() failed: %v", err)
	}
	return s
}

func (f *fixture) getResponse(t *testing.T, id int64) lifecycle.SurveyResponse {
	t.Helper()
	resp, err := f.store.GetResponse(ctx, id)
	if err != nil {
		t.Fatalf("GetResponse() failed: %v", err)
	}
	return resp
}

// pendingRequest creates a submitted response with a pending request due at deadline.
func (f *fixture) pendingRequest(t *testing.T, surveyID int64, deadline time.Time, approverID *int64) lifecycle.ApprovalRequest {
	t.Helper()
	resp := testutil.CreateResponse(t, f.store, surveyID, lifecycle.ResponseSubmitted, 7)
	return testutil.CreateApprovalRequest(t, f.store, lifecycle.ApprovalRequest{
		ResponseID:  resp.ID,
		Deadline:    &deadline,
		SubmitterID: resp.RespondentID,
		ApproverID:  approverID,
		Metadata:    lifecycle.Metadata{"survey_id": surveyID},
	})
}

func (f *fixture) eventsOf(t *testing.T, typ lifecycle.EventType) []lifecycle.DeadlineEvent {
	t.Helper()
	return testutil.ListEvents(t, f.store, lifecycle.EventFilter{Types: []lifecycle.EventType{typ}})
}

// recorder collects published change events.
type recorder struct {
	mu  sync.Mutex
	evs []lifecycle.ChangeEvent
}

func (r *recorder) record(_ context.Context, ev lifecycle.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) types() []lifecycle.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]lifecycle.EventType, 0, len(r.evs))
	for _, ev := range r.evs {
		types = append(types, ev.Type)
	}
	return types
}

var errDiskFull = errors.New("disk full")

// faultyStore injects failures into an otherwise working store.
type faultyStore struct {
	testutil.Store

	failAppend    bool           // AppendEvent outside transactions
	failCreateFor map[int64]bool // CreateApprovalRequest, by response ID
}

func (s *faultyStore) AppendEvent(ctx context.Context, ev lifecycle.DeadlineEvent) (lifecycle.DeadlineEvent, error) {
	if s.failAppend {
		return lifecycle.DeadlineEvent{}, errDiskFull
	}
	return s.Store.AppendEvent(ctx, ev)
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(tx lifecycle.Repository) error) error {
	return s.Store.RunInTx(ctx, func(tx lifecycle.Repository) error {
		return fn(&faultyTx{Repository: tx, store: s})
	})
}

type faultyTx struct {
	lifecycle.Repository
	store *faultyStore
}

func (tx *faultyTx) CreateApprovalRequest(ctx context.Context, req lifecycle.ApprovalRequest) (lifecycle.ApprovalRequest, error) {
	if tx.store.failCreateFor[req.ResponseID] {
		return lifecycle.ApprovalRequest{}, errDiskFull
	}
	return tx.Repository.CreateApprovalRequest(ctx, req)
}
