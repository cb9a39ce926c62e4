package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/storage/database"
	"github.com/trezcool/masomo-lifecycle/storage/database/inmem"
	"github.com/trezcool/masomo-lifecycle/storage/database/sqlx"
)

// Store is a lifecycle store that fixtures can seed and inspect.
type Store interface {
	lifecycle.Store

	CreateSurvey(ctx context.Context, s lifecycle.Survey) (lifecycle.Survey, error)
	CreateResponse(ctx context.Context, resp lifecycle.SurveyResponse) (lifecycle.SurveyResponse, error)
	ListSurveys(ctx context.Context) ([]lifecycle.Survey, error)
	ListApprovalRequests(ctx context.Context) ([]lifecycle.ApprovalRequest, error)
}

var (
	_ Store = (*inmemdb.DB)(nil)
	_ Store = (*sqlxrepos.Store)(nil)
)

// Now is the reference instant of every test clock.
var Now = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TimePtr(t time.Time) *time.Time { return &t }

func NewMemStore(t *testing.T) *inmemdb.DB {
	t.Helper()
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	return db
}

// PrepareDB opens, migrates and empties the database at TEST_DATABASE_URL.
// The test is skipped when it is not set.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening test database failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database failed: %v", err)
	}
	_, err = db.Exec(`TRUNCATE deadline_events, approval_delegations, approval_requests, survey_responses, surveys RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncating test database failed: %v", err)
	}
	return db
}

func NewPostgresStore(t *testing.T) *sqlxrepos.Store {
	t.Helper()
	return sqlxrepos.NewStore(PrepareDB(t))
}

// NewEngine wires an engine on store driven by clock.
func NewEngine(store lifecycle.Store, clock *Clock, opts ...func(*lifecycle.Options)) *lifecycle.Engine {
	o := lifecycle.Options{
		Store:  store,
		Logger: core.NopLogger,
		Now:    clock.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return lifecycle.NewEngine(o)
}

func CreateSurvey(t *testing.T, store Store, s lifecycle.Survey) lifecycle.Survey {
	t.Helper()
	if s.Title == "" {
		s.Title = "Annual school census"
	}
	if s.Status == "" {
		s.Status = lifecycle.SurveyPublished
	}
	s, err := store.CreateSurvey(context.Background(), s)
	if err != nil {
		t.Fatalf("CreateSurvey() failed: %v", err)
	}
	return s
}

// EndedSurvey creates a published auto-archive survey that ended at endDate.
func EndedSurvey(t *testing.T, store Store, endDate time.Time) lifecycle.Survey {
	t.Helper()
	return CreateSurvey(t, store, lifecycle.Survey{
		Status:      lifecycle.SurveyPublished,
		EndDate:     &endDate,
		AutoArchive: true,
	})
}

func CreateResponse(t *testing.T, store Store, surveyID int64, status lifecycle.ResponseStatus, respondentID int64) lifecycle.SurveyResponse {
	t.Helper()
	resp := lifecycle.SurveyResponse{
		SurveyID:      surveyID,
		Status:        status,
		InstitutionID: 1,
		RespondentID:  respondentID,
	}
	if status != lifecycle.ResponseDraft {
		resp.SubmittedAt = TimePtr(Now.Add(-48 * time.Hour))
	}
	resp, err := store.CreateResponse(context.Background(), resp)
	if err != nil {
		t.Fatalf("CreateResponse() failed: %v", err)
	}
	return resp
}

// CreateApprovalRequest inserts a request straight into the store, bypassing the manager.
func CreateApprovalRequest(t *testing.T, store Store, req lifecycle.ApprovalRequest) lifecycle.ApprovalRequest {
	t.Helper()
	if req.Status == "" {
		req.Status = lifecycle.ApprovalPending
	}
	if req.Priority == "" {
		req.Priority = lifecycle.PriorityNormal
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = Now.Add(-72 * time.Hour)
		req.UpdatedAt = req.CreatedAt
	}
	req, err := store.CreateApprovalRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateApprovalRequest() failed: %v", err)
	}
	return req
}

func ListEvents(t *testing.T, store lifecycle.Repository, filter lifecycle.EventFilter) []lifecycle.DeadlineEvent {
	t.Helper()
	evs, err := store.ListEvents(context.Background(), filter)
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	return evs
}

// Snapshot captures every survey and request, to assert a run wrote nothing.
type Snapshot struct {
	Surveys  []lifecycle.Survey
	Requests []lifecycle.ApprovalRequest
	Events   []lifecycle.DeadlineEvent
}

func TakeSnapshot(t *testing.T, store Store) Snapshot {
	t.Helper()
	ctx := context.Background()
	surveys, err := store.ListSurveys(ctx)
	if err != nil {
		t.Fatalf("ListSurveys() failed: %v", err)
	}
	reqs, err := store.ListApprovalRequests(ctx)
	if err != nil {
		t.Fatalf("ListApprovalRequests() failed: %v", err)
	}
	return Snapshot{Surveys: surveys, Requests: reqs, Events: ListEvents(t, store, lifecycle.EventFilter{})}
}
