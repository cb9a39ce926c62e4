package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

type (
	// DB is an in-process lifecycle store. Transactions hold the write lock and roll back
	// by restoring a snapshot of every table.
	DB struct {
		mu sync.RWMutex
		t  *tables
	}

	tables struct {
		surveys     map[int64]lifecycle.Survey
		responses   map[int64]lifecycle.SurveyResponse
		requests    map[int64]lifecycle.ApprovalRequest
		delegations map[int64]lifecycle.ApprovalDelegation
		events      []lifecycle.DeadlineEvent
		pk          pkCounters
	}

	pkCounters struct {
		survey, response, request, delegation, event int64
	}
)

func Open() (*DB, error) {
	db := &DB{
		t: &tables{
			surveys:     make(map[int64]lifecycle.Survey),
			responses:   make(map[int64]lifecycle.SurveyResponse),
			requests:    make(map[int64]lifecycle.ApprovalRequest),
			delegations: make(map[int64]lifecycle.ApprovalDelegation),
		},
	}
	return db, nil
}

func (t *tables) clone() *tables {
	cp := &tables{
		surveys:     make(map[int64]lifecycle.Survey, len(t.surveys)),
		responses:   make(map[int64]lifecycle.SurveyResponse, len(t.responses)),
		requests:    make(map[int64]lifecycle.ApprovalRequest, len(t.requests)),
		delegations: make(map[int64]lifecycle.ApprovalDelegation, len(t.delegations)),
		events:      make([]lifecycle.DeadlineEvent, len(t.events)),
		pk:          t.pk,
	}
	for k, v := range t.surveys {
		cp.surveys[k] = v
	}
	for k, v := range t.responses {
		cp.responses[k] = v
	}
	for k, v := range t.requests {
		cp.requests[k] = v
	}
	for k, v := range t.delegations {
		cp.delegations[k] = v
	}
	copy(cp.events, t.events)
	return cp
}

func (db *DB) view(fn func(r *tableRepo) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(&tableRepo{t: db.t})
}

func (db *DB) update(fn func(r *tableRepo) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(&tableRepo{t: db.t})
}
