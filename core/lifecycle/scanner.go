package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Chunks iterates over a keyset-paginated query, one bounded chunk at a time.
// Cancellation is observed before each chunk is fetched.
type Chunks[T any] struct {
	fetch    func(ctx context.Context, after Cursor, n int) ([]T, error)
	cursorOf func(T) Cursor
	size     int
	after    Cursor
	chunk    []T
	done     bool
	err      error
}

func (c *Chunks[T]) Next(ctx context.Context) bool {
	c.chunk = nil
	if c.done || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}

	rows, err := c.fetch(ctx, c.after, c.size)
	if err != nil {
		c.err = err
		return false
	}
	if len(rows) == 0 {
		c.done = true
		return false
	}
	if len(rows) < c.size {
		c.done = true
	}
	c.chunk = rows
	c.after = c.cursorOf(rows[len(rows)-1])
	return true
}

func (c *Chunks[T]) Chunk() []T { return c.chunk }
func (c *Chunks[T]) Err() error { return c.err }

// Scanner finds records whose deadlines call for action. It never writes.
type Scanner struct {
	*base
}

// ScanOverdueApprovals iterates over active, unflagged requests whose deadline has passed,
// ordered by (deadline, id).
func (s *Scanner) ScanOverdueApprovals(chunkSize int) *Chunks[ApprovalRequest] {
	return s.overdueAt(s.now(), chunkSize)
}

// ScanArchiveEligibleSurveys iterates over auto-archive surveys whose end date has passed,
// ordered by (end_date, id). Sufficiency is left to the caller's ArchivePolicy.
func (s *Scanner) ScanArchiveEligibleSurveys(chunkSize int) *Chunks[Survey] {
	return s.archiveEligibleAt(s.now(), chunkSize)
}

// ScanMissingApprovalRequests iterates over submitted responses lacking an active request, ordered by id.
func (s *Scanner) ScanMissingApprovalRequests(filter ResponseFilter, chunkSize int) *Chunks[SurveyResponse] {
	return &Chunks[SurveyResponse]{
		fetch: func(ctx context.Context, after Cursor, n int) ([]SurveyResponse, error) {
			rows, err := s.store.SubmittedWithoutActiveRequest(ctx, filter, after.ID, n)
			return rows, errors.Wrap(err, "scanning responses missing approval requests")
		},
		cursorOf: func(r SurveyResponse) Cursor { return Cursor{ID: r.ID} },
		size:     s.chunkSize(chunkSize),
	}
}

func (s *Scanner) overdueAt(now time.Time, chunkSize int) *Chunks[ApprovalRequest] {
	return &Chunks[ApprovalRequest]{
		fetch: func(ctx context.Context, after Cursor, n int) ([]ApprovalRequest, error) {
			rows, err := s.store.OverdueApprovals(ctx, now, after, n)
			return rows, errors.Wrap(err, "scanning overdue approval requests")
		},
		cursorOf: func(r ApprovalRequest) Cursor { return Cursor{At: *r.Deadline, ID: r.ID} },
		size:     s.chunkSize(chunkSize),
	}
}

func (s *Scanner) archiveEligibleAt(now time.Time, chunkSize int) *Chunks[Survey] {
	return &Chunks[Survey]{
		fetch: func(ctx context.Context, after Cursor, n int) ([]Survey, error) {
			rows, err := s.store.ArchiveEligibleSurveys(ctx, now, after, n)
			return rows, errors.Wrap(err, "scanning archive-eligible surveys")
		},
		cursorOf: func(sv Survey) Cursor { return Cursor{At: *sv.EndDate, ID: sv.ID} },
		size:     s.chunkSize(chunkSize),
	}
}

// PreviewOverdueApprovals returns at most max requests the next FlagOverdue run would flag.
func (s *Scanner) PreviewOverdueApprovals(ctx context.Context, max int) ([]ApprovalRequest, error) {
	return collect(ctx, s.ScanOverdueApprovals(s.chunkSize(0)), max)
}

// PreviewArchiveEligibleSurveys returns at most max surveys past their end date, whether or
// not they hold enough responses to be archived.
func (s *Scanner) PreviewArchiveEligibleSurveys(ctx context.Context, max int) ([]Survey, error) {
	return collect(ctx, s.ScanArchiveEligibleSurveys(s.chunkSize(0)), max)
}

func collect[T any](ctx context.Context, it *Chunks[T], max int) ([]T, error) {
	out := make([]T, 0)
	for it.Next(ctx) {
		for _, row := range it.Chunk() {
			if max > 0 && len(out) >= max {
				return out, nil
			}
			out = append(out, row)
		}
	}
	return out, it.Err()
}
