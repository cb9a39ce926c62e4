package lifecycle

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/masomo-lifecycle/core"
)

const (
	DefaultChunkSize             = 100
	DefaultApprovalDeadline      = 7 * 24 * time.Hour
	DefaultDelegationDays        = 7
	DefaultArchiveReason         = "deadline passed and responses collected (automatic archiving)"
	mediumPriorityEndDateHorizon = 3 * 24 * time.Hour
)

type (
	// AuthorityChecker decides whether actor is the original holder of approval authority on req.
	AuthorityChecker interface {
		IsHolder(ctx context.Context, actor Actor, req ApprovalRequest) (bool, error)
	}

	// ArchivePolicy decides whether an archive-eligible survey has enough data to be archived.
	ArchivePolicy interface {
		ShouldAutoArchive(s Survey, now time.Time) bool
	}

	ArchivePolicyFunc func(s Survey, now time.Time) bool

	// AssignedApprover grants authority to the request's assigned approver and to Admins.
	AssignedApprover struct {
		Admins []int64
	}
)

func (fn ArchivePolicyFunc) ShouldAutoArchive(s Survey, now time.Time) bool { return fn(s, now) }

// SurveyPolicy defers to Survey.ShouldAutoArchive.
var SurveyPolicy ArchivePolicy = ArchivePolicyFunc(func(s Survey, now time.Time) bool {
	return s.ShouldAutoArchive(now)
})

func (a AssignedApprover) IsHolder(_ context.Context, actor Actor, req ApprovalRequest) (bool, error) {
	if actor.IsSystem() {
		return false, nil
	}
	if req.ApproverID != nil && *req.ApproverID == actor.ID {
		return true, nil
	}
	for _, id := range a.Admins {
		if id == actor.ID {
			return true, nil
		}
	}
	return false, nil
}

// Options wires an Engine. Only Store is required.
type Options struct {
	Store     Store
	Logger    core.Logger
	Bus       Publisher
	Validate  *validator.Validate
	Authority AuthorityChecker
	Policy    ArchivePolicy
	Config    core.LifecycleConfig
	Now       func() time.Time
}

type Engine struct {
	Audit      *AuditLogger
	Scanner    *Scanner
	Approvals  *ApprovalManager
	Controller *Controller
}

// base holds what every component shares.
type base struct {
	store  Store
	logger core.Logger
	bus    Publisher
	audit  *AuditLogger
	conf   core.LifecycleConfig
	clock  func() time.Time
}

func (b *base) now() time.Time { return b.clock().UTC() }

func (b *base) publish(ctx context.Context, ev DeadlineEvent) {
	b.bus.Publish(ctx, ev.change())
}

func (b *base) chunkSize(n int) int {
	if n > 0 {
		return n
	}
	return b.conf.ChunkSize
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus(opts.Logger)
	}
	if opts.Validate == nil {
		opts.Validate, _ = core.NewValidator()
	}
	if opts.Authority == nil {
		opts.Authority = AssignedApprover{Admins: opts.Config.AdminIDs}
	}
	if opts.Policy == nil {
		opts.Policy = SurveyPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config.ChunkSize <= 0 {
		opts.Config.ChunkSize = DefaultChunkSize
	}
	if opts.Config.ApprovalDeadline <= 0 {
		opts.Config.ApprovalDeadline = DefaultApprovalDeadline
	}
	if opts.Config.DelegationDefaultDays <= 0 {
		opts.Config.DelegationDefaultDays = DefaultDelegationDays
	}
	if opts.Config.ArchiveReason == "" {
		opts.Config.ArchiveReason = DefaultArchiveReason
	}

	b := &base{
		store:  opts.Store,
		logger: opts.Logger,
		bus:    opts.Bus,
		audit:  NewAuditLogger(opts.Store, opts.Logger),
		conf:   opts.Config,
		clock:  opts.Now,
	}
	scanner := &Scanner{base: b}
	return &Engine{
		Audit:   b.audit,
		Scanner: scanner,
		Approvals: &ApprovalManager{
			base:      b,
			scanner:   scanner,
			validate:  opts.Validate,
			authority: opts.Authority,
		},
		Controller: &Controller{
			base:    b,
			scanner: scanner,
			policy:  opts.Policy,
		},
	}
}

// DelegationDefaultDays is the expiration used when a caller supplies none.
func (e *Engine) DelegationDefaultDays() int { return e.Scanner.conf.DelegationDefaultDays }

func newRunID() string { return uuid.New().String() }
