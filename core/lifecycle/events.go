package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/masomo-lifecycle/core"
)

// ChangeEvent is published after a lifecycle mutation has been committed.
type ChangeEvent struct {
	Type              EventType
	SurveyID          *int64
	ApprovalRequestID *int64
	ActorID           *int64
	OccurredAt        time.Time
	Metadata          Metadata
}

func (ev DeadlineEvent) change() ChangeEvent {
	return ChangeEvent{
		Type:              ev.Type,
		SurveyID:          ev.SurveyID,
		ApprovalRequestID: ev.ApprovalRequestID,
		ActorID:           ev.ActorID,
		OccurredAt:        ev.OccurredAt,
		Metadata:          ev.Metadata.clone(),
	}
}

type (
	Subscriber func(ctx context.Context, ev ChangeEvent)

	Publisher interface {
		Publish(ctx context.Context, ev ChangeEvent)
	}
)

// EventBus fans committed changes out to in-process subscribers (notifications, metrics).
// A panicking subscriber is logged and does not affect the others.
type EventBus struct {
	mu     sync.RWMutex
	subs   []Subscriber
	logger core.Logger
}

var _ Publisher = (*EventBus)(nil)

func NewEventBus(logger core.Logger) *EventBus {
	if logger == nil {
		logger = core.NopLogger
	}
	return &EventBus{logger: logger}
}

func (b *EventBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

func (b *EventBus) Publish(ctx context.Context, ev ChangeEvent) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, ev)
	}
}

func (b *EventBus) deliver(ctx context.Context, sub Subscriber, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"event_type": string(ev.Type),
			})
		}
	}()
	sub(ctx, ev)
}
