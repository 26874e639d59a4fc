package amqp

import (
	"context"
	"time"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
)

// Publisher is the side of Client the forwarder needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Forwarder relays every store change, for all owners, to a Publisher.
type Forwarder struct {
	watcher     ledger.Watcher
	pub         Publisher
	log         *logging.Logger
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
}

func NewForwarder(watcher ledger.Watcher, pub Publisher, log *logging.Logger) *Forwarder {
	return &Forwarder{
		watcher:     watcher,
		pub:         pub,
		log:         logging.OrNop(log).WithComponent(logging.ComponentAMQP),
		maxAttempts: 3,
		sleep:       sleepContext,
	}
}

// Run forwards changes until ctx is cancelled. A change that still fails
// after the retries is logged and dropped; consumers re-read state, so the
// next change for the same owner supersedes it.
func (f *Forwarder) Run(ctx context.Context) error {
	changes, cancel := f.watcher.Watch("")
	defer cancel()
	return f.loop(ctx, changes)
}

func (f *Forwarder) loop(ctx context.Context, changes <-chan ledger.Change) error {
	f.log.InfoContext(ctx, "Forwarding ledger changes")
	for {
		select {
		case <-ctx.Done():
			f.log.InfoContext(ctx, "Stopping change forwarding", "reason", ctx.Err())
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			f.forward(ctx, c)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, c ledger.Change) {
	msg := NewChangeMessage(c)
	body, err := msg.ToJSON()
	if err != nil {
		f.log.Failed(ctx, "Failed to marshal change", err, logging.FieldOwner, msg.Owner)
		return
	}

	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, exponentialBackoff(attempt-1)); err != nil {
				return
			}
		}
		if err = f.pub.Publish(ctx, msg.RoutingKey(), body); err == nil {
			f.log.DebugContext(ctx, "Published change",
				logging.FieldOwner, msg.Owner,
				"routing_key", msg.RoutingKey())
			return
		}
	}
	f.log.Failed(ctx, "Failed to publish change", err,
		logging.FieldOwner, msg.Owner,
		"routing_key", msg.RoutingKey(),
		"attempts", f.maxAttempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
