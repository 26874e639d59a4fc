package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/warp/capital-ledger/logging"
)

// ErrWatchUnsupported is returned by Subscribe* when the engine has no
// change source.
var ErrWatchUnsupported = errors.New("store does not support change notifications")

// SubscribeTransactions calls onChange with the full ledger, newest first,
// once immediately and again after every change.
//
// The returned function stops the subscription and waits for an in-flight
// callback to return; it must not be called from inside onChange.
func (e *Engine) SubscribeTransactions(ctx context.Context, owner OwnerID, onChange func([]Transaction)) (func(), error) {
	return subscribe(ctx, e, owner, ChangeTransactions, e.ListTransactions, onChange)
}

// SubscribeSummary seeds a zero Summary when the owner has none.
func (e *Engine) SubscribeSummary(ctx context.Context, owner OwnerID, onChange func(Summary)) (func(), error) {
	return subscribe(ctx, e, owner, ChangeSummary, e.GetSummary, onChange)
}

// SubscribeSettings seeds the default Settings when the owner has none.
func (e *Engine) SubscribeSettings(ctx context.Context, owner OwnerID, onChange func(Settings)) (func(), error) {
	return subscribe(ctx, e, owner, ChangeSettings, e.GetSettings, onChange)
}

// subscribe registers the watch before the first read so no change between
// the two is lost. Queued notifications are coalesced into a single re-read.
func subscribe[T any](
	ctx context.Context,
	e *Engine,
	owner OwnerID,
	kind ChangeKind,
	read func(context.Context, OwnerID) (T, error),
	onChange func(T),
) (func(), error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if e.watcher == nil {
		return nil, ErrWatchUnsupported
	}

	changes, cancelWatch := e.watcher.Watch(owner, kind)
	initial, err := read(ctx, owner)
	if err != nil {
		cancelWatch()
		return nil, err
	}
	// The first read may seed the record and notify this watch. Anything
	// queued so far is folded into the initial view.
	if queued, open := drain(changes); queued && open {
		if initial, err = read(ctx, owner); err != nil {
			cancelWatch()
			return nil, err
		}
	}

	ctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		onChange(initial)

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if _, open := drain(changes); !open {
					return
				}
				v, err := read(ctx, owner)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					e.log.Failed(ctx, "subscription read failed", err,
						logging.FieldOwner, owner, "kind", kind)
					continue
				}
				onChange(v)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			cancelWatch()
			<-done
		})
	}, nil
}

// drain empties ch without blocking and reports whether anything was
// queued. open is false if ch was closed.
func drain(ch <-chan Change) (queued, open bool) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return queued, false
			}
			queued = true
		default:
			return queued, true
		}
	}
}
