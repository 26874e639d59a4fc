package ledger

import (
	"sync"
	"time"
)

// ChangeKind names which record of an owner changed.
type ChangeKind string

const (
	ChangeTransactions ChangeKind = "transactions"
	ChangeSummary      ChangeKind = "summary"
	ChangeSettings     ChangeKind = "settings"
)

// Change is a notification that an owner's record changed. It carries no
// payload: subscribers re-read the current state.
type Change struct {
	Owner OwnerID    `json:"owner"`
	Kind  ChangeKind `json:"kind"`
	At    time.Time  `json:"at"`
}

// watchBuffer is the per-subscriber queue. When it is full the oldest
// notification is dropped; since changes carry no payload a subscriber that
// re-reads state never misses the latest view.
const watchBuffer = 32

// Hub fans out store changes to watchers. Stores publish after commit.
type Hub struct {
	mu   sync.Mutex
	subs map[*watch]struct{}
}

type watch struct {
	owner OwnerID
	kinds map[ChangeKind]bool
	ch    chan Change
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*watch]struct{})}
}

// Watch implements Watcher.
func (h *Hub) Watch(owner OwnerID, kinds ...ChangeKind) (<-chan Change, func()) {
	w := &watch{owner: owner, ch: make(chan Change, watchBuffer)}
	if len(kinds) > 0 {
		w.kinds = make(map[ChangeKind]bool, len(kinds))
		for _, k := range kinds {
			w.kinds[k] = true
		}
	}

	h.mu.Lock()
	h.subs[w] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, w)
			close(w.ch)
			h.mu.Unlock()
		})
	}
	return w.ch, cancel
}

// Publish delivers changes to every matching watcher without blocking.
func (h *Hub) Publish(changes ...Change) {
	if h == nil || len(changes) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range changes {
		for w := range h.subs {
			if !w.matches(c) {
				continue
			}
			select {
			case w.ch <- c:
			default:
				// Full: drop the oldest to make room.
				select {
				case <-w.ch:
				default:
				}
				select {
				case w.ch <- c:
				default:
				}
			}
		}
	}
}

func (w *watch) matches(c Change) bool {
	if w.owner != "" && w.owner != c.Owner {
		return false
	}
	return w.kinds == nil || w.kinds[c.Kind]
}

// Changes builds notifications for one owner stamped with the same time.
func Changes(owner OwnerID, kinds ...ChangeKind) []Change {
	now := time.Now().UTC()
	out := make([]Change, len(kinds))
	for i, k := range kinds {
		out[i] = Change{Owner: owner, Kind: k, At: now}
	}
	return out
}
