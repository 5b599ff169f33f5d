package memory

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"trip-planner-be/pkg/store"
)

const DefaultSessionCapacity = 100

type BusyPolicy string

const (
	// BusyQueue makes a second turn wait for the first to release.
	BusyQueue BusyPolicy = "queue"
	// BusyReject fails the second turn with store.ErrSessionBusy.
	BusyReject BusyPolicy = "reject"
)

func ParseBusyPolicy(raw string) BusyPolicy {
	if BusyPolicy(raw) == BusyReject {
		return BusyReject
	}
	return BusyQueue
}

type sessionEntry struct {
	session *store.Session
	busy    bool
	// released is closed when the current owner releases the session.
	released chan struct{}
}

// SessionRepository is a capacity-bounded LRU of pipeline sessions with
// exclusive per-session ownership. Eviction drops the least recently touched
// idle session as a whole; sessions owned by a running turn are skipped and
// the store trims back to capacity once they are released.
type SessionRepository struct {
	mu       sync.Mutex
	capacity int
	policy   BusyPolicy
	order    *list.List // front = most recently touched
	items    map[string]*list.Element
	now      func() time.Time
	onEvict  func(id string)
}

type SessionOption func(*SessionRepository)

func WithBusyPolicy(p BusyPolicy) SessionOption {
	return func(r *SessionRepository) { r.policy = p }
}

func WithClock(now func() time.Time) SessionOption {
	return func(r *SessionRepository) { r.now = now }
}

// WithEvictHook registers a callback run (outside the lock) for every
// evicted session id.
func WithEvictHook(fn func(id string)) SessionOption {
	return func(r *SessionRepository) { r.onEvict = fn }
}

func NewSessionRepository(capacity int, opts ...SessionOption) *SessionRepository {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	r := &SessionRepository{
		capacity: capacity,
		policy:   BusyQueue,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var errEmptySessionID = errors.New("session id is required")

// Acquire returns the session for id, creating it when absent, marks it most
// recently used and grants the caller exclusive ownership until release is
// called. release is idempotent.
func (r *SessionRepository) Acquire(ctx context.Context, id string) (*store.Session, func(), error) {
	if id == "" {
		return nil, nil, errEmptySessionID
	}

	for {
		r.mu.Lock()
		el, ok := r.items[id]
		if !ok {
			entry := &sessionEntry{session: store.NewSession(id, r.now())}
			el = r.order.PushFront(entry)
			r.items[id] = el
		}
		entry := el.Value.(*sessionEntry)

		if !entry.busy {
			entry.busy = true
			entry.released = make(chan struct{})
			entry.session.TouchedAt = r.now()
			r.order.MoveToFront(el)
			evicted := r.trimLocked()
			r.mu.Unlock()
			r.notifyEvicted(evicted)
			return entry.session, r.releaser(entry), nil
		}

		if r.policy == BusyReject {
			r.mu.Unlock()
			return nil, nil, store.ErrSessionBusy
		}
		wait := entry.released
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (r *SessionRepository) releaser(entry *sessionEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			entry.busy = false
			close(entry.released)
			evicted := r.trimLocked()
			r.mu.Unlock()
			r.notifyEvicted(evicted)
		})
	}
}

// trimLocked evicts idle sessions from the back until the store is within
// capacity. Caller holds r.mu.
func (r *SessionRepository) trimLocked() []string {
	var evicted []string
	el := r.order.Back()
	for len(r.items) > r.capacity && el != nil {
		prev := el.Prev()
		entry := el.Value.(*sessionEntry)
		if !entry.busy {
			r.order.Remove(el)
			delete(r.items, entry.session.ID)
			evicted = append(evicted, entry.session.ID)
		}
		el = prev
	}
	return evicted
}

func (r *SessionRepository) notifyEvicted(ids []string) {
	if r.onEvict == nil {
		return
	}
	for _, id := range ids {
		r.onEvict(id)
	}
}

// Get returns a snapshot of the session without touching it.
func (r *SessionRepository) Get(id string) (*store.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*sessionEntry).session.Clone(), true
}

// Delete drops the session. A turn still holding it finishes against the
// detached copy.
func (r *SessionRepository) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.items[id]
	if !ok {
		return false
	}
	r.order.Remove(el)
	delete(r.items, id)
	return true
}

func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// IDs lists session ids from most to least recently touched.
func (r *SessionRepository) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.items))
	for el := r.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*sessionEntry).session.ID)
	}
	return ids
}
