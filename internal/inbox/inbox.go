// Package inbox holds the notification collection for the signed-in
// session together with the active filter state.
//
// Every operation is total: unknown IDs are ignored rather than reported,
// since a notification can disappear between a fetch and a user action.
// Listeners registered with Subscribe run after each mutation, outside
// the store's lock, so they may call back into the store.
package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/model"
)

// persistTimeout bounds a single write-through to the persister.
const persistTimeout = 5 * time.Second

// Op identifies the kind of mutation reported to listeners.
type Op int

const (
	OpAdd Op = iota
	OpMerge
	OpRead
	OpReadAll
	OpRemove
	OpClear
	OpFilter
	OpRestore
)

// Change describes a mutation. ID is set for single-record operations.
type Change struct {
	Op Op
	ID string
}

// Listener is invoked after every mutating operation.
type Listener func(Change)

// Persister mirrors the collection to durable storage. The SQLite store
// implements it.
type Persister interface {
	SaveNotifications(ctx context.Context, ns []model.Notification) error
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error
}

// Store is the in-memory notification collection. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	items   []model.Notification // newest insertion first
	filters model.NotificationFilter

	persist Persister
	log     zerolog.Logger
	turns   uint64 // next write-through turn, guarded by mu
	order   persistOrder

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithPersister mirrors every mutation to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithLogger sets the logger used to report persistence failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		log:       zerolog.Nop(),
		listeners: make(map[int]Listener),
	}
	s.order.cond.L = &s.order.mu
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add prepends n to the collection. A record whose ID is already present
// replaces the old one, but a record that was read stays read. An empty
// ID is replaced with a generated one.
func (s *Store) Add(n model.Notification) model.Notification {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	s.mu.Lock()
	n = s.upsertLocked(n)
	w := s.saveLocked([]model.Notification{n})
	s.mu.Unlock()
	w.apply()

	s.emit(Change{Op: OpAdd, ID: n.ID})
	return n
}

// Merge adds a batch of records, as delivered by one poll, and returns
// how many of them were not already present.
func (s *Store) Merge(ns []model.Notification) int {
	added, _ := s.MergeIf(ns, nil)
	return added
}

// MergeIf is Merge guarded by current, which is evaluated under the
// store lock. When it reports false nothing changes and merged is false.
// The scheduler passes its generation check here so that a batch fetched
// for a session that has since ended cannot land after ClearAll.
func (s *Store) MergeIf(ns []model.Notification, current func() bool) (added int, merged bool) {
	s.mu.Lock()
	if current != nil && !current() {
		s.mu.Unlock()
		return 0, false
	}
	if len(ns) == 0 {
		s.mu.Unlock()
		return 0, true
	}


	saved := make([]model.Notification, 0, len(ns))
	// Oldest first so the newest ends up at the front.
	for i := len(ns) - 1; i >= 0; i-- {
		n := ns[i]
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		if s.indexLocked(n.ID) < 0 {
			added++
		}
		saved = append(saved, s.upsertLocked(n))
	}
	w := s.saveLocked(saved)
	s.mu.Unlock()
	w.apply()

	s.emit(Change{Op: OpMerge})
	return added, true
}

// Restore replaces the collection with records loaded from storage. It
// does not write them back.
func (s *Store) Restore(ns []model.Notification) {
	s.mu.Lock()
	s.items = s.items[:0]
	for i := len(ns) - 1; i >= 0; i-- {
		s.upsertLocked(ns[i])
	}
	s.mu.Unlock()

	s.emit(Change{Op: OpRestore})
}

// upsertLocked removes any record with n's ID and prepends n, keeping the
// read flag monotonic. Callers hold s.mu.
func (s *Store) upsertLocked(n model.Notification) model.Notification {
	if i := s.indexLocked(n.ID); i >= 0 {
		n.Read = n.Read || s.items[i].Read
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	s.items = append([]model.Notification{n}, s.items...)
	return n
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// MarkAsRead sets Read on the matching record. Unknown IDs are ignored.
func (s *Store) MarkAsRead(id string) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	var w *pendingWrite
	if !s.items[i].Read {
		s.items[i].Read = true
		w = s.writeLocked("marking notification read", func(ctx context.Context) error {
			return s.persist.MarkNotificationRead(ctx, id)
		})
	}
	s.mu.Unlock()
	w.apply()

	s.emit(Change{Op: OpRead, ID: id})
}

// MarkAllAsRead sets Read on every record.
func (s *Store) MarkAllAsRead() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	w := s.writeLocked("marking all notifications read", func(ctx context.Context) error {
		return s.persist.MarkAllNotificationsRead(ctx)
	})
	s.mu.Unlock()
	w.apply()

	s.emit(Change{Op: OpReadAll})
}

// Remove deletes the matching record. Unknown IDs are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	w := s.writeLocked("deleting notification", func(ctx context.Context) error {
		return s.persist.DeleteNotification(ctx, id)
	})
	s.mu.Unlock()
	w.apply()

	s.emit(Change{Op: OpRemove, ID: id})
}

// ClearAll deletes every record.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.items = nil
	w := s.writeLocked("clearing notifications", func(ctx context.Context) error {
		return s.persist.ClearNotifications(ctx)
	})
	s.mu.Unlock()
	w.apply()

	s.emit(Change{Op: OpClear})
}

// SetFilters replaces the active filter criteria. The collection itself
// is untouched.
func (s *Store) SetFilters(f model.NotificationFilter) {
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()

	s.emit(Change{Op: OpFilter})
}

// Filters returns the active filter criteria.
func (s *Store) Filters() model.NotificationFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// UnreadCount returns how many records are unread.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return model.Notification{}, false
}

// All returns every record, newest timestamp first.
func (s *Store) All() []model.Notification {
	return s.query(model.NotificationFilter{})
}

// Filtered returns the records matching the active filters, newest
// timestamp first.
func (s *Store) Filtered() []model.Notification {
	return s.query(s.Filters())
}

// Recent returns the records created at or after since, newest first.
func (s *Store) Recent(since time.Time) []model.Notification {
	all := s.All()
	out := all[:0]
	for _, n := range all {
		if !n.Timestamp.Before(since) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) query(f model.NotificationFilter) []model.Notification {
	s.mu.RLock()
	out := make([]model.Notification, 0, len(s.items))
	for _, n := range s.items {
		if f.Matches(n) {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	// Stable, so equal timestamps keep newest-insertion-first order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) emit(c Change) {
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()

	for _, l := range ls {
		l(c)
	}
}

func (s *Store) saveLocked(ns []model.Notification) *pendingWrite {
	if len(ns) == 0 {
		return nil
	}
	return s.writeLocked("saving notifications", func(ctx context.Context) error {
		return s.persist.SaveNotifications(ctx, ns)
	})
}

// pendingWrite is a write-through reserved under s.mu and applied after
// the lock is released, so readers never wait on the persister.
type pendingWrite struct {
	s    *Store
	turn uint64
	what string
	fn   func(context.Context) error
}

// writeLocked reserves the next write-through turn. It returns nil when
// there is no persister. Callers hold s.mu and must call apply on the
// result once they have unlocked.
func (s *Store) writeLocked(what string, fn func(context.Context) error) *pendingWrite {
	if s.persist == nil {
		return nil
	}
	w := &pendingWrite{s: s, turn: s.turns, what: what, fn: fn}
	s.turns++
	return w
}

// apply waits for the write's turn and runs it. Failures are logged: the
// in-memory collection stays authoritative.
func (w *pendingWrite) apply() {
	if w == nil {
		return
	}
	w.s.order.run(w.turn, func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := w.fn(ctx); err != nil {
			w.s.log.Warn().Err(err).Msg(w.what)
		}
	})
}

// persistOrder runs write-throughs one at a time in the order their
// turns were handed out, which is the order the mutations were applied.
type persistOrder struct {
	mu      sync.Mutex
	cond    sync.Cond
	serving uint64
}

func (o *persistOrder) run(turn uint64, fn func()) {
	o.mu.Lock()
	for o.serving != turn {
		o.cond.Wait()
	}
	o.mu.Unlock()

	fn()

	o.mu.Lock()
	o.serving++
	o.cond.Broadcast()
	o.mu.Unlock()
}
