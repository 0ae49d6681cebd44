package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/model"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func notif(id string, minute int) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.NotificationInfo,
		Priority:  model.PriorityMedium,
		Title:     "Title " + id,
		Message:   "Message " + id,
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestUnreadCountTracksCollection(t *testing.T) {
	s := New()
	s.Add(notif("a", 1))
	s.Add(notif("b", 2))
	s.Add(notif("c", 3))
	assert.Equal(t, 3, s.UnreadCount())

	s.MarkAsRead("b")
	assert.Equal(t, 2, s.UnreadCount())

	s.Remove("a")
	assert.Equal(t, 1, s.UnreadCount())

	s.MarkAllAsRead()
	assert.Equal(t, 0, s.UnreadCount())

	s.Add(notif("d", 4))
	assert.Equal(t, 1, s.UnreadCount())

	s.ClearAll()
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, 0, s.Len())
}

func TestAddWithExistingIDKeepsSingleRecord(t *testing.T) {
	s := New()
	s.Add(notif("a", 1))
	s.MarkAsRead("a")

	updated := notif("a", 1)
	updated.Title = "Updated"
	s.Add(updated)

	require.Equal(t, 1, s.Len())
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Updated", got.Title)
	assert.True(t, got.Read, "a read record must stay read")
}

func TestAddGeneratesMissingID(t *testing.T) {
	s := New()
	n := s.Add(model.Notification{Title: "Local"})
	assert.NotEmpty(t, n.ID)

	_, ok := s.Get(n.ID)
	assert.True(t, ok)
}

func TestMergeReportsNewRecords(t *testing.T) {
	s := New()
	s.Add(notif("a", 1))

	added := s.Merge([]model.Notification{notif("c", 3), notif("b", 2), notif("a", 1)})
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, s.Len())

	assert.Equal(t, 0, s.Merge(nil))
	assert.Equal(t, 0, s.Merge([]model.Notification{notif("c", 3)}))
}

func TestUnknownIDsAreIgnored(t *testing.T) {
	s := New()
	s.Add(notif("a", 1))

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.MarkAsRead("missing")
	s.Remove("missing")

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.UnreadCount())
	assert.Empty(t, changes)
}

func TestFilteredIsNewestFirstAndRespectsFilters(t *testing.T) {
	s := New()
	s.Add(notif("old", 1))
	s.Add(notif("new", 30))
	s.Add(notif("mid", 10))

	assert.Equal(t, []string{"new", "mid", "old"}, ids(s.Filtered()))

	s.MarkAsRead("mid")
	s.SetFilters(model.NotificationFilter{UnreadOnly: true})
	assert.Equal(t, []string{"new", "old"}, ids(s.Filtered()))

	// Filtering never drops records from the collection.
	assert.Equal(t, 3, s.Len())
	assert.Len(t, s.All(), 3)
}

func TestFilteredCombinesCriteria(t *testing.T) {
	s := New()

	a := notif("a", 1)
	a.Type = model.NotificationWarning
	a.Priority = model.PriorityHigh
	a.Title = "Event Reminder"

	b := notif("b", 2)
	b.Type = model.NotificationWarning
	b.Priority = model.PriorityLow
	b.Title = "Room changed"

	c := notif("c", 3)
	c.Type = model.NotificationSuccess
	c.Priority = model.PriorityHigh
	c.Message = "Your reminder is set"

	s.Merge([]model.Notification{a, b, c})

	s.SetFilters(model.NotificationFilter{Type: model.NotificationWarning})
	assert.Equal(t, []string{"b", "a"}, ids(s.Filtered()))

	s.SetFilters(model.NotificationFilter{Priority: model.PriorityHigh})
	assert.Equal(t, []string{"c", "a"}, ids(s.Filtered()))

	s.SetFilters(model.NotificationFilter{SearchQuery: "REMINDER"})
	assert.Equal(t, []string{"c", "a"}, ids(s.Filtered()))

	s.SetFilters(model.NotificationFilter{
		Type:        model.NotificationWarning,
		Priority:    model.PriorityHigh,
		SearchQuery: "reminder",
	})
	assert.Equal(t, []string{"a"}, ids(s.Filtered()))
}

func TestMarkAllAsReadThenUnreadFilterIsEmpty(t *testing.T) {
	s := New()
	s.Merge([]model.Notification{notif("a", 1), notif("b", 2), notif("c", 3)})

	s.MarkAllAsRead()
	assert.Equal(t, 0, s.UnreadCount())

	s.SetFilters(model.NotificationFilter{UnreadOnly: true})
	assert.Empty(t, s.Filtered())
}

func TestRemoveKeepsOrderOfRest(t *testing.T) {
	s := New()
	s.Merge([]model.Notification{notif("c", 3), notif("b", 2), notif("a", 1)})

	s.Remove("b")
	assert.Equal(t, []string{"c", "a"}, ids(s.All()))
}

func TestRecent(t *testing.T) {
	s := New()
	s.Merge([]model.Notification{notif("c", 30), notif("b", 20), notif("a", 10)})

	got := s.Recent(base.Add(20 * time.Minute))
	assert.Equal(t, []string{"c", "b"}, ids(got))
}

func TestRestoreDoesNotPersist(t *testing.T) {
	p := newFakePersister()
	s := New(WithPersister(p))

	s.Restore([]model.Notification{notif("b", 2), notif("a", 1)})
	assert.Equal(t, []string{"b", "a"}, ids(s.All()))
	assert.Empty(t, p.calls())
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := New()

	var got []Change
	unsub := s.Subscribe(func(c Change) { got = append(got, c) })

	s.Add(notif("a", 1))
	s.MarkAsRead("a")
	s.SetFilters(model.NotificationFilter{UnreadOnly: true})

	unsub()
	unsub()
	s.Remove("a")

	assert.Equal(t, []Change{
		{Op: OpAdd, ID: "a"},
		{Op: OpRead, ID: "a"},
		{Op: OpFilter},
	}, got)
}

func TestListenerMayReadStore(t *testing.T) {
	s := New()
	counts := make([]int, 0)
	s.Subscribe(func(Change) { counts = append(counts, s.UnreadCount()) })

	s.Add(notif("a", 1))
	s.Add(notif("b", 2))
	s.MarkAsRead("a")

	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestPersisterMirrorsMutations(t *testing.T) {
	p := newFakePersister()
	s := New(WithPersister(p))

	s.Add(notif("a", 1))
	s.Merge([]model.Notification{notif("b", 2)})
	s.MarkAsRead("a")
	s.MarkAsRead("a") // already read: no write
	s.Remove("b")
	s.MarkAllAsRead()
	s.ClearAll()

	assert.Equal(t, []string{
		"save a",
		"save b",
		"read a",
		"delete b",
		"read all",
		"clear",
	}, p.calls())
}

func TestPersisterFailureKeepsMemoryAuthoritative(t *testing.T) {
	p := newFakePersister()
	p.err = errors.New("disk full")
	s := New(WithPersister(p))

	s.Add(notif("a", 1))
	s.MarkAsRead("a")

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.True(t, got.Read)
}

func TestMergeIfSkipsStaleBatch(t *testing.T) {
	p := newFakePersister()
	s := New(WithPersister(p))
	changes := 0
	s.Subscribe(func(Change) { changes++ })

	added, merged := s.MergeIf([]model.Notification{notif("a", 1)}, func() bool { return false })
	assert.False(t, merged)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, p.calls())
	assert.Equal(t, 0, changes)

	added, merged = s.MergeIf([]model.Notification{notif("a", 1)}, func() bool { return true })
	assert.True(t, merged)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"save a"}, p.calls())
}

func TestReadsDoNotWaitForPersister(t *testing.T) {
	p := newFakePersister()
	p.gate = make(chan struct{})
	p.entered = make(chan string, 4)
	s := New(WithPersister(p))

	done := make(chan struct{})
	go func() {
		s.Add(notif("a", 1))
		close(done)
	}()
	assert.Equal(t, "save a", <-p.entered)

	// The write is stuck in the persister; reads still answer.
	assert.Equal(t, 1, s.UnreadCount())
	assert.Len(t, s.Filtered(), 1)

	close(p.gate)
	<-done
}

func TestWritesReachPersisterInMutationOrder(t *testing.T) {
	p := newFakePersister()
	p.gate = make(chan struct{})
	p.entered = make(chan string, 4)
	s := New(WithPersister(p))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Add(notif("a", 1))
	}()
	require.Equal(t, "save a", <-p.entered)

	go func() {
		defer wg.Done()
		s.ClearAll()
	}()
	require.Eventually(t, func() bool { return s.Len() == 0 }, 2*time.Second, time.Millisecond)

	close(p.gate)
	wg.Wait()
	assert.Equal(t, []string{"save a", "clear"}, p.calls())
}

func TestConcurrentMutations(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("n%d", i)
			s.Add(notif(id, i))
			if i%2 == 0 {
				s.MarkAsRead(id)
			}
			_ = s.Filtered()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Equal(t, 25, s.UnreadCount())
}

type fakePersister struct {
	mu  sync.Mutex
	log []string
	err error

	// When gate is set each write announces itself on entered and waits
	// for gate to close.
	gate    chan struct{}
	entered chan string
}

func newFakePersister() *fakePersister { return &fakePersister{} }

func (p *fakePersister) record(s string) error {
	if p.gate != nil {
		p.entered <- s
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, s)
	return p.err
}

func (p *fakePersister) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

func (p *fakePersister) SaveNotifications(_ context.Context, ns []model.Notification) error {
	for _, n := range ns {
		if err := p.record("save " + n.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakePersister) MarkNotificationRead(_ context.Context, id string) error {
	return p.record("read " + id)
}

func (p *fakePersister) MarkAllNotificationsRead(context.Context) error {
	return p.record("read all")
}

func (p *fakePersister) DeleteNotification(_ context.Context, id string) error {
	return p.record("delete " + id)
}

func (p *fakePersister) ClearNotifications(context.Context) error {
	return p.record("clear")
}
