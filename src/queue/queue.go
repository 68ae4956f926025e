package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/apperr"
	"screen-queue/src/messages"
)

// DefaultCapacity is the number of captures kept when none is configured.
const DefaultCapacity = 10

var (
	// ErrIndexOutOfRange is returned by RemoveAt for an index outside the queue.
	ErrIndexOutOfRange = errors.New("queue: index out of range")
	// ErrEntryNotFound is returned by RemoveID when no entry has the ID.
	ErrEntryNotFound = errors.New("queue: entry not found")
)

// Entry is one capture held in the queue.
type Entry struct {
	ID      uint64
	Path    string
	Preview string
}

// Store is the slice of the host contract the queue depends on.
type Store interface {
	GetScreenshots(ctx context.Context) ([]messages.Screenshot, error)
	DeleteScreenshot(ctx context.Context, path string) (messages.Result, error)
}

// Manager is the bounded capture queue. Appends past capacity evict the
// oldest entries. The lock is never held across a host call.
type Manager struct {
	store    Store
	capacity int

	mu      sync.Mutex
	entries []Entry
	nextID  uint64

	subMu   sync.Mutex
	subs    map[int]func([]Entry)
	nextSub int
}

func NewManager(store Store, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		store:    store,
		capacity: capacity,
		subs:     make(map[int]func([]Entry)),
	}
}

func (m *Manager) Capacity() int { return m.capacity }

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns a copy of the current contents, oldest first.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Load hydrates the queue from the host snapshot. On failure the queue is
// left as it was and a load error is returned.
func (m *Manager) Load(ctx context.Context) ([]Entry, error) {
	shots, err := m.store.GetScreenshots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLoad, "load screenshots", err)
	}
	if len(shots) > m.capacity {
		shots = shots[len(shots)-m.capacity:]
	}

	m.mu.Lock()
	m.entries = m.entries[:0]
	for _, s := range shots {
		m.entries = append(m.entries, m.newEntryLocked(s))
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	log.Info().Int("count", len(snap)).Msg("queue: hydrated from host")
	m.notify(snap)
	return snap, nil
}

// Append adds a capture at the tail and evicts from the head past capacity.
func (m *Manager) Append(shot messages.Screenshot) Entry {
	m.mu.Lock()
	e := m.newEntryLocked(shot)
	m.entries = append(m.entries, e)
	evicted := 0
	for len(m.entries) > m.capacity {
		m.entries = m.entries[1:]
		evicted++
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("queue: evicted oldest captures")
	}
	m.notify(snap)
	return e
}

func (m *Manager) newEntryLocked(s messages.Screenshot) Entry {
	m.nextID++
	return Entry{ID: m.nextID, Path: s.Path, Preview: s.Preview}
}

// RemoveAt deletes the capture at index on the host, then drops it from the
// queue. If the host refuses, the entry stays and a deletion error is
// returned. The entry is removed by ID so concurrent mutations during the
// host call are respected.
func (m *Manager) RemoveAt(ctx context.Context, index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.entries) {
		n := len(m.entries)
		m.mu.Unlock()
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", index, n)
	}
	target := m.entries[index]
	m.mu.Unlock()
	return m.remove(ctx, target)
}

// RemoveID is RemoveAt for the entry with the given ID, resolved against the
// queue as it is now.
func (m *Manager) RemoveID(ctx context.Context, id uint64) error {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return errors.Wrapf(ErrEntryNotFound, "id %d", id)
	}
	target := m.entries[i]
	m.mu.Unlock()
	return m.remove(ctx, target)
}

// Contains reports whether a queued entry refers to path.
func (m *Manager) Contains(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Path == path {
			return true
		}
	}
	return false
}

func (m *Manager) indexLocked(id uint64) int {
	for i, e := range m.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) remove(ctx context.Context, target Entry) error {
	res, err := m.store.DeleteScreenshot(ctx, target.Path)
	if err != nil {
		return apperr.Wrap(apperr.KindDeletion, "delete screenshot", err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "host refused deletion"
		}
		return apperr.New(apperr.KindDeletion, "delete screenshot", msg)
	}

	m.mu.Lock()
	i := m.indexLocked(target.ID)
	if i >= 0 {
		m.entries = append(m.entries[:i:i], m.entries[i+1:]...)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if i < 0 {
		// Evicted while the host call was running; the file is gone either way.
		log.Debug().Uint64("id", target.ID).Msg("queue: entry already gone after delete")
		return nil
	}
	m.notify(snap)
	return nil
}

// Reset drops every entry without touching the host.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	m.notify(nil)
}

// Subscribe registers fn to receive a snapshot after every mutation.
func (m *Manager) Subscribe(fn func([]Entry)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) notify(snap []Entry) {
	m.subMu.Lock()
	fns := make([]func([]Entry), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		out := make([]Entry, len(snap))
		copy(out, snap)
		fn(out)
	}
}
