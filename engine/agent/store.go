package agent

import (
	"sync"
	"time"

	"github.com/fundscout/fundscout/engine/domain"
)

// DefaultTTL is how long a finished task stays retrievable.
const DefaultTTL = 15 * time.Minute

// Store is an in-memory task store. Terminal tasks are swept after the
// TTL; task state is ephemeral and does not survive restarts.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	ttl   time.Duration
	now   func() time.Time // injectable for tests
	done  chan struct{}
	once  sync.Once
}

// NewStore creates a Store and starts its background sweeper.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		tasks: make(map[string]*Task),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go s.sweeper()
	return s
}

// Put stores a task.
func (s *Store) Put(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// Get returns a snapshot of the task. The copy keeps callers isolated
// from concurrent orchestrator updates.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok || s.expired(t) {
		return Task{}, domain.ErrNotFound
	}
	return snapshot(t), nil
}

// Update applies fn to the task under the store lock.
func (s *Store) Update(id string, fn func(*Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	return fn(t)
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Close stops the sweeper.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Store) expired(t *Task) bool {
	return t.Status.Terminal() && s.now().Sub(t.UpdatedAt) > s.ttl
}

func (s *Store) sweeper() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes expired terminal tasks. Non-terminal tasks are kept so
// a slow orchestration can never lose its state underneath itself.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if s.expired(t) {
			delete(s.tasks, id)
		}
	}
}

func snapshot(t *Task) Task {
	out := *t
	out.SubQueries = append([]string(nil), t.SubQueries...)
	out.Results = append([]SubResult(nil), t.Results...)
	out.Provenance = append([]string(nil), t.Provenance...)
	return out
}
