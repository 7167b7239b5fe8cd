package transport

import (
	"fmt"
	"log/slog"
	"sync"
)

// listenerSet is an ordered set of callbacks. Dispatch happens on a snapshot
// taken under the lock so callbacks may register or unregister freely.
type listenerSet[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

// add registers fn and returns an idempotent unregister function.
func (s *listenerSet[T]) add(fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *listenerSet[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *listenerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// emit invokes every registered callback with v. A panicking callback is
// logged and does not prevent the remaining callbacks from running.
func (s *listenerSet[T]) emit(logger *slog.Logger, event string, v T) {
	s.mu.Lock()
	snapshot := make([]listenerEntry[T], len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	for _, e := range snapshot {
		invoke(logger, event, e.fn, v)
	}
}

func invoke[T any](logger *slog.Logger, event string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transport: listener panicked",
				slog.String("event", event),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(v)
}
