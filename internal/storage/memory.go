package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemArea is an in-process storage area shared by any number of sessions.
// Quota counts the bytes of all keys and values; zero disables it.
type MemArea struct {
	mu      sync.Mutex
	quota   int
	used    int
	m       map[string]string
	watches map[*memWatch]struct{}
}

func NewMemArea(quota int) *MemArea {
	return &MemArea{
		quota:   quota,
		m:       make(map[string]string),
		watches: make(map[*memWatch]struct{}),
	}
}

// Session opens a new handle with its own origin.
func (a *MemArea) Session() *MemSession {
	return &MemSession{area: a, origin: uuid.NewString()}
}

type MemSession struct {
	area   *MemArea
	origin string
}

func (s *MemSession) Origin() string { return s.origin }

func (s *MemSession) Ping(context.Context) error { return nil }

func (s *MemSession) Get(_ context.Context, key string) (string, bool, error) {
	a := s.area
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.m[key]
	return v, ok, nil
}

func (s *MemSession) Set(_ context.Context, key, value string) error {
	a := s.area
	a.mu.Lock()
	defer a.mu.Unlock()

	used := a.used + len(value)
	if old, ok := a.m[key]; ok {
		used -= len(old)
	} else {
		used += len(key)
	}
	if quotaExceeded(a.quota, used) {
		return ErrQuotaExceeded
	}

	a.m[key] = value
	a.used = used
	a.broadcast(Event{Key: key, NewValue: value, Origin: s.origin})
	return nil
}

func (s *MemSession) Remove(_ context.Context, key string) error {
	a := s.area
	a.mu.Lock()
	defer a.mu.Unlock()

	old, ok := a.m[key]
	if !ok {
		return nil
	}
	delete(a.m, key)
	a.used -= len(key) + len(old)
	a.broadcast(Event{Key: key, Removed: true, Origin: s.origin})
	return nil
}

// Watch delivers events on a dedicated goroutine, in write order.
func (s *MemSession) Watch(ctx context.Context, key string, fn func(Event)) (func(), error) {
	w := &memWatch{
		key:    key,
		origin: s.origin,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	a := s.area
	a.mu.Lock()
	a.watches[w] = struct{}{}
	a.mu.Unlock()

	stop := func() {
		w.once.Do(func() {
			a.mu.Lock()
			delete(a.watches, w)
			a.mu.Unlock()
			close(w.done)
		})
	}

	go w.run()
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-w.done:
		}
	}()

	return stop, nil
}

// broadcast must be called with a.mu held so events keep write order.
func (a *MemArea) broadcast(ev Event) {
	for w := range a.watches {
		if w.key == ev.Key && w.origin != ev.Origin {
			w.push(ev)
		}
	}
}

type memWatch struct {
	key    string
	origin string
	fn     func(Event)

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (w *memWatch) push(ev Event) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memWatch) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			batch := w.pending
			w.pending = nil
			w.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				select {
				case <-w.done:
					return
				default:
				}
				w.fn(ev)
			}
		}
	}
}
