package storage

import (
	"context"
	"sync"
	"time"
)

const DefaultPollInterval = 2 * time.Second

// PollWatcher turns any Storage into a Watcher by comparing the raw value
// at a fixed interval. It cannot tell sessions apart, so a session also
// sees its own writes; read errors are skipped until the next tick.
type PollWatcher struct {
	s        Storage
	interval time.Duration
}

func NewPollWatcher(s Storage, interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollWatcher{s: s, interval: interval}
}

func (p *PollWatcher) Watch(ctx context.Context, key string, fn func(Event)) (func(), error) {
	last, present, err := p.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		t := time.NewTicker(p.interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
			}

			v, ok, err := p.s.Get(ctx, key)
			if err != nil {
				continue
			}
			if ok == present && v == last {
				continue
			}
			last, present = v, ok
			fn(Event{Key: key, NewValue: v, Removed: !ok})
		}
	}()

	return stop, nil
}
