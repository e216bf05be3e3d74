package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeListenConn replays queued notifications, then fails with err.
type fakeListenConn struct {
	mu     sync.Mutex
	queue  []*pgconn.Notification
	err    error
	closed bool
}

func (c *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		n := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return n, nil
	}
	err := c.err
	c.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeListenConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeListenConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func notification(t *testing.T, ev wireEvent) *pgconn.Notification {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &pgconn.Notification{Channel: pgEventsChannel, Payload: string(b)}
}

func TestPostgresWatch_ReconnectsAfterLostConnection(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewPostgresStorage(nil, "", 0, zap.New(core))

	first := &fakeListenConn{err: errors.New("conn reset")}
	second := &fakeListenConn{queue: []*pgconn.Notification{
		notification(t, wireEvent{Key: "other", Origin: "peer"}),
		notification(t, wireEvent{Key: "k", Removed: true, Origin: s.origin}),
		notification(t, wireEvent{Key: "k", Removed: true, Origin: "peer"}),
	}}

	var mu sync.Mutex
	dials := 0
	s.dial = func(context.Context) (listenConn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		switch dials {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("connection refused")
		}
		return second, nil
	}

	var got []Event
	var gotMu sync.Mutex
	stop, err := s.Watch(context.Background(), "k", func(ev Event) {
		gotMu.Lock()
		defer gotMu.Unlock()
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		gotMu.Lock()
		n := len(got)
		gotMu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events=%d before deadline", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	stop()

	gotMu.Lock()
	defer gotMu.Unlock()
	if len(got) != 2 {
		t.Fatalf("events=%+v", got)
	}
	if got[0].Key != "k" || got[0].Origin != "" {
		t.Fatalf("resync event=%+v", got[0])
	}
	if !got[1].Removed || got[1].Origin != "peer" {
		t.Fatalf("removal event=%+v", got[1])
	}

	if logs.FilterMessage("postgres listener lost, reconnecting").Len() != 1 {
		t.Fatalf("lost connection not logged")
	}
	if logs.FilterMessage("postgres listener reconnect failed").Len() != 1 {
		t.Fatalf("failed reconnect not logged")
	}
	if !second.IsClosed() {
		t.Fatalf("connection left open after stop")
	}
}

func TestPostgresWatch_StopsWithoutReconnectWhenCancelled(t *testing.T) {
	s := NewPostgresStorage(nil, "", 0, nil)
	conn := &fakeListenConn{}
	s.dial = func(context.Context) (listenConn, error) { return conn, nil }

	stop, err := s.Watch(context.Background(), "k", func(Event) {
		t.Errorf("unexpected event")
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	stop()
	stop()

	if !conn.IsClosed() {
		t.Fatalf("connection left open")
	}
}
