package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"SweetHouse/internal/storage"
)

var fixedNow = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func sampleProducts(n int) []Product {
	out := make([]Product, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Product{
			ID:          fmt.Sprintf("p-%d", i),
			Title:       fmt.Sprintf("Item %d", i),
			Price:       float64(160 + i*10),
			Description: "200g",
			Category:    "Sweets",
			Image:       "https://img.example/" + fmt.Sprint(i) + ".png",
			CreatedAt:   formatCreatedAt(fixedNow),
		})
	}
	return out
}

// counterIDs hands out predictable ids.
func counterIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("gen-%d", n)
	}
}

type fixture struct {
	area     *storage.MemArea
	session  *storage.MemSession
	store    *Store
	notifier *Notifier
	editor   *Editor
}

func newFixture(t *testing.T, quota int, initial []Product) *fixture {
	t.Helper()

	ctx := context.Background()
	area := storage.NewMemArea(quota)
	sess := area.Session()
	store := NewStore(sess, nil, nil)

	if initial != nil {
		if err := store.Write(ctx, initial); err != nil {
			t.Fatalf("write initial catalog: %v", err)
		}
	}

	n := NewNotifier(nil, nil)
	e := NewEditor(ctx, store, n, nil)
	e.now = func() time.Time { return fixedNow }
	e.newID = counterIDs()

	return &fixture{area: area, session: sess, store: store, notifier: n, editor: e}
}

type capture struct {
	mu    sync.Mutex
	calls [][]Product
}

func (c *capture) handle(ps []Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ps)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *capture) last() []Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func titles(ps []Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Title
	}
	return out
}

func ids(ps []Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// hookKV wraps a storage session. getErr fails every Get; afterGet runs once,
// after the next Get has read the underlying value.
type hookKV struct {
	storage.Storage

	mu       sync.Mutex
	getErr   error
	afterGet func()
}

func (k *hookKV) Get(ctx context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	fail, hook := k.getErr, k.afterGet
	k.afterGet = nil
	k.mu.Unlock()

	if fail != nil {
		return "", false, fail
	}
	v, ok, err := k.Storage.Get(ctx, key)
	if hook != nil {
		hook()
	}
	return v, ok, err
}

func (k *hookKV) failGets(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.getErr = err
}

func (k *hookKV) onNextGet(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.afterGet = fn
}
