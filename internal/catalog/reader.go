package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"SweetHouse/internal/storage"
)

const (
	refreshTimeout = 3 * time.Second

	sourceNotifier = "same-context"
	sourceStorage  = "cross-context"

	allCategories = "All"
)

// Reader is the storefront's view of the catalog. It hydrates from the
// store when created and then follows two channels: the Notifier for
// edits made in this context and the storage Watcher for edits made
// anywhere else. Any refresh that cannot be read keeps the previous
// snapshot.
type Reader struct {
	store   *Store
	log     *zap.Logger
	metrics *Metrics

	applyMu  sync.Mutex
	mu       sync.RWMutex
	products []Product

	changes *Notifier
	stops   []func()
}

func NewReader(ctx context.Context, store *Store, notifier *Notifier, watcher storage.Watcher, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reader{
		store:    store,
		log:      log,
		metrics:  store.metrics,
		products: forDisplayAll(store.Read(ctx)),
		changes:  NewNotifier(log, nil),
	}

	r.stops = append(r.stops, notifier.Subscribe(r.onNotify))

	if watcher == nil {
		log.Info("cross-context catalog sync not available")
		return r
	}
	stop, err := watcher.Watch(ctx, store.Key(), r.onStorage)
	if err != nil {
		log.Warn("cross-context catalog sync not available", zap.Error(err))
		return r
	}
	r.stops = append(r.stops, stop)
	return r
}

func (r *Reader) Close() {
	for _, stop := range r.stops {
		stop()
	}
	r.stops = nil
}

func (r *Reader) onNotify(products []Product) {
	r.apply(products)
	r.metrics.refreshed(sourceNotifier, "ok")
}

// onStorage ignores the event payload and reads the store again. The read
// and the apply happen under applyMu so a same-context snapshot applied
// meanwhile is never overwritten by an older value.
func (r *Reader) onStorage(ev storage.Event) {
	if ev.Key != r.store.Key() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	products, err := r.store.Load(ctx)
	if err != nil {
		r.log.Warn("catalog refresh skipped", zap.Error(err), zap.String("origin", ev.Origin))
		r.metrics.refreshed(sourceStorage, "kept")
		return
	}
	r.applyLocked(products)
	r.metrics.refreshed(sourceStorage, "ok")
}

func (r *Reader) apply(products []Product) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	r.applyLocked(products)
}

// applyLocked must be called with applyMu held.
func (r *Reader) applyLocked(products []Product) {
	display := forDisplayAll(products)

	r.mu.Lock()
	r.products = display
	r.mu.Unlock()

	r.changes.Notify(display)
}

// OnChange registers fn to run after every refresh.
func (r *Reader) OnChange(fn Handler) (cancel func()) {
	return r.changes.Subscribe(fn)
}

func (r *Reader) Products() []Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.products)
}

func (r *Reader) Get(id string) (Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := slices.IndexFunc(r.products, func(p Product) bool { return p.ID == id })
	if i < 0 {
		return Product{}, false
	}
	return r.products[i], true
}

// Categories lists distinct non-empty categories in display order.
func (r *Reader) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range r.products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	return out
}

type Query struct {
	Text     string
	Category string
}

func (r *Reader) Filter(q Query) []Product {
	return Filter(r.Products(), q)
}

// Filter matches Text case-insensitively against title and category and
// Category exactly. An empty Category or "All" matches everything.
func Filter(products []Product, q Query) []Product {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	cat := q.Category
	if cat == allCategories {
		cat = ""
	}

	out := make([]Product, 0, len(products))
	for _, p := range products {
		if text != "" &&
			!strings.Contains(strings.ToLower(p.Title), text) &&
			!strings.Contains(strings.ToLower(p.Category), text) {
			continue
		}
		if cat != "" && p.Category != cat {
			continue
		}
		out = append(out, p)
	}
	return out
}
