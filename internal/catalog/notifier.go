package catalog

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

type Handler func(products []Product)

// Notifier fans a new snapshot out to every subscriber of this context.
// Delivery is synchronous and in subscription order; each handler gets its
// own copy of the slice.
type Notifier struct {
	mu      sync.Mutex
	next    uint64
	subs    []subscription
	log     *zap.Logger
	metrics *Metrics
}

type subscription struct {
	id uint64
	fn Handler
}

func NewNotifier(log *zap.Logger, metrics *Metrics) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{log: log, metrics: metrics}
}

func (n *Notifier) Subscribe(fn Handler) (unsubscribe func()) {
	n.mu.Lock()
	n.next++
	id := n.next
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.subs = slices.DeleteFunc(n.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Notify never panics; a failing handler is logged and skipped.
func (n *Notifier) Notify(products []Product) {
	n.mu.Lock()
	subs := slices.Clone(n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		n.deliver(s, slices.Clone(products))
	}
	n.metrics.notified()
}

func (n *Notifier) deliver(s subscription, products []Product) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Warn("catalog subscriber panicked", zap.Uint64("subscriber", s.id), zap.Any("panic", r))
		}
	}()
	s.fn(products)
}
