package cart

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrCartNotFound = errors.New("cart not found")

// Registry keeps carts in memory. Carts untouched for longer than the idle
// limit are dropped by Sweep.
type Registry struct {
	mu    sync.Mutex
	carts map[string]*Cart
	idle  time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func NewRegistry(idle time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		carts: map[string]*Cart{},
		idle:  idle,
		now:   time.Now,
		log:   log,
	}
}

func (r *Registry) Create() Cart {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := newCart("c_"+uuid.NewString(), r.now().UTC())
	r.carts[c.ID] = c
	return c.clone()
}

func (r *Registry) Get(id string) (Cart, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[id]
	if !ok {
		return Cart{}, false
	}
	return c.clone(), true
}

// Update applies fn to the cart under the registry lock. When fn fails
// the cart is left as it was.
func (r *Registry) Update(id string, fn func(c *Cart) error) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[id]
	if !ok {
		return Cart{}, ErrCartNotFound
	}

	work := c.clone()
	if err := fn(&work); err != nil {
		return Cart{}, err
	}
	work.UpdatedAt = r.now().UTC()
	r.carts[id] = &work
	return work.clone(), nil
}

func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}

	r.mu.Lock()
	cutoff := r.now().Add(-r.idle)
	n := 0
	for id, c := range r.carts {
		if c.UpdatedAt.Before(cutoff) {
			delete(r.carts, id)
			n++
		}
	}
	r.mu.Unlock()

	if n > 0 {
		r.log.Info("idle carts dropped", zap.Int("carts", n))
	}
	return n
}
