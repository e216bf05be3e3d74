package catalog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	nanoid "github.com/jaevor/go-nanoid"
	"go.uber.org/zap"
)

const (
	MaxImageBytes = 300 * 1024

	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 10
)

// ValidationError carries the message shown next to the admin form.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrTitleRequired = &ValidationError{Field: "title", Message: "Title is required"}
	ErrPriceInvalid  = &ValidationError{Field: "price", Message: "Valid price is required"}

	ErrNotFound      = errors.New("product not found")
	ErrImport        = errors.New("import failed")
	ErrNotConfirmed  = errors.New("clear all requires confirmation")
	ErrImageTooLarge = errors.New("image too large")
	ErrNotAnImage    = errors.New("file is not an image")
	ErrReadFailed    = errors.New("catalog read failed")
)

var generateID = mustIDGenerator()

// NewID returns a fresh product id: 10 lowercase base36 characters.
func NewID() string { return generateID() }

func mustIDGenerator() func() string {
	gen, err := nanoid.CustomASCII(idAlphabet, idLength)
	if err != nil {
		panic(err)
	}
	return gen
}

// Draft is the admin form as submitted. Price stays text until validated.
type Draft struct {
	Title       string
	Price       string
	Description string
	Category    string
	Image       string
}

type Direction int

const (
	Up   Direction = -1
	Down Direction = 1
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Editor is the single write path for the catalog. Every mutation re-reads
// the stored catalog, writes the full new snapshot and only then notifies
// subscribers; a rejected write leaves both the stored and the in-memory
// catalog as they were.
type Editor struct {
	mu       sync.Mutex
	store    *Store
	notifier *Notifier
	log      *zap.Logger
	products []Product

	now   func() time.Time
	newID func() string
}

func NewEditor(ctx context.Context, store *Store, notifier *Notifier, log *zap.Logger) *Editor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Editor{
		store:    store,
		notifier: notifier,
		log:      log,
		products: store.Read(ctx),
		now:      time.Now,
		newID:    NewID,
	}
}

func (e *Editor) Snapshot() []Product {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.products)
}

// Reload picks up writes made by other contexts.
func (e *Editor) Reload(ctx context.Context) []Product {
	ps := e.store.Read(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.products = ps
	return slices.Clone(ps)
}

// refresh re-reads the stored catalog before a mutation so edits apply to
// what is stored now. A malformed value counts as empty; a backend failure
// aborts the mutation. Must be called with e.mu held.
func (e *Editor) refresh(ctx context.Context) error {
	ps, err := e.store.Load(ctx)
	switch {
	case err == nil:
		e.products = ps
	case errors.Is(err, ErrMalformed):
		e.log.Warn("stored catalog unreadable, editing from empty", zap.Error(err))
		e.products = []Product{}
	default:
		return fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return nil
}

func (e *Editor) Create(ctx context.Context, d Draft) (Product, error) {
	title, price, err := validateDraft(d)
	if err != nil {
		return Product{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return Product{}, err
	}

	p := Product{
		ID:          e.uniqueID(idSet(e.products)),
		Title:       title,
		Price:       price,
		Description: d.Description,
		Category:    strings.TrimSpace(d.Category),
		Image:       d.Image,
		CreatedAt:   formatCreatedAt(e.now()),
	}

	next := make([]Product, 0, len(e.products)+1)
	next = append(next, p)
	next = append(next, e.products...)

	if err := e.commit(ctx, "create", next); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Update replaces the editable fields of an existing product. An empty
// Image keeps the current one; images are changed through AttachImage or
// by sending a new URL.
func (e *Editor) Update(ctx context.Context, id string, d Draft) (Product, error) {
	title, price, err := validateDraft(d)
	if err != nil {
		return Product{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return Product{}, err
	}

	idx := e.indexOf(id)
	if idx < 0 {
		return Product{}, ErrNotFound
	}

	old := e.products[idx]
	p := Product{
		ID:          old.ID,
		Title:       title,
		Price:       price,
		Description: d.Description,
		Category:    strings.TrimSpace(d.Category),
		Image:       d.Image,
		CreatedAt:   old.CreatedAt,
	}
	if p.Image == "" {
		p.Image = old.Image
	}

	next := slices.Clone(e.products)
	next[idx] = p

	if err := e.commit(ctx, "update", next); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Delete of an unknown id is a no-op.
func (e *Editor) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return err
	}

	idx := e.indexOf(id)
	if idx < 0 {
		return nil
	}

	next := slices.Delete(slices.Clone(e.products), idx, idx+1)
	return e.commit(ctx, "delete", next)
}

func (e *Editor) Move(ctx context.Context, id string, dir Direction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return err
	}

	idx := e.indexOf(id)
	if idx < 0 {
		return nil
	}
	return e.moveAt(ctx, idx, dir)
}

// MoveAt swaps the product at index with its neighbour. Moving past either
// end is a no-op.
func (e *Editor) MoveAt(ctx context.Context, index int, dir Direction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return err
	}
	return e.moveAt(ctx, index, dir)
}

func (e *Editor) moveAt(ctx context.Context, index int, dir Direction) error {
	to := index + int(dir)
	if dir != Up && dir != Down {
		return nil
	}
	if index < 0 || index >= len(e.products) || to < 0 || to >= len(e.products) {
		return nil
	}

	next := slices.Clone(e.products)
	next[index], next[to] = next[to], next[index]
	return e.commit(ctx, "move", next)
}

// Import replaces the whole catalog with the records in raw, a JSON array
// of objects. Missing or repeated ids are regenerated; records without a
// creation time are stamped now.
func (e *Editor) Import(ctx context.Context, raw []byte) (int, error) {
	var records []any
	if err := json.Unmarshal(raw, &records); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrImport, err)
	}
	if records == nil {
		return 0, fmt.Errorf("%w: expected a JSON array", ErrImport)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := formatCreatedAt(e.now())
	seen := make(map[string]struct{}, len(records))
	next := make([]Product, 0, len(records))

	for i, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("%w: item %d is not an object", ErrImport, i)
		}

		p := decodeRecord(m)
		if _, dup := seen[p.ID]; p.ID == "" || dup {
			p.ID = e.uniqueID(seen)
		}
		seen[p.ID] = struct{}{}

		if strings.TrimSpace(p.Title) == "" {
			p.Title = untitled
		}
		if p.CreatedAt == "" {
			p.CreatedAt = now
		}
		next = append(next, p)
	}

	if err := e.commit(ctx, "import", next); err != nil {
		return 0, err
	}
	return len(next), nil
}

// Export serializes the stored catalog, picking up edits from other
// contexts first.
func (e *Editor) Export(ctx context.Context, f Format) ([]byte, error) {
	ps := e.Reload(ctx)

	switch f {
	case FormatJSON, "":
		return json.MarshalIndent(ps, "", "  ")
	case FormatCSV:
		return gocsv.MarshalBytes(&ps)
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// ClearAll empties the catalog. The key stays, holding an empty array.
func (e *Editor) ClearAll(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit(ctx, "clear", []Product{})
}

// AttachImage stores data as the product's image, encoded as a data URL.
// Oversized or non-image files are rejected and the current image is kept.
func (e *Editor) AttachImage(ctx context.Context, id string, data []byte) (Product, error) {
	if len(data) > MaxImageBytes {
		return Product{}, fmt.Errorf("%w (%d KB). Please use an image <= %d KB or use small thumbnails",
			ErrImageTooLarge, roundKB(len(data)), roundKB(MaxImageBytes))
	}
	ct := http.DetectContentType(data)
	if len(data) == 0 || !strings.HasPrefix(ct, "image/") {
		return Product{}, ErrNotAnImage
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return Product{}, err
	}

	idx := e.indexOf(id)
	if idx < 0 {
		return Product{}, ErrNotFound
	}

	next := slices.Clone(e.products)
	next[idx].Image = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)

	if err := e.commit(ctx, "image", next); err != nil {
		return Product{}, err
	}
	return next[idx], nil
}

// commit must be called with e.mu held.
func (e *Editor) commit(ctx context.Context, op string, next []Product) error {
	if err := e.store.Write(ctx, next); err != nil {
		e.log.Warn("catalog edit not saved", zap.String("op", op), zap.Error(err))
		return err
	}

	e.products = next
	e.notifier.Notify(next)
	e.log.Info("catalog edited", zap.String("op", op), zap.Int("products", len(next)))
	return nil
}

func (e *Editor) indexOf(id string) int {
	return slices.IndexFunc(e.products, func(p Product) bool { return p.ID == id })
}

func (e *Editor) uniqueID(taken map[string]struct{}) string {
	for {
		id := e.newID()
		if _, ok := taken[id]; !ok {
			return id
		}
	}
}

func idSet(ps []Product) map[string]struct{} {
	out := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		out[p.ID] = struct{}{}
	}
	return out
}

func validateDraft(d Draft) (string, float64, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return "", 0, ErrTitleRequired
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(d.Price), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return "", 0, ErrPriceInvalid
	}
	return title, price, nil
}

func roundKB(n int) int {
	return int(math.Round(float64(n) / 1024))
}
