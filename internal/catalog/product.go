package catalog

import (
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	StorageKey     = "sweethouse_products"
	ExportFileName = "sweethouse_products.json"

	untitled         = "Untitled"
	placeholderURL   = "https://via.placeholder.com/700x480.png?text="
	createdAtLayout  = "2006-01-02T15:04:05.000Z07:00"
	maxSafeTimestamp = 1 << 53
)

type Product struct {
	ID          string  `json:"id" csv:"id"`
	Title       string  `json:"title" csv:"title"`
	Price       float64 `json:"price" csv:"price"`
	Description string  `json:"description" csv:"description"`
	Category    string  `json:"category" csv:"category"`
	Image       string  `json:"image" csv:"image"`
	CreatedAt   string  `json:"createdAt" csv:"createdAt"`
}

func formatCreatedAt(t time.Time) string {
	return t.UTC().Format(createdAtLayout)
}

// PlaceholderImage returns the stock image shown for products without one.
func PlaceholderImage(title string) string {
	return placeholderURL + strings.ReplaceAll(url.QueryEscape(title), "+", "%20")
}

// ForDisplay fills the fields the storefront needs to render a card.
func ForDisplay(p Product) Product {
	if strings.TrimSpace(p.Title) == "" {
		p.Title = untitled
	}
	if p.Image == "" {
		p.Image = PlaceholderImage(p.Title)
	}
	return p
}

func forDisplayAll(ps []Product) []Product {
	out := make([]Product, len(ps))
	for i, p := range ps {
		out[i] = ForDisplay(p)
	}
	return out
}

// decodeRecord maps a loosely shaped record onto Product field by field.
// Older snapshots used name/img/weightLabel; those are read as aliases.
// Fields of the wrong type fall back to their zero value.
func decodeRecord(m map[string]any) Product {
	return Product{
		ID:          toString(m["id"]),
		Title:       firstString(m, "title", "name"),
		Price:       toPrice(m["price"]),
		Description: firstString(m, "description", "weightLabel"),
		Category:    toString(m["category"]),
		Image:       firstString(m, "image", "img"),
		CreatedAt:   toCreatedAt(m["createdAt"]),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := toString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func toString(v any) string {
	switch v.(type) {
	case nil, map[string]any, []any, bool:
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

func toPrice(v any) float64 {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	if _, ok := v.(bool); ok {
		return 0
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// toCreatedAt keeps ISO strings as-is and converts epoch milliseconds.
func toCreatedAt(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x <= 0 || x > maxSafeTimestamp || x != math.Trunc(x) {
			return ""
		}
		return formatCreatedAt(time.UnixMilli(int64(x)))
	}
	return ""
}
