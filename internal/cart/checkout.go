package cart

import (
	"slices"

	"github.com/shopspring/decimal"

	"SweetHouse/internal/catalog"
)

type Line struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Image     string          `json:"image"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
	Total     decimal.Decimal `json:"total"`
}

type Summary struct {
	Lines    []Line          `json:"lines"`
	Count    int             `json:"count"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Missing  []string        `json:"missing,omitempty"`
}

func (s Summary) Empty() bool { return len(s.Lines) == 0 }

// Summarize prices quantities against the current catalog. Lines follow
// catalog order; ids the catalog no longer has are reported in Missing and
// left out of the subtotal.
func Summarize(quantities map[string]int, products []catalog.Product) Summary {
	sum := Summary{Lines: []Line{}, Subtotal: decimal.Zero}

	found := make(map[string]struct{}, len(quantities))
	for _, p := range products {
		qty, ok := quantities[p.ID]
		if !ok || qty <= 0 {
			continue
		}
		if _, dup := found[p.ID]; dup {
			continue
		}
		found[p.ID] = struct{}{}

		unit := decimal.NewFromFloat(p.Price)
		total := unit.Mul(decimal.NewFromInt(int64(qty)))

		sum.Lines = append(sum.Lines, Line{
			ProductID: p.ID,
			Title:     p.Title,
			Image:     p.Image,
			UnitPrice: unit,
			Qty:       qty,
			Total:     total,
		})
		sum.Count += qty
		sum.Subtotal = sum.Subtotal.Add(total)
	}

	for id, qty := range quantities {
		if _, ok := found[id]; !ok && qty > 0 {
			sum.Missing = append(sum.Missing, id)
		}
	}
	slices.Sort(sum.Missing)

	return sum
}
