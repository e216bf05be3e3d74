package catalog

import (
	"fmt"
	"time"
)

const (
	seedBasePrice = 160
	seedUnit      = "200g"
)

type seedCategory struct {
	id    string
	title string
	items []string
}

var seedCategories = []seedCategory{
	{"dry-fruits", "Dry Fruits", []string{"Badam", "Pista", "Cashew", "Pista Salts", "Black Dry Grapes", "Fig Fruit", "Pumpkin Seeds"}},
	{"kovil-patti", "Kovil Patti Special (Chikki)", []string{"Chikki", "Chikki Round", "Black Thill Ball", "White Thill Ball", "Roasted Gram Round"}},
	{"sweets", "Sweets", []string{"Mysore Pak", "Milk Cova", "Lava Lattu", "Thirunelveli Alva", "Kamarkattu Lattu", "Adhirasam"}},
	{"mixture", "Mixture Items", []string{"Special Mixture", "Madras Mixture", "Garlic Mixture", "Kara Boondi", "Millets Mixture"}},
	{"dhall", "Dhall Items", []string{"Masala Peanut", "Peanut Salt", "Roasted Peanut", "Moong Dhall Plain", "Moong Dhall Salt"}},
	{"murukk", "Murukk Items", []string{"Udupi Pudhina Murukku", "Kara Murukku", "Kara Sev", "Butter Murukku", "Rose Cookies"}},
	{"chips", "Chips Items", []string{"Banana Chips Plain", "Banana Chips Salt", "Banana Chips Pepper", "Potato Pudhina", "Jack Fruit", "Bitter Gourd Chips"}},
}

// DefaultSeed is the catalog written on first start. Ids are stable
// ("<category>-<index>") so repeated seeding produces the same records.
func DefaultSeed(now time.Time) []Product {
	created := formatCreatedAt(now)

	var out []Product
	for ci, c := range seedCategories {
		for i, name := range c.items {
			out = append(out, Product{
				ID:          fmt.Sprintf("%s-%d", c.id, i),
				Title:       name,
				Price:       float64(seedBasePrice + ((ci+i)%5)*10),
				Description: seedUnit,
				Category:    c.title,
				Image:       PlaceholderImage(name),
				CreatedAt:   created,
			})
		}
	}
	return out
}
