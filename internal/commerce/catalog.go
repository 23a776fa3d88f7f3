// Package commerce is the procurement domain the assistant's tools act on:
// a product catalog, per-user carts and checkout.
package commerce

import (
	"strings"
)

// Item is a catalog entry
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Unit        string   `json:"unit"`
	InStock     bool     `json:"inStock"`
	Tags        []string `json:"tags,omitempty"`
}

// SearchQuery filters the catalog. Zero values do not filter.
type SearchQuery struct {
	Keyword    string  `json:"keyword"`
	Category   string  `json:"category,omitempty"`
	MaxPrice   float64 `json:"maxPrice,omitempty"`
	MaxResults int     `json:"maxResults,omitempty"`
}

const (
	defaultMaxResults = 10
	maxMaxResults     = 50
)

func (q SearchQuery) limit() int {
	switch {
	case q.MaxResults <= 0:
		return defaultMaxResults
	case q.MaxResults > maxMaxResults:
		return maxMaxResults
	default:
		return q.MaxResults
	}
}

// Matches reports whether the item satisfies the query.
func (q SearchQuery) Matches(item Item) bool {
	if q.Category != "" && !strings.EqualFold(item.Category, q.Category) {
		return false
	}
	if q.MaxPrice > 0 && item.Price > q.MaxPrice {
		return false
	}
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))
	if keyword == "" {
		return true
	}
	if strings.Contains(strings.ToLower(item.Name), keyword) ||
		strings.Contains(strings.ToLower(item.Category), keyword) ||
		strings.Contains(strings.ToLower(item.Description), keyword) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.EqualFold(tag, keyword) {
			return true
		}
	}
	return false
}

// DefaultCatalog is the seed catalog for local runs and tests.
func DefaultCatalog() []Item {
	return []Item{
		{
			ID:          "itm-001",
			Name:        "Lenovo ThinkPad E14",
			Category:    "laptops",
			Description: "14-inch business laptop, Ryzen 5, 16GB RAM, 512GB SSD",
			Price:       849.00,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"laptop", "notebook", "computer"},
		},
		{
			ID:          "itm-002",
			Name:        "Dell Latitude 5440",
			Category:    "laptops",
			Description: "14-inch laptop, Intel Core i5, 16GB RAM, 256GB SSD",
			Price:       979.00,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"laptop", "notebook", "computer"},
		},
		{
			ID:          "itm-003",
			Name:        "Apple MacBook Pro 14",
			Category:    "laptops",
			Description: "14-inch laptop, M3 Pro, 18GB RAM, 512GB SSD",
			Price:       1999.00,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"laptop", "notebook", "computer", "mac"},
		},
		{
			ID:          "itm-004",
			Name:        "Dell P2723QE 27\" 4K Monitor",
			Category:    "monitors",
			Description: "27-inch 4K USB-C monitor with height adjustable stand",
			Price:       459.00,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"monitor", "display", "screen"},
		},
		{
			ID:          "itm-005",
			Name:        "LG 24MP400 24\" Monitor",
			Category:    "monitors",
			Description: "24-inch full HD IPS monitor",
			Price:       129.00,
			Unit:        "each",
			InStock:     false,
			Tags:        []string{"monitor", "display", "screen"},
		},
		{
			ID:          "itm-006",
			Name:        "Herman Miller Sayl Chair",
			Category:    "furniture",
			Description: "Ergonomic office chair with adjustable arms",
			Price:       695.00,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"chair", "office", "ergonomic"},
		},
		{
			ID:          "itm-007",
			Name:        "Logitech MX Keys",
			Category:    "peripherals",
			Description: "Wireless illuminated keyboard",
			Price:       109.99,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"keyboard", "wireless"},
		},
		{
			ID:          "itm-008",
			Name:        "Logitech MX Master 3S",
			Category:    "peripherals",
			Description: "Wireless performance mouse",
			Price:       99.99,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"mouse", "wireless"},
		},
		{
			ID:          "itm-009",
			Name:        "A4 Copy Paper 80gsm",
			Category:    "office supplies",
			Description: "Box of 5 reams, 2500 sheets",
			Price:       34.50,
			Unit:        "box",
			InStock:     true,
			Tags:        []string{"paper", "printer"},
		},
		{
			ID:          "itm-010",
			Name:        "Jabra Evolve2 65 Headset",
			Category:    "audio",
			Description: "Wireless stereo headset for calls and meetings",
			Price:       249.00,
			Unit:        "each",
			InStock:     true,
			Tags:        []string{"headset", "audio", "wireless"},
		},
	}
}
