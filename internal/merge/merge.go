// Package merge decides how a chosen product lands in the pending item list:
// either folded into an existing line or appended as a new one.
package merge

import (
	"math"
	"sort"
	"strings"

	"pos-terminal/internal/models"
)

// Customization is the result of the product customization dialog. Quantity
// arrives as a float because the dialog does not validate it; SanitizeQuantity
// normalizes it before use.
type Customization struct {
	Quantity float64
	Comment  string
	Extras   []models.ExtraSelection
	Excluded []string // overrides; empty means fall back to the product default
}

// SanitizeQuantity clamps a raw quantity to a usable integer: non-finite or
// non-positive values become 1, fractional values are floored (never below 1).
func SanitizeQuantity(q float64) int {
	if math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 {
		return 1
	}
	n := int(math.Floor(q))
	if n < 1 {
		return 1
	}
	return n
}

// UnitPriceCents computes the line unit price: product base price plus the
// sum of selected extra prices.
func UnitPriceCents(product models.Product, extras []models.ExtraSelection) int64 {
	price := product.PriceCents
	for _, e := range extras {
		price += e.PriceCents
	}
	return price
}

// AddProduct merges the chosen product into the item list. A merge into an
// existing line happens only when the incoming comment is empty and a pending
// line for the same product exists with an empty comment, an identical
// excluded-ingredient set and identical extras; otherwise a new line is
// appended with a freshly generated id. The returned slice shares entries
// with the input on merge (only the matched line's quantity changes).
//
// A missing product is a caller precondition, not defended here.
func AddProduct(
	items []models.OrderItem,
	product models.Product,
	choice Customization,
	newID func() string,
	defaultExcluded []string,
) []models.OrderItem {
	qty := SanitizeQuantity(choice.Quantity)
	comment := strings.TrimSpace(choice.Comment)

	excluded := choice.Excluded
	if len(excluded) == 0 {
		excluded = defaultExcluded
	}

	if comment == "" {
		for i := range items {
			it := &items[i]
			if it.Status != models.ItemStatusPending {
				continue
			}
			if it.ProductID != product.ID || strings.TrimSpace(it.Comment) != "" {
				continue
			}
			if !sameExcluded(it.ExcludedIngredients, excluded) {
				continue
			}
			if !sameExtras(it.Extras, choice.Extras) {
				continue
			}
			it.Quantity += qty
			return items
		}
	}

	return append(items, models.OrderItem{
		ID:                  newID(),
		ProductID:           product.ID,
		Name:                product.Name,
		UnitPriceCents:      UnitPriceCents(product, choice.Extras),
		Quantity:            qty,
		Comment:             comment,
		ExcludedIngredients: append([]string(nil), excluded...),
		Extras:              append([]models.ExtraSelection(nil), choice.Extras...),
		Status:              models.ItemStatusPending,
	})
}

func sameExcluded(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// sameExtras compares selections as an order-insensitive multiset keyed on
// extra name, option name, price and ingredient reference.
func sameExtras(a, b []models.ExtraSelection) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[models.ExtraSelection]int, len(a))
	for _, e := range a {
		counts[e]++
	}
	for _, e := range b {
		counts[e]--
		if counts[e] < 0 {
			return false
		}
	}
	return true
}
