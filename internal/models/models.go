package models

import (
	"strings"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusNotSent   OrderStatus = "not_sent"
	OrderStatusReceived  OrderStatus = "received"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusDelivered OrderStatus = "delivered"
)

// ValidOrderTransition reports whether the kitchen status may move from one
// state to the next. The machine is linear: not_sent → received → ready →
// served → delivered.
func ValidOrderTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusNotSent:
		return to == OrderStatusReceived
	case OrderStatusReceived:
		return to == OrderStatusReady
	case OrderStatusReady:
		return to == OrderStatusServed
	case OrderStatusServed:
		return to == OrderStatusDelivered
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusSent      ItemStatus = "sent"
	ItemStatusCancelled ItemStatus = "cancelled"
)

// ExtraSelection is one chosen option of a product extra. Its price is
// already folded into the item's unit price; the struct is kept for display
// and for merge-equality when adding products.
type ExtraSelection struct {
	Extra        string `json:"extra"`
	Option       string `json:"option"`
	PriceCents   int64  `json:"price_cents"`
	IngredientID string `json:"ingredient_id,omitempty"`
}

type OrderItem struct {
	ID                  string           `json:"id"`
	ProductID           string           `json:"product_id"`
	Name                string           `json:"name"`
	UnitPriceCents      int64            `json:"unit_price_cents"`
	Quantity            int              `json:"quantity"`
	Comment             string           `json:"comment,omitempty"`
	ExcludedIngredients []string         `json:"excluded_ingredients,omitempty"`
	Extras              []ExtraSelection `json:"extras,omitempty"`
	Status              ItemStatus       `json:"status"`
}

func (i OrderItem) Clone() OrderItem {
	out := i
	if i.ExcludedIngredients != nil {
		out.ExcludedIngredients = append([]string(nil), i.ExcludedIngredients...)
	}
	if i.Extras != nil {
		out.Extras = append([]ExtraSelection(nil), i.Extras...)
	}
	return out
}

func CloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	for idx, it := range items {
		out[idx] = it.Clone()
	}
	return out
}

type Order struct {
	ID            string        `json:"id"`
	TableID       int           `json:"table_id"`
	Status        OrderStatus   `json:"status"`
	Payment       PaymentStatus `json:"payment_status"`
	Items         []OrderItem   `json:"items"`
	SubtotalCents int64         `json:"subtotal_cents"`
	DiscountCents int64         `json:"discount_cents"`
	ShippingCents int64         `json:"shipping_cents"`
	TotalCents    int64         `json:"total_cents"`
	ReceiptURL    string        `json:"receipt_url,omitempty"`
}

// Clone returns an independent deep copy. The synchronization controller
// keeps three copies of the order (working, baseline, server-seen) which must
// never alias the same item slice.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	out := *o
	out.Items = CloneItems(o.Items)
	return &out
}

// RecomputeTotals rebuilds the subtotal and total from the item lines.
// Discounts and shipping are server-computed and carried through as-is.
func (o *Order) RecomputeTotals() {
	var subtotal int64
	for _, it := range o.Items {
		if it.Status == ItemStatusCancelled {
			continue
		}
		subtotal += int64(it.Quantity) * it.UnitPriceCents
	}
	o.SubtotalCents = subtotal
	o.TotalCents = subtotal - o.DiscountCents + o.ShippingCents
}

type Product struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	PriceCents      int64    `json:"price_cents"`
	CategoryID      string   `json:"category_id"`
	DefaultExcluded []string `json:"default_excluded,omitempty"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Ingredient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UpdateOrderRequest is the full-replace persistence payload: the complete
// working item list plus the durable ids of lines removed since the base
// server state.
type UpdateOrderRequest struct {
	Items          []OrderItem `json:"items"`
	RemovedItemIDs []string    `json:"removed_item_ids,omitempty"`
}

const tempIDPrefix = "tmp-"

// NewTempID generates a client-side placeholder id for an item that has not
// been persisted yet. The server replaces it with a durable uuid on the first
// successful update.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// IsDurableID reports whether the id has the canonical server-assigned shape.
func IsDurableID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
