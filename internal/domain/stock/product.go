package stock

import (
	"sort"
	"time"
)

// Product is a sellable item with an on-hand stock level
type Product struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id" bson:"_id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name" bson:"name"`
	Category  string    `gorm:"type:varchar(100)" json:"category" bson:"category"`
	Stock     int       `gorm:"not null;default:0" json:"stock" bson:"stock"`
	MinStock  int       `gorm:"not null;default:0" json:"min_stock" bson:"min_stock"`
	Visible   bool      `gorm:"not null" json:"visible" bson:"visible"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// TableName returns the table name for GORM
func (Product) TableName() string {
	return "products"
}

// IsLowStock reports whether stock is at or below the minimum
func (p Product) IsLowStock() bool {
	return p.Stock <= p.MinStock
}

// LowStock returns the subset of products at or below their minimum, preserving order
func LowStock(products []Product) []Product {
	out := make([]Product, 0)
	for _, p := range products {
		if p.IsLowStock() {
			out = append(out, p)
		}
	}
	return out
}

// Clamp returns the stock level after applying delta, floored at zero
func Clamp(current, delta int) (next int, clamped bool) {
	next = current + delta
	if next < 0 {
		return 0, true
	}
	return next, false
}

// Adjustment reports the outcome of a stock change
type Adjustment struct {
	ProductID string `json:"product_id"`
	Previous  int    `json:"previous"`
	Requested int    `json:"requested"`
	Current   int    `json:"current"`
	Clamped   bool   `json:"clamped"`
}

// NewAdjustment computes the clamped adjustment of a product by delta
func NewAdjustment(productID string, current, delta int) Adjustment {
	next, clamped := Clamp(current, delta)
	return Adjustment{
		ProductID: productID,
		Previous:  current,
		Requested: delta,
		Current:   next,
		Clamped:   clamped,
	}
}

// SortByName orders products by name then id
func SortByName(products []Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
}
