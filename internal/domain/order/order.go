package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultStatus is assigned to feed rows whose status cell is absent or empty
const DefaultStatus = "Pending"

// FirstDataRow is the feed row index of the first order; row 1 holds the header
const FirstDataRow = 2

// Record is one order row read from the external order feed.
// RowIndex is only a valid identity for the fetch that produced it.
type Record struct {
	RowIndex     int             `json:"row_index"`
	Origin       string          `json:"origin"`
	CustomerName string          `json:"customer_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	RawQuantity  string          `json:"raw_quantity"`
	RawPrice     string          `json:"raw_price"`
	OrderDate    string          `json:"order_date"`
	Status       string          `json:"status"`
}

// LineTotal returns price multiplied by quantity
func (r Record) LineTotal() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// IsFulfilled reports whether the record's status counts as fulfilled
func (r Record) IsFulfilled() bool {
	return IsFulfilledStatus(r.Status)
}

var fulfilledStatuses = map[string]struct{}{
	"delivered": {},
	"completed": {},
	"fulfilled": {},
	"shipped":   {},
}

// IsFulfilledStatus reports whether status marks goods as having left stock
func IsFulfilledStatus(status string) bool {
	_, ok := fulfilledStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// NormalizeStatus trims the status and substitutes DefaultStatus for empty values
func NormalizeStatus(status string) string {
	s := strings.TrimSpace(status)
	if s == "" {
		return DefaultStatus
	}
	return s
}

// ParseQuantity extracts an integer quantity from free text.
// Only ASCII digits are kept; anything without digits yields 0.
func ParseQuantity(raw string) int {
	n := 0
	seen := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			continue
		}
		seen = true
		// saturate instead of overflowing on absurd input
		if n > (maxQuantity-int(c-'0'))/10 {
			return maxQuantity
		}
		n = n*10 + int(c-'0')
	}
	if !seen {
		return 0
	}
	return n
}

const maxQuantity = 1<<31 - 1

// ParsePrice extracts a decimal price from free text such as "PKR 1,200" or "Rs. 99.50".
// Digits are kept along with the first '.' that follows a digit. Unparseable input yields zero.
func ParsePrice(raw string) decimal.Decimal {
	var b strings.Builder
	sawDigit := false
	sawDot := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
			sawDigit = true
		case c == '.' && sawDigit && !sawDot:
			b.WriteByte(c)
			sawDot = true
		}
	}
	s := strings.TrimSuffix(b.String(), ".")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
