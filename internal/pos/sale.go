package pos

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how a sale was paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentOther    PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentOther:
		return true
	}
	return false
}

// SaleLine is one product line of a sale. Code, Description and UnitPrice
// are snapshots taken from the cache when the sale was created.
type SaleLine struct {
	ProductID   int64           `json:"product_id"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// NewSaleLine snapshots p into a line for qty units.
func NewSaleLine(p Product, qty int64) SaleLine {
	return SaleLine{
		ProductID:   p.ID,
		Code:        p.Code,
		Description: p.Description,
		Quantity:    qty,
		UnitPrice:   p.Price,
		LineTotal:   RoundMoney(p.Price.Mul(decimal.NewFromInt(qty))),
	}
}

// Sale is created exactly once at a terminal. After creation only Synced and
// ID change, once the authority accepts it.
type Sale struct {
	ID               int64           `json:"id,omitempty"`
	LocalID          string          `json:"local_id"`
	Lines            []SaleLine      `json:"lines"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	CreatedAt        time.Time       `json:"created_at"`
	OriginTerminalID string          `json:"origin_terminal_id"`
	Synced           bool            `json:"synced"`
}

// NewSale assembles a sale from lines and computes its totals.
func NewSale(localID, terminalID string, method PaymentMethod, lines []SaleLine, at time.Time) Sale {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return Sale{
		LocalID:          localID,
		Lines:            lines,
		Subtotal:         total,
		Total:            total,
		PaymentMethod:    method,
		CreatedAt:        at.UTC(),
		OriginTerminalID: terminalID,
	}
}

// Validate checks the arithmetic invariants of a sale.
func (s Sale) Validate() error {
	if s.LocalID == "" {
		return Validationf("sale", "sale has no local id")
	}
	if len(s.Lines) == 0 {
		return Validationf("sale", "sale %s has no lines", s.LocalID)
	}
	if !s.PaymentMethod.Valid() {
		return Validationf("sale", "sale %s: unknown payment method %q", s.LocalID, s.PaymentMethod)
	}
	sum := decimal.Zero
	for i, l := range s.Lines {
		if l.Quantity <= 0 {
			return Validationf("sale", "sale %s line %d: quantity must be positive", s.LocalID, i+1)
		}
		if l.UnitPrice.IsNegative() {
			return Validationf("sale", "sale %s line %d: negative unit price", s.LocalID, i+1)
		}
		want := RoundMoney(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
		if !l.LineTotal.Equal(want) {
			return Validationf("sale", "sale %s line %d: line total %s != %s", s.LocalID, i+1, l.LineTotal, want)
		}
		sum = sum.Add(l.LineTotal)
	}
	if !s.Total.Equal(sum) || !s.Subtotal.Equal(sum) {
		return Validationf("sale", "sale %s: total %s != sum of lines %s", s.LocalID, s.Total, sum)
	}
	return nil
}

// Units returns the total number of units sold per product id.
func (s Sale) Units() map[int64]int64 {
	units := make(map[int64]int64, len(s.Lines))
	for _, l := range s.Lines {
		units[l.ProductID] += l.Quantity
	}
	return units
}

func (s Sale) String() string {
	return fmt.Sprintf("sale %s: %d lines, total %s", s.LocalID, len(s.Lines), s.Total.StringFixed(MinorUnitPlaces))
}

// StockAdjustment is a manual stock correction recorded at a terminal.
type StockAdjustment struct {
	LocalID          string    `json:"local_id"`
	ProductID        int64     `json:"product_id"`
	Code             string    `json:"code"`
	Delta            int64     `json:"delta"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
	OriginTerminalID string    `json:"origin_terminal_id"`
}

// Validate rejects empty adjustments.
func (a StockAdjustment) Validate() error {
	if a.Delta == 0 {
		return Validationf("adjust", "adjustment for %q has zero delta", a.Code)
	}
	if a.LocalID == "" {
		return Validationf("adjust", "adjustment has no local id")
	}
	return nil
}
