package pos

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of fractional digits kept for money.
const MinorUnitPlaces = 2

// Product is one catalog entry as mirrored from the authority.
type Product struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	EAN           string          `json:"ean,omitempty"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Cost          decimal.Decimal `json:"cost"`
	StockQuantity int64           `json:"stock_quantity"`
	MinStock      int64           `json:"min_stock"`
	Active        bool            `json:"active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks the catalog invariants before a product is written.
func (p Product) Validate() error {
	switch {
	case p.ID <= 0:
		return Validationf("product", "product %q: id must be positive", p.Code)
	case strings.TrimSpace(p.Code) == "":
		return Validationf("product", "product %d: code is required", p.ID)
	case p.Price.IsNegative():
		return Validationf("product", "product %q: price must be >= 0", p.Code)
	case p.Cost.IsNegative():
		return Validationf("product", "product %q: cost must be >= 0", p.Code)
	case p.StockQuantity < 0:
		return Validationf("product", "product %q: stock must be >= 0", p.Code)
	}
	return nil
}

// LowStock reports whether stock is at or below the configured minimum.
func (p Product) LowStock() bool {
	return p.StockQuantity <= p.MinStock
}

func (p Product) String() string {
	return fmt.Sprintf("%s %s @ %s (stock %d)", p.Code, p.Description, p.Price.StringFixed(MinorUnitPlaces), p.StockQuantity)
}

// RoundMoney rounds an amount to the currency minor unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}
