package authority

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/posync/internal/pos"
)

// CatalogEntry is one product as written in a YAML catalog. Money is read
// as text so 8.50 keeps its exact value.
type CatalogEntry struct {
	ID          int64  `yaml:"id"`
	Code        string `yaml:"code"`
	EAN         string `yaml:"ean,omitempty"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	Cost        string `yaml:"cost,omitempty"`
	Stock       int64  `yaml:"stock"`
	MinStock    int64  `yaml:"min_stock,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
}

// Product converts the entry. Entries are active unless they say otherwise.
func (e CatalogEntry) Product() (pos.Product, error) {
	price, err := parseMoney(e.Price)
	if err != nil {
		return pos.Product{}, pos.Validationf("catalog", "product %q: price: %v", e.Code, err)
	}
	cost, err := parseMoney(e.Cost)
	if err != nil {
		return pos.Product{}, pos.Validationf("catalog", "product %q: cost: %v", e.Code, err)
	}
	p := pos.Product{
		ID:            e.ID,
		Code:          e.Code,
		EAN:           e.EAN,
		Description:   e.Description,
		Price:         price,
		Cost:          cost,
		StockQuantity: e.Stock,
		MinStock:      e.MinStock,
		Active:        e.Active == nil || *e.Active,
	}
	if err := p.Validate(); err != nil {
		return pos.Product{}, err
	}
	return p, nil
}

// Products converts every entry, stopping at the first invalid one.
func Products(entries []CatalogEntry) ([]pos.Product, error) {
	products := make([]pos.Product, 0, len(entries))
	for i, e := range entries {
		p, err := e.Product()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// LoadCatalogFile reads products from a YAML catalog:
//
//	products:
//	  - id: 1
//	    code: "123"
//	    description: Café Molido 500g
//	    price: 8.50
//	    stock: 10
func LoadCatalogFile(path string) ([]pos.Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc struct {
		Products []CatalogEntry `yaml:"products"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, pos.E(pos.KindValidation, "load catalog", fmt.Errorf("%s: %w", path, err))
	}
	products, err := Products(doc.Products)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return products, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return pos.RoundMoney(d), nil
}
