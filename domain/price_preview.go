package domain

import "github.com/shopspring/decimal"

// Totals is the money breakdown shared by previews, sessions and orders.
type Totals struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
}

// Recalculate sets Total from the other components. The total never goes below zero.
func (t *Totals) Recalculate() {
	total := t.Subtotal.Add(t.Tax).Add(t.ShippingCost).Sub(t.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	t.Total = total
}

type PreviewLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// PricePreview is a non-authoritative price breakdown computed by the pricing service.
type PricePreview struct {
	Totals
	Currency string        `json:"currency,omitempty"`
	Items    []PreviewLine `json:"items"`
}

// Clone returns a deep copy so callers can adjust it without touching shared state.
func (p *PricePreview) Clone() *PricePreview {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = append([]PreviewLine(nil), p.Items...)
	return &c
}
