// Package pricing computes cart totals. It is a pure function of the line
// items and the applied discount: no storage access, no side effects, so it
// can run after every cart mutation and again at checkout time.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Item is a priced cart line for total calculation.
type Item struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Discount is the percentage-off rule snapshot applied to the cart.
type Discount struct {
	Percentage decimal.Decimal
	MaxAmount  decimal.Decimal
}

// Config holds the shipping fee policy.
type Config struct {
	// FlatShippingFee is charged when the net total is below the
	// free-shipping threshold.
	FlatShippingFee decimal.Decimal
	// FreeShippingThreshold is the net total at which shipping becomes free.
	FreeShippingThreshold decimal.Decimal
}

// Totals is the result of a cart pricing pass.
type Totals struct {
	Gross       decimal.Decimal
	Discount    decimal.Decimal
	Net         decimal.Decimal
	ShippingFee decimal.Decimal
}

// ComputeTotals prices the given items under the optional discount.
//
// Gross is the exact sum of unitPrice*quantity. The discount amount is
// min(gross*percentage/100, maxAmount), never negative and never exceeding
// gross. Net is gross minus discount, floored at zero and rounded to two
// decimal places (half-up at the minor unit). The flat shipping fee applies
// only to non-empty carts whose net total is below the threshold.
func ComputeTotals(items []Item, d *Discount, cfg Config) Totals {
	gross := decimal.Zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		gross = gross.Add(line)
	}

	discount := decimal.Zero
	if d != nil {
		discount = gross.Mul(d.Percentage).Div(hundred)
		discount = decimal.Min(discount, d.MaxAmount)
		if discount.IsNegative() {
			discount = decimal.Zero
		}
		discount = discount.Round(2)
	}

	net := gross.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	net = net.Round(2)

	fee := decimal.Zero
	if len(items) > 0 && net.LessThan(cfg.FreeShippingThreshold) {
		fee = cfg.FlatShippingFee
	}

	return Totals{
		Gross:       gross.Round(2),
		Discount:    discount,
		Net:         net,
		ShippingFee: fee,
	}
}
