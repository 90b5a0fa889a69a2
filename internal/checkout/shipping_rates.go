package checkout

import (
	"sort"

	"github.com/shopspring/decimal"
)

var shippingRates = map[string]decimal.Decimal{
	"standard":  decimal.RequireFromString("5.99"),
	"express":   decimal.RequireFromString("14.99"),
	"overnight": decimal.RequireFromString("29.99"),
	"pickup":    decimal.Zero,
}

// ShippingRate is the flat price shown before the pricing service answers.
func ShippingRate(method string) (decimal.Decimal, bool) {
	rate, ok := shippingRates[method]
	return rate, ok
}

func ShippingMethods() []string {
	methods := make([]string, 0, len(shippingRates))
	for m := range shippingRates {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
