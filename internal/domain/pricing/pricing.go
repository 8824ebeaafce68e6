package pricing

import "github.com/shopspring/decimal"

// 注文金額の計算（副作用なし）。
// 送料は itemsPrice が閾値以上なら無料。

var (
	DefaultTaxRate               = decimal.RequireFromString("0.10")
	DefaultFreeShippingThreshold = decimal.NewFromInt(100)
	DefaultFlatShippingFee       = decimal.NewFromInt(10)
)

// 通貨の小数桁
const currencyPlaces = 2

type Policy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		TaxRate:               DefaultTaxRate,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
	}
}

// 単価 × 数量
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int64
}

type Totals struct {
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

func (p Policy) Calculate(lines []Line) Totals {
	items := decimal.Zero
	for _, l := range lines {
		items = items.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
	}
	items = items.Round(currencyPlaces)

	tax := items.Mul(p.TaxRate).Round(currencyPlaces)

	shipping := p.FlatShippingFee
	if items.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Totals{
		ItemsPrice:    items,
		TaxPrice:      tax,
		ShippingPrice: shipping,
		TotalPrice:    items.Add(tax).Add(shipping),
	}
}
