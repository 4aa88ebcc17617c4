package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SpreadPercentage is the platform margin applied on top of the base exchange rate
const SpreadPercentage = 0.10

var one = decimal.NewFromInt(1)

// Conversion describes a single amount converted between USD and a local currency.
// Spread is the absolute margin added to the base rate, so FinalRate = BaseRate + Spread.
type Conversion struct {
	From      Code            `json:"from"`
	To        Code            `json:"to"`
	Original  decimal.Decimal `json:"originalAmount"`
	Converted decimal.Decimal `json:"convertedAmount"`
	BaseRate  decimal.Decimal `json:"baseRate"`
	Spread    decimal.Decimal `json:"spread"`
	FinalRate decimal.Decimal `json:"finalRate"`
}

// Converter converts amounts through USD using a currency table and a fixed spread
type Converter struct {
	table  *Table
	spread decimal.Decimal
}

// NewConverter creates a converter. spread is a fraction (0.10 for 10%).
func NewConverter(table *Table, spread decimal.Decimal) (*Converter, error) {
	if table == nil {
		return nil, fmt.Errorf("currency table is required")
	}
	if spread.IsNegative() {
		return nil, fmt.Errorf("spread must not be negative, got %s", spread)
	}
	return &Converter{table: table, spread: spread}, nil
}

// DefaultConverter uses the built-in table and SpreadPercentage
func DefaultConverter() *Converter {
	return &Converter{
		table:  DefaultTable(),
		spread: decimal.NewFromFloat(SpreadPercentage),
	}
}

// Table returns the underlying currency table
func (c *Converter) Table() *Table {
	return c.table
}

// SpreadFraction returns the configured spread
func (c *Converter) SpreadFraction() decimal.Decimal {
	return c.spread
}

func (c *Converter) rates(code Code) (base, spread, final decimal.Decimal, err error) {
	cur, err := c.table.Lookup(code)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	base = cur.ExchangeRate
	spread = base.Mul(c.spread)
	return base, spread, base.Add(spread), nil
}

// ConvertFromUSD converts a USD amount into target at base rate plus spread
func (c *Converter) ConvertFromUSD(usd decimal.Decimal, target Code) (Conversion, error) {
	if usd.IsNegative() {
		return Conversion{}, ErrNegativeAmount
	}
	base, spread, final, err := c.rates(target)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		From:      USD,
		To:        target,
		Original:  usd,
		Converted: usd.Mul(final),
		BaseRate:  base,
		Spread:    spread,
		FinalRate: final,
	}, nil
}

// ConvertToUSD converts a local amount back into USD using the same final rate,
// so ConvertToUSD(ConvertFromUSD(x)) returns x.
func (c *Converter) ConvertToUSD(local decimal.Decimal, source Code) (Conversion, error) {
	if local.IsNegative() {
		return Conversion{}, ErrNegativeAmount
	}
	base, spread, final, err := c.rates(source)
	if err != nil {
		return Conversion{}, err
	}

	// the exact quotient never has more places than local itself
	places := int32(decimal.DivisionPrecision)
	if scale := -local.Exponent(); scale > places {
		places = scale
	}
	return Conversion{
		From:      source,
		To:        USD,
		Original:  local,
		Converted: local.DivRound(final, places),
		BaseRate:  base,
		Spread:    spread,
		FinalRate: final,
	}, nil
}

// Rate returns how many units of to one unit of from buys.
// Pairs without USD are routed through USD.
func (c *Converter) Rate(from, to Code) (decimal.Decimal, error) {
	_, _, fromFinal, err := c.rates(from)
	if err != nil {
		return decimal.Zero, err
	}
	_, _, toFinal, err := c.rates(to)
	if err != nil {
		return decimal.Zero, err
	}

	switch {
	case from == to:
		return one, nil
	case from == USD:
		return toFinal, nil
	case to == USD:
		return one.Div(fromFinal), nil
	}
	return toFinal.Div(fromFinal), nil
}

// Convert converts between any two currencies by way of USD
func (c *Converter) Convert(amount decimal.Decimal, from, to Code) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if from == to {
		if !c.table.Supports(from) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
		}
		return amount, nil
	}

	usd := amount
	if from != USD {
		back, err := c.ConvertToUSD(amount, from)
		if err != nil {
			return decimal.Zero, err
		}
		usd = back.Converted
	}
	if to == USD {
		return usd, nil
	}

	fwd, err := c.ConvertFromUSD(usd, to)
	if err != nil {
		return decimal.Zero, err
	}
	return fwd.Converted, nil
}

// SpreadAmount is the platform margin, in target currency, earned on a USD amount
func (c *Converter) SpreadAmount(usd decimal.Decimal, target Code) (decimal.Decimal, error) {
	if usd.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	_, spread, _, err := c.rates(target)
	if err != nil {
		return decimal.Zero, err
	}
	return usd.Mul(spread), nil
}

// Format renders amount with the currency symbol and two decimals
func (c *Converter) Format(amount decimal.Decimal, code Code) (string, error) {
	cur, err := c.table.Lookup(code)
	if err != nil {
		return "", err
	}
	return cur.Symbol + amount.StringFixed(2), nil
}
