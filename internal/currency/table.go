package currency

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Code is an ISO-like currency code
type Code string

const (
	USD Code = "USD"
	INR Code = "INR"
	MYR Code = "MYR"
	NGN Code = "NGN"
	MXN Code = "MXN"
	BRL Code = "BRL"
	KES Code = "KES"
	IDR Code = "IDR"
	GHS Code = "GHS"
	ZAR Code = "ZAR"
	EGP Code = "EGP"
)

func (c Code) String() string {
	return string(c)
}

// Currency is an immutable row of the currency table.
// ExchangeRate is the number of local units one USD buys before the spread.
type Currency struct {
	Code         Code            `json:"code"`
	Name         string          `json:"name"`
	Symbol       string          `json:"symbol"`
	Flag         string          `json:"flag"`
	Country      string          `json:"country"`
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
}

// Table is the read-only set of supported currencies
type Table struct {
	byCode map[Code]Currency
	order  []Code
}

var defaultCurrencies = []Currency{
	{Code: USD, Name: "US Dollar", Symbol: "$", Flag: "🇺🇸", Country: "United States", ExchangeRate: decimal.NewFromInt(1)},
	{Code: INR, Name: "Indian Rupee", Symbol: "₹", Flag: "🇮🇳", Country: "India", ExchangeRate: decimal.RequireFromString("83.5")},
	{Code: MYR, Name: "Malaysian Ringgit", Symbol: "RM", Flag: "🇲🇾", Country: "Malaysia", ExchangeRate: decimal.RequireFromString("4.7")},
	{Code: NGN, Name: "Nigerian Naira", Symbol: "₦", Flag: "🇳🇬", Country: "Nigeria", ExchangeRate: decimal.NewFromInt(1600)},
	{Code: MXN, Name: "Mexican Peso", Symbol: "$", Flag: "🇲🇽", Country: "Mexico", ExchangeRate: decimal.RequireFromString("18.2")},
	{Code: BRL, Name: "Brazilian Real", Symbol: "R$", Flag: "🇧🇷", Country: "Brazil", ExchangeRate: decimal.RequireFromString("5.1")},
	{Code: KES, Name: "Kenyan Shilling", Symbol: "KSh", Flag: "🇰🇪", Country: "Kenya", ExchangeRate: decimal.NewFromInt(150)},
	{Code: IDR, Name: "Indonesian Rupiah", Symbol: "Rp", Flag: "🇮🇩", Country: "Indonesia", ExchangeRate: decimal.NewFromInt(15500)},
	{Code: GHS, Name: "Ghanaian Cedi", Symbol: "₵", Flag: "🇬🇭", Country: "Ghana", ExchangeRate: decimal.NewFromInt(12)},
	{Code: ZAR, Name: "South African Rand", Symbol: "R", Flag: "🇿🇦", Country: "South Africa", ExchangeRate: decimal.NewFromInt(18)},
	{Code: EGP, Name: "Egyptian Pound", Symbol: "E£", Flag: "🇪🇬", Country: "Egypt", ExchangeRate: decimal.NewFromInt(31)},
}

// DefaultTable returns the built-in currency table
func DefaultTable() *Table {
	t, err := NewTable(defaultCurrencies)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates the rows and builds a table preserving their order.
// USD must be present with a rate of exactly 1 and every rate must be positive.
func NewTable(currencies []Currency) (*Table, error) {
	t := &Table{
		byCode: make(map[Code]Currency, len(currencies)),
		order:  make([]Code, 0, len(currencies)),
	}

	for _, c := range currencies {
		c.Code = Code(strings.ToUpper(strings.TrimSpace(string(c.Code))))
		if c.Code == "" {
			return nil, fmt.Errorf("%w: empty currency code", ErrInvalidTable)
		}
		if _, dup := t.byCode[c.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidTable, c.Code)
		}
		if !c.ExchangeRate.IsPositive() {
			return nil, fmt.Errorf("%w: rate for %s must be positive", ErrInvalidTable, c.Code)
		}
		t.byCode[c.Code] = c
		t.order = append(t.order, c.Code)
	}

	usd, ok := t.byCode[USD]
	if !ok {
		return nil, fmt.Errorf("%w: USD is missing", ErrInvalidTable)
	}
	if !usd.ExchangeRate.Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: USD rate must be 1, got %s", ErrInvalidTable, usd.ExchangeRate)
	}

	return t, nil
}

type tableRow struct {
	Code         string `yaml:"code"`
	Name         string `yaml:"name"`
	Symbol       string `yaml:"symbol"`
	Flag         string `yaml:"flag,omitempty"`
	Country      string `yaml:"country"`
	ExchangeRate string `yaml:"exchange_rate"`
}

type tableFile struct {
	Currencies []tableRow `yaml:"currencies"`
}

// LoadTable reads a YAML currency table from path
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read currency table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML currency table.
// Rates are read as strings so they keep their exact decimal value.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse currency table: %w", err)
	}

	rows := make([]Currency, 0, len(file.Currencies))
	for _, row := range file.Currencies {
		rate, err := decimal.NewFromString(row.ExchangeRate)
		if err != nil {
			return nil, fmt.Errorf("%w: bad rate %q for %s", ErrInvalidTable, row.ExchangeRate, row.Code)
		}
		rows = append(rows, Currency{
			Code:         Code(row.Code),
			Name:         row.Name,
			Symbol:       row.Symbol,
			Flag:         row.Flag,
			Country:      row.Country,
			ExchangeRate: rate,
		})
	}

	return NewTable(rows)
}

// EncodeYAML encodes the table in the format ParseTable reads
func (t *Table) EncodeYAML() ([]byte, error) {
	file := tableFile{Currencies: make([]tableRow, 0, len(t.order))}
	for _, c := range t.List() {
		file.Currencies = append(file.Currencies, tableRow{
			Code:         string(c.Code),
			Name:         c.Name,
			Symbol:       c.Symbol,
			Flag:         c.Flag,
			Country:      c.Country,
			ExchangeRate: c.ExchangeRate.String(),
		})
	}
	return yaml.Marshal(file)
}

// Lookup returns the row for code
func (t *Table) Lookup(code Code) (Currency, error) {
	c, ok := t.byCode[code]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// Supports reports whether code is in the table
func (t *Table) Supports(code Code) bool {
	_, ok := t.byCode[code]
	return ok
}

// ParseCode normalizes user input and checks it against the table
func (t *Table) ParseCode(s string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Supports(code) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
	}
	return code, nil
}

// List returns the currencies in table order
func (t *Table) List() []Currency {
	out := make([]Currency, 0, len(t.order))
	for _, code := range t.order {
		out = append(out, t.byCode[code])
	}
	return out
}
