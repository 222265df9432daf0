package enums

// Currency is the ISO currency code carried on monetary amounts.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// IsValid reports whether the value is a supported Currency.
func (c Currency) IsValid() bool {
	return c == CurrencyUSD || c == CurrencyEUR
}
