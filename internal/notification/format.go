package notification

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount with its ISO currency code and digit grouping,
// for example "ZMW 1,250.00".
func FormatAmount(amount decimal.Decimal, code string) string {
	if unit, err := currency.ParseISO(code); err == nil {
		code = unit.String()
	}
	f, _ := amount.Round(2).Float64()
	return printer.Sprintf("%s %.2f", code, f)
}
