// Package format renders storefront values for display.
package format

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/posterparlor/storefront/internal/domain"
)

var (
	printerOnce sync.Once
	printer     *message.Printer
)

func inPrinter() *message.Printer {
	printerOnce.Do(func() {
		printer = message.NewPrinter(language.MustParse("en-IN"))
	})
	return printer
}

// Number groups digits the way Indian prices are printed.
func Number(v int64) string {
	return inPrinter().Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
}

// Price renders an amount in rupees, for example ₹1,499.
func Price(amount domain.Money) string {
	if amount < 0 {
		return "-₹" + Number(-amount)
	}
	return "₹" + Number(amount)
}

// Paise renders a gateway amount in paise as rupees with up to two fraction digits.
func Paise(amount int64) string {
	return "₹" + inPrinter().Sprint(number.Decimal(float64(amount)/100, number.MinFractionDigits(0), number.MaxFractionDigits(2)))
}

// OrderID shortens a backend order id to the form shown to customers.
func OrderID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return "#" + strings.ToUpper(id)
}

// Date renders an order timestamp in the storefront's display format.
func Date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2 Jan 2006")
}
