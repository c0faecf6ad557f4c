package billing

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// zeroDecimalCurrencies are charged in whole units by the processor.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// MinorToMajor converts a processor amount in minor units to a decimal.
func MinorToMajor(amount int64, currencyCode string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currencyCode)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

// FormatAmount renders amount with the currency symbol and locale digit grouping.
func FormatAmount(amount decimal.Decimal, currencyCode, locale string) string {
	tag := parseLocale(locale)
	printer := message.NewPrinter(tag)

	var number string
	if zeroDecimalCurrencies[strings.ToLower(currencyCode)] {
		value, _ := amount.Round(0).Float64()
		number = printer.Sprintf("%.0f", value)
	} else {
		value, _ := amount.Round(2).Float64()
		number = printer.Sprintf("%.2f", value)
	}

	unit, err := currency.ParseISO(strings.ToUpper(currencyCode))
	if err != nil {
		return number + " " + strings.ToUpper(currencyCode)
	}
	return printer.Sprint(currency.NarrowSymbol(unit)) + number
}

func parseLocale(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	return tags[0]
}

// BaseLocale returns the language subtag used to key plan translations.
func BaseLocale(locale string) string {
	base, _ := parseLocale(locale).Base()
	return base.String()
}
