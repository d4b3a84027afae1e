package format

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// zero-decimal currencies render without a fractional part.
var zeroDecimal = map[string]bool{
	"JPY": true,
}

// Price renders a major-unit amount with the currency symbol and locale grouping.
// Example: Price(199, "usd", "en") => "$199.00"
func Price(amount float64, currency, lang string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	p := message.NewPrinter(parseTag(lang))

	neg := amount < 0
	if neg {
		amount = -amount
	}

	var digits string
	if zeroDecimal[currency] {
		digits = p.Sprintf("%d", int64(math.Round(amount)))
	} else {
		digits = p.Sprintf("%.2f", amount)
	}

	out := digits
	if sym, ok := symbols[currency]; ok {
		out = sym + digits
	} else {
		out = currency + " " + digits
	}
	if neg {
		return "-" + out
	}
	return out
}

// Quantity renders a "× n" badge used on cart lines.
func Quantity(n int, lang string) string {
	return message.NewPrinter(parseTag(lang)).Sprintf("× %d", n)
}

func parseTag(lang string) language.Tag {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" {
		return language.AmericanEnglish
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.AmericanEnglish
	}
	return tag
}
