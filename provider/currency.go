package provider

import (
	"strings"

	"github.com/emreis/sanalpos/entity"
)

// numericCurrencyCodes is the ISO-4217 numeric table
var numericCurrencyCodes = map[entity.Currency]string{
	entity.CurrencyTRY: "949",
	entity.CurrencyUSD: "840",
	entity.CurrencyEUR: "978",
	entity.CurrencyGBP: "826",
}

// alphaCurrencyCodes is the POSNET alpha table
var alphaCurrencyCodes = map[entity.Currency]string{
	entity.CurrencyTRY: "TL",
	entity.CurrencyUSD: "US",
	entity.CurrencyEUR: "EU",
	entity.CurrencyGBP: "PU",
}

// NumericCurrencyCode returns the ISO-4217 numeric code for c
func NumericCurrencyCode(c entity.Currency) string {
	return numericCurrencyCodes[c]
}

// AlphaCurrencyCode returns the POSNET alpha code for c
func AlphaCurrencyCode(c entity.Currency) string {
	return alphaCurrencyCodes[c]
}

// BrandCode returns the VPOS brand code for a card brand
func BrandCode(brand string) string {
	switch strings.ToLower(brand) {
	case "visa":
		return "100"
	case "mastercard", "master_card":
		return "200"
	case "amex", "american_express":
		return "300"
	}
	return ""
}
