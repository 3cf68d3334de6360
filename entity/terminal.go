package entity

import (
	"strings"
	"time"
)

// Currency is one of the currencies a terminal can acquire in
type Currency string

const (
	CurrencyTRY Currency = "try"
	CurrencyEUR Currency = "eur"
	CurrencyUSD Currency = "usd"
	CurrencyGBP Currency = "gbp"
)

// ValidCurrency reports whether c is a known currency
func ValidCurrency(c Currency) bool {
	switch c {
	case CurrencyTRY, CurrencyEUR, CurrencyUSD, CurrencyGBP:
		return true
	}
	return false
}

// BankCode identifies an acquiring bank
type BankCode string

const (
	BankGaranti    BankCode = "garanti"
	BankAkbank     BankCode = "akbank"
	BankIsbank     BankCode = "isbank"
	BankYKB        BankCode = "ykb"
	BankVakifbank  BankCode = "vakifbank"
	BankHalkbank   BankCode = "halkbank"
	BankZiraat     BankCode = "ziraat"
	BankQNB        BankCode = "qnb"
	BankTEB        BankCode = "teb"
	BankING        BankCode = "ing"
	BankSekerbank  BankCode = "sekerbank"
	BankDenizbank  BankCode = "denizbank"
	BankKuveytturk BankCode = "kuveytturk"
	BankIyzico     BankCode = "iyzico"
	BankPayTR      BankCode = "paytr"
	BankSigmapay   BankCode = "sigmapay"
)

// Provider tags name the protocol adapter a terminal speaks
const (
	ProviderGaranti    = "garanti"
	ProviderAkbank     = "akbank"
	ProviderYKB        = "ykb"
	ProviderVakifbank  = "vakifbank"
	ProviderPayten     = "payten"
	ProviderQNB        = "qnb"
	ProviderDenizbank  = "denizbank"
	ProviderKuveytturk = "kuveytturk"
	ProviderPayTR      = "paytr"
	ProviderIyzico     = "iyzico"
	ProviderSigmapay   = "sigmapay"
)

// Credentials binds a terminal to the acquirer's merchant account. Password,
// SecretKey and Extra are stored encrypted; the iv:ciphertext separator marks
// a value as already encrypted.
type Credentials struct {
	MerchantID string `bson:"merchantId" json:"merchantId"`
	TerminalID string `bson:"terminalId" json:"terminalId"`
	Username   string `bson:"username" json:"username"`
	Password   string `bson:"password" json:"-"`
	SecretKey  string `bson:"secretKey" json:"-"`
	Extra      string `bson:"extra,omitempty" json:"-"`
}

// DecryptedCredentials is the per-call clear view of terminal credentials.
// It is derived on demand and never written back.
type DecryptedCredentials struct {
	MerchantID string
	TerminalID string
	Username   string
	Password   string
	SecretKey  string
	StoreKey   string
	Extra      string
}

// ThreeDConfig is the 3-D Secure policy of a terminal. StoreKey is stored
// encrypted. AcceptedMDStatuses overrides the adapter's default accepted set
// where an acquirer tolerates half-secure statuses.
type ThreeDConfig struct {
	Enabled            bool     `bson:"enabled" json:"enabled"`
	Required           bool     `bson:"required" json:"required"`
	StoreKey           string   `bson:"storeKey,omitempty" json:"-"`
	AcceptedMDStatuses []string `bson:"acceptedMdStatuses,omitempty" json:"acceptedMdStatuses,omitempty"`
}

// InstallmentCampaign maps a card family or BIN prefix to a rate override
type InstallmentCampaign struct {
	CardFamily string             `bson:"cardFamily,omitempty" json:"cardFamily,omitempty"`
	BinPrefix  string             `bson:"binPrefix,omitempty" json:"binPrefix,omitempty"`
	Rates      map[string]float64 `bson:"rates,omitempty" json:"rates,omitempty"`
}

// InstallmentConfig is the terminal's installment policy
type InstallmentConfig struct {
	Enabled   bool                  `bson:"enabled" json:"enabled"`
	MinCount  int                   `bson:"minCount" json:"minCount"`
	MaxCount  int                   `bson:"maxCount" json:"maxCount"`
	MinAmount float64               `bson:"minAmount" json:"minAmount"`
	Rates     map[string]float64    `bson:"rates,omitempty" json:"rates,omitempty"`
	Campaigns []InstallmentCampaign `bson:"campaigns,omitempty" json:"campaigns,omitempty"`
}

// CommissionPeriod is a time-indexed commission rate table
type CommissionPeriod struct {
	From  time.Time          `bson:"from" json:"from"`
	To    time.Time          `bson:"to" json:"to"`
	Rates map[string]float64 `bson:"rates" json:"rates"`
}

// Limits bounds single transactions on a terminal
type Limits struct {
	MinAmount float64 `bson:"minAmount,omitempty" json:"minAmount,omitempty"`
	MaxAmount float64 `bson:"maxAmount,omitempty" json:"maxAmount,omitempty"`
}

// Terminal binds one merchant company to one acquirer at one bank
type Terminal struct {
	ID                    string             `bson:"_id" json:"id"`
	Company               string             `bson:"company" json:"company"`
	Name                  string             `bson:"name" json:"name"`
	BankCode              BankCode           `bson:"bankCode" json:"bankCode"`
	Provider              string             `bson:"provider" json:"provider"`
	Currencies            []Currency         `bson:"currencies" json:"currencies"`
	DefaultForCurrencies  []Currency         `bson:"defaultForCurrencies,omitempty" json:"defaultForCurrencies,omitempty"`
	Priority              int                `bson:"priority" json:"priority"`
	Status                bool               `bson:"status" json:"status"`
	TestMode              bool               `bson:"testMode" json:"testMode"`
	Credentials           Credentials        `bson:"credentials" json:"credentials"`
	ThreeD                ThreeDConfig       `bson:"threeD" json:"threeD"`
	Installment           InstallmentConfig  `bson:"installment" json:"installment"`
	Commissions           []CommissionPeriod `bson:"commissions,omitempty" json:"commissions,omitempty"`
	Limits                Limits             `bson:"limits,omitempty" json:"limits,omitempty"`
	SupportedCardFamilies []string           `bson:"supportedCardFamilies,omitempty" json:"supportedCardFamilies,omitempty"`
	CreatedAt             time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// SupportsCurrency reports whether the terminal acquires in c
func (t *Terminal) SupportsCurrency(c Currency) bool {
	for _, cur := range t.Currencies {
		if cur == c {
			return true
		}
	}
	return false
}

// DefaultFor reports whether the terminal is the company default for c
func (t *Terminal) DefaultFor(c Currency) bool {
	for _, cur := range t.DefaultForCurrencies {
		if cur == c {
			return true
		}
	}
	return false
}

// SupportsCardFamily matches family against the terminal's supported card
// families case-insensitively.
func (t *Terminal) SupportsCardFamily(family string) bool {
	for _, f := range t.SupportedCardFamilies {
		if strings.EqualFold(f, family) {
			return true
		}
	}
	return false
}
