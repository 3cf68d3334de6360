package codec

import (
	"encoding/xml"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/emreis/sanalpos/infra/apperr"
)

// FormPair is a single form field. Order matters for acquirers that hash the
// encoded body, so form bodies are built from slices rather than maps.
type FormPair struct {
	Key   string
	Value string
}

// FormURLEncode encodes pairs preserving their order
func FormURLEncode(pairs []FormPair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// MarshalXML marshals v and prepends an XML declaration with the given
// encoding. Field order follows the struct definition, which is part of the
// wire contract for the bank validators.
func MarshalXML(v any, encoding string) (string, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("xml marshal: %w", err)
	}
	decl := fmt.Sprintf("<?xml version=\"1.0\" encoding=\"%s\"?>", encoding)
	return decl + string(body), nil
}

// UnmarshalXML parses data into v
func UnmarshalXML(data []byte, v any) error {
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("xml parse: %w", err)
	}
	return nil
}

// PKIPair is an ordered key/value used to build iyzico PKI strings
type PKIPair struct {
	Key   string
	Value any
}

// PKIString serializes pairs into the iyzico PKI form: [k=v,k=[..],k=[a, b]].
// Nested objects join with "," and arrays with ", "; empty values are skipped.
func PKIString(pairs []PKIPair) string {
	var parts []string
	for _, p := range pairs {
		v := pkiValue(p.Value)
		if v == "" {
			continue
		}
		parts = append(parts, p.Key+"="+v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func pkiValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case []PKIPair:
		if len(val) == 0 {
			return ""
		}
		return PKIString(val)
	case []string:
		if len(val) == 0 {
			return ""
		}
		return "[" + strings.Join(val, ", ") + "]"
	case [][]PKIPair:
		if len(val) == 0 {
			return ""
		}
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, PKIString(item))
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// MaskPAN renders a card number as "1234 56** **** 7890": first six and last
// four digits kept, the rest starred, grouped by four.
func MaskPAN(pan string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, pan)
	if len(digits) < 10 {
		return digits
	}

	masked := make([]byte, len(digits))
	for i := range digits {
		if i < 6 || i >= len(digits)-4 {
			masked[i] = digits[i]
		} else {
			masked[i] = '*'
		}
	}

	var b strings.Builder
	for i, c := range masked {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// BIN returns the leading eight digits of pan as a number, or zero when the
// pan is too short.
func BIN(pan string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, pan)
	if len(digits) < 8 {
		return 0
	}
	n, _ := strconv.Atoi(digits[:8])
	return n
}

// FormatAmount2 renders amount with two decimals: 150 -> "150.00"
func FormatAmount2(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// FormatAmountCents renders amount as a minor-unit integer: 150.00 -> "15000"
func FormatAmountCents(amount float64) string {
	return strconv.FormatInt(int64(math.Round(amount*100)), 10)
}

// ParseExpiry splits an "MM/YY" expiry into its components
func ParseExpiry(expiry string) (month, year string, err error) {
	parts := strings.Split(strings.TrimSpace(expiry), "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return "", "", apperr.New(apperr.KindValidation, "expiry must be MM/YY")
	}
	m, convErr := strconv.Atoi(parts[0])
	if convErr != nil || m < 1 || m > 12 {
		return "", "", apperr.New(apperr.KindValidation, "invalid expiry month")
	}
	if _, convErr = strconv.Atoi(parts[1]); convErr != nil {
		return "", "", apperr.New(apperr.KindValidation, "invalid expiry year")
	}
	return parts[0], parts[1], nil
}

// ExpiryYYMM renders an "MM/YY" expiry as "YYMM"
func ExpiryYYMM(expiry string) (string, error) {
	m, y, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}
	return y + m, nil
}

// ExpiryYYYYMM renders an "MM/YY" expiry as "20YYMM"
func ExpiryYYYYMM(expiry string) (string, error) {
	m, y, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}
	return "20" + y + m, nil
}

// InstallmentTwoDigit renders an installment count as two digits, with "00"
// standing for single payment.
func InstallmentTwoDigit(count int) string {
	if count <= 1 {
		return "00"
	}
	return fmt.Sprintf("%02d", count)
}

// InstallmentOrEmpty renders an installment count as a numeric string, empty
// when single payment.
func InstallmentOrEmpty(count int) string {
	if count <= 1 {
		return ""
	}
	return strconv.Itoa(count)
}

// PadOrderID left-pads an order id with zeroes to the given width
func PadOrderID(orderID string, width int) string {
	if len(orderID) >= width {
		return orderID[len(orderID)-width:]
	}
	return strings.Repeat("0", width-len(orderID)) + orderID
}
