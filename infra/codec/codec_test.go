package codec

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormURLEncode(t *testing.T) {
	got := FormURLEncode([]FormPair{
		{"b", "2"},
		{"a", "1 2"},
		{"c", "x&y"},
	})
	assert.Equal(t, "b=2&a=1+2&c=x%26y", got, "order must be preserved")
}

func TestMarshalXMLDeclaration(t *testing.T) {
	type req struct {
		XMLName xml.Name `xml:"GVPSRequest"`
		Mode    string   `xml:"Mode"`
		Version string   `xml:"Version"`
	}

	out, err := MarshalXML(req{Mode: "PROD", Version: "512"}, "ISO-8859-9")
	require.NoError(t, err)
	assert.Equal(t, `<?xml version="1.0" encoding="ISO-8859-9"?><GVPSRequest><Mode>PROD</Mode><Version>512</Version></GVPSRequest>`, out)
}

func TestPKIString(t *testing.T) {
	got := PKIString([]PKIPair{
		{"locale", "tr"},
		{"price", "1.0"},
		{"empty", ""},
		{"paymentCard", []PKIPair{
			{"cardHolderName", "John Doe"},
			{"cardNumber", "5528790000000008"},
		}},
		{"basketItems", [][]PKIPair{
			{{"id", "BI101"}},
			{{"id", "BI102"}},
		}},
	})
	want := "[locale=tr,price=1.0,paymentCard=[cardHolderName=John Doe,cardNumber=5528790000000008],basketItems=[[id=BI101], [id=BI102]]]"
	assert.Equal(t, want, got)
}

func TestMaskPAN(t *testing.T) {
	assert.Equal(t, "4282 20** **** 8016", MaskPAN("4282209004348016"))
	assert.Equal(t, "4282 20** **** 8016", MaskPAN("4282 2090 0434 8016"))
	assert.Equal(t, "12345", MaskPAN("12345"), "short inputs are returned digit-only")
}

func TestBIN(t *testing.T) {
	assert.Equal(t, 42822090, BIN("4282209004348016"))
	assert.Equal(t, 0, BIN("1234"))
}

func TestAmountFormats(t *testing.T) {
	assert.Equal(t, "150.00", FormatAmount2(150))
	assert.Equal(t, "150.25", FormatAmount2(150.25))
	assert.Equal(t, "15000", FormatAmountCents(150.00))
	assert.Equal(t, "15025", FormatAmountCents(150.25))
	assert.Equal(t, "1", FormatAmountCents(0.01))
}

func TestExpiry(t *testing.T) {
	m, y, err := ParseExpiry("03/28")
	require.NoError(t, err)
	assert.Equal(t, "03", m)
	assert.Equal(t, "28", y)

	yymm, err := ExpiryYYMM("03/28")
	require.NoError(t, err)
	assert.Equal(t, "2803", yymm)

	yyyymm, err := ExpiryYYYYMM("03/28")
	require.NoError(t, err)
	assert.Equal(t, "202803", yyyymm)

	_, _, err = ParseExpiry("13/28")
	assert.Error(t, err)
	_, _, err = ParseExpiry("0328")
	assert.Error(t, err)
}

func TestInstallmentFormats(t *testing.T) {
	assert.Equal(t, "00", InstallmentTwoDigit(0))
	assert.Equal(t, "00", InstallmentTwoDigit(1))
	assert.Equal(t, "06", InstallmentTwoDigit(6))
	assert.Equal(t, "12", InstallmentTwoDigit(12))

	assert.Equal(t, "", InstallmentOrEmpty(1))
	assert.Equal(t, "3", InstallmentOrEmpty(3))
}

func TestPadOrderID(t *testing.T) {
	assert.Equal(t, "00000000000000000042", PadOrderID("42", 20))
	assert.Equal(t, "12345678901234567890", PadOrderID("x12345678901234567890", 20))
}
