package qnb

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestHashGolden(t *testing.T) {
	callback := "https://pay.example.com/payment/tx-1/callback"
	got := requestHash("ORDER42", "150.00", callback, callback, "0", "0.12345678 1234567890", "merchantpass")
	assert.Equal(t, "TkqzCd9hivleBn+ah0xSInAhcwg=", got)
}

func TestMicrotimeRndShape(t *testing.T) {
	// the gateway validated the historical PHP microtime output:
	// "<fractional>.<8 digits> <unix seconds>"
	pattern := regexp.MustCompile(`^0\.\d{8} \d{10}$`)
	for i := 0; i < 10; i++ {
		rnd := microtimeRnd()
		assert.True(t, pattern.MatchString(rnd), "unexpected rnd shape: %s", rnd)
	}
}

func TestInstallmentCode(t *testing.T) {
	assert.Equal(t, "0", installmentCode(0))
	assert.Equal(t, "0", installmentCode(1))
	assert.Equal(t, "6", installmentCode(6))
}

func TestParseSemicolonPairs(t *testing.T) {
	body := "OrderId=ORDER42;;ProcReturnCode=00;;AuthCode=A1;;ErrMsg=;;HostRefNum=R9"
	got := ParseSemicolonPairs(body)

	assert.Equal(t, "ORDER42", got["OrderId"])
	assert.Equal(t, "00", got["ProcReturnCode"])
	assert.Equal(t, "A1", got["AuthCode"])
	assert.Equal(t, "", got["ErrMsg"])
	assert.Equal(t, "R9", got["HostRefNum"])
}

func TestParseSemicolonPairsEmpty(t *testing.T) {
	assert.Empty(t, ParseSemicolonPairs(""))
	assert.Empty(t, ParseSemicolonPairs("  \n"))
}
