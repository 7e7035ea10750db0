package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":       "BTCUSDT",
		" btc/usdt ":    "BTCUSDT",
		"eth-btc":       "ETHBTC",
		"BTC/USDT:USDT": "BTCUSDT",
		"btcfdusd":      "BTCFDUSD",
		"ABCXYZ":        "ABCXYZ",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestParse(t *testing.T) {
	assert.Equal(t, Symbol{Base: "BTC", Quote: "FDUSD"}, Parse("BTCFDUSD"))
	assert.Equal(t, "ETH/BTC", Parse("ethbtc").Pair())
	assert.Equal(t, Symbol{}, Parse("USDT"))
}

func TestNormalizeListDedupes(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, NormalizeList([]string{"btc/usdt", "BTCUSDT", " ", "eth_usdt"}))
	assert.Nil(t, NormalizeList(nil))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("btc/usdt"))
	assert.False(t, IsValid("BTC USDT"))
	assert.False(t, IsValid("x"))
	assert.False(t, IsValid("BTC;DROP"))
}
