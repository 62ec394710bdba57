package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseForms(t *testing.T) {
	cases := map[string]Symbol{
		"EUR/USD":       {Base: "EUR", Quote: "USD"},
		"eur_usd":       {Base: "EUR", Quote: "USD"},
		"EURUSD":        {Base: "EUR", Quote: "USD"},
		"BTCUSDT":       {Base: "BTC", Quote: "USDT"},
		"BTC/USDT:USDT": {Base: "BTC", Quote: "USDT"},
		"":              {},
		"XYZ":           {},
	}
	for in, want := range cases {
		assert.Equal(t, want, Parse(in), in)
	}
}

func TestConverters(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Binance.ToExchange("btc/usdt"))
	assert.Equal(t, "EUR_USD", OANDA.ToExchange("EURUSD"))
	assert.Equal(t, "USD_JPY", OANDA.ToExchange("USD/JPY"))
	assert.Equal(t, "EUR/USD", OANDA.FromExchange("EUR_USD"))
	assert.Equal(t, "BTC/USDT", Binance.FromExchange("BTCUSDT"))
}

func TestPipSize(t *testing.T) {
	assert.Equal(t, 0.0001, Parse("EUR_USD").PipSize())
	assert.Equal(t, 0.01, Parse("USD_JPY").PipSize())
	assert.Equal(t, 0.01, Parse("BTCUSDT").PipSize())
}

func TestNormalizeListDedupes(t *testing.T) {
	got := NormalizeList([]string{"EUR_USD", "eur/usd", " ", "weird"})
	assert.Equal(t, []string{"EUR/USD", "WEIRD"}, got)
}
