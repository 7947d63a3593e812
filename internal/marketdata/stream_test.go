package marketdata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCandleFromStrings(t *testing.T) {
	candle, err := candleFromStrings(1700000000000, "50000.10", "50100", "49900.5", "50050", "123.45")
	assert.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candle.Timestamp)
	assert.Equal(t, 50000.10, candle.Open)
	assert.Equal(t, 50100.0, candle.High)
	assert.Equal(t, 49900.5, candle.Low)
	assert.Equal(t, 50050.0, candle.Close)
	assert.Equal(t, 123.45, candle.Volume)
}

func TestCandleFromStrings_BadNumber(t *testing.T) {
	_, err := candleFromStrings(1700000000000, "not-a-price", "1", "1", "1", "1")
	assert.Error(t, err)
}

func TestKlineEventDecoding(t *testing.T) {
	payload := `{"s":"BTCUSDT","k":{"t":1700000000000,"o":"100","h":"110","l":"90","c":"105","v":"7","x":true}}`

	var event klineEvent
	assert.NoError(t, json.Unmarshal([]byte(payload), &event))
	assert.Equal(t, "BTCUSDT", event.Symbol)
	assert.True(t, event.Kline.Closed)
	assert.Equal(t, "105", event.Kline.Close)
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig([]string{"BTCUSDT", "ETHUSDT"}, "1h")
	assert.Equal(t, defaultStreamURL, cfg.URL)
	assert.Equal(t, "1h", cfg.Interval)
	assert.Len(t, cfg.Symbols, 2)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}
