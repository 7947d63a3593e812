package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/ledunk1/bot/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBinanceBaseURL = "https://fapi.binance.com"
	maxKlinesPerRequest   = 1000
)

// BinanceClient fetches futures klines from the Binance REST API,
// paginating transparently and throttling requests through a shared
// rate limiter.
type BinanceClient struct {
	logger  *zap.Logger
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// BinanceConfig configures the REST client.
type BinanceConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// DefaultBinanceConfig returns conservative defaults that stay well
// under the public API rate limits.
func DefaultBinanceConfig() BinanceConfig {
	return BinanceConfig{
		BaseURL:           defaultBinanceBaseURL,
		RequestsPerSecond: 5,
		Timeout:           15 * time.Second,
	}
}

// NewBinanceClient creates a Binance futures market data client.
func NewBinanceClient(logger *zap.Logger, config BinanceConfig) *BinanceClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultBinanceBaseURL
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &BinanceClient{
		logger:  logger,
		baseURL: config.BaseURL,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}
}

// Fetch retrieves the full candle series for the date range, batching
// requests of up to 1000 klines each.
func (c *BinanceClient) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.Candle, error) {
	startMs := start.UnixMilli()
	endMs := end.UnixMilli()

	candles := make([]types.Candle, 0)
	current := startMs

	for current < endMs {
		batch, err := c.fetchBatch(ctx, symbol, interval, current, endMs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
		}
		if len(batch) == 0 {
			break
		}

		candles = append(candles, batch...)
		current = batch[len(batch)-1].Timestamp.UnixMilli() + 1

		if len(batch) < maxKlinesPerRequest {
			break
		}
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	c.logger.Debug("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("candles", len(candles)),
	)

	return candles, nil
}

func (c *BinanceClient) fetchBatch(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]types.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(maxKlinesPerRequest))

	reqURL := fmt.Sprintf("%s/fapi/v1/klines?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Each kline is a mixed array: open time, then OHLCV as strings.
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines response: %w", err)
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candle, err := parseKline(k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline converts one raw kline row. Prices arrive as decimal
// strings; they are parsed exactly before the float conversion.
func parseKline(k []json.RawMessage) (types.Candle, error) {
	var openTime int64
	if err := json.Unmarshal(k[0], &openTime); err != nil {
		return types.Candle{}, fmt.Errorf("invalid kline open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 0; i < 5; i++ {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return types.Candle{}, fmt.Errorf("invalid kline field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return types.Candle{}, fmt.Errorf("invalid kline value %q: %w", s, err)
		}
		fields[i] = d.InexactFloat64()
	}

	return types.Candle{
		Timestamp: time.UnixMilli(openTime).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

// Symbols returns all actively trading USDT perpetual symbols, sorted
// alphabetically.
func (c *BinanceClient) Symbols(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/fapi/v1/exchangeInfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var info struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
			QuoteAsset   string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode exchange info: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" && s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" {
			symbols = append(symbols, s.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}
