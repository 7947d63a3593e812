// Package marketdata fetches and caches OHLCV candle series for
// crypto futures symbols.
package marketdata

import (
	"context"
	"time"

	"github.com/ledunk1/bot/pkg/types"
)

// Source fetches an ordered candle series for one symbol. The caller
// treats a fetch as atomic and retries the whole call on failure;
// pagination is the source's own concern.
type Source interface {
	Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.Candle, error)
}

// SymbolLister enumerates tradable futures symbols.
type SymbolLister interface {
	Symbols(ctx context.Context) ([]string, error)
}
