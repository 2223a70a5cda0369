package replay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sweeper/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCandlesCSV(t *testing.T) {
	input := `# exported from exchange
Timestamp,Open,High,Low,Close
1704067200,100,101,99,100.5
2024-01-01 01:00,100.5,102,100,101.75
2024-01-01T02:00:00Z,101.75,103,101,102
`
	candles, err := ReadCandlesCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, int64(1704067200000), candles[0].OpenTime)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), candles[1].Time())
	assert.Equal(t, 101.75, candles[1].Close)
	assert.Equal(t, 0.0, candles[2].Volume)
}

func TestReadCandlesCSVErrors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"missing close":  "time,open,high,low\n1,1,1,1\n",
		"bad number":     "time,open,high,low,close\n1,1,1,1,x\n",
		"no rows":        "time,open,high,low,close\n",
		"unordered rows": "time,open,high,low,close\n2,1,1,1,1\n1,1,1,1,1\n",
		"bad time":       "time,open,high,low,close\nyesterday,1,1,1,1\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCandlesCSV(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestCSVSourceLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte("open_time,o,h,l,c,v\n1704067200000,1,2,0.5,1.5,10\n"), 0o644))
	src := NewCSVSource(path)
	candles, err := src.Load(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 10.0, candles[0].Volume)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv")).Load(context.Background(), time.Time{})
	assert.Error(t, err)
}

func klineRow(openTime int64, px float64) string {
	return fmt.Sprintf(`[%d,"%g","%g","%g","%g","12.5",%d,"100",3,"1","1","0"]`,
		openTime, px, px+1, px-1, px, openTime+3599999)
}

func TestBinanceSourceRejectsBadInterval(t *testing.T) {
	_, err := NewBinanceSource(BinanceConfig{Symbol: "BTCUSDT", Interval: "7x"})
	assert.Error(t, err)
	_, err = NewBinanceSource(BinanceConfig{Interval: "1h"})
	assert.Error(t, err)
}

func TestBinanceSourceLoadLatest(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := int64(time.Hour / time.Millisecond)
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		rows := []string{klineRow(base, 100), klineRow(base+hour, 101), klineRow(base+2*hour, 102)}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "["+strings.Join(rows, ",")+"]")
	}))
	defer srv.Close()

	src, err := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, Symbol: "btc/usdt", Interval: "1H", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, "binance", src.Name())
	candles, err := src.Load(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, base, candles[0].OpenTime)
	assert.Equal(t, 102.0, candles[2].Close)
	assert.Equal(t, 103.0, candles[2].High)
	assert.Equal(t, 12.5, candles[2].Volume)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "interval=1h")
	assert.Contains(t, queries[0], "limit=3")
}

func TestBinanceSourceBreakerFailsFast(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"internal"}`)
	}))
	defer srv.Close()

	src, err := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, Symbol: "ETHUSDT", Interval: "1h", Limit: 10, RequestsPerSec: 1000})
	require.NoError(t, err)
	for i := 0; i < binanceBreakerFailures; i++ {
		_, err = src.Load(context.Background(), time.Time{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuit.ErrOpen)
	}
	_, err = src.Load(context.Background(), time.Time{})
	assert.ErrorIs(t, err, circuit.ErrOpen)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, binanceBreakerFailures, calls)
}

func TestDropUnclosed(t *testing.T) {
	now := time.Date(2024, 1, 1, 2, 30, 0, 0, time.UTC)
	candles := []Candle{
		{OpenTime: now.Add(-150 * time.Minute).UnixMilli()},
		{OpenTime: now.Add(-90 * time.Minute).UnixMilli()},
		{OpenTime: now.Add(-30 * time.Minute).UnixMilli()},
	}
	assert.Len(t, dropUnclosed(candles, time.Hour, now), 2)
	assert.Len(t, dropUnclosed(candles[:2], time.Hour, now), 2)
	assert.Len(t, dropUnclosed(candles, 0, now), 3)
}
