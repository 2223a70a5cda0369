package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Candle 是回放使用的一根 K 线，时间为 Unix 毫秒。
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

func (c Candle) Time() time.Time { return time.UnixMilli(c.OpenTime).UTC() }

// CandleSource 统一不同数据源的加载行为；返回按时间升序排列的 K 线。
type CandleSource interface {
	Load(ctx context.Context, from time.Time) ([]Candle, error)
	Name() string
}

// CSVSource 读取带表头的 K 线 CSV：time/open/high/low/close[/volume]。
type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource { return &CSVSource{Path: path} }

func (s *CSVSource) Name() string { return "csv" }

// Load 读取整个文件；from 不做过滤，起点由回放任务决定，前面的数据用于指标预热。
func (s *CSVSource) Load(_ context.Context, _ time.Time) ([]Candle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCandlesCSV(f)
}

var csvColumns = map[string][]string{
	"time":   {"time", "open_time", "timestamp", "date", "datetime"},
	"open":   {"open", "o"},
	"high":   {"high", "h"},
	"low":    {"low", "l"},
	"close":  {"close", "c"},
	"volume": {"volume", "v", "vol"},
}

// ReadCandlesCSV 解析 K 线 CSV；以 # 开头的行视为注释。
func ReadCandlesCSV(r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("candles csv is empty")
		}
		return nil, err
	}
	idx := make(map[string]int, len(csvColumns))
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		for key, aliases := range csvColumns {
			if _, done := idx[key]; done {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					idx[key] = i
				}
			}
		}
	}
	for _, key := range []string{"time", "open", "high", "low", "close"} {
		if _, ok := idx[key]; !ok {
			return nil, fmt.Errorf("candles csv missing %q column", key)
		}
	}
	var out []Candle
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("candles csv line %d: %w", line, err)
		}
		field := func(key string) string {
			i, ok := idx[key]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		ts, err := parseCandleTime(field("time"))
		if err != nil {
			return nil, fmt.Errorf("candles csv line %d: %w", line, err)
		}
		c := Candle{OpenTime: ts}
		for _, p := range []struct {
			key  string
			dest *float64
		}{
			{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close}, {"volume", &c.Volume},
		} {
			raw := field(p.key)
			if raw == "" && p.key == "volume" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("candles csv line %d: %s: %w", line, p.key, err)
			}
			*p.dest = v
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("candles csv has no rows")
	}
	for i := 1; i < len(out); i++ {
		if out[i].OpenTime <= out[i-1].OpenTime {
			return nil, fmt.Errorf("candles csv not in ascending time order at row %d", i+1)
		}
	}
	return out, nil
}

var candleTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseCandleTime 支持 Unix 秒/毫秒与常见日期格式（UTC）。
func parseCandleTime(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty time")
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 1e11 {
			return n * 1000, nil
		}
		return n, nil
	}
	for _, layout := range candleTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", raw)
}
