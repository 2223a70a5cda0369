package result

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sweeper/internal/sweep"

	"github.com/tidwall/gjson"
)

// Artifact 是单个组合的结果文件。metrics 与 trades 按外部系统给出的原文保存。
type Artifact struct {
	Identity      string            `json:"identity"`
	SweepID       string            `json:"sweepId"`
	Index         int               `json:"index"`
	Combination   sweep.Assignment  `json:"combination"`
	JobParameters JobParameters     `json:"jobParameters"`
	Metrics       json.RawMessage   `json:"metrics"`
	Trades        []json.RawMessage `json:"trades"`
	CollectedAt   time.Time         `json:"collectedAt"`
}

// JobParameters 描述产生该结果的任务。
type JobParameters struct {
	Identity string           `json:"identity"`
	SweepID  string           `json:"sweepId"`
	Index    int              `json:"index"`
	Launch   sweep.LaunchSpec `json:"launch"`
	Inputs   []sweep.Param    `json:"inputs"`
}

// ArtifactName 返回结果文件名，序号补零使字典序等于枚举顺序。
func ArtifactName(identity string, index int) string {
	return fmt.Sprintf("%s-%05d.json", sweep.SafeName(identity), index)
}

// Collector 从 MetricsSource 读取统计并写出结果文件。
type Collector struct {
	sink     sweep.PersistenceSink
	metrics  sweep.MetricsSource
	tradeCSV bool
	now      func() time.Time
}

type CollectorOption func(*Collector)

// WithTradeCSV 额外为每个结果写一份成交明细 CSV。
func WithTradeCSV(enabled bool) CollectorOption {
	return func(c *Collector) { c.tradeCSV = enabled }
}

func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCollector(sink sweep.PersistenceSink, metrics sweep.MetricsSource, opts ...CollectorOption) *Collector {
	c := &Collector{sink: sink, metrics: metrics, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect 写出一个组合的结果文件，同一序号重复调用会覆盖。
func (c *Collector) Collect(ctx context.Context, in sweep.HarvestInput) (string, error) {
	metrics, err := c.metrics.Metrics(ctx)
	if err != nil {
		return "", sweep.ExternalJobError("read metrics", err)
	}
	metrics = bytes.TrimSpace(metrics)
	if len(metrics) == 0 {
		metrics = json.RawMessage("{}")
	}
	if !json.Valid(metrics) {
		return "", sweep.ExternalJobError("read metrics", fmt.Errorf("metrics is not valid json"))
	}
	trades, err := c.metrics.TradeRecords(ctx)
	if err != nil {
		return "", sweep.ExternalJobError("read trades", err)
	}
	cleaned := make([]json.RawMessage, 0, len(trades))
	for i, rec := range trades {
		rec = bytes.TrimSpace(rec)
		if !json.Valid(rec) {
			return "", sweep.ExternalJobError("read trades", fmt.Errorf("trade record %d is not valid json", i))
		}
		cleaned = append(cleaned, rec)
	}

	art := Artifact{
		Identity:    in.Identity,
		SweepID:     in.SweepID,
		Index:       in.Index,
		Combination: in.Assignment,
		JobParameters: JobParameters{
			Identity: in.Identity,
			SweepID:  in.SweepID,
			Index:    in.Index,
			Launch:   in.Launch,
			Inputs:   in.Assignment,
		},
		Metrics:     metrics,
		Trades:      cleaned,
		CollectedAt: c.now().UTC(),
	}
	payload, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", sweep.PersistenceError("encode artifact", err)
	}
	path := filepath.Join(in.Dir, ArtifactName(in.Identity, in.Index))
	if err := c.sink.Write(ctx, path, payload); err != nil {
		return "", sweep.PersistenceError("write artifact", err)
	}
	if c.tradeCSV {
		csvPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".csv"
		if err := c.sink.Write(ctx, csvPath, tradesCSV(cleaned)); err != nil {
			return path, sweep.PersistenceError("write trades csv", err)
		}
	}
	return path, nil
}

// tradesCSV 以首次出现的字段顺序作为表头展开成交记录。
func tradesCSV(trades []json.RawMessage) []byte {
	var header []string
	seen := make(map[string]bool)
	for _, rec := range trades {
		gjson.ParseBytes(rec).ForEach(func(key, _ gjson.Result) bool {
			if !seen[key.String()] {
				seen[key.String()] = true
				header = append(header, key.String())
			}
			return true
		})
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, rec := range trades {
		values := make(map[string]string, len(header))
		gjson.ParseBytes(rec).ForEach(func(key, value gjson.Result) bool {
			values[key.String()] = value.String()
			return true
		})
		row := make([]string, len(header))
		for i, key := range header {
			row[i] = values[key]
		}
		_ = w.Write(row)
	}
	w.Flush()
	return buf.Bytes()
}
