package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sweeper/internal/sweep"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
replay:
  candles_path: data/btc.csv
sweep:
  identity: ema
  params:
    - slot: 1
      name: fast
      min: 5
      max: 15
      step: 5
      type: int
    - slot: 3
      min: 1.5
      max: 1.5
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, time.Second, cfg.App.TickInterval)
	assert.Equal(t, 2*time.Second, cfg.Sweep.ResumeInterval)
	assert.Equal(t, 0, cfg.Sweep.MaxResumeAttempts)
	assert.Equal(t, sweep.DefaultMaxCombinations, cfg.Sweep.MaxCombinations)
	assert.Equal(t, float64(50), cfg.Replay.Speed)
	assert.Equal(t, "csv", cfg.Replay.Source)
	assert.Equal(t, "results", cfg.Results.Root)
	assert.True(t, cfg.Results.Chart)
	assert.False(t, cfg.Results.TradeCSV)
	assert.Equal(t, 20, cfg.Log.MaxLines)
	require.Len(t, cfg.Sweep.Params, 2)
	assert.Equal(t, "float", cfg.Sweep.Params[1].Type)
}

func TestLoadExplicitFalseKeepsValue(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig+`
results:
  chart: false
app:
  tick_interval: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Results.Chart)
	assert.Equal(t, 250*time.Millisecond, cfg.App.TickInterval)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", minimalConfig+`
app:
  http_addr: ":8000"
  log_level: debug
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  http_addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "ema", cfg.Sweep.Identity)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
	assert.Contains(t, err.Error(), "b.yaml -> ")
}

func TestLoadIncludeForms(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", minimalConfig)
	path := writeFile(t, dir, "config.yaml", "include: base.yaml\napp:\n  env: prod\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "ema", cfg.Sweep.Identity)

	// a diamond include is merged once
	writeFile(t, dir, "left.yaml", "include: [base.yaml]\napp:\n  log_level: debug\n")
	writeFile(t, dir, "right.yaml", "include: [base.yaml]\n")
	path = writeFile(t, dir, "diamond.yaml", "include: [left.yaml, right.yaml, \"\"]\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)

	path = writeFile(t, dir, "bad.yaml", "include: [1]\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include[0] must be a path")

	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig+`
app:
  http_addr: ":8000"
`)
	t.Setenv("SWEEPER_APP_HTTP_ADDR", ":7000")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.App.HTTPAddr)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown source", "replay:\n  source: ftp\n", "replay.source"},
		{"csv without path", "replay:\n  source: csv\n", "candles_path"},
		{"bad type", "replay:\n  candles_path: x.csv\nsweep:\n  params:\n    - {slot: 1, type: text}\n", "sweep.params[0].type"},
		{"duplicate slot", "replay:\n  candles_path: x.csv\nsweep:\n  params:\n    - {slot: 1}\n    - {slot: 1}\n", "duplicates slot 1"},
		{"negative attempts", "replay:\n  candles_path: x.csv\nsweep:\n  max_resume_attempts: -1\n", "max_resume_attempts"},
		{"negative combination cap", "replay:\n  candles_path: x.csv\nsweep:\n  max_combinations: -1\n", "max_combinations"},
		{"duplicate name", "replay:\n  candles_path: x.csv\nsweep:\n  params:\n    - {slot: 1, name: fast}\n    - {slot: 2, name: fast}\n", `name "fast" duplicates`},
		{"binance bad symbol", "replay:\n  source: binance\n  symbol: XYZ\n  interval: 1h\n", "replay.symbol"},
		{"binance bad interval", "replay:\n  source: binance\n  symbol: BTC/USDT\n  interval: 7x\n", "replay.interval"},
		{"time without date", "replay:\n  candles_path: x.csv\n  start_time: \"10:00\"\n", "start_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfigPlan(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
replay:
  candles_path: data/btc.csv
  speed: 120
  start_date: "2024-06-01"
  start_time: "08:30"
  clear_existing_trades: true
sweep:
  identity: ema
  max_resume_attempts: 3
  resume_interval: 5s
  max_combinations: 2
  params:
    - {slot: 1, name: fast, min: 5, max: 15, step: 5, type: int}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	plan, err := cfg.Plan()
	require.NoError(t, err)

	assert.Equal(t, "ema", plan.Identity)
	assert.Equal(t, "results", plan.ResultsRoot)
	assert.Equal(t, sweep.Policy{MaxResumeAttempts: 3, ResumeInterval: 5 * time.Second}, plan.Policy)
	assert.Equal(t, float64(120), plan.Launch.Speed)
	assert.True(t, plan.Launch.ClearExisting)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC), plan.Launch.StartAt)
	require.Len(t, plan.Space, 1)
	assert.Equal(t, sweep.Axis{Slot: 1, Name: "fast", Min: 5, Max: 15, Step: 5, Kind: sweep.KindInteger}, plan.Space[0])
	assert.Equal(t, 3, sweep.Cardinality(plan.Space))
	assert.Equal(t, 2, plan.MaxCombinations)
	assert.ErrorIs(t, plan.CheckSpace(), sweep.ErrConfiguration)
}

func TestWriteTemplateLoadsBack(t *testing.T) {
	slots := []SlotInfo{
		{Slot: 1, Name: "fast_period", Type: "int", Default: 12, Min: 2, Max: 50, Step: 1, Help: "fast EMA length"},
		{Slot: 5, Name: "allow_short", Type: "bool", Default: 1, Min: 0, Max: 1, Step: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf, slots))
	out := buf.String()
	assert.Contains(t, out, "# sweeper config")
	assert.Contains(t, out, "# fast EMA length; suggested range 2..50 step 1")
	assert.Contains(t, out, "name: allow_short")

	path := writeFile(t, t.TempDir(), "config.yaml", out)
	cfg, err := Load(path)
	require.NoError(t, err)
	plan, err := cfg.Plan()
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Cardinality(plan.Space))
	assert.Equal(t, float64(12), plan.Space[0].Min)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimalConfig)
	w, err := NewWatcher(path, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Snapshot().Version)

	plan, err := w.SweepPlan()
	require.NoError(t, err)
	assert.Equal(t, "ema", plan.Identity)

	changed := make(chan Snapshot, 4)
	w.OnChange(func(s Snapshot) { changed <- s })
	writeFile(t, dir, "config.yaml", minimalConfig+"  max_resume_attempts: 7\n")

	select {
	case snap := <-changed:
		assert.GreaterOrEqual(t, snap.Version, int64(2))
		assert.Equal(t, 7, snap.Config.Sweep.MaxResumeAttempts)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	// invalid edits keep the previous config
	require.NoError(t, os.WriteFile(path, []byte("replay:\n  source: ftp\n"), 0o644))
	assert.Error(t, w.Reload())
	assert.Equal(t, 7, w.Current().Sweep.MaxResumeAttempts)
}
