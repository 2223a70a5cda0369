package config

import (
	"strings"
	"time"

	"sweeper/internal/sweep"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultAppTickInterval   = time.Second
	defaultSweepIdentity     = "sweep"
	defaultResumeInterval    = 2 * time.Second
	defaultMaxCombinations   = sweep.DefaultMaxCombinations
	defaultReplaySpeed       = 50
	defaultReplayMode        = "calculate"
	defaultReplaySource      = "csv"
	defaultReplaySymbol      = "BTCUSDT"
	defaultReplayInterval    = "1h"
	defaultReplayLimit       = 1000
	defaultReplayRESTURL     = "https://fapi.binance.com"
	defaultReplayRequestRate = 5
	defaultReplayStrategy    = "ema_cross"
	defaultResultsRoot       = "results"
	defaultStatePath         = "data/sweep_state.db"
	defaultLedgerPath        = "data/sweep_ledger.db"
	defaultLogMaxLines       = 20
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Sweep.applyDefaults(keys)
	c.Replay.applyDefaults(keys)
	c.Results.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Log.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		durationFieldDefault("app.tick_interval", &a.TickInterval, defaultAppTickInterval),
	)
}

func (s *SweepConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sweep.identity", &s.Identity, defaultSweepIdentity),
		durationFieldDefault("sweep.resume_interval", &s.ResumeInterval, defaultResumeInterval),
		fieldDefault{
			key:   "sweep.max_combinations",
			need:  func() bool { return s.MaxCombinations == 0 },
			apply: func() { s.MaxCombinations = defaultMaxCombinations },
		},
	)
	for i := range s.Params {
		p := &s.Params[i]
		if strings.TrimSpace(p.Type) == "" {
			p.Type = "float"
		}
	}
}

func (r *ReplayConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "replay.speed",
			need:  func() bool { return r.Speed <= 0 },
			apply: func() { r.Speed = defaultReplaySpeed },
		},
		stringFieldDefault("replay.mode", &r.Mode, defaultReplayMode),
		stringFieldDefault("replay.source", &r.Source, defaultReplaySource),
		stringFieldDefault("replay.symbol", &r.Symbol, defaultReplaySymbol),
		stringFieldDefault("replay.interval", &r.Interval, defaultReplayInterval),
		fieldDefault{
			key:   "replay.limit",
			need:  func() bool { return r.Limit <= 0 },
			apply: func() { r.Limit = defaultReplayLimit },
		},
		stringFieldDefault("replay.binance_rest_url", &r.BinanceRESTURL, defaultReplayRESTURL),
		fieldDefault{
			key:   "replay.requests_per_second",
			need:  func() bool { return r.RequestsPerSec <= 0 },
			apply: func() { r.RequestsPerSec = defaultReplayRequestRate },
		},
		stringFieldDefault("replay.strategy", &r.Strategy, defaultReplayStrategy),
	)
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
}

func (r *ResultsConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("results.root", &r.Root, defaultResultsRoot),
		boolFieldDefault("results.chart", &r.Chart, true),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.state_path", &s.StatePath, defaultStatePath),
		stringFieldDefault("storage.ledger_path", &s.LedgerPath, defaultLedgerPath),
	)
}

func (l *LogConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "log.max_lines",
			need:  func() bool { return l.MaxLines <= 0 },
			apply: func() { l.MaxLines = defaultLogMaxLines },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
