package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sweeper/internal/logger"
	"sweeper/internal/sweep"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Snapshot 是某一时刻生效的配置。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Config   *Config
}

// ChangeListener 在配置重载成功后触发。
type ChangeListener func(Snapshot)

// Watcher 监听配置文件变更；运行中的扫描使用其状态里冻结的参数空间，新配置只影响下一次 Start。
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

var _ sweep.ConfigSource = (*Watcher)(nil)

// NewWatcher 读取配置；watch 为 true 时监听主配置文件。
func NewWatcher(path string, watch bool) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	w := &Watcher{path: path}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	if !watch {
		return w, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		if err := w.Reload(); err != nil {
			logger.Warnf("[config] 重新加载失败，继续使用 v%d: %v", w.Snapshot().Version, err)
			return
		}
		w.notifyListeners()
	})
	v.WatchConfig()
	w.v = v
	return w, nil
}

// Reload 重新读取配置文件；失败时保留旧配置。
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.snapshot = Snapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Config:   cfg,
	}
	version := w.snapshot.Version
	w.mu.Unlock()
	logger.Infof("[config] 已加载 %s (v%d, %d 个参数)", filepath.Base(w.path), version, len(cfg.Sweep.Params))
	return nil
}

func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

func (w *Watcher) Current() *Config {
	return w.Snapshot().Config
}

func (w *Watcher) Path() string { return w.path }

func (w *Watcher) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// SweepPlan 实现 sweep.ConfigSource。
func (w *Watcher) SweepPlan() (sweep.Plan, error) {
	cfg := w.Current()
	if cfg == nil {
		return sweep.Plan{}, sweep.ConfigurationError("config.plan", fmt.Errorf("config not loaded"))
	}
	return cfg.Plan()
}

func (w *Watcher) notifyListeners() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[config] listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
