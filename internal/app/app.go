package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sweeper/internal/config"
	"sweeper/internal/logger"
	"sweeper/internal/replay"
	"sweeper/internal/scheduler"
	"sweeper/internal/sweep"
	sweephttp "sweeper/internal/transport/http/sweep"

	"golang.org/x/sync/errgroup"
)

const replayStepInterval = 100 * time.Millisecond

// App 负责应用级编排：加载配置→初始化依赖→启动控制接口、编排 tick 与回放引擎。
type App struct {
	watcher *config.Watcher
	cfgMu   sync.Mutex
	cfg     *config.Config
	engine  *replay.Engine
	orch    *sweep.Orchestrator
	http    *sweephttp.Server
	closers []func() error
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(watcher *config.Watcher, opts ...AppBuilderOption) (*App, error) {
	if watcher == nil || watcher.Current() == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := watcher.Current()
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableRecent(cfg.Log.MaxLines)
	return NewAppBuilder(watcher, opts...).Build()
}

// Run 启动 HTTP 服务、tick 调度与回放引擎，阻塞直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.orch == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	st := a.orch.Recover(ctx)
	if st.Active() {
		logger.Infof("[app] 恢复扫描 %s (%s)：阶段=%s 进度=%d/%d", st.ID, st.Identity, st.Phase, st.ComboIndex, st.Total())
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("sweep http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.engine.Run(ctx, replayStepInterval)
	})
	group.Go(func() error {
		ticker := scheduler.NewTickScheduler(ctx, "sweep", a.currentConfig().App.TickInterval)
		ticker.RunImmediately = true
		ticker.Start(func(ctx context.Context) {
			a.orch.Tick(ctx)
		})
		return nil
	})
	return group.Wait()
}

// Close 释放存储句柄，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("[app] 关闭资源失败: %v", err)
		}
	}
	a.closers = nil
}

func (a *App) currentConfig() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// Orchestrator 暴露编排器（供命令行与测试使用）。
func (a *App) Orchestrator() *sweep.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orch
}

// Engine 暴露回放引擎。
func (a *App) Engine() *replay.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// applyConfig 在配置热更新后刷新日志设置与数据源；参数空间只在下一次 Start 生效。
func (a *App) applyConfig(snap config.Snapshot) {
	cfg := snap.Config
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableRecent(cfg.Log.MaxLines)
	a.cfgMu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.cfgMu.Unlock()
	if cfg.Replay != prev.Replay {
		source, err := NewCandleSource(cfg.Replay)
		if err != nil {
			logger.Warnf("[app] 配置 v%d 的数据源无效，沿用旧数据源: %v", snap.Version, err)
		} else {
			a.engine.SetSource(source)
			logger.Infof("[app] 配置 v%d 已切换数据源: %s", snap.Version, source.Name())
		}
	}
	if cfg.App.TickInterval != prev.App.TickInterval || cfg.App.HTTPAddr != prev.App.HTTPAddr {
		logger.Warnf("[app] tick_interval/http_addr 变更需要重启后生效")
	}
	if cfg.Storage != prev.Storage || cfg.Results != prev.Results {
		logger.Warnf("[app] storage/results 变更需要重启后生效")
	}
}
