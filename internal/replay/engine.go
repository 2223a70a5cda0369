package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"sweeper/internal/logger"
	"sweeper/internal/sweep"

	"github.com/google/uuid"
)

type jobState int

const (
	jobPaused jobState = iota
	jobRunning
	jobStopped
)

type job struct {
	id       string
	spec     sweep.LaunchSpec
	params   Params
	strategy *emaCross
	cursor   int
	end      int
	speed    int
	state    jobState
	finished bool
	metrics  Metrics
}

// Engine 是本地回放引擎：加载 K 线，按槽位参数运行 EMA 交叉策略，并输出统计报告。
// 新任务以暂停状态创建，需要 ResumeJob 才开始推进；Step 每次推进 speed 根 K 线。
type Engine struct {
	mu      sync.Mutex
	source  CandleSource
	values  map[int]float64
	candles []Candle
	current *job
	last    *job
	// pending 是最近一次启动失败的任务，ResumeJob 会先重试启动它。
	pending *sweep.LaunchSpec
}

var (
	_ sweep.ReplayController = (*Engine)(nil)
	_ sweep.ParameterPort    = (*Engine)(nil)
	_ sweep.MetricsSource    = (*Engine)(nil)
)

var errNoJob = errors.New("no replay job")

func NewEngine(source CandleSource) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("candle source 不能为空")
	}
	return &Engine{source: source, values: make(map[int]float64)}, nil
}

// SetValue 写入槽位值；目录外的槽位返回错误。新值在下一次 StartJob 生效。
func (e *Engine) SetValue(_ context.Context, slot int, value float64, kind sweep.Kind) error {
	s, ok := lookupSlot(slot)
	if !ok {
		return fmt.Errorf("slot %d is not exposed by the strategy", slot)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("slot %d: non-finite value", slot)
	}
	if kind != s.Kind {
		logger.Debugf("[replay] slot %d (%s) 声明类型 %s，按 %s 处理", slot, s.Name, kind, s.Kind)
	}
	e.mu.Lock()
	e.values[slot] = s.Kind.Normalize(value)
	e.mu.Unlock()
	return nil
}

// Values 返回当前槽位取值（含默认值）。
func (e *Engine) Values() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return paramsFromValues(e.values)
}

func (e *Engine) StartJob(ctx context.Context, spec sweep.LaunchSpec) error {
	err := e.startJob(ctx, spec)
	e.mu.Lock()
	if err != nil {
		e.pending = &spec
	} else {
		e.pending = nil
	}
	e.mu.Unlock()
	return err
}

func (e *Engine) startJob(ctx context.Context, spec sweep.LaunchSpec) error {
	candles, err := e.ensureCandles(ctx, spec.StartAt)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params := paramsFromValues(e.values)
	if err := params.validate(len(candles)); err != nil {
		return err
	}
	begin := 0
	if !spec.StartAt.IsZero() {
		begin = -1
		at := spec.StartAt.UnixMilli()
		for i, c := range candles {
			if c.OpenTime >= at {
				begin = i
				break
			}
		}
		if begin < 0 {
			return fmt.Errorf("no candles at or after %s", spec.StartAt.Format(time.RFC3339))
		}
	}
	if e.current != nil && !e.current.finished {
		logger.Warnf("[replay] 任务 %s 未完成即被新任务替换", e.current.id)
	}
	if spec.ClearExisting {
		e.last = nil
	}
	speed := int(math.Round(spec.Speed))
	if speed < 1 {
		speed = 1
	}
	j := &job{
		id:       uuid.NewString(),
		spec:     spec,
		params:   params,
		strategy: newEMACross(params, candles),
		cursor:   begin,
		end:      len(candles),
		speed:    speed,
		state:    jobPaused,
	}
	e.current = j
	logger.Infof("[replay] 任务 %s 已创建: fast=%d slow=%d sl=%.2f%% tp=%.2f%% short=%v bars=%d",
		j.id, params.FastPeriod, params.SlowPeriod, params.StopLossPct, params.TakeProfitPct, params.AllowShort, j.end-j.cursor)
	return nil
}

func (e *Engine) ensureCandles(ctx context.Context, from time.Time) ([]Candle, error) {
	e.mu.Lock()
	cached, source := e.candles, e.source
	e.mu.Unlock()
	if len(cached) > 0 {
		return cached, nil
	}
	candles, err := source.Load(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("load candles from %s: %w", source.Name(), err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s returned no candles", source.Name())
	}
	e.mu.Lock()
	if e.source == source {
		e.candles = candles
	}
	e.mu.Unlock()
	logger.Infof("[replay] 已从 %s 加载 %d 根 K 线", source.Name(), len(candles))
	return candles, nil
}

// ResumeJob 让暂停的任务开始推进；存在启动失败的任务时先重新启动它。
func (e *Engine) ResumeJob(ctx context.Context) error {
	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()
	if pending != nil {
		logger.Infof("[replay] 重试启动上次失败的任务")
		if err := e.StartJob(ctx, *pending); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.current
	if j == nil {
		return errNoJob
	}
	if j.state == jobPaused {
		j.state = jobRunning
	}
	return nil
}

func (e *Engine) StopJob(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	if j := e.current; j != nil && j.state != jobStopped {
		j.state = jobStopped
		logger.Infof("[replay] 任务 %s 已停止 (%d/%d)", j.id, j.cursor, j.end)
	}
	return nil
}

func (e *Engine) PollStatus(context.Context) (sweep.JobStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.current
	if j == nil {
		return sweep.StatusStopped, nil
	}
	switch j.state {
	case jobPaused:
		return sweep.StatusPaused, nil
	case jobRunning:
		return sweep.StatusRunning, nil
	default:
		return sweep.StatusStopped, nil
	}
}

func (e *Engine) PollFinished(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && e.current.finished, nil
}

// Step 推进运行中的任务 speed 根 K 线；走完后平仓并生成报告。
// 走完的任务保持 running 状态停在数据末尾，直到 StopJob。
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.current
	if j == nil || j.state != jobRunning || j.finished {
		return
	}
	limit := min(j.cursor+j.speed, j.end)
	for ; j.cursor < limit; j.cursor++ {
		j.strategy.onBar(j.cursor)
	}
	if j.cursor < j.end {
		return
	}
	j.strategy.finish()
	j.metrics = computeMetrics(j.strategy.trades)
	j.finished = true
	e.last = j
	logger.Infof("[replay] 任务 %s 完成: trades=%d pnl=%.2f", j.id, j.metrics.All.TotalTrades, j.metrics.All.ClosedTradesProfitLoss)
}

// Run 以固定间隔调用 Step，直到 ctx 结束。
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Step()
		}
	}
}

// Metrics 返回最近一次完成任务的统计报告。
func (e *Engine) Metrics(context.Context) (json.RawMessage, error) {
	e.mu.Lock()
	j := e.last
	e.mu.Unlock()
	if j == nil {
		return nil, fmt.Errorf("no finished replay report")
	}
	return json.Marshal(j.metrics)
}

func (e *Engine) TradeRecords(context.Context) ([]json.RawMessage, error) {
	e.mu.Lock()
	j := e.last
	e.mu.Unlock()
	if j == nil {
		return nil, fmt.Errorf("no finished replay report")
	}
	out := make([]json.RawMessage, 0, len(j.strategy.trades))
	for _, t := range j.strategy.trades {
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// JobInfo 是当前任务的只读快照。
type JobInfo struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Bars     int    `json:"bars"`
	Finished bool   `json:"finished"`
	Params   Params `json:"params"`
	Speed    int    `json:"speed"`
}

func (e *Engine) Info() (JobInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.current
	if j == nil {
		return JobInfo{}, false
	}
	status := sweep.StatusStopped
	switch j.state {
	case jobPaused:
		status = sweep.StatusPaused
	case jobRunning:
		status = sweep.StatusRunning
	}
	return JobInfo{
		ID:       j.id,
		Status:   string(status),
		Progress: j.cursor,
		Bars:     j.end,
		Finished: j.finished,
		Params:   j.params,
		Speed:    j.speed,
	}, true
}

// Reload 丢弃缓存的 K 线，下次 StartJob 重新加载。
func (e *Engine) Reload() {
	e.mu.Lock()
	e.candles = nil
	e.mu.Unlock()
}

// SetSource 替换 K 线数据源并丢弃缓存；正在运行的任务不受影响。
func (e *Engine) SetSource(source CandleSource) {
	if source == nil {
		return
	}
	e.mu.Lock()
	e.source = source
	e.candles = nil
	e.mu.Unlock()
}
