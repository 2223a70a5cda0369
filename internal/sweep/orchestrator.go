package sweep

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sweeper/internal/logger"

	"github.com/google/uuid"
)

// Options 装配编排器依赖；Ledger 与 OnReset 可为空。
type Options struct {
	Replay    ReplayController
	Params    ParameterPort
	Config    ConfigSource
	Store     StateStore
	Collector Collector
	Reporter  Reporter
	Ledger    Ledger
	OnReset   func()
	Now       func() time.Time
	NewID     func() string
}

// Orchestrator 由宿主周期性调用 Tick 推进扫描；Start/Reset 与 Tick 共用一把锁。
type Orchestrator struct {
	replay    ReplayController
	params    ParameterPort
	config    ConfigSource
	store     StateStore
	collector Collector
	reporter  Reporter
	ledger    Ledger
	onReset   func()
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	state    State
	loaded   bool
	relaunch bool
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Replay == nil:
		return nil, errors.New("replay controller 不能为空")
	case opts.Params == nil:
		return nil, errors.New("parameter port 不能为空")
	case opts.Config == nil:
		return nil, errors.New("config source 不能为空")
	case opts.Store == nil:
		return nil, errors.New("state store 不能为空")
	case opts.Collector == nil:
		return nil, errors.New("collector 不能为空")
	case opts.Reporter == nil:
		return nil, errors.New("reporter 不能为空")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{
		replay:    opts.Replay,
		params:    opts.Params,
		config:    opts.Config,
		store:     opts.Store,
		collector: opts.Collector,
		reporter:  opts.Reporter,
		ledger:    opts.Ledger,
		onReset:   opts.OnReset,
		now:       opts.Now,
		newID:     opts.NewID,
	}, nil
}

// SweepDir 返回以开始时间命名的扫描结果目录。
func SweepDir(root, identity string, startedAt time.Time) string {
	stamp := startedAt.Format("2006-01-02_15-04-05")
	stamp += fmt.Sprintf("-%03d", startedAt.Nanosecond()/int(time.Millisecond))
	return filepath.Join(root, SafeName(identity)+"-"+stamp)
}

// SafeName 把标识转换为可用作文件名的形式。
func SafeName(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "sweep"
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "_", "*", "-", "?", "-", "\"", "", "<", "", ">", "", "|", "-")
	return replacer.Replace(identity)
}

func (o *Orchestrator) loadLocked(ctx context.Context) {
	if o.loaded {
		return
	}
	st, err := o.store.Load(ctx)
	if err != nil {
		err = PersistenceError("load state", err)
		observeError(err)
		logger.Errorf("[sweep] 读取扫描状态失败，按空闲状态处理: %v", err)
		st = IdleState()
	}
	if st.Phase == "" {
		st.Phase = PhaseIdle
	}
	if err := st.Validate(); err != nil {
		logger.Warnf("[sweep] 持久化状态不合法 (%v)，按空闲状态处理", err)
		st = IdleState()
	}
	o.state = st
	o.loaded = true
	o.relaunch = st.Active()
	if st.Active() {
		logger.Infof("[sweep] 恢复扫描 %s: 阶段=%s 进度=%d/%d", st.ID, st.Phase, st.ComboIndex, st.Total())
	}
}

// Recover 重新下发持久化扫描的当前组合。新进程里的回放端没有任务，
// 也没有槽位值，所以必须重写参数并重新提交。首次 Tick 也会自动执行。
func (o *Orchestrator) Recover(ctx context.Context) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loadLocked(ctx)
	if o.relaunch {
		o.recoverLocked(ctx)
	}
	return o.state.Clone()
}

func (o *Orchestrator) recoverLocked(ctx context.Context) {
	o.relaunch = false
	if !o.state.Active() {
		return
	}
	next := o.state.Clone()
	index := next.ComboIndex
	if err := o.applyParameters(ctx, next, index); err != nil {
		err = ConfigurationError("recover", err)
		observeError(err)
		logger.Errorf("[sweep] 扫描 %s 重启后无法写入组合 %d 的参数，扫描中止: %v", next.ID, index, err)
		next.Phase = PhaseIdle
		next.LastError = err.Error()
		o.recordFinished(ctx, next.ID, "aborted", "", err.Error())
		o.state = next
		o.persistLocked(ctx)
		return
	}
	next.LastError = ""
	next.ResumeAttempts = 0
	next.LastResumeAt = time.Time{}
	o.startJob(ctx, &next, index)
	next.Phase = PhaseAwaitingStart
	logger.Infof("[sweep] 扫描 %s 从组合 %d/%d 重新提交回放", next.ID, index+1, next.Total())
	o.state = next
	o.persistLocked(ctx)
}

func (o *Orchestrator) persistLocked(ctx context.Context) {
	o.state.UpdatedAt = o.now()
	observeState(o.state)
	if err := o.store.Save(ctx, o.state); err != nil {
		err = PersistenceError("save state", err)
		observeError(err)
		logger.Errorf("[sweep] 保存扫描状态失败: %v", err)
	}
}

// Status 返回当前状态快照。
func (o *Orchestrator) Status(ctx context.Context) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loadLocked(ctx)
	return o.state.Clone()
}

// Start 开始一次新扫描。已有扫描在途时拒绝；参数槽位写入失败时不改变状态。
func (o *Orchestrator) Start(ctx context.Context) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loadLocked(ctx)

	if o.state.Active() {
		err := ConfigurationError("start", fmt.Errorf("sweep %s is already %s at %d/%d", o.state.ID, o.state.Phase, o.state.ComboIndex, o.state.Total()))
		observeError(err)
		return o.state.Clone(), err
	}
	plan, err := o.config.SweepPlan()
	if err != nil {
		err = ConfigurationError("load plan", err)
		observeError(err)
		return o.state.Clone(), err
	}
	if err := plan.CheckSpace(); err != nil {
		observeError(err)
		return o.state.Clone(), err
	}
	for _, axis := range plan.Space.Degraded() {
		logger.Warnf("[sweep] 参数 %s (slot=%d) 为固定值但 min=%g > max=%g，已忽略", axis.Label(), axis.Slot, axis.Min, axis.Max)
	}

	now := o.now()
	combos := Enumerate(plan.Space)
	next := State{
		ID:           o.newID(),
		Identity:     plan.Identity,
		Phase:        PhaseIdle,
		Space:        append(Space(nil), plan.Space...),
		Combinations: combos,
		Launch:       plan.Launch,
		Policy:       plan.Policy,
		Dir:          SweepDir(plan.ResultsRoot, plan.Identity, now),
		StartedAt:    now,
	}

	if len(combos) == 0 {
		logger.Warnf("[sweep] 参数空间展开后没有组合，扫描 %s 直接结束", next.ID)
		o.recordStarted(ctx, next)
		o.state = next
		o.runAnalyze(ctx, &o.state)
		o.persistLocked(ctx)
		return o.state.Clone(), nil
	}

	if err := o.applyParameters(ctx, next, 0); err != nil {
		err = ConfigurationError("start", err)
		observeError(err)
		logger.Errorf("[sweep] 启动失败，参数槽位无法写入: %v", err)
		return o.state.Clone(), err
	}

	logger.Infof("[sweep] 开始扫描 %s (%s): 共 %d 个组合，结果目录 %s", next.ID, next.Identity, len(combos), next.Dir)
	o.recordStarted(ctx, next)
	o.startJob(ctx, &next, 0)
	next.Phase = PhaseAwaitingStart
	o.state = next
	o.persistLocked(ctx)
	return o.state.Clone(), nil
}

// Reset 无条件停止外部任务并丢弃扫描状态，可在任何阶段调用。
func (o *Orchestrator) Reset(ctx context.Context) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loadLocked(ctx)

	prev := o.state
	err := o.replay.StopJob(ctx)
	observeCommand(CmdStopJob, err)
	if err != nil {
		err = ExternalJobError("stop job", err)
		observeError(err)
		logger.Warnf("[sweep] 复位时停止任务失败: %v", err)
	}
	if prev.ID != "" && !prev.Completed() {
		o.recordFinished(ctx, prev.ID, "reset", "", fmt.Sprintf("reset at %d/%d", prev.ComboIndex, prev.Total()))
	}
	o.state = IdleState()
	o.relaunch = false
	observeState(o.state)
	if err := o.store.Clear(ctx); err != nil {
		err = PersistenceError("clear state", err)
		observeError(err)
		logger.Errorf("[sweep] 清除扫描状态失败: %v", err)
	}
	if o.onReset != nil {
		o.onReset()
	}
	if prev.ID != "" {
		logger.Infof("[sweep] 扫描 %s 已复位 (阶段=%s 进度=%d/%d)", prev.ID, prev.Phase, prev.ComboIndex, prev.Total())
	}
	return o.state.Clone()
}

// Tick 推进状态机一步。任何错误只记录到日志与 LastError，不返回给宿主。
func (o *Orchestrator) Tick(ctx context.Context) (out State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[sweep] tick panic: %v", r)
			out = o.state.Clone()
		}
	}()
	o.loadLocked(ctx)
	if o.relaunch {
		o.recoverLocked(ctx)
		return o.state.Clone()
	}

	prev := o.state
	if !prev.Active() {
		return prev.Clone()
	}
	obs, pollErr := o.observe(ctx, prev.Phase)
	next, cmds := Decide(prev, obs)
	if pollErr != nil {
		next.LastError = pollErr.Error()
	}
	o.execute(ctx, prev, &next, cmds)

	o.state = next
	if len(cmds) > 0 || next.Phase != prev.Phase || next.LastError != prev.LastError {
		o.persistLocked(ctx)
	}
	return o.state.Clone()
}

func (o *Orchestrator) observe(ctx context.Context, phase Phase) (Observation, error) {
	obs := Observation{Now: o.now(), Status: StatusUnknown}
	wantStatus, wantFinished := Needs(phase)
	if wantStatus {
		status, err := o.replay.PollStatus(ctx)
		if err != nil {
			err = ExternalJobError("poll status", err)
			observeError(err)
			logger.Warnf("[sweep] 查询任务状态失败: %v", err)
			return obs, err
		}
		obs.Status = status
	}
	if wantFinished {
		finished, err := o.replay.PollFinished(ctx)
		if err != nil {
			err = ExternalJobError("poll finished", err)
			observeError(err)
			logger.Warnf("[sweep] 查询任务完成状态失败: %v", err)
			return obs, err
		}
		obs.Finished = finished
	}
	return obs, nil
}

func (o *Orchestrator) execute(ctx context.Context, prev State, next *State, cmds []Command) {
	for _, cmd := range cmds {
		switch cmd.Type {
		case CmdResumeJob:
			err := o.replay.ResumeJob(ctx)
			observeCommand(cmd.Type, err)
			if err != nil {
				err = ExternalJobError("resume job", err)
				observeError(err)
				next.LastError = err.Error()
				logger.Warnf("[sweep] 组合 %d 恢复回放失败: %v", cmd.Index, err)
				continue
			}
			logger.Infof("[sweep] 组合 %d 回放未运行，第 %d 次恢复", cmd.Index, next.ResumeAttempts)

		case CmdStopJob:
			err := o.replay.StopJob(ctx)
			observeCommand(cmd.Type, err)
			if err != nil {
				err = ExternalJobError("stop job", err)
				observeError(err)
				logger.Warnf("[sweep] 停止回放失败: %v", err)
			}

		case CmdHarvest:
			o.harvest(ctx, prev, cmd.Index, next)

		case CmdSetParameters:
			if err := o.applyParameters(ctx, *next, cmd.Index); err != nil {
				err = ConfigurationError("set parameters", err)
				observeError(err)
				logger.Errorf("[sweep] 组合 %d 参数写入失败，扫描中止: %v", cmd.Index, err)
				next.Phase = PhaseIdle
				next.LastError = err.Error()
				o.recordFinished(ctx, next.ID, "aborted", "", err.Error())
				return
			}

		case CmdStartJob:
			o.startJob(ctx, next, cmd.Index)

		case CmdAnalyze:
			logger.Infof("[sweep] 扫描 %s 全部 %d 个组合完成，开始汇总", next.ID, next.Total())
			o.runAnalyze(ctx, next)

		case CmdAbort:
			err := ExternalJobError("abort", errors.New(cmd.Reason))
			observeError(err)
			logger.Errorf("[sweep] 扫描 %s 中止于组合 %d: %s", next.ID, cmd.Index, cmd.Reason)
			o.recordFinished(ctx, next.ID, "aborted", "", cmd.Reason)
		}
	}
}

func (o *Orchestrator) applyParameters(ctx context.Context, st State, index int) error {
	assignment, err := st.AssignmentAt(index)
	if err != nil {
		return err
	}
	for _, p := range assignment {
		if err := o.params.SetValue(ctx, p.Slot, p.Value, p.Kind); err != nil {
			return fmt.Errorf("slot %d (%s): %w", p.Slot, p.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) startJob(ctx context.Context, st *State, index int) {
	err := o.replay.StartJob(ctx, st.Launch)
	observeCommand(CmdStartJob, err)
	if err != nil {
		err = ExternalJobError("start job", err)
		observeError(err)
		st.LastError = err.Error()
		logger.Errorf("[sweep] 组合 %d 启动回放失败，将进入恢复重试: %v", index, err)
	} else {
		logger.Infof("[sweep] 组合 %d/%d 已提交回放", index+1, st.Total())
	}
	if o.ledger != nil {
		assignment, _ := st.AssignmentAt(index)
		if lerr := o.ledger.JobLaunched(ctx, st.ID, index, assignment); lerr != nil {
			logger.Warnf("[sweep] 记录任务启动失败: %v", lerr)
		}
	}
}

func (o *Orchestrator) harvest(ctx context.Context, prev State, index int, next *State) {
	assignment, err := prev.AssignmentAt(index)
	var path string
	if err == nil {
		path, err = o.collector.Collect(ctx, HarvestInput{
			SweepID:    prev.ID,
			Identity:   prev.Identity,
			Index:      index,
			Dir:        prev.Dir,
			Assignment: assignment,
			Launch:     prev.Launch,
		})
	}
	if err != nil {
		if KindOf(err) == "" {
			err = PersistenceError("collect", err)
		}
		observeError(err)
		harvestTotal.WithLabelValues("error").Inc()
		next.LastError = err.Error()
		logger.Errorf("[sweep] 组合 %d 结果保存失败，继续下一个组合: %v", index, err)
	} else {
		harvestTotal.WithLabelValues("ok").Inc()
		logger.Infof("[sweep] 组合 %d 完成 [%s] -> %s", index, assignment.String(), path)
	}
	if o.ledger != nil {
		if lerr := o.ledger.JobHarvested(ctx, prev.ID, index, path, err); lerr != nil {
			logger.Warnf("[sweep] 记录任务结果失败: %v", lerr)
		}
	}
}

func (o *Orchestrator) runAnalyze(ctx context.Context, st *State) {
	path, err := o.reporter.Report(ctx, st.Dir, st.Identity)
	status := "done"
	message := ""
	if err != nil {
		observeError(err)
		st.LastError = err.Error()
		status = "done_with_errors"
		message = err.Error()
		logger.Errorf("[sweep] 汇总报告生成失败: %v", err)
	} else {
		st.ReportPath = path
		logger.Infof("[sweep] 汇总报告已生成: %s", path)
	}
	o.recordFinished(ctx, st.ID, status, path, message)
}

func (o *Orchestrator) recordStarted(ctx context.Context, st State) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.SweepStarted(ctx, st); err != nil {
		logger.Warnf("[sweep] 记录扫描开始失败: %v", err)
	}
}

func (o *Orchestrator) recordFinished(ctx context.Context, id, status, report, message string) {
	if o.ledger == nil || id == "" {
		return
	}
	if err := o.ledger.SweepFinished(ctx, id, status, report, message); err != nil {
		logger.Warnf("[sweep] 记录扫描结束失败: %v", err)
	}
}

// Verify 读取当前配置并输出展开结果，不启动任何任务。
func (o *Orchestrator) Verify(ctx context.Context) (VerifyReport, error) {
	plan, err := o.config.SweepPlan()
	if err != nil {
		return VerifyReport{}, ConfigurationError("load plan", err)
	}
	rep, err := VerifyPlan(plan)
	if err != nil {
		return VerifyReport{}, err
	}
	logger.InfoBlock(rep.String())
	return rep, nil
}
