package sweep

import (
	"fmt"
	"time"
)

// CommandType 是状态机要求执行的外部动作。
type CommandType string

const (
	CmdSetParameters CommandType = "set_parameters"
	CmdStartJob      CommandType = "start_job"
	CmdResumeJob     CommandType = "resume_job"
	CmdStopJob       CommandType = "stop_job"
	CmdHarvest       CommandType = "harvest"
	CmdAnalyze       CommandType = "analyze"
	CmdAbort         CommandType = "abort"
)

// Command 由 Decide 产生，按顺序执行。
type Command struct {
	Type   CommandType
	Index  int
	Reason string
}

// Observation 是一次 tick 采集到的外部信号。
// Status 只在 AwaitingStart 阶段采集，Finished 只在 Running 阶段采集。
type Observation struct {
	Now      time.Time
	Status   JobStatus
	Finished bool
}

// Needs 返回指定阶段需要采集的信号。
func Needs(phase Phase) (status, finished bool) {
	switch phase {
	case PhaseAwaitingStart:
		return true, false
	case PhaseRunning:
		return false, true
	default:
		return false, false
	}
}

// Decide 是纯函数：给定状态与外部信号，返回新状态与需要执行的命令。
// 每次最多推进一个迁移，不修改入参中的切片。
func Decide(st State, obs Observation) (State, []Command) {
	if !st.Active() {
		return st, nil
	}
	next := st
	if err := st.Validate(); err != nil {
		next.Phase = PhaseIdle
		next.LastError = err.Error()
		return next, []Command{
			{Type: CmdStopJob},
			{Type: CmdAbort, Index: st.ComboIndex, Reason: err.Error()},
		}
	}

	switch st.Phase {
	case PhaseAwaitingStart:
		switch obs.Status {
		case StatusRunning:
			next.Phase = PhaseRunning
			next.ResumeAttempts = 0
			next.LastResumeAt = time.Time{}
			return next, nil
		case StatusStopped, StatusPaused:
			if limit := st.Policy.MaxResumeAttempts; limit > 0 && st.ResumeAttempts >= limit {
				reason := fmt.Sprintf("combination %d did not start after %d resume attempts", st.ComboIndex, st.ResumeAttempts)
				next.Phase = PhaseIdle
				next.LastError = reason
				return next, []Command{
					{Type: CmdStopJob},
					{Type: CmdAbort, Index: st.ComboIndex, Reason: reason},
				}
			}
			if wait := st.Policy.ResumeInterval; wait > 0 && !st.LastResumeAt.IsZero() && obs.Now.Sub(st.LastResumeAt) < wait {
				return st, nil
			}
			next.ResumeAttempts++
			next.LastResumeAt = obs.Now
			return next, []Command{{Type: CmdResumeJob, Index: st.ComboIndex}}
		default:
			return st, nil
		}

	case PhaseRunning:
		if !obs.Finished {
			return st, nil
		}
		done := st.ComboIndex
		cmds := []Command{
			{Type: CmdHarvest, Index: done},
			{Type: CmdStopJob},
		}
		next.ComboIndex = done + 1
		next.Phase = PhaseIdle
		next.ResumeAttempts = 0
		next.LastResumeAt = time.Time{}
		if next.ComboIndex < len(st.Combinations) {
			next.Phase = PhaseAwaitingStart
			cmds = append(cmds,
				Command{Type: CmdSetParameters, Index: next.ComboIndex},
				Command{Type: CmdStartJob, Index: next.ComboIndex},
			)
			return next, cmds
		}
		return next, append(cmds, Command{Type: CmdAnalyze})
	}
	return st, nil
}
