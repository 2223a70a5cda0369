package config

import (
	"fmt"
	"strings"
	"time"

	"sweeper/internal/sweep"
)

// Space 把 sweep.params 转成参数空间，保持配置中的顺序。
func (s SweepConfig) Space() (sweep.Space, error) {
	space := make(sweep.Space, 0, len(s.Params))
	for i, p := range s.Params {
		kind, err := sweep.ParseKind(p.Type)
		if err != nil {
			return nil, fmt.Errorf("sweep.params[%d]: %w", i, err)
		}
		space = append(space, sweep.Axis{
			Slot: p.Slot,
			Name: strings.TrimSpace(p.Name),
			Min:  p.Min,
			Max:  p.Max,
			Step: p.Step,
			Kind: kind,
		})
	}
	return space, nil
}

// StartAt 合并 start_date 与 start_time；两者都为空时返回零值，表示从数据起点回放。
func (r ReplayConfig) StartAt() (time.Time, error) {
	date := strings.TrimSpace(r.StartDate)
	clock := strings.TrimSpace(r.StartTime)
	if date == "" {
		if clock != "" {
			return time.Time{}, fmt.Errorf("replay.start_time requires replay.start_date")
		}
		return time.Time{}, nil
	}
	if clock == "" {
		clock = "00:00"
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("replay.start_date/start_time: %w", err)
	}
	return at, nil
}

// Launch 返回每次启动回放任务使用的参数。
func (r ReplayConfig) Launch() (sweep.LaunchSpec, error) {
	at, err := r.StartAt()
	if err != nil {
		return sweep.LaunchSpec{}, err
	}
	return sweep.LaunchSpec{
		Speed:         r.Speed,
		StartAt:       at,
		Mode:          r.Mode,
		Charts:        r.Charts,
		ClearExisting: r.ClearExisting,
	}, nil
}

// Plan 构造开始一次扫描所需的计划；错误一律归为配置错误。
func (c *Config) Plan() (sweep.Plan, error) {
	space, err := c.Sweep.Space()
	if err != nil {
		return sweep.Plan{}, sweep.ConfigurationError("config.plan", err)
	}
	launch, err := c.Replay.Launch()
	if err != nil {
		return sweep.Plan{}, sweep.ConfigurationError("config.plan", err)
	}
	return sweep.Plan{
		Identity: c.Sweep.Identity,
		Space:    space,
		Launch:   launch,
		Policy: sweep.Policy{
			MaxResumeAttempts: c.Sweep.MaxResumeAttempts,
			ResumeInterval:    c.Sweep.ResumeInterval,
		},
		ResultsRoot:     c.Results.Root,
		MaxCombinations: c.Sweep.MaxCombinations,
	}, nil
}
