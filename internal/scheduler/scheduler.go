package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"sweeper/internal/logger"
)

// TickScheduler 以固定间隔同步调用任务；上一次任务未返回前不会开始下一次。
type TickScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewTickScheduler(ctx context.Context, name string, interval time.Duration) *TickScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TickScheduler{
		Name:     name,
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 阻塞运行直到 ctx 结束；返回执行次数。
func (s *TickScheduler) Start(task func(ctx context.Context)) int {
	if s == nil {
		return 0
	}
	if task == nil {
		logger.Warnf("TickScheduler(%s): task is nil, exit", s.Name)
		return 0
	}
	if s.Interval <= 0 {
		logger.Warnf("TickScheduler(%s): invalid interval=%s, exit", s.Name, s.Interval)
		return 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("TickScheduler(%s): started interval=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	runs := 0
	run := func() {
		runs++
		task(s.ctx)
	}
	if s.RunImmediately {
		run()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("TickScheduler(%s): ctx done after %d runs, uptime=%s",
				s.Name, runs, s.nowFn().UTC().Sub(startAt).Truncate(time.Second))
			return runs
		case <-ticker.C:
			if s.ctx.Err() != nil {
				continue
			}
			run()
		}
	}
}

// ParseInterval 解析 K 线周期："30s"、"15m"、"1h"、"1d"、"1w"，以及大写 M 表示月（按 30 天）。
// 无法解析时返回 (0, false)。
func ParseInterval(interval string) (time.Duration, bool) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's', 'S':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h', 'H':
		return time.Duration(n) * time.Hour, true
	case 'd', 'D':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w', 'W':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	case 'M':
		return time.Duration(n) * 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
