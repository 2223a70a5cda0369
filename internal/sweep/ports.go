package sweep

import (
	"context"
	"encoding/json"
	"time"
)

// JobStatus 是外部回放任务的状态。
type JobStatus string

const (
	StatusUnknown JobStatus = "unknown"
	StatusStopped JobStatus = "stopped"
	StatusPaused  JobStatus = "paused"
	StatusRunning JobStatus = "running"
)

// LaunchSpec 描述每次启动回放任务的参数，整个扫描期间保持不变。
type LaunchSpec struct {
	Speed         float64   `json:"speed"`
	StartAt       time.Time `json:"startAt"`
	Mode          string    `json:"mode,omitempty"`
	Charts        string    `json:"charts,omitempty"`
	ClearExisting bool      `json:"clearExisting"`
}

// ReplayController 控制外部回放任务，同一时刻最多一个任务。
type ReplayController interface {
	StartJob(ctx context.Context, spec LaunchSpec) error
	ResumeJob(ctx context.Context) error
	StopJob(ctx context.Context) error
	PollStatus(ctx context.Context) (JobStatus, error)
	PollFinished(ctx context.Context) (bool, error)
}

// ParameterPort 把参数值写入策略的输入槽位。
type ParameterPort interface {
	SetValue(ctx context.Context, slot int, value float64, kind Kind) error
}

// MetricsSource 读取已完成任务的统计；内容由外部系统定义，原样透传。
type MetricsSource interface {
	Metrics(ctx context.Context) (json.RawMessage, error)
	TradeRecords(ctx context.Context) ([]json.RawMessage, error)
}

// PersistenceSink 是结果文件的持久化出口。
type PersistenceSink interface {
	Write(ctx context.Context, path string, payload []byte) error
	List(ctx context.Context, dir string) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// Policy 控制等待启动阶段的重试行为。
type Policy struct {
	// MaxResumeAttempts 为 0 表示不限次数。
	MaxResumeAttempts int           `json:"maxResumeAttempts"`
	ResumeInterval    time.Duration `json:"resumeInterval"`
}

// Plan 是开始一次扫描所需的全部配置。
type Plan struct {
	Identity    string
	Space       Space
	Launch      LaunchSpec
	Policy      Policy
	ResultsRoot string
	// MaxCombinations 为 0 时使用 DefaultMaxCombinations。
	MaxCombinations int
}

// CheckSpace 校验参数空间定义及其展开规模。
func (p Plan) CheckSpace() error {
	if err := p.Space.Validate(); err != nil {
		return err
	}
	return p.Space.CheckSize(p.MaxCombinations)
}

// ConfigSource 提供当前生效的扫描计划。
type ConfigSource interface {
	SweepPlan() (Plan, error)
}

// StateStore 持久化 SweepState。
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Clear(ctx context.Context) error
}

// HarvestInput 是收集单个组合结果所需的上下文。
type HarvestInput struct {
	SweepID    string
	Identity   string
	Index      int
	Dir        string
	Assignment Assignment
	Launch     LaunchSpec
}

// Collector 把一个已完成任务的结果写成文件，返回文件路径。
type Collector interface {
	Collect(ctx context.Context, in HarvestInput) (string, error)
}

// Reporter 汇总扫描目录下的全部结果，返回报告路径。
type Reporter interface {
	Report(ctx context.Context, dir, identity string) (string, error)
}

// Ledger 记录扫描与任务的历史，失败只记日志。
type Ledger interface {
	SweepStarted(ctx context.Context, st State) error
	JobLaunched(ctx context.Context, sweepID string, index int, params Assignment) error
	JobHarvested(ctx context.Context, sweepID string, index int, artifact string, harvestErr error) error
	SweepFinished(ctx context.Context, sweepID, status, reportPath, message string) error
}
