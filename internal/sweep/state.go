package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Phase 是编排状态机的阶段。
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAwaitingStart Phase = "awaiting_start"
	PhaseRunning       Phase = "running"
)

// State 是编排器唯一的持久状态，每次迁移后写回 StateStore。
type State struct {
	ID             string        `json:"id"`
	Identity       string        `json:"identity"`
	Phase          Phase         `json:"phase"`
	ComboIndex     int           `json:"comboIndex"`
	Space          Space         `json:"space"`
	Combinations   []Combination `json:"combinations"`
	Launch         LaunchSpec    `json:"launch"`
	Policy         Policy        `json:"policy"`
	Dir            string        `json:"dir"`
	StartedAt      time.Time     `json:"startedAt"`
	ResumeAttempts int           `json:"resumeAttempts"`
	LastResumeAt   time.Time     `json:"lastResumeAt"`
	ReportPath     string        `json:"reportPath,omitempty"`
	LastError      string        `json:"lastError,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Active 表示扫描尚未结束且有任务在途。
func (s State) Active() bool {
	return s.Phase == PhaseAwaitingStart || s.Phase == PhaseRunning
}

// Completed 表示所有组合均已处理。
func (s State) Completed() bool {
	return s.ID != "" && s.Phase == PhaseIdle && s.ComboIndex >= len(s.Combinations)
}

// Total 返回组合总数。
func (s State) Total() int {
	return len(s.Combinations)
}

// Current 返回当前组合的完整赋值。
func (s State) Current() (Assignment, error) {
	return s.AssignmentAt(s.ComboIndex)
}

// AssignmentAt 返回第 i 个组合的完整赋值。
func (s State) AssignmentAt(i int) (Assignment, error) {
	if i < 0 || i >= len(s.Combinations) {
		return nil, fmt.Errorf("combination index %d out of range [0,%d)", i, len(s.Combinations))
	}
	return s.Space.Assign(s.Combinations[i])
}

// Validate 校验状态不变量。
func (s State) Validate() error {
	switch s.Phase {
	case PhaseIdle, PhaseAwaitingStart, PhaseRunning:
	default:
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.ComboIndex < 0 || s.ComboIndex > len(s.Combinations) {
		return fmt.Errorf("combo index %d out of range [0,%d]", s.ComboIndex, len(s.Combinations))
	}
	if s.Active() && s.ComboIndex == len(s.Combinations) {
		return fmt.Errorf("phase %s with no pending combination", s.Phase)
	}
	return nil
}

// Clone 深拷贝组合列表，避免外部修改共享切片。
func (s State) Clone() State {
	out := s
	if s.Space != nil {
		out.Space = append(Space(nil), s.Space...)
	}
	if s.Combinations != nil {
		out.Combinations = make([]Combination, len(s.Combinations))
		for i, c := range s.Combinations {
			out.Combinations[i] = append(Combination{}, c...)
		}
	}
	return out
}

// IdleState 是复位后的空状态。
func IdleState() State {
	return State{Phase: PhaseIdle}
}

// MemoryStore 是进程内的 StateStore，用于测试与无持久化部署。
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return IdleState(), nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st.Clone()
	m.state = &cp
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}
