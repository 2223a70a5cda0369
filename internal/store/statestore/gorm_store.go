package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sweeper/internal/sweep"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const currentKey = "current"

// sweepStateModel 只有一行，保存当前扫描的完整状态。
type sweepStateModel struct {
	Name           string         `gorm:"column:name;primaryKey"`
	SweepID        string         `gorm:"column:sweep_id"`
	Identity       string         `gorm:"column:identity"`
	Phase          string         `gorm:"column:phase"`
	ComboIndex     int            `gorm:"column:combo_index"`
	Space          datatypes.JSON `gorm:"column:space"`
	Combinations   datatypes.JSON `gorm:"column:combinations"`
	Launch         datatypes.JSON `gorm:"column:launch"`
	Policy         datatypes.JSON `gorm:"column:policy"`
	Dir            string         `gorm:"column:dir"`
	StartedAt      int64          `gorm:"column:started_at"`
	ResumeAttempts int            `gorm:"column:resume_attempts"`
	LastResumeAt   int64          `gorm:"column:last_resume_at"`
	ReportPath     string         `gorm:"column:report_path"`
	LastError      string         `gorm:"column:last_error"`
	UpdatedAt      int64          `gorm:"column:updated_at"`
}

func (sweepStateModel) TableName() string { return "sweep_state" }

// GormStore 基于 Gorm + SQLite 实现 sweep.StateStore。
type GormStore struct {
	db *gorm.DB
}

var _ sweep.StateStore = (*GormStore)(nil)

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state store: 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sweepStateModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load 读取当前状态；没有记录时返回空闲状态。
func (s *GormStore) Load(ctx context.Context) (sweep.State, error) {
	var m sweepStateModel
	err := s.db.WithContext(ctx).Where("name = ?", currentKey).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sweep.IdleState(), nil
		}
		return sweep.State{}, err
	}
	return m.toState()
}

func (s *GormStore) Save(ctx context.Context, st sweep.State) error {
	m, err := fromState(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *GormStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("name = ?", currentKey).Delete(&sweepStateModel{}).Error
}

func fromState(st sweep.State) (sweepStateModel, error) {
	space, err := marshalJSON(st.Space)
	if err != nil {
		return sweepStateModel{}, fmt.Errorf("encode space: %w", err)
	}
	combos, err := marshalJSON(st.Combinations)
	if err != nil {
		return sweepStateModel{}, fmt.Errorf("encode combinations: %w", err)
	}
	launch, err := marshalJSON(st.Launch)
	if err != nil {
		return sweepStateModel{}, fmt.Errorf("encode launch: %w", err)
	}
	policy, err := marshalJSON(st.Policy)
	if err != nil {
		return sweepStateModel{}, fmt.Errorf("encode policy: %w", err)
	}
	return sweepStateModel{
		Name:           currentKey,
		SweepID:        st.ID,
		Identity:       st.Identity,
		Phase:          string(st.Phase),
		ComboIndex:     st.ComboIndex,
		Space:          space,
		Combinations:   combos,
		Launch:         launch,
		Policy:         policy,
		Dir:            st.Dir,
		StartedAt:      unixMilli(st.StartedAt),
		ResumeAttempts: st.ResumeAttempts,
		LastResumeAt:   unixMilli(st.LastResumeAt),
		ReportPath:     st.ReportPath,
		LastError:      st.LastError,
		UpdatedAt:      unixMilli(st.UpdatedAt),
	}, nil
}

func (m sweepStateModel) toState() (sweep.State, error) {
	st := sweep.State{
		ID:             m.SweepID,
		Identity:       m.Identity,
		Phase:          sweep.Phase(m.Phase),
		ComboIndex:     m.ComboIndex,
		Dir:            m.Dir,
		StartedAt:      fromMilli(m.StartedAt),
		ResumeAttempts: m.ResumeAttempts,
		LastResumeAt:   fromMilli(m.LastResumeAt),
		ReportPath:     m.ReportPath,
		LastError:      m.LastError,
		UpdatedAt:      fromMilli(m.UpdatedAt),
	}
	if err := unmarshalJSON(m.Space, &st.Space); err != nil {
		return sweep.State{}, fmt.Errorf("decode space: %w", err)
	}
	if err := unmarshalJSON(m.Combinations, &st.Combinations); err != nil {
		return sweep.State{}, fmt.Errorf("decode combinations: %w", err)
	}
	if err := unmarshalJSON(m.Launch, &st.Launch); err != nil {
		return sweep.State{}, fmt.Errorf("decode launch: %w", err)
	}
	if err := unmarshalJSON(m.Policy, &st.Policy); err != nil {
		return sweep.State{}, fmt.Errorf("decode policy: %w", err)
	}
	return st, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalJSON(raw datatypes.JSON, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
