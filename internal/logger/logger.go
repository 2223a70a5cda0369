package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func emit(level slog.Level, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	activeLogger().Log(context.Background(), level, msg)
	if levelVar.Level() <= level {
		recent.add(level, msg)
	}
}

func Debugf(format string, v ...any) {
	emit(slog.LevelDebug, format, v...)
}

func Infof(format string, v ...any) {
	emit(slog.LevelInfo, format, v...)
}

func Warnf(format string, v ...any) {
	emit(slog.LevelWarn, format, v...)
}

func Errorf(format string, v ...any) {
	emit(slog.LevelError, format, v...)
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	lines := strings.Split(block, "\n")
	for _, line := range lines {
		Infof("%s", line)
	}
}

// Line 是最近日志缓冲中的一行。
type Line struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ring 保存最近 N 行日志，供控制接口展示；max 为 0 时不记录。
type ring struct {
	mu    sync.Mutex
	max   int
	lines []Line
}

var recent ring

func (r *ring) add(level slog.Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max <= 0 {
		return
	}
	r.lines = append(r.lines, Line{Time: time.Now(), Level: level.String(), Message: msg})
	if over := len(r.lines) - r.max; over > 0 {
		r.lines = append(r.lines[:0], r.lines[over:]...)
	}
}

// EnableRecent 设置最近日志缓冲的行数，0 表示关闭。
func EnableRecent(n int) {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	if n < 0 {
		n = 0
	}
	recent.max = n
	if over := len(recent.lines) - n; over > 0 {
		recent.lines = append(recent.lines[:0], recent.lines[over:]...)
	}
}

// Recent 返回最近日志的副本，旧的在前。
func Recent() []Line {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	out := make([]Line, len(recent.lines))
	copy(out, recent.lines)
	return out
}

// ClearRecent 清空最近日志缓冲。
func ClearRecent() {
	recent.mu.Lock()
	recent.lines = nil
	recent.mu.Unlock()
}
