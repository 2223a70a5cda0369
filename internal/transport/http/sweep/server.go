package sweephttp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sweeper/internal/logger"
	"sweeper/internal/replay"
	"sweeper/internal/result"
	"sweeper/internal/store/ledger"
	"sweeper/internal/sweep"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller 是编排器暴露给控制接口的操作集合。
type Controller interface {
	Status(ctx context.Context) sweep.State
	Start(ctx context.Context) (sweep.State, error)
	Reset(ctx context.Context) sweep.State
	Tick(ctx context.Context) sweep.State
	Verify(ctx context.Context) (sweep.VerifyReport, error)
}

// History 查询历史扫描记录。
type History interface {
	ListSweeps(ctx context.Context, limit int) ([]ledger.Sweep, error)
	GetSweep(ctx context.Context, id string) (ledger.Sweep, error)
	ListJobs(ctx context.Context, sweepID string) ([]ledger.Job, error)
}

// Analyzer 读取结果目录生成排序后的报表。
type Analyzer interface {
	Analyze(ctx context.Context, dir string) (result.Report, error)
}

// ReplayInfo 提供回放引擎当前任务快照。
type ReplayInfo interface {
	Info() (replay.JobInfo, bool)
}

// Server 提供扫描控制与查询的 HTTP API。
type Server struct {
	addr        string
	ctrl        Controller
	history     History
	analyzer    Analyzer
	replay      ReplayInfo
	resultsRoot string
	router      *gin.Engine
}

// Config 描述扫描 HTTP Server 的依赖；History/Analyzer/Replay 可为空。
type Config struct {
	Addr        string
	Controller  Controller
	History     History
	Analyzer    Analyzer
	Replay      ReplayInfo
	ResultsRoot string
}

// NewServer 构建扫描 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("controller 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:        cfg.Addr,
		ctrl:        cfg.Controller,
		history:     cfg.History,
		analyzer:    cfg.Analyzer,
		replay:      cfg.Replay,
		resultsRoot: cfg.ResultsRoot,
		router:      router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 返回路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := s.router.Group("/api/sweep")
	api.GET("/status", s.handleStatus)
	api.POST("/start", s.handleStart)
	api.POST("/reset", s.handleReset)
	api.POST("/tick", s.handleTick)
	api.GET("/verify", s.handleVerify)
	api.GET("/logs", s.handleLogs)
	api.GET("/report", s.handleReport)
	api.GET("/replay", s.handleReplay)
	api.GET("/history", s.handleHistory)
	api.GET("/history/:id", s.handleHistoryDetail)
}

// stateView 是对外展示的状态摘要，不包含完整组合列表。
type stateView struct {
	ID             string       `json:"id,omitempty"`
	Identity       string       `json:"identity,omitempty"`
	Phase          sweep.Phase  `json:"phase"`
	ComboIndex     int          `json:"combo_index"`
	Total          int          `json:"total"`
	Completed      bool         `json:"completed"`
	Current        string       `json:"current,omitempty"`
	Space          sweep.Space  `json:"space,omitempty"`
	Policy         sweep.Policy `json:"policy"`
	Dir            string       `json:"dir,omitempty"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	ResumeAttempts int          `json:"resume_attempts"`
	ReportPath     string       `json:"report_path,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
}

func newStateView(st sweep.State) stateView {
	v := stateView{
		ID:             st.ID,
		Identity:       st.Identity,
		Phase:          st.Phase,
		ComboIndex:     st.ComboIndex,
		Total:          st.Total(),
		Completed:      st.Completed(),
		Space:          st.Space,
		Policy:         st.Policy,
		Dir:            st.Dir,
		ResumeAttempts: st.ResumeAttempts,
		ReportPath:     st.ReportPath,
		LastError:      st.LastError,
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		v.StartedAt = &started
	}
	if st.Active() {
		if cur, err := st.Current(); err == nil {
			v.Current = cur.String()
		}
	}
	return v
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": newStateView(s.ctrl.Status(c.Request.Context()))})
}

func (s *Server) handleStart(c *gin.Context) {
	st, err := s.ctrl.Start(c.Request.Context())
	if err != nil {
		code := statusFor(err)
		if st.Active() {
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{"error": err.Error(), "kind": sweep.KindOf(err), "state": newStateView(st)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": newStateView(st)})
}

func (s *Server) handleReset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": newStateView(s.ctrl.Reset(c.Request.Context()))})
}

func (s *Server) handleTick(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": newStateView(s.ctrl.Tick(c.Request.Context()))})
}

func (s *Server) handleVerify(c *gin.Context) {
	rep, err := s.ctrl.Verify(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": sweep.KindOf(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep, "text": rep.String()})
}

func (s *Server) handleLogs(c *gin.Context) {
	lines := logger.Recent()
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(lines) {
		lines = lines[len(lines)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"logs": lines})
}

func (s *Server) handleReport(c *gin.Context) {
	if s.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果分析未启用"})
		return
	}
	dir := strings.TrimSpace(c.Query("dir"))
	if dir == "" {
		dir = s.ctrl.Status(c.Request.Context()).Dir
	}
	if dir == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dir 必填"})
		return
	}
	dir, ok := s.withinResults(dir)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dir 不在结果目录下"})
		return
	}
	rep, err := s.analyzer.Analyze(c.Request.Context(), dir)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": sweep.KindOf(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

// withinResults 把相对路径解析到结果根目录下，并拒绝跳出根目录的路径。
func (s *Server) withinResults(dir string) (string, bool) {
	root := strings.TrimSpace(s.resultsRoot)
	if root == "" {
		return filepath.Clean(dir), true
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(dir) && !strings.HasPrefix(filepath.Clean(dir), filepath.Clean(root)+string(filepath.Separator)) {
		dir = filepath.Join(root, dir)
	}
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(rootAbs, dirAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return dirAbs, true
}

func (s *Server) handleReplay(c *gin.Context) {
	if s.replay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回放引擎未启用"})
		return
	}
	info, ok := s.replay.Info()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"job": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": info})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "扫描历史未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sweeps, err := s.history.ListSweeps(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweeps": sweeps})
}

func (s *Server) handleHistoryDetail(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "扫描历史未启用"})
		return
	}
	id := c.Param("id")
	sw, err := s.history.GetSweep(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sweep not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	jobs, err := s.history.ListJobs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweep": sw, "jobs": jobs})
}

// statusFor 按错误种类映射 HTTP 状态码。
func statusFor(err error) int {
	switch sweep.KindOf(err) {
	case sweep.KindConfiguration, sweep.KindParse:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 控制接口监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
