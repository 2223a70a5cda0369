package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"sweeper/internal/app"
	"sweeper/internal/config"
	"sweeper/internal/logger"
	"sweeper/internal/replay"
	"sweeper/internal/store/ledger"
	"sweeper/internal/sweep"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

var (
	configPath  string
	noWatch     bool
	analyzeID   string
	templateOut string
	forceWrite  bool
	historyMax  int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sweeper",
		Short:         "Parameter sweep orchestrator for the local replay engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("SWEEPER_CONFIG", defaultConfigPath), "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API, tick loop and replay engine",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Expand the configured parameter space without starting anything",
		RunE:  runVerify,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <dir>",
		Short: "Rank the artifacts in a sweep directory and write the summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().StringVar(&analyzeID, "identity", "", "summary identity (defaults to sweep.identity)")

	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter config listing every replay input slot",
		RunE:  runInitConfig,
	}
	initCmd.Flags().StringVarP(&templateOut, "out", "o", "-", "output path, - for stdout")
	initCmd.Flags().BoolVar(&forceWrite, "force", false, "overwrite an existing file")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sweeps from the ledger",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVarP(&historyMax, "limit", "n", 20, "number of sweeps to show")

	root.AddCommand(serveCmd, verifyCmd, analyzeCmd, initCmd, historyCmd)
	return root
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func runServe(cmd *cobra.Command, _ []string) error {
	watcher, err := config.NewWatcher(configPath, !noWatch)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	cfg := watcher.Current()
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，标识=%s）", cfg.App.Env, cfg.Sweep.Identity)

	a, err := app.NewApp(watcher)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	plan, err := cfg.Plan()
	if err != nil {
		return err
	}
	rep, err := sweep.VerifyPlan(plan)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rep.String())
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	// 没有配置文件时使用默认指标路径
	cfg := &config.Config{Results: config.ResultsConfig{Chart: true}}
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("读取配置失败: %w", err)
		}
	}
	identity := analyzeID
	if identity == "" {
		identity = cfg.Sweep.Identity
	}
	analyzer, err := app.NewAnalyzer(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dir := args[0]
	rep, err := analyzer.Analyze(ctx, dir)
	if err != nil {
		return err
	}
	path, err := analyzer.Report(ctx, dir, identity)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	writeTable(out, rep.Table())
	for _, s := range rep.Skipped {
		fmt.Fprintf(out, "skipped: %s\n", s)
	}
	fmt.Fprintf(out, "summary: %s\n", path)
	return nil
}

func writeTable(w io.Writer, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// slotInfos 把回放引擎的槽位目录转换为配置模板描述。
func slotInfos() []config.SlotInfo {
	catalog := replay.Catalog()
	out := make([]config.SlotInfo, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, config.SlotInfo{
			Slot:    s.Index,
			Name:    s.Name,
			Type:    string(s.Kind),
			Default: s.Default,
			Min:     s.Min,
			Max:     s.Max,
			Step:    s.Step,
			Help:    s.Help,
		})
	}
	return out
}

func runInitConfig(cmd *cobra.Command, _ []string) error {
	if templateOut == "" || templateOut == "-" {
		return config.WriteTemplate(cmd.OutOrStdout(), slotInfos())
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !forceWrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(templateOut, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s 已存在，使用 --force 覆盖", templateOut)
		}
		return err
	}
	defer f.Close()
	if err := config.WriteTemplate(f, slotInfos()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", templateOut)
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	if strings.TrimSpace(cfg.Storage.LedgerPath) == "" {
		return fmt.Errorf("storage.ledger_path is empty")
	}
	store, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sweeps, err := store.ListSweeps(ctx, historyMax)
	if err != nil {
		return err
	}
	rows := [][]string{{"ID", "Identity", "Status", "Progress", "Failed", "Created", "Report"}}
	for _, s := range sweeps {
		rows = append(rows, []string{
			s.ID,
			s.Identity,
			s.Status,
			fmt.Sprintf("%d/%d", s.Harvested+s.Failed, s.Total),
			fmt.Sprintf("%d", s.Failed),
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			s.ReportPath,
		})
	}
	writeTable(cmd.OutOrStdout(), rows)
	return nil
}
