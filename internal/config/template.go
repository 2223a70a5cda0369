package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// SlotInfo 描述回放引擎暴露的一个输入槽位，用于生成配置模板。
type SlotInfo struct {
	Slot    int
	Name    string
	Type    string
	Default float64
	Min     float64
	Max     float64
	Step    float64
	Help    string
}

type templateParam struct {
	Slot int     `yaml:"slot"`
	Name string  `yaml:"name"`
	Type string  `yaml:"type"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

type templateDoc struct {
	App struct {
		Env          string `yaml:"env"`
		LogLevel     string `yaml:"log_level"`
		LogPath      string `yaml:"log_path"`
		HTTPAddr     string `yaml:"http_addr"`
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"app"`
	Sweep struct {
		Identity          string          `yaml:"identity"`
		MaxResumeAttempts int             `yaml:"max_resume_attempts"`
		ResumeInterval    string          `yaml:"resume_interval"`
		MaxCombinations   int             `yaml:"max_combinations"`
		Params            []templateParam `yaml:"params"`
	} `yaml:"sweep"`
	Replay struct {
		Speed       float64 `yaml:"speed"`
		StartDate   string  `yaml:"start_date"`
		StartTime   string  `yaml:"start_time"`
		Mode        string  `yaml:"mode"`
		Source      string  `yaml:"source"`
		CandlesPath string  `yaml:"candles_path"`
		Symbol      string  `yaml:"symbol"`
		Interval    string  `yaml:"interval"`
		Limit       int     `yaml:"limit"`
		Strategy    string  `yaml:"strategy"`
	} `yaml:"replay"`
	Results struct {
		Root     string `yaml:"root"`
		TradeCSV bool   `yaml:"trade_csv"`
		Chart    bool   `yaml:"chart"`
	} `yaml:"results"`
	Storage struct {
		StatePath  string `yaml:"state_path"`
		LedgerPath string `yaml:"ledger_path"`
	} `yaml:"storage"`
	Log struct {
		MaxLines int `yaml:"max_lines"`
	} `yaml:"log"`
}

// WriteTemplate 根据槽位目录生成起步配置：每个槽位默认固定在其默认值（step=0）。
func WriteTemplate(w io.Writer, slots []SlotInfo) error {
	var doc templateDoc
	doc.App.Env = defaultAppEnv
	doc.App.LogLevel = defaultAppLogLevel
	doc.App.HTTPAddr = defaultAppHTTPAddr
	doc.App.TickInterval = defaultAppTickInterval.String()
	doc.Sweep.Identity = defaultSweepIdentity
	doc.Sweep.ResumeInterval = defaultResumeInterval.String()
	doc.Sweep.MaxCombinations = defaultMaxCombinations
	doc.Replay.Speed = defaultReplaySpeed
	doc.Replay.Mode = defaultReplayMode
	doc.Replay.Source = defaultReplaySource
	doc.Replay.CandlesPath = "data/candles.csv"
	doc.Replay.Symbol = defaultReplaySymbol
	doc.Replay.Interval = defaultReplayInterval
	doc.Replay.Limit = defaultReplayLimit
	doc.Replay.Strategy = defaultReplayStrategy
	doc.Results.Root = defaultResultsRoot
	doc.Results.Chart = true
	doc.Storage.StatePath = defaultStatePath
	doc.Storage.LedgerPath = defaultLedgerPath
	doc.Log.MaxLines = defaultLogMaxLines
	for _, s := range slots {
		doc.Sweep.Params = append(doc.Sweep.Params, templateParam{
			Slot: s.Slot,
			Name: s.Name,
			Type: s.Type,
			Min:  s.Default,
			Max:  s.Default,
			Step: 0,
		})
	}

	var root yaml.Node
	if err := root.Encode(&doc); err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	root.HeadComment = "sweeper config\nset step > 0 on a param to sweep it between min and max"
	annotateParams(&root, slots)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return enc.Close()
}

// annotateParams 给 sweep.params 的每一项附上槽位说明与建议范围。
func annotateParams(root *yaml.Node, slots []SlotInfo) {
	sweepNode := mappingValue(root, "sweep")
	params := mappingValue(sweepNode, "params")
	if params == nil || params.Kind != yaml.SequenceNode {
		return
	}
	for i, item := range params.Content {
		if i >= len(slots) {
			break
		}
		s := slots[i]
		comment := fmt.Sprintf("suggested range %g..%g step %g", s.Min, s.Max, s.Step)
		if s.Help != "" {
			comment = s.Help + "; " + comment
		}
		item.HeadComment = comment
	}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil {
		return nil
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
