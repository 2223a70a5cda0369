package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 用于以环境变量覆盖配置项，例如 SWEEPER_APP_HTTP_ADDR。
const EnvPrefix = "SWEEPER"

// Load 读取配置文件（含 include 链），应用默认值并校验。
func Load(path string) (*Config, error) {
	chain, err := loadConfigChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, file := range chain {
		if err := v.MergeConfigMap(file.settings); err != nil {
			return nil, fmt.Errorf("sweeper config: merge %s: %w", file.path, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("sweeper config: decode: %w", err)
	}
	explicit := make(keySet)
	markExplicitKeys("", v.AllSettings(), explicit)
	cfg.applyDefaults(explicit)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configFile 是 include 链中的一个文件，settings 已去掉 include 键。
type configFile struct {
	path     string
	settings map[string]any
}

// loadConfigChain 按合并顺序返回 include 链：被包含的文件在前，入口文件最后。
func loadConfigChain(path string) ([]configFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sweeper config: no config file given")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("sweeper config: resolve %s: %w", path, err)
	}
	w := &includeWalker{done: make(map[string]bool)}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.chain, nil
}

type includeWalker struct {
	done  map[string]bool
	trail []string
	chain []configFile
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	if slices.Contains(w.trail, path) {
		loop := append(append([]string(nil), w.trail...), path)
		return fmt.Errorf("sweeper config: include cycle %s", strings.Join(loop, " -> "))
	}
	if w.done[path] {
		return nil
	}
	settings, includes, err := readConfigFile(path)
	if err != nil {
		return err
	}
	w.trail = append(w.trail, path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.trail = w.trail[:len(w.trail)-1]
	w.done[path] = true
	w.chain = append(w.chain, configFile{path: path, settings: settings})
	return nil
}

func readConfigFile(path string) (map[string]any, []string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("sweeper config: read %s: %w", path, err)
	}
	settings := v.AllSettings()
	includes, err := includePaths(settings["include"])
	if err != nil {
		return nil, nil, fmt.Errorf("sweeper config: %s: %w", path, err)
	}
	delete(settings, "include")
	return settings, includes, nil
}

// includePaths 接受单个路径或路径列表，空白项被跳过。
func includePaths(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must list config file paths, got %T", raw)
	}
	var out []string
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include[%d] must be a path, got %T", i, item)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// markExplicitKeys 记录配置里出现过的键路径（小写，点号分隔），列表元素沿用列表的路径。
func markExplicitKeys(prefix string, node any, dest keySet) {
	if children, ok := stringKeyed(node); ok {
		for key, child := range children {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			markExplicitKeys(key, child, dest)
		}
		return
	}
	if prefix == "" {
		return
	}
	dest.mark(prefix)
	if items, ok := node.([]any); ok {
		for _, item := range items {
			markExplicitKeys(prefix, item, dest)
		}
	}
}

// stringKeyed 把 yaml 解出的两种 map 形态统一成字符串键。
func stringKeyed(node any) (map[string]any, bool) {
	switch val := node.(type) {
	case map[string]any:
		return val, true
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = v
			}
		}
		return out, true
	}
	return nil, false
}
