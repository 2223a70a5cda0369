package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tolerance 用于判断固定轴以及吸收步进累加误差。
const Tolerance = 1e-9

// DefaultMaxCombinations 是未配置上限时允许展开的组合数。
const DefaultMaxCombinations = 100000

// Kind 描述参数槽位的取值类型。
type Kind string

const (
	KindInteger Kind = "int"
	KindFloat   Kind = "float"
	KindBool    Kind = "bool"
)

// ParseKind 解析配置里的类型名，空串视为 float。
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "int", "integer":
		return KindInteger, nil
	case "", "float", "double":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	default:
		return "", fmt.Errorf("unsupported parameter type %q", raw)
	}
}

// Normalize 按类型收敛数值：整数四舍五入，布尔折叠为 0/1。
func (k Kind) Normalize(v float64) float64 {
	switch k {
	case KindInteger:
		return math.Round(v)
	case KindBool:
		if math.Abs(v) < Tolerance {
			return 0
		}
		return 1
	default:
		return v
	}
}

// Axis 是参数空间的一个维度。
type Axis struct {
	Slot int     `json:"slot"`
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
	Kind Kind    `json:"kind"`
}

// Fixed 表示该轴只贡献 Min，不进入组合向量。
func (a Axis) Fixed() bool {
	return math.Abs(a.Step) < Tolerance
}

// Degenerate 表示固定轴 Min > Max，整条轴被丢弃。
func (a Axis) Degenerate() bool {
	return a.Fixed() && a.Min > a.Max
}

// Label 返回参数展示名。
func (a Axis) Label() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return fmt.Sprintf("input_%d", a.Slot)
}

// Count 返回该轴的取值个数；步进方向背离 Max 时为 0，超出 int 范围时截断为 math.MaxInt。
func (a Axis) Count() int {
	if a.Fixed() {
		if a.Degenerate() {
			return 0
		}
		return 1
	}
	span := (a.Max - a.Min) / a.Step
	if math.IsNaN(span) || span < -Tolerance {
		return 0
	}
	n := math.Floor(span+Tolerance) + 1
	if n >= float64(math.MaxInt) {
		return math.MaxInt
	}
	return int(n)
}

// ValueAt 返回第 i 个取值，按下标计算避免误差累积。
func (a Axis) ValueAt(i int) float64 {
	if a.Fixed() {
		return a.Kind.Normalize(a.Min)
	}
	return a.Kind.Normalize(a.Min + float64(i)*a.Step)
}

// Values 物化该轴的全部取值。
func (a Axis) Values() []float64 {
	n := a.Count()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a.ValueAt(i)
	}
	return out
}

// Space 是有序的参数轴集合，顺序决定组合向量布局与枚举优先级。
type Space []Axis

// Validate 检查空间定义本身是否合法。
func (s Space) Validate() error {
	if len(s) == 0 {
		return ConfigurationError("validate space", fmt.Errorf("parameter space is empty"))
	}
	seen := make(map[int]bool, len(s))
	labels := make(map[string]int, len(s))
	for i, a := range s {
		if a.Slot < 0 {
			return ConfigurationError("validate space", fmt.Errorf("params[%d] slot must be >= 0", i))
		}
		if seen[a.Slot] {
			return ConfigurationError("validate space", fmt.Errorf("params[%d] duplicate slot %d", i, a.Slot))
		}
		seen[a.Slot] = true
		if prev, ok := labels[a.Label()]; ok {
			return ConfigurationError("validate space", fmt.Errorf("params[%d] name %q already used by params[%d]", i, a.Label(), prev))
		}
		labels[a.Label()] = i
		for _, v := range []float64{a.Min, a.Max, a.Step} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ConfigurationError("validate space", fmt.Errorf("params[%d] contains non-finite bound", i))
			}
		}
		if _, err := ParseKind(string(a.Kind)); err != nil {
			return ConfigurationError("validate space", fmt.Errorf("params[%d]: %w", i, err))
		}
	}
	return nil
}

// CheckSize 拒绝展开后超过 limit 个组合的空间，limit <= 0 时使用 DefaultMaxCombinations。
func (s Space) CheckSize(limit int) error {
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}
	total := Cardinality(s)
	if total <= limit {
		return nil
	}
	if total == math.MaxInt {
		return ConfigurationError("validate space", fmt.Errorf("parameter space overflows int, max_combinations is %d", limit))
	}
	return ConfigurationError("validate space", fmt.Errorf("parameter space expands to %d combinations, max_combinations is %d", total, limit))
}

// Active 返回去掉退化固定轴后的空间。
func (s Space) Active() Space {
	out := make(Space, 0, len(s))
	for _, a := range s {
		if a.Degenerate() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Degraded 返回被丢弃的退化固定轴。
func (s Space) Degraded() []Axis {
	var out []Axis
	for _, a := range s {
		if a.Degenerate() {
			out = append(out, a)
		}
	}
	return out
}

// Varying 返回参与组合的轴，保持原有顺序。
func (s Space) Varying() []Axis {
	var out []Axis
	for _, a := range s.Active() {
		if !a.Fixed() {
			out = append(out, a)
		}
	}
	return out
}

// Fixed 返回有效的固定轴。
func (s Space) Fixed() []Axis {
	var out []Axis
	for _, a := range s.Active() {
		if a.Fixed() {
			out = append(out, a)
		}
	}
	return out
}

// Combination 是一次任务的变化轴取值，不含固定轴。
type Combination []float64

// Cardinality 返回组合总数，不物化组合；乘积溢出时返回 math.MaxInt。
func Cardinality(space Space) int {
	active := space.Active()
	if len(active) == 0 {
		return 0
	}
	total, overflow := 1, false
	for _, a := range active.Varying() {
		n := a.Count()
		if n == 0 {
			return 0
		}
		if overflow || total > math.MaxInt/n {
			overflow = true
			continue
		}
		total *= n
	}
	if overflow {
		return math.MaxInt
	}
	return total
}

// Enumerate 以里程表顺序展开笛卡尔积：最后一个变化轴变化最快。
// 只有固定轴时返回一个空组合；空间为空时返回 nil。调用方先用 CheckSize 限制规模。
func Enumerate(space Space) []Combination {
	active := space.Active()
	if len(active) == 0 {
		return nil
	}
	varying := active.Varying()
	if len(varying) == 0 {
		return []Combination{{}}
	}
	values := make([][]float64, len(varying))
	total := 1
	for i, a := range varying {
		values[i] = a.Values()
		total *= len(values[i])
	}
	if total == 0 {
		return nil
	}
	out := make([]Combination, 0, total)
	digits := make([]int, len(varying))
	for {
		combo := make(Combination, len(varying))
		for i, d := range digits {
			combo[i] = values[i][d]
		}
		out = append(out, combo)

		pos := len(digits) - 1
		for ; pos >= 0; pos-- {
			digits[pos]++
			if digits[pos] < len(values[pos]) {
				break
			}
			digits[pos] = 0
		}
		if pos < 0 {
			return out
		}
	}
}

// Param 是下发给参数槽位的一项取值。
type Param struct {
	Slot  int     `json:"slot"`
	Name  string  `json:"name"`
	Kind  Kind    `json:"kind"`
	Value float64 `json:"value"`
}

// Assignment 是某个组合完整的参数赋值（固定轴 + 变化轴），按轴顺序排列。
type Assignment []Param

// Assign 把组合向量展开为完整赋值。
func (s Space) Assign(combo Combination) (Assignment, error) {
	active := s.Active()
	varying := active.Varying()
	if len(combo) != len(varying) {
		return nil, ConfigurationError("assign", fmt.Errorf("combination has %d values, space has %d varying axes", len(combo), len(varying)))
	}
	out := make(Assignment, 0, len(active))
	next := 0
	for _, a := range active {
		value := a.ValueAt(0)
		if !a.Fixed() {
			value = a.Kind.Normalize(combo[next])
			next++
		}
		out = append(out, Param{Slot: a.Slot, Name: a.Label(), Kind: a.Kind, Value: value})
	}
	return out, nil
}

// FormatValue 按类型输出参数值。
func (p Param) FormatValue() string {
	switch p.Kind {
	case KindInteger:
		return strconv.FormatInt(int64(math.Round(p.Value)), 10)
	case KindBool:
		return strconv.FormatBool(math.Abs(p.Value) >= Tolerance)
	default:
		return strconv.FormatFloat(p.Value, 'f', -1, 64)
	}
}

// MarshalJSON 输出保持轴顺序的 name→value 对象。
func (a Assignment) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(p.FormatValue())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String 输出 "name: value | name: value"。
func (a Assignment) String() string {
	parts := make([]string, 0, len(a))
	for _, p := range a {
		parts = append(parts, p.Name+": "+p.FormatValue())
	}
	return strings.Join(parts, " | ")
}
