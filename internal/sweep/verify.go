package sweep

import (
	"fmt"
	"strings"
)

// AxisReport 描述单个参数轴的展开结果。
type AxisReport struct {
	Axis     Axis      `json:"axis"`
	Fixed    bool      `json:"fixed"`
	Degraded bool      `json:"degraded"`
	Count    int       `json:"count"`
	Values   []float64 `json:"values"`
}

// VerifyReport 是配置自检结果，不会启动任何任务。
type VerifyReport struct {
	Identity    string       `json:"identity"`
	Axes        []AxisReport `json:"axes"`
	Cardinality int          `json:"cardinality"`
	Launch      LaunchSpec   `json:"launch"`
	Policy      Policy       `json:"policy"`
	ResultsRoot string       `json:"resultsRoot"`
	Warnings    []string     `json:"warnings,omitempty"`
}

const maxPreviewValues = 20

// VerifyPlan 展开计划并汇总每个轴的取值。
func VerifyPlan(plan Plan) (VerifyReport, error) {
	if err := plan.CheckSpace(); err != nil {
		return VerifyReport{}, err
	}
	rep := VerifyReport{
		Identity:    plan.Identity,
		Cardinality: Cardinality(plan.Space),
		Launch:      plan.Launch,
		Policy:      plan.Policy,
		ResultsRoot: plan.ResultsRoot,
	}
	for _, a := range plan.Space {
		ar := AxisReport{Axis: a, Fixed: a.Fixed(), Degraded: a.Degenerate(), Count: a.Count()}
		if ar.Degraded {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: fixed axis with min %g > max %g is ignored", a.Label(), a.Min, a.Max))
		} else {
			values := make([]float64, min(ar.Count, maxPreviewValues))
			for i := range values {
				values[i] = a.ValueAt(i)
			}
			ar.Values = values
			if ar.Count == 0 {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: step %g never reaches max %g, sweep is empty", a.Label(), a.Step, a.Max))
			}
		}
		rep.Axes = append(rep.Axes, ar)
	}
	return rep, nil
}

// String 渲染便于日志输出的多行文本。
func (r VerifyReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sweep: %s\n", r.Identity)
	fmt.Fprintf(&b, "Replay: speed=%g start=%s mode=%s charts=%s clear=%v\n",
		r.Launch.Speed, r.Launch.StartAt.Format("2006-01-02 15:04:05"), r.Launch.Mode, r.Launch.Charts, r.Launch.ClearExisting)
	for _, ar := range r.Axes {
		a := ar.Axis
		state := "varying"
		switch {
		case ar.Degraded:
			state = "ignored"
		case ar.Fixed:
			state = "fixed"
		}
		fmt.Fprintf(&b, "  slot %d %s [%s] min=%g max=%g step=%g kind=%s -> %d value(s)\n",
			a.Slot, a.Label(), state, a.Min, a.Max, a.Step, a.Kind, ar.Count)
	}
	fmt.Fprintf(&b, "Combinations: %d\n", r.Cardinality)
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}
