package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_job_commands_total",
		Help: "Replay job commands issued by the orchestrator, by command and result",
	}, []string{"command", "result"})

	harvestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_harvest_total",
		Help: "Combinations harvested, by result",
	}, []string{"result"})

	sweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_errors_total",
		Help: "Orchestrator errors by kind",
	}, []string{"kind"})

	comboIndexGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_combo_index",
		Help: "Index of the combination currently in flight",
	})

	combinationsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_combinations",
		Help: "Number of combinations in the current sweep",
	})
)

func observeCommand(cmd CommandType, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobCommandsTotal.WithLabelValues(string(cmd), result).Inc()
}

func observeError(err error) {
	if err == nil {
		return
	}
	kind := KindOf(err)
	if kind == "" {
		kind = "other"
	}
	sweepErrorsTotal.WithLabelValues(string(kind)).Inc()
}

func observeState(st State) {
	comboIndexGauge.Set(float64(st.ComboIndex))
	combinationsGauge.Set(float64(len(st.Combinations)))
}
