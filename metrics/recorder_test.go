package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierbot/monitor"
	"tierbot/risk"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func labelled(mf *dto.MetricFamily, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestRecorderObservesCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.ObserveCycle(monitor.Summary{
		Phase:           monitor.PhaseTrading,
		Scanned:         5,
		Approved:        5,
		ExecutionErrors: 5,
		DenialsByReason: map[risk.Reason]int{risk.ReasonMaxPositions: 2},
		ExitsByTrigger:  map[risk.Trigger]int{risk.TriggerStopLoss: 1},
		ErrorsByKind:    map[string]int{"auth": 5},
		RiskLevel:       risk.Danger,
		OpenPositions:   3,
		Duration:        120 * time.Millisecond,
	})

	mfs := gather(t, reg)
	assert.Equal(t, 1.0, labelled(mfs["tierbot_cycles_total"], "trading"))
	assert.Equal(t, 5.0, mfs["tierbot_instruments_scanned_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 5.0, labelled(mfs["tierbot_execution_errors_total"], "auth"))
	assert.Equal(t, 2.0, labelled(mfs["tierbot_entry_denials_total"], "max_positions"))
	assert.Equal(t, 1.0, labelled(mfs["tierbot_exits_total"], "stop_loss"))
	assert.Equal(t, 2.0, mfs["tierbot_risk_level"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 3.0, mfs["tierbot_open_positions"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, uint64(1), mfs["tierbot_cycle_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecorderClosedCycleOnlyCountsPhase(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.ObserveCycle(monitor.Summary{Phase: monitor.PhaseClosed, Scanned: 9})

	mfs := gather(t, reg)
	assert.Equal(t, 1.0, labelled(mfs["tierbot_cycles_total"], "closed"))
	assert.Equal(t, 0.0, mfs["tierbot_instruments_scanned_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestRecordersOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRecorder(prometheus.NewRegistry())
		NewRecorder(prometheus.NewRegistry())
	})
}
