// metrics/recorder.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tierbot/monitor"
)

// Recorder turns cycle summaries into Prometheus series.
type Recorder struct {
	cycles          *prometheus.CounterVec
	duration        prometheus.Histogram
	scanned         prometheus.Counter
	unavailable     prometheus.Counter
	signals         prometheus.Counter
	intents         prometheus.Counter
	approved        prometheus.Counter
	executed        prometheus.Counter
	denials         *prometheus.CounterVec
	exits           *prometheus.CounterVec
	executionErrors *prometheus.CounterVec
	instrumentErrs  prometheus.Counter
	riskLevel       prometheus.Gauge
	openPositions   prometheus.Gauge
	pendingExits    prometheus.Gauge
}

// NewRecorder registers every series on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Name: "tierbot_" + name, Help: help})
	}
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{Name: "tierbot_cycles_total", Help: "Trading cycles run, by session phase"},
			[]string{"phase"},
		),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tierbot_cycle_duration_seconds",
			Help:    "Wall time of one trading cycle",
			Buckets: prometheus.DefBuckets,
		}),
		scanned:     counter("instruments_scanned_total", "Instruments evaluated for entry"),
		unavailable: counter("instruments_unavailable_total", "Instruments with no usable data or signals"),
		signals:     counter("signals_total", "Valid signals collected"),
		intents:     counter("intents_total", "Trade intents produced by arbitration"),
		approved:    counter("entries_approved_total", "Entries approved by the risk guard"),
		executed:    counter("entries_executed_total", "Entry orders confirmed filled"),
		denials: f.NewCounterVec(
			prometheus.CounterOpts{Name: "tierbot_entry_denials_total", Help: "Entries denied, by reason"},
			[]string{"reason"},
		),
		exits: f.NewCounterVec(
			prometheus.CounterOpts{Name: "tierbot_exits_total", Help: "Exit fills, by trigger"},
			[]string{"trigger"},
		),
		executionErrors: f.NewCounterVec(
			prometheus.CounterOpts{Name: "tierbot_execution_errors_total", Help: "Order failures, by kind"},
			[]string{"kind"},
		),
		instrumentErrs: counter("instrument_errors_total", "Per-instrument failures isolated from the cycle"),
		riskLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "tierbot_risk_level",
			Help: "Current risk level (0 normal, 1 elevated, 2 danger, 3 blocked)",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{Name: "tierbot_open_positions", Help: "Positions currently held"}),
		pendingExits:  f.NewGauge(prometheus.GaugeOpts{Name: "tierbot_pending_orders", Help: "Orders awaiting reconciliation"}),
	}
}

func (r *Recorder) ObserveCycle(s monitor.Summary) {
	r.cycles.WithLabelValues(string(s.Phase)).Inc()
	r.duration.Observe(s.Duration.Seconds())
	r.riskLevel.Set(float64(s.RiskLevel))
	r.openPositions.Set(float64(s.OpenPositions))
	r.pendingExits.Set(float64(s.Pending))
	if s.Phase == monitor.PhaseClosed {
		return
	}

	r.scanned.Add(float64(s.Scanned))
	r.unavailable.Add(float64(s.Unavailable))
	r.signals.Add(float64(s.Signals))
	r.intents.Add(float64(s.Intents))
	r.approved.Add(float64(s.Approved))
	r.executed.Add(float64(s.Executed))
	r.instrumentErrs.Add(float64(s.Errors))
	for reason, n := range s.DenialsByReason {
		r.denials.WithLabelValues(string(reason)).Add(float64(n))
	}
	for trigger, n := range s.ExitsByTrigger {
		r.exits.WithLabelValues(string(trigger)).Add(float64(n))
	}
	for kind, n := range s.ErrorsByKind {
		r.executionErrors.WithLabelValues(kind).Add(float64(n))
	}
}
