package adapters

import (
	"pms-to-mqtt/application"

	"github.com/prometheus/client_golang/prometheus"
)

type PromMetrics struct {
	framesDecoded  prometheus.Counter
	framesRejected *prometheus.CounterVec
	connects       *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	commits        *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	panics         prometheus.Counter
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// NewPromMetrics registers the node counters on reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms_frames_decoded_total",
			Help: "Sensor frames that passed the checksum.",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_frames_rejected_total",
			Help: "Sensor frames abandoned, by reason.",
		}, []string{"reason"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_connect_attempts_total",
			Help: "Connection attempts per link and outcome.",
		}, []string{"link", "outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_publishes_total",
			Help: "Telemetry publishes by outcome.",
		}, []string{"outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_config_commits_total",
			Help: "Configuration storage commits by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_registration_attempts_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms_loop_panics_total",
			Help: "Panics recovered by the control loop.",
		}),
	}
	reg.MustRegister(m.framesDecoded, m.framesRejected, m.connects, m.publishes, m.commits, m.registrations, m.panics)
	return m
}

func (m *PromMetrics) FrameDecoded() { m.framesDecoded.Inc() }

func (m *PromMetrics) FrameRejected(reason string) {
	m.framesRejected.WithLabelValues(reason).Inc()
}

func (m *PromMetrics) ConnectAttempt(link string, ok bool) {
	m.connects.WithLabelValues(link, outcome(ok)).Inc()
}

func (m *PromMetrics) Published(ok bool) { m.publishes.WithLabelValues(outcome(ok)).Inc() }

func (m *PromMetrics) StorageCommit(ok bool) { m.commits.WithLabelValues(outcome(ok)).Inc() }

func (m *PromMetrics) RegistrationAttempt(ok bool) {
	m.registrations.WithLabelValues(outcome(ok)).Inc()
}

func (m *PromMetrics) StepPanic() { m.panics.Inc() }

var _ application.Metrics = &PromMetrics{}
