// Package metrics exposes Prometheus instruments and the health/metrics
// HTTP endpoint of the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all Prometheus instruments used by the bot. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Turns           *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	ScheduledPosts  *prometheus.CounterVec
	ScheduledGuilds prometheus.Gauge
	ProviderLatency *prometheus.HistogramVec
}

// New registers the instruments on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Classified incoming messages by kind.",
		}, []string{"kind"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Handled commands by top-level name.",
		}, []string{"command"}),
		ScheduledPosts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_posts_total",
			Help:      "Daily scheduled posts by outcome.",
		}, []string{"outcome"}),
		ScheduledGuilds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_guilds",
			Help:      "Guilds with an armed daily post.",
		}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Latency of third-party API calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
	}
}

// ObserveTurn counts a conversation turn.
func (m *Metrics) ObserveTurn(mode, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(mode, outcome).Inc()
}

// ObserveDispatch counts a classified message.
func (m *Metrics) ObserveDispatch(kind string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(kind).Inc()
}

// ObserveCommand counts a handled command.
func (m *Metrics) ObserveCommand(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}

// ObservePost counts a scheduled post attempt.
func (m *Metrics) ObservePost(outcome string) {
	if m == nil {
		return
	}
	m.ScheduledPosts.WithLabelValues(outcome).Inc()
}

// SetScheduledGuilds records how many guilds have an armed schedule.
func (m *Metrics) SetScheduledGuilds(n int) {
	if m == nil {
		return
	}
	m.ScheduledGuilds.Set(float64(n))
}

// ObserveProvider records the latency of a provider call.
func (m *Metrics) ObserveProvider(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}
