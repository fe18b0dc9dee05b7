package tracking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultPushTimeout bounds one Pushgateway push so an unreachable gateway
// cannot stall an epoch.
const DefaultPushTimeout = 5 * time.Second

// PrometheusSink exposes the latest epoch's metrics as gauges and, when a
// Pushgateway URL is configured, pushes them after every record.
type PrometheusSink struct {
	registry *prometheus.Registry
	epoch    prometheus.Gauge
	values   *prometheus.GaugeVec
	pusher   *push.Pusher
	client   *http.Client
	timeout  time.Duration
}

// NewPrometheusSink registers the training gauges on a private registry.
// job names the Pushgateway job; an empty pushURL disables pushing.
func NewPrometheusSink(pushURL, job, runID string) *PrometheusSink {
	reg := prometheus.NewRegistry()
	s := &PrometheusSink{
		registry: reg,
		client:   &http.Client{Timeout: DefaultPushTimeout},
		timeout:  DefaultPushTimeout,
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emotiond",
			Subsystem: "train",
			Name:      "epoch",
			Help:      "Last completed training epoch",
		}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "emotiond",
			Subsystem: "train",
			Name:      "metric",
			Help:      "Latest value of a per-epoch training metric",
		}, []string{"name"}),
	}
	reg.MustRegister(s.epoch, s.values)
	if pushURL != "" {
		if job == "" {
			job = "emotiond_train"
		}
		s.pusher = push.New(pushURL, job).Gatherer(reg).Client(s.client)
		if runID != "" {
			s.pusher = s.pusher.Grouping("run_id", runID)
		}
	}
	return s
}

// SetPushTimeout changes the per-push deadline. Non-positive values restore
// DefaultPushTimeout.
func (s *PrometheusSink) SetPushTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultPushTimeout
	}
	s.timeout = d
	s.client.Timeout = d
}

// Registry exposes the gauges, for example to serve them on /metrics.
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

func (s *PrometheusSink) Log(ctx context.Context, r Record) error {
	s.epoch.Set(float64(r.Epoch))
	for k, v := range r.Metrics {
		s.values.WithLabelValues(k).Set(v)
	}
	if s.pusher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func (s *PrometheusSink) Close() error { return nil }
