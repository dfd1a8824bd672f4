package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxzi/herald/internal/models"
)

// SendLogStatsProvider reports aggregate send log counts
type SendLogStatsProvider interface {
	Stats(ctx context.Context, filter models.SendLogFilter) (*models.SendLogStats, error)
}

// SendLogCollector reads send log totals from the store at scrape time
type SendLogCollector struct {
	provider SendLogStatsProvider
	timeout  time.Duration
	logger   *slog.Logger
	desc     *prometheus.Desc
}

// NewSendLogCollector creates a collector over provider
func NewSendLogCollector(provider SendLogStatsProvider, logger *slog.Logger) *SendLogCollector {
	return &SendLogCollector{
		provider: provider,
		timeout:  5 * time.Second,
		logger:   logger,
		desc: prometheus.NewDesc(
			"herald_send_log_entries",
			"Entries in the send log by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *SendLogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *SendLogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.provider.Stats(ctx, models.SendLogFilter{})
	if err != nil {
		c.logger.Error("failed to collect send log stats", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats.Sent), models.SendStatusSent)
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats.Failed), models.SendStatusFailed)
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats.Skipped), models.SendStatusSkipped)
}
