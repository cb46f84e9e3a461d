// Package metrics exposes server state as Prometheus metrics, gathered at
// scrape time from the reducer loop's published snapshot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhamlin/speakez/internal/transport"
)

// SnapshotProvider hands out the most recent state snapshot.
type SnapshotProvider interface {
	Snapshot() *transport.Snapshot
}

// Collector is a prometheus.Collector over the server snapshot.
type Collector struct {
	provider  SnapshotProvider
	startTime time.Time

	sessions      *prometheus.Desc
	handshakes    *prometheus.Desc
	maxUsers      *prometheus.Desc
	channels      *prometheus.Desc
	cryptGood     *prometheus.Desc
	cryptLate     *prometheus.Desc
	cryptLost     *prometheus.Desc
	uptimeSeconds *prometheus.Desc
}

// NewCollector builds a collector over the given provider.
func NewCollector(provider SnapshotProvider) *Collector {
	return &Collector{
		provider:  provider,
		startTime: time.Now(),
		sessions: prometheus.NewDesc("speakez_sessions",
			"Connected sessions (handshake complete).", nil, nil),
		handshakes: prometheus.NewDesc("speakez_handshakes_pending",
			"Sessions still in handshake.", nil, nil),
		maxUsers: prometheus.NewDesc("speakez_max_users",
			"Configured session capacity.", nil, nil),
		channels: prometheus.NewDesc("speakez_channels",
			"Number of channels.", nil, nil),
		cryptGood: prometheus.NewDesc("speakez_crypt_good_total",
			"Voice packets decrypted without issue, summed over sessions.", nil, nil),
		cryptLate: prometheus.NewDesc("speakez_crypt_late_total",
			"Voice packets that arrived late, summed over sessions.", nil, nil),
		cryptLost: prometheus.NewDesc("speakez_crypt_lost_total",
			"Voice packets presumed lost, summed over sessions.", nil, nil),
		uptimeSeconds: prometheus.NewDesc("speakez_uptime_seconds",
			"Seconds since the server started.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.handshakes
	ch <- c.maxUsers
	ch <- c.channels
	ch <- c.cryptGood
	ch <- c.cryptLate
	ch <- c.cryptLost
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.provider.Snapshot()
	if snap == nil {
		return
	}

	var good, late, lost float64
	for _, s := range snap.Sessions {
		good += float64(s.Good)
		late += float64(s.Late)
		lost += float64(s.Lost)
	}

	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(len(snap.Sessions)))
	ch <- prometheus.MustNewConstMetric(c.handshakes, prometheus.GaugeValue, float64(snap.PendingHandshakes))
	ch <- prometheus.MustNewConstMetric(c.maxUsers, prometheus.GaugeValue, float64(snap.MaxUsers))
	ch <- prometheus.MustNewConstMetric(c.channels, prometheus.GaugeValue, float64(len(snap.Channels)))
	ch <- prometheus.MustNewConstMetric(c.cryptGood, prometheus.CounterValue, good)
	ch <- prometheus.MustNewConstMetric(c.cryptLate, prometheus.CounterValue, late)
	ch <- prometheus.MustNewConstMetric(c.cryptLost, prometheus.CounterValue, lost)
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.CounterValue, time.Since(c.startTime).Seconds())
}
