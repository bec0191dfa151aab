package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PortStats is one port's statistics as seen by the collector
type PortStats struct {
	Port      uint16
	Name      string
	Driver    string
	LinkUp    bool
	LinkSpeed uint32

	// Counters holds extended statistics in retrieval order
	Counters []Counter
}

// Counter is a named statistics value
type Counter struct {
	Name  string
	Value uint64
}

// StatsSource supplies per-port statistics on every scrape
type StatsSource interface {
	CollectPortStats() []PortStats
}

// StatsCollector exports per-port extended statistics and link state
type StatsCollector struct {
	source StatsSource

	xstatDesc     *prometheus.Desc
	linkUpDesc    *prometheus.Desc
	linkSpeedDesc *prometheus.Desc
}

// NewStatsCollector creates a collector reading from source
func NewStatsCollector(source StatsSource) *StatsCollector {
	return &StatsCollector{
		source: source,
		xstatDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, SubsystemPort, "xstat"),
			"Port extended statistic",
			[]string{"port", "name", "driver", "counter"}, nil,
		),
		linkUpDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, SubsystemPort, "link_up"),
			"Port link status (1=up, 0=down)",
			[]string{"port", "name"}, nil,
		),
		linkSpeedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, SubsystemPort, "link_speed_mbps"),
			"Port link speed in Mbps",
			[]string{"port", "name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.xstatDesc
	ch <- c.linkUpDesc
	ch <- c.linkSpeedDesc
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ps := range c.source.CollectPortStats() {
		port := strconv.Itoa(int(ps.Port))
		for _, ctr := range ps.Counters {
			ch <- prometheus.MustNewConstMetric(c.xstatDesc, prometheus.CounterValue,
				float64(ctr.Value), port, ps.Name, ps.Driver, ctr.Name)
		}
		up := float64(0)
		if ps.LinkUp {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.linkUpDesc, prometheus.GaugeValue, up, port, ps.Name)
		ch <- prometheus.MustNewConstMetric(c.linkSpeedDesc, prometheus.GaugeValue,
			float64(ps.LinkSpeed), port, ps.Name)
	}
}
