package ethdev

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

type statField struct {
	name string
	get  func(s *Stats) uint64
}

type queueStatField struct {
	name string
	get  func(s *Stats, q int) uint64
}

var coreStats = []statField{
	{"rx_packets", func(s *Stats) uint64 { return s.IPackets }},
	{"tx_packets", func(s *Stats) uint64 { return s.OPackets }},
	{"rx_bytes", func(s *Stats) uint64 { return s.IBytes }},
	{"tx_bytes", func(s *Stats) uint64 { return s.OBytes }},
	{"tx_errors", func(s *Stats) uint64 { return s.OErrors }},
	{"rx_errors", func(s *Stats) uint64 { return s.IErrors }},
	{"alloc_rx_buff_failed", func(s *Stats) uint64 { return s.RxNoMbuf }},
}

var rxQueueStats = []queueStatField{
	{"rx_packets", func(s *Stats, q int) uint64 { return s.QIPackets[q] }},
	{"rx_bytes", func(s *Stats, q int) uint64 { return s.QIBytes[q] }},
}

var txQueueStats = []queueStatField{
	{"tx_packets", func(s *Stats, q int) uint64 { return s.QOPackets[q] }},
	{"tx_bytes", func(s *Stats, q int) uint64 { return s.QOBytes[q] }},
	{"tx_errors", func(s *Stats, q int) uint64 { return s.QErrors[q] }},
}

// queueStatName formats a per-queue statistic name, e.g. rx_queue_3_rx_bytes
func queueStatName(dir string, q int, base string) string {
	return fmt.Sprintf("%s_queue_%d_%s", dir, q, base)
}

// StatsGet returns the basic counters of a port. RxNoMbuf always comes from
// the port's software counter.
func (r *Registry) StatsGet(port PortID) (stats Stats, err error) {
	const op = metrics.OpStatsGet
	dev, err := r.device(port, op)
	if err != nil {
		return Stats{}, err
	}
	getter, ok := dev.ops.(StatsGetter)
	if !ok {
		return Stats{}, newPortError(port, op, ErrNotSupported, "")
	}
	getter.StatsGet(dev, &stats)
	stats.RxNoMbuf = dev.data.RxMbufAllocFailed.Load()
	return stats, nil
}

// StatsReset clears the basic counters of a port
func (r *Registry) StatsReset(port PortID) error {
	dev, err := r.device(port, "stats_reset")
	if err != nil {
		return err
	}
	resetter, ok := dev.ops.(StatsResetter)
	if !ok {
		return newPortError(port, "stats_reset", ErrNotSupported, "")
	}
	resetter.StatsReset(dev)
	dev.data.RxMbufAllocFailed.Store(0)
	return nil
}

// XStatsGet fills out with the port's extended statistics: the core
// counters, per-queue counters, then driver counters. If out is too small
// nothing is written and the required length is returned so the caller can
// retry with a larger slice.
//
// Returns:
//   - int: Number of statistics the port has
//   - error: Invalid port or a driver failure
func (r *Registry) XStatsGet(port PortID, out []XStat) (int, error) {
	const op = metrics.OpXStatsGet
	dev, err := r.device(port, op)
	if err != nil {
		return 0, err
	}
	data := dev.data
	nbRx := int(data.NbRxQueues())
	nbTx := int(data.NbTxQueues())

	count := len(coreStats) + nbRx*len(rxQueueStats) + nbTx*len(txQueueStats)

	xcount := 0
	if xg, ok := dev.ops.(XStatsGetter); ok {
		var driverOut []XStat
		if len(out) > count {
			driverOut = out[count:]
		}
		xcount, err = xg.XStatsGet(dev, driverOut)
		if err != nil {
			return 0, newPortError(port, op, err, "driver xstats")
		}
	}

	if len(out) < count+xcount {
		return count + xcount, nil
	}

	var stats Stats
	if getter, ok := dev.ops.(StatsGetter); ok {
		getter.StatsGet(dev, &stats)
	}
	stats.RxNoMbuf = data.RxMbufAllocFailed.Load()

	i := 0
	for _, f := range coreStats {
		out[i] = XStat{Name: f.name, Value: f.get(&stats)}
		i++
	}
	for q := 0; q < nbRx; q++ {
		for _, f := range rxQueueStats {
			var v uint64
			if q < types.QueueStatCounters {
				v = f.get(&stats, q)
			}
			out[i] = XStat{Name: queueStatName("rx", q, f.name), Value: v}
			i++
		}
	}
	for q := 0; q < nbTx; q++ {
		for _, f := range txQueueStats {
			var v uint64
			if q < types.QueueStatCounters {
				v = f.get(&stats, q)
			}
			out[i] = XStat{Name: queueStatName("tx", q, f.name), Value: v}
			i++
		}
	}
	return count + xcount, nil
}

// XStatsReset clears extended statistics, falling back to StatsReset when
// the driver has no extended reset
func (r *Registry) XStatsReset(port PortID) error {
	dev, err := r.device(port, "xstats_reset")
	if err != nil {
		return err
	}
	if xr, ok := dev.ops.(XStatsResetter); ok {
		xr.XStatsReset(dev)
		return nil
	}
	return r.StatsReset(port)
}

func (r *Registry) setQueueStatsMapping(port PortID, queueID uint16, statIdx uint8, isRx bool) error {
	const op = "queue_stats_mapping"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	mapper, ok := dev.ops.(QueueStatsMapper)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := mapper.QueueStatsMappingSet(dev, queueID, statIdx, isRx); err != nil {
		return newPortError(port, op, err, "queue %d -> counter %d", queueID, statIdx)
	}
	return nil
}

// SetRxQueueStatsMapping maps a receive queue onto one of the per-queue
// counter slots
func (r *Registry) SetRxQueueStatsMapping(port PortID, queueID uint16, statIdx uint8) error {
	return r.setQueueStatsMapping(port, queueID, statIdx, true)
}

// SetTxQueueStatsMapping maps a transmit queue onto one of the per-queue
// counter slots
func (r *Registry) SetTxQueueStatsMapping(port PortID, queueID uint16, statIdx uint8) error {
	return r.setQueueStatsMapping(port, queueID, statIdx, false)
}

// CollectPortStats implements metrics.StatsSource
func (r *Registry) CollectPortStats() []metrics.PortStats {
	var result []metrics.PortStats
	for _, port := range r.Ports() {
		dev, err := r.device(port, "collect")
		if err != nil {
			continue
		}
		ps := metrics.PortStats{Port: uint16(port), Name: dev.data.Name}
		if dev.driver != nil {
			ps.Driver = dev.driver.Name
		}
		link := dev.data.Link()
		ps.LinkUp = link.Up
		ps.LinkSpeed = link.Speed

		n, err := r.XStatsGet(port, nil)
		if err != nil {
			klog.V(4).Infof("Port %d xstats unavailable: %v", port, err)
			result = append(result, ps)
			continue
		}
		xstats := make([]XStat, n)
		n, err = r.XStatsGet(port, xstats)
		if err == nil && n <= len(xstats) {
			for _, x := range xstats[:n] {
				ps.Counters = append(ps.Counters, metrics.Counter{Name: x.Name, Value: x.Value})
			}
		}
		result = append(result, ps)
	}
	return result
}

var _ metrics.StatsSource = (*Registry)(nil)
