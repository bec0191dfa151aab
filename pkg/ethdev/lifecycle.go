package ethdev

import (
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// primaryOnly rejects configuration changes from secondary processes
func (r *Registry) primaryOnly(port PortID, op string) error {
	if !r.env.IsPrimary() {
		return newPortError(port, op, ErrSecondaryProcess, "")
	}
	return nil
}

// primaryDevice combines the primary-process and valid-port checks
func (r *Registry) primaryDevice(port PortID, op string) (*Device, error) {
	if err := r.primaryOnly(port, op); err != nil {
		return nil, err
	}
	return r.device(port, op)
}

// devInfo queries the driver into a zeroed DevInfo and adds the fields the
// core owns
func (r *Registry) devInfo(dev *Device, info *DevInfo) error {
	*info = DevInfo{}
	infoer, ok := dev.ops.(DevInfoer)
	if !ok {
		return ErrNotSupported
	}
	infoer.DevInfo(dev, info)
	info.BusDevice = dev.busDev
	if dev.driver != nil {
		info.DriverName = dev.driver.Name
	}
	return nil
}

// Configure sets the queue counts and device configuration of a stopped port
//
// Parameters:
//   - port: Port to configure
//   - nbRx: Number of receive queues, 1 to the driver maximum
//   - nbTx: Number of transmit queues, 1 to the driver maximum
//   - conf: Device configuration; copied into the port's data block
//
// Returns:
//   - error: nil on success. On a failure after the queue arrays were
//     resized both arrays are rolled back to zero queues and the port must
//     be configured again before any queue setup.
func (r *Registry) Configure(port PortID, nbRx, nbTx uint16, conf *DevConf) (err error) {
	const op = metrics.OpConfigure
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	if conf == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil configuration")
	}
	data := dev.data

	if nbRx > types.MaxQueuesPerPort {
		return newPortError(port, op, ErrInvalidArgument,
			"%d rx queues exceeds maximum %d", nbRx, types.MaxQueuesPerPort)
	}
	if nbTx > types.MaxQueuesPerPort {
		return newPortError(port, op, ErrInvalidArgument,
			"%d tx queues exceeds maximum %d", nbTx, types.MaxQueuesPerPort)
	}

	if !dev.Supports(CapDevInfo) || !dev.Supports(CapConfigure) {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if data.state == PortClosed {
		return newPortError(port, op, ErrClosed, "")
	}
	if data.Started() {
		return newPortError(port, op, ErrBusy, "port must be stopped to allow configuration")
	}

	var info DevInfo
	_ = r.devInfo(dev, &info)
	if nbRx > info.MaxRxQueues {
		return newPortError(port, op, ErrInvalidArgument,
			"%d rx queues exceeds driver maximum %d", nbRx, info.MaxRxQueues)
	}
	if nbRx == 0 {
		return newPortError(port, op, ErrInvalidArgument, "zero rx queues")
	}
	if nbTx > info.MaxTxQueues {
		return newPortError(port, op, ErrInvalidArgument,
			"%d tx queues exceeds driver maximum %d", nbTx, info.MaxTxQueues)
	}
	if nbTx == 0 {
		return newPortError(port, op, ErrInvalidArgument, "zero tx queues")
	}

	data.Conf = *conf
	if conf.RxAdv.RSS.Key != nil {
		data.Conf.RxAdv.RSS.Key = append([]byte(nil), conf.RxAdv.RSS.Key...)
	}

	if conf.Intr.LSC && dev.flags()&DriverFlagIntrLSC == 0 {
		return newPortError(port, op, ErrInvalidArgument, "driver does not support link state interrupts")
	}

	if conf.RxMode.JumboFrame {
		if conf.RxMode.MaxRxPktLen > info.MaxRxPktLen {
			return newPortError(port, op, ErrInvalidArgument,
				"max rx packet length %d > driver maximum %d", conf.RxMode.MaxRxPktLen, info.MaxRxPktLen)
		}
		if conf.RxMode.MaxRxPktLen < types.EtherMinLen {
			return newPortError(port, op, ErrInvalidArgument,
				"max rx packet length %d < minimum %d", conf.RxMode.MaxRxPktLen, types.EtherMinLen)
		}
	} else if conf.RxMode.MaxRxPktLen < types.EtherMinLen || conf.RxMode.MaxRxPktLen > types.EtherMaxLen {
		data.Conf.RxMode.MaxRxPktLen = types.EtherMaxLen
	}

	if err := checkMQMode(dev, nbRx, nbTx, conf); err != nil {
		klog.V(4).Infof("Port %d multi-queue mode check failed: %v", port, err)
		return err
	}

	if err := r.rxQueueConfig(dev, nbRx); err != nil {
		return newPortError(port, op, err, "rx queue config")
	}
	if err := r.txQueueConfig(dev, nbTx); err != nil {
		r.resetAllQueues(dev)
		return newPortError(port, op, err, "tx queue config")
	}

	if err := dev.ops.(Configurer).Configure(dev); err != nil {
		klog.Errorf("Port %d driver configure failed: %v", port, err)
		r.resetAllQueues(dev)
		return newPortError(port, op, err, "driver configure")
	}

	data.state = PortConfigured
	klog.V(4).Infof("Port %d configured: rxq=%d txq=%d rxmq=%s", port, nbRx, nbTx, data.Conf.RxMode.MQMode)
	return nil
}

// RxQueueSetup sets up receive queue queueID of a stopped port
//
// Parameters:
//   - port: Port owning the queue
//   - queueID: Queue index below the configured rx queue count
//   - nbDesc: Number of ring descriptors
//   - socketID: NUMA socket for queue memory
//   - conf: Queue configuration; nil uses the driver default
//   - pool: Buffer pool; its data room minus headroom must cover the
//     driver's minimum receive buffer size
//
// Setting up a queue again releases the previous handle first; a driver
// without a release hook gets ErrNotSupported and the old handle is kept.
func (r *Registry) RxQueueSetup(port PortID, queueID, nbDesc uint16, socketID int, conf *RxConf, pool PacketPool) (err error) {
	const op = metrics.OpRxQueueSetup
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	data := dev.data
	if queueID >= data.NbRxQueues() {
		return newPortError(port, op, ErrInvalidArgument, "invalid rx queue %d", queueID)
	}
	if data.Started() {
		return newPortError(port, op, ErrBusy, "port must be stopped to allow configuration")
	}
	setup, ok := dev.ops.(RxQueueSetuper)
	if !ok || !dev.Supports(CapDevInfo) {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if pool == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil buffer pool")
	}

	var info DevInfo
	_ = r.devInfo(dev, &info)

	bufSize := uint32(pool.DataRoomSize())
	if bufSize < types.PktmbufHeadroom || bufSize-types.PktmbufHeadroom < info.MinRxBufSize {
		return newPortError(port, op, ErrInvalidArgument,
			"pool %s data room %d < headroom %d + min rx buffer %d",
			pool.Name(), bufSize, types.PktmbufHeadroom, info.MinRxBufSize)
	}

	if conf == nil {
		c := info.DefaultRxConf
		conf = &c
	}

	if old := data.RxQueues[queueID]; old != nil {
		rel, ok := dev.ops.(RxQueueReleaser)
		if !ok {
			return newPortError(port, op, ErrNotSupported, "rx queue %d is set up and cannot be released", queueID)
		}
		rel.RxQueueRelease(old)
		data.RxQueues[queueID] = nil
	}

	if err := setup.RxQueueSetup(dev, queueID, nbDesc, socketID, conf, pool); err != nil {
		return newPortError(port, op, err, "rx queue %d", queueID)
	}
	data.rxDeferred[queueID] = conf.DeferredStart
	data.RxQueueState[queueID] = QueueStopped

	if data.MinRxBufSize == 0 || data.MinRxBufSize > bufSize {
		data.MinRxBufSize = bufSize
	}
	klog.V(4).Infof("Port %d rx queue %d set up: desc=%d pool=%s", port, queueID, nbDesc, pool.Name())
	return nil
}

// TxQueueSetup sets up transmit queue queueID of a stopped port. A nil conf
// uses the driver default. Re-setup follows the RxQueueSetup release rule.
func (r *Registry) TxQueueSetup(port PortID, queueID, nbDesc uint16, socketID int, conf *TxConf) (err error) {
	const op = metrics.OpTxQueueSetup
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	data := dev.data
	if queueID >= data.NbTxQueues() {
		return newPortError(port, op, ErrInvalidArgument, "invalid tx queue %d", queueID)
	}
	if data.Started() {
		return newPortError(port, op, ErrBusy, "port must be stopped to allow configuration")
	}
	setup, ok := dev.ops.(TxQueueSetuper)
	if !ok || !dev.Supports(CapDevInfo) {
		return newPortError(port, op, ErrNotSupported, "")
	}

	if conf == nil {
		var info DevInfo
		_ = r.devInfo(dev, &info)
		c := info.DefaultTxConf
		conf = &c
	}

	if old := data.TxQueues[queueID]; old != nil {
		rel, ok := dev.ops.(TxQueueReleaser)
		if !ok {
			return newPortError(port, op, ErrNotSupported, "tx queue %d is set up and cannot be released", queueID)
		}
		rel.TxQueueRelease(old)
		data.TxQueues[queueID] = nil
	}

	if err := setup.TxQueueSetup(dev, queueID, nbDesc, socketID, conf); err != nil {
		return newPortError(port, op, err, "tx queue %d", queueID)
	}
	data.txDeferred[queueID] = conf.DeferredStart
	data.TxQueueState[queueID] = QueueStopped
	klog.V(4).Infof("Port %d tx queue %d set up: desc=%d", port, queueID, nbDesc)
	return nil
}

// Start starts a port and replays its sticky settings. Starting a started
// port does nothing.
//
// With link state interrupts enabled the driver must also report link
// status. If it cannot, Start returns ErrNotSupported after the driver has
// started, and the port is left started; call Stop to undo.
func (r *Registry) Start(port PortID) (err error) {
	const op = metrics.OpStart
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	starter, ok := dev.ops.(Starter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	data := dev.data
	if data.state == PortClosed {
		return newPortError(port, op, ErrClosed, "")
	}
	if data.Started() {
		klog.V(4).Infof("Port %d already started", port)
		return nil
	}

	if err := starter.Start(dev); err != nil {
		klog.Errorf("Port %d driver start failed: %v", port, err)
		return newPortError(port, op, err, "driver start")
	}
	data.started.Store(true)
	data.state = PortStarted

	for i := range data.RxQueueState {
		if !data.rxQueueIsDeferred(uint16(i)) {
			data.RxQueueState[i] = QueueStarted
		}
	}
	for i := range data.TxQueueState {
		if !data.txQueueIsDeferred(uint16(i)) {
			data.TxQueueState[i] = QueueStarted
		}
	}

	r.restoreConfig(dev)

	if data.Conf.Intr.LSC {
		lu, ok := dev.ops.(LinkUpdater)
		if !ok {
			return newPortError(port, op, ErrNotSupported, "link update")
		}
		_ = lu.LinkUpdate(dev, false)
	}

	klog.V(4).Infof("Port %d started", port)
	return nil
}

// restoreConfig replays the MAC table and receive modes after a start
func (r *Registry) restoreConfig(dev *Device) {
	data := dev.data

	var pool uint32
	if data.SRIOV.Active != 0 {
		pool = uint32(data.SRIOV.DefaultVMDQIndex)
	}

	adder, canAdd := dev.ops.(MACAddrAdder)
	for i, addr := range data.MACAddrs {
		if addr.IsZero() {
			continue
		}
		if !canAdd {
			klog.Warningf("Port %d: driver has no per-address MAC table, replay stopped", dev.port)
			break
		}
		if data.MACPoolSel[i]&(uint64(1)<<pool) == 0 {
			continue
		}
		if err := adder.MACAddrAdd(dev, addr, uint32(i), pool); err != nil {
			klog.Warningf("Port %d: replay of MAC %s failed: %v", dev.port, addr, err)
		}
	}

	if ps, ok := dev.ops.(PromiscuousSetter); ok {
		if data.Promiscuous {
			ps.PromiscuousEnable(dev)
		} else {
			ps.PromiscuousDisable(dev)
		}
	}
	if am, ok := dev.ops.(AllMulticastSetter); ok {
		if data.AllMulticast {
			am.AllMulticastEnable(dev)
		} else {
			am.AllMulticastDisable(dev)
		}
	}
}

// Stop stops a started port. The started flag is cleared before the driver
// is called. Stopping a stopped port does nothing.
func (r *Registry) Stop(port PortID) (err error) {
	const op = metrics.OpStop
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	stopper, ok := dev.ops.(Stopper)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	data := dev.data
	if !data.Started() {
		klog.V(4).Infof("Port %d already stopped", port)
		return nil
	}

	data.started.Store(false)
	stopper.Stop(dev)
	data.state = PortStopped
	for i := range data.RxQueueState {
		data.RxQueueState[i] = QueueStopped
	}
	for i := range data.TxQueueState {
		data.TxQueueState[i] = QueueStopped
	}

	klog.V(4).Infof("Port %d stopped", port)
	return nil
}

// Close closes a port. The driver tears down its own queues; the core drops
// both queue arrays without per-queue release.
func (r *Registry) Close(port PortID) (err error) {
	const op = metrics.OpClose
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	closer, ok := dev.ops.(Closer)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	data := dev.data
	if data.state == PortClosed {
		return newPortError(port, op, ErrClosed, "")
	}

	data.started.Store(false)
	closer.Close(dev)
	r.dropQueueArrays(dev)
	data.state = PortClosed

	klog.V(4).Infof("Port %d closed", port)
	return nil
}

// State returns the lifecycle state of a port
func (r *Registry) State(port PortID) (PortState, error) {
	dev, err := r.device(port, "state")
	if err != nil {
		return PortUnconfigured, err
	}
	return dev.data.state, nil
}

// SetLinkUp asks the driver to bring the link up
func (r *Registry) SetLinkUp(port PortID) error {
	dev, err := r.primaryDevice(port, "set_link_up")
	if err != nil {
		return err
	}
	lud, ok := dev.ops.(LinkUpDowner)
	if !ok {
		return newPortError(port, "set_link_up", ErrNotSupported, "")
	}
	if err := lud.SetLinkUp(dev); err != nil {
		return newPortError(port, "set_link_up", err, "")
	}
	return nil
}

// SetLinkDown asks the driver to take the link down
func (r *Registry) SetLinkDown(port PortID) error {
	dev, err := r.primaryDevice(port, "set_link_down")
	if err != nil {
		return err
	}
	lud, ok := dev.ops.(LinkUpDowner)
	if !ok {
		return newPortError(port, "set_link_down", ErrNotSupported, "")
	}
	if err := lud.SetLinkDown(dev); err != nil {
		return newPortError(port, "set_link_down", err, "")
	}
	return nil
}

type queueDir int

const (
	dirRx queueDir = iota
	dirTx
)

func (d queueDir) String() string {
	if d == dirTx {
		return "tx"
	}
	return "rx"
}

// queueStartStop runs a per-queue start or stop on a started port
func (r *Registry) queueStartStop(port PortID, queueID uint16, dir queueDir, start bool) (err error) {
	op := metrics.OpQueueStop
	if start {
		op = metrics.OpQueueStart
	}
	timer := metrics.NewTimer()
	defer func() { metrics.RecordPortOperation(op, err, timer.ObserveDuration()) }()

	dev, err := r.primaryDevice(port, op)
	if err != nil {
		return err
	}
	data := dev.data
	if !data.Started() {
		return newPortError(port, op, ErrNotStarted, "")
	}

	want := QueueStopped
	if start {
		want = QueueStarted
	}

	var states []QueueState
	var call func() error
	switch dir {
	case dirRx:
		if queueID >= data.NbRxQueues() {
			return newPortError(port, op, ErrInvalidArgument, "invalid rx queue %d", queueID)
		}
		ss, ok := dev.ops.(RxQueueStartStopper)
		if !ok {
			return newPortError(port, op, ErrNotSupported, "")
		}
		states = data.RxQueueState
		call = func() error {
			if start {
				return ss.RxQueueStart(dev, queueID)
			}
			return ss.RxQueueStop(dev, queueID)
		}
	default:
		if queueID >= data.NbTxQueues() {
			return newPortError(port, op, ErrInvalidArgument, "invalid tx queue %d", queueID)
		}
		ss, ok := dev.ops.(TxQueueStartStopper)
		if !ok {
			return newPortError(port, op, ErrNotSupported, "")
		}
		states = data.TxQueueState
		call = func() error {
			if start {
				return ss.TxQueueStart(dev, queueID)
			}
			return ss.TxQueueStop(dev, queueID)
		}
	}

	if states[queueID] == want {
		klog.V(4).Infof("Port %d %s queue %d already in requested state", port, dir, queueID)
		return nil
	}
	if err := call(); err != nil {
		return newPortError(port, op, err, "%s queue %d", dir, queueID)
	}
	states[queueID] = want
	return nil
}

// RxQueueStart starts one receive queue of a started port
func (r *Registry) RxQueueStart(port PortID, queueID uint16) error {
	return r.queueStartStop(port, queueID, dirRx, true)
}

// RxQueueStop stops one receive queue of a started port
func (r *Registry) RxQueueStop(port PortID, queueID uint16) error {
	return r.queueStartStop(port, queueID, dirRx, false)
}

// TxQueueStart starts one transmit queue of a started port
func (r *Registry) TxQueueStart(port PortID, queueID uint16) error {
	return r.queueStartStop(port, queueID, dirTx, true)
}

// TxQueueStop stops one transmit queue of a started port
func (r *Registry) TxQueueStop(port PortID, queueID uint16) error {
	return r.queueStartStop(port, queueID, dirTx, false)
}

// QueueState returns the state of one queue
func (r *Registry) QueueState(port PortID, queueID uint16, rx bool) (QueueState, error) {
	dev, err := r.device(port, "queue_state")
	if err != nil {
		return QueueStopped, err
	}
	states := dev.data.TxQueueState
	if rx {
		states = dev.data.RxQueueState
	}
	if int(queueID) >= len(states) {
		return QueueStopped, newPortError(port, "queue_state", ErrInvalidArgument, "invalid queue %d", queueID)
	}
	return states[queueID], nil
}
