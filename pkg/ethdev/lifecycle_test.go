package ethdev

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
)

func TestConfigureRejectsZeroRxQueues(t *testing.T) {
	r, port, ops := newTestPort("net_fake0")

	err := r.Configure(port, 0, 1, &DevConf{})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.Zero(t, ops.configures)
}

func TestConfigureLimits(t *testing.T) {
	tests := []struct {
		name    string
		nbRx    uint16
		nbTx    uint16
		conf    DevConf
		wantErr error
	}{
		{"ok", 2, 2, DevConf{}, nil},
		{"zero tx", 1, 0, DevConf{}, ErrInvalidArgument},
		{"above driver max", 17, 1, DevConf{}, ErrInvalidArgument},
		{"above port max", 1025, 1, DevConf{}, ErrInvalidArgument},
		{"lsc without driver support", 1, 1, DevConf{Intr: IntrConf{LSC: true}}, ErrInvalidArgument},
		{"jumbo above driver max", 1, 1, DevConf{RxMode: RxMode{JumboFrame: true, MaxRxPktLen: 9601}}, ErrInvalidArgument},
		{"jumbo below minimum", 1, 1, DevConf{RxMode: RxMode{JumboFrame: true, MaxRxPktLen: 32}}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, port, _ := newTestPort("net_fake0")
			err := r.Configure(port, tt.nbRx, tt.nbTx, &tt.conf)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigureDefaultsMaxRxPktLen(t *testing.T) {
	r, port, _ := newTestPort("net_fake0")
	require.NoError(t, r.Configure(port, 1, 1, &DevConf{RxMode: RxMode{MaxRxPktLen: 20000}}))

	dev, err := r.Device(port)
	require.NoError(t, err)
	assert.Equal(t, uint32(1518), dev.Data().Conf.RxMode.MaxRxPktLen)
}

func TestConfigureMissingCapabilities(t *testing.T) {
	r := NewRegistry(eal.New(nil), nil)
	port := attachFake(r, "net_min0", struct{}{})

	err := r.Configure(port, 1, 1, &DevConf{})
	assert.True(t, IsNotSupported(err))
}

func TestConfigureDriverFailureRollsBackQueues(t *testing.T) {
	r, port, ops := newTestPort("net_fake0")
	ops.configureErr = errFake

	err := r.Configure(port, 2, 2, &DevConf{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errFake))

	dev, _ := r.Device(port)
	assert.Zero(t, dev.Data().NbRxQueues())
	assert.Zero(t, dev.Data().NbTxQueues())
	assert.Zero(t, r.EAL().Heap().Used())

	state, _ := r.State(port)
	assert.Equal(t, PortUnconfigured, state)
}

func TestConfigureWhileStarted(t *testing.T) {
	r, port, _ := configuredPort(1, 1)
	require.NoError(t, r.Start(port))

	err := r.Configure(port, 1, 1, &DevConf{})
	assert.True(t, IsBusy(err))
}

func TestReconfigureReleasesDroppedQueues(t *testing.T) {
	r, port, ops := configuredPort(4, 3)
	dev, _ := r.Device(port)
	rx := append([]Queue(nil), dev.Data().RxQueues...)
	tx := append([]Queue(nil), dev.Data().TxQueues...)

	require.NoError(t, r.Configure(port, 2, 3, &DevConf{}))

	assert.Equal(t, []Queue{rx[2], rx[3]}, ops.rxReleased)
	assert.Empty(t, ops.txReleased)
	assert.Equal(t, rx[:2], dev.Data().RxQueues)
	assert.Equal(t, tx, dev.Data().TxQueues)

	require.NoError(t, r.Configure(port, 4, 3, &DevConf{}))
	assert.Nil(t, dev.Data().RxQueues[2])
	assert.Nil(t, dev.Data().RxQueues[3])
	assert.Equal(t, int64(7*queueEntrySize), r.EAL().Heap().Used())
}

func TestStartStopStart(t *testing.T) {
	r, port, ops := configuredPort(2, 2)
	dev, _ := r.Device(port)
	rx := append([]Queue(nil), dev.Data().RxQueues...)
	tx := append([]Queue(nil), dev.Data().TxQueues...)

	require.NoError(t, r.Start(port))
	require.NoError(t, r.Stop(port))
	require.NoError(t, r.Start(port))

	assert.Equal(t, 2, ops.starts)
	assert.Equal(t, 1, ops.stops)
	assert.Equal(t, rx, dev.Data().RxQueues)
	assert.Equal(t, tx, dev.Data().TxQueues)
	assert.True(t, dev.Data().Started())

	state, err := r.QueueState(port, 1, true)
	require.NoError(t, err)
	assert.Equal(t, QueueStarted, state)
}

func TestStartIsIdempotent(t *testing.T) {
	r, port, ops := configuredPort(1, 1)
	require.NoError(t, r.Start(port))
	require.NoError(t, r.Start(port))
	assert.Equal(t, 1, ops.starts)
}

func TestStopTwiceCallsDriverOnce(t *testing.T) {
	r, port, ops := configuredPort(1, 1)
	require.NoError(t, r.Start(port))
	require.NoError(t, r.Stop(port))
	require.NoError(t, r.Stop(port))

	assert.Equal(t, 1, ops.stops)
	state, _ := r.State(port)
	assert.Equal(t, PortStopped, state)
}

func TestStartFailureLeavesPortStopped(t *testing.T) {
	r, port, ops := configuredPort(1, 1)
	ops.startErr = errFake

	err := r.Start(port)
	assert.ErrorIs(t, err, errFake)
	dev, _ := r.Device(port)
	assert.False(t, dev.Data().Started())
}

// startOnlyOps starts and stops but cannot report link status
type startOnlyOps struct {
	minimalOps
	starts, stops *int
}

func (o startOnlyOps) Start(dev *Device) error { *o.starts++; return nil }
func (o startOnlyOps) Stop(dev *Device)        { *o.stops++ }

func TestStartWithLSCWithoutLinkUpdate(t *testing.T) {
	r := NewRegistry(eal.New(nil), nil)
	var starts, stops int
	port := attachFake(r, "net_fake0", startOnlyOps{starts: &starts, stops: &stops})
	dev, _ := r.Device(port)
	dev.driver.Flags |= DriverFlagIntrLSC
	require.NoError(t, r.Configure(port, 1, 1, &DevConf{Intr: IntrConf{LSC: true}}))

	err := r.Start(port)
	assert.True(t, IsNotSupported(err))
	assert.Equal(t, 1, starts)
	assert.True(t, dev.Data().Started())

	require.NoError(t, r.Stop(port))
	assert.Equal(t, 1, stops)
	assert.False(t, dev.Data().Started())
}

func TestStartReplaysSettings(t *testing.T) {
	r, port, ops := configuredPort(1, 1)
	addr := mustAddr(t, "02:00:00:00:00:10")
	require.NoError(t, r.MACAddrAdd(port, addr, 0))
	require.NoError(t, r.PromiscuousEnable(port))
	ops.macAdds = nil
	ops.promiscOn = 0

	require.NoError(t, r.Start(port))
	assert.Equal(t, []uint32{0}, ops.macAdds)
	assert.Equal(t, 1, ops.promiscOn)
}

func TestDeferredQueueStaysStopped(t *testing.T) {
	r, port, _ := newTestPort("net_fake0")
	require.NoError(t, r.Configure(port, 2, 1, &DevConf{}))
	require.NoError(t, r.RxQueueSetup(port, 0, 64, 0, nil, testPool{room: 2176}))
	require.NoError(t, r.RxQueueSetup(port, 1, 64, 0, &RxConf{DeferredStart: true}, testPool{room: 2176}))
	require.NoError(t, r.TxQueueSetup(port, 0, 64, 0, nil))
	require.NoError(t, r.Start(port))

	s0, _ := r.QueueState(port, 0, true)
	s1, _ := r.QueueState(port, 1, true)
	assert.Equal(t, QueueStarted, s0)
	assert.Equal(t, QueueStopped, s1)

	require.NoError(t, r.RxQueueStart(port, 1))
	s1, _ = r.QueueState(port, 1, true)
	assert.Equal(t, QueueStarted, s1)
}

func TestQueueStartRequiresStartedPort(t *testing.T) {
	r, port, _ := configuredPort(1, 1)
	err := r.RxQueueStart(port, 0)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, r.Start(port))
	assert.True(t, IsInvalidArgument(r.TxQueueStop(port, 5)))
	require.NoError(t, r.TxQueueStop(port, 0))
}

func TestRxQueueSetupChecksPool(t *testing.T) {
	r, port, _ := newTestPort("net_fake0")
	require.NoError(t, r.Configure(port, 1, 1, &DevConf{}))

	err := r.RxQueueSetup(port, 0, 64, 0, nil, testPool{room: 300})
	assert.True(t, IsInvalidArgument(err))
	err = r.RxQueueSetup(port, 1, 64, 0, nil, testPool{room: 2176})
	assert.True(t, IsInvalidArgument(err))

	require.NoError(t, r.RxQueueSetup(port, 0, 64, 0, nil, testPool{room: 2176}))
	dev, _ := r.Device(port)
	assert.Equal(t, uint32(2176), dev.Data().MinRxBufSize)
}

func TestRxQueueSetupReleasesPreviousHandle(t *testing.T) {
	r, port, ops := configuredPort(1, 1)
	dev, _ := r.Device(port)
	old := dev.Data().RxQueues[0]

	require.NoError(t, r.RxQueueSetup(port, 0, 64, 0, nil, testPool{room: 2176}))
	assert.Equal(t, []Queue{old}, ops.rxReleased)
	assert.NotEqual(t, old, dev.Data().RxQueues[0])
}

// setupOnlyOps sets up queues but cannot release them
type setupOnlyOps struct {
	minimalOps
	f *fakeOps
}

func (o setupOnlyOps) RxQueueSetup(dev *Device, queueID, nbDesc uint16, socketID int, conf *RxConf, pool PacketPool) error {
	return o.f.RxQueueSetup(dev, queueID, nbDesc, socketID, conf, pool)
}

func (o setupOnlyOps) TxQueueSetup(dev *Device, queueID, nbDesc uint16, socketID int, conf *TxConf) error {
	return o.f.TxQueueSetup(dev, queueID, nbDesc, socketID, conf)
}

func TestQueueSetupAgainWithoutRelease(t *testing.T) {
	r := NewRegistry(eal.New(nil), nil)
	port := attachFake(r, "net_fake0", setupOnlyOps{f: newFakeOps()})
	require.NoError(t, r.Configure(port, 1, 1, &DevConf{}))
	require.NoError(t, r.RxQueueSetup(port, 0, 64, 0, nil, testPool{room: 2176}))
	require.NoError(t, r.TxQueueSetup(port, 0, 64, 0, nil))
	dev, _ := r.Device(port)
	rxq, txq := dev.Data().RxQueues[0], dev.Data().TxQueues[0]

	err := r.RxQueueSetup(port, 0, 64, 0, nil, testPool{room: 2176})
	assert.True(t, IsNotSupported(err))
	assert.Same(t, rxq, dev.Data().RxQueues[0])

	err = r.TxQueueSetup(port, 0, 64, 0, nil)
	assert.True(t, IsNotSupported(err))
	assert.Same(t, txq, dev.Data().TxQueues[0])
}

func TestClose(t *testing.T) {
	r, port, ops := configuredPort(2, 2)
	require.NoError(t, r.Start(port))
	require.NoError(t, r.Close(port))

	assert.Equal(t, 1, ops.closes)
	assert.Empty(t, ops.rxReleased)
	dev, _ := r.Device(port)
	assert.Nil(t, dev.Data().RxQueues)
	assert.False(t, dev.Data().Started())
	assert.Zero(t, r.EAL().Heap().Used())

	assert.ErrorIs(t, r.Close(port), ErrClosed)
	assert.ErrorIs(t, r.Configure(port, 1, 1, &DevConf{}), ErrClosed)
	assert.ErrorIs(t, r.Start(port), ErrClosed)
}

func TestInvalidPort(t *testing.T) {
	r := NewRegistry(eal.New(nil), nil)
	assert.True(t, IsInvalidPort(r.Configure(3, 1, 1, &DevConf{})))
	assert.True(t, IsInvalidPort(r.Start(3)))
	assert.True(t, IsInvalidPort(r.Stop(3)))
	assert.True(t, IsInvalidPort(r.Close(3)))
	_, err := r.StatsGet(3)
	assert.True(t, IsInvalidPort(err))
	assert.Equal(t, -1, r.SocketID(3))
}

func TestSecondaryProcess(t *testing.T) {
	primary := eal.New(nil)
	r, port, _ := func() (*Registry, PortID, *fakeOps) {
		r := NewRegistry(primary, nil)
		ops := newFakeOps()
		return r, attachFake(r, "net_fake0", ops), ops
	}()
	require.NoError(t, r.Configure(port, 1, 1, &DevConf{}))

	secondary := NewRegistry(eal.NewSecondary(primary, nil), nil)
	dev, err := secondary.Allocate("net_fake0", DeviceTypeVirtual)
	require.NoError(t, err)
	assert.Equal(t, port, dev.Port())

	primaryDev, _ := r.Device(port)
	assert.Same(t, primaryDev.Data(), dev.Data())
	assert.Equal(t, uint16(1), dev.Data().NbRxQueues())

	dev.SetOps(newFakeOps())
	assert.ErrorIs(t, secondary.Configure(port, 1, 1, &DevConf{}), ErrSecondaryProcess)
	assert.ErrorIs(t, secondary.Start(port), ErrSecondaryProcess)

	_, err = secondary.Allocate("net_missing", DeviceTypeVirtual)
	assert.ErrorIs(t, err, ErrNoSuchDevice)
}

func TestSRIOVConfigure(t *testing.T) {
	r, port, _ := newTestPort("net_fake0")
	dev, _ := r.Device(port)
	dev.busDev = &bus.Device{Kind: bus.KindVirtual, Name: "net_fake0", MaxVFs: 8}
	dev.Data().SRIOV = SRIOVState{Active: 64, QueuesPerPool: 2}

	conf := &DevConf{RxMode: RxMode{MQMode: RxMQRSS}}
	require.NoError(t, r.Configure(port, 2, 2, conf))
	assert.Equal(t, RxMQVMDQRSS, dev.Data().Conf.RxMode.MQMode)
	assert.Equal(t, TxMQVMDQOnly, dev.Data().Conf.TxMode.MQMode)
	assert.Equal(t, uint16(16), dev.Data().SRIOV.DefaultPoolQueueIndex)
	assert.Equal(t, uint16(64), dev.Data().SRIOV.Active)

	err := r.Configure(port, 3, 1, conf)
	assert.True(t, IsValidation(err))

	err = r.Configure(port, 1, 1, &DevConf{RxMode: RxMode{MQMode: RxMQVMDQDCB}})
	assert.True(t, IsValidation(err))

	require.NoError(t, r.Configure(port, 1, 1, &DevConf{}))
	assert.Equal(t, RxMQVMDQOnly, dev.Data().Conf.RxMode.MQMode)
	assert.Equal(t, uint16(1), dev.Data().SRIOV.QueuesPerPool)
}

func TestDCBQueueCounts(t *testing.T) {
	tests := []struct {
		name  string
		nbRx  uint16
		nbTCs int
		valid bool
	}{
		{"128 queues 4 tcs", 128, 4, true},
		{"128 queues 8 tcs", 128, 8, true},
		{"64 queues", 64, 4, false},
		{"bad tc count", 128, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, port, ops := newTestPort("net_fake0")
			ops.maxRx, ops.maxTx = 128, 128
			conf := &DevConf{
				RxMode: RxMode{MQMode: RxMQDCB},
				RxAdv:  RxAdvConf{DCB: DCBConf{NbTCs: tt.nbTCs}},
			}
			err := r.Configure(port, tt.nbRx, 1, conf)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			}
		})
	}
}
