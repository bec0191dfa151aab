package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/config"
	"github.com/jiayi-1994/zstack-ethdev/pkg/drivers/ring"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/events"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

func newTestManager(t *testing.T) *portManager {
	t.Helper()
	reg := ethdev.NewRegistry(eal.New(nil), bus.NewMemoryBus())
	require.NoError(t, ring.Register(reg))

	pool, err := mbuf.NewPool(t.Name(), 64, 2176)
	require.NoError(t, err)

	m := newPortManager(reg, events.NewRecorder("test", events.DefaultHistory), pool)
	t.Cleanup(func() { _ = m.shutdown() })
	return m
}

func reasons(rec *events.Recorder) []string {
	var out []string
	for _, e := range rec.Recent() {
		out = append(out, e.Reason)
	}
	return out
}

func TestRetryableAttach(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("iface: %w", ethdev.ErrNoSuchDevice), true},
		{&ethdev.HotplugError{Op: "attach", Device: "x", Cause: ethdev.ErrNoMemory}, true},
		{ethdev.ErrTryAgain, true},
		{ethdev.ErrDuplicateName, false},
		{ethdev.ErrInvalidArgument, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryableAttach(tt.err), "%v", tt.err)
	}
}

func TestAttachSetupAndWait(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	port, err := m.attach(ctx, "net_ring0,queues=2", 0)
	require.NoError(t, err)

	pc := config.PortConfig{
		Devargs:       "net_ring0,queues=2",
		RxQueues:      2,
		TxQueues:      2,
		RxDescriptors: 32,
		TxDescriptors: 32,
		MTU:           9000,
		Promiscuous:   true,
		AllMulticast:  true,
		RxMQMode:      "rss",
		LSC:           true,
		MACAddrs:      []string{"02:00:00:00:00:aa"},
	}
	require.NoError(t, m.setup(port, pc))
	assert.Equal(t, []ethdev.PortID{port}, m.ports)

	state, err := m.reg.State(port)
	require.NoError(t, err)
	assert.Equal(t, ethdev.PortStarted, state)

	mtu, err := m.reg.MTU(port)
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), mtu)

	promisc, err := m.reg.Promiscuous(port)
	require.NoError(t, err)
	assert.True(t, promisc)

	extra, err := util.ParseEtherAddr("02:00:00:00:00:aa")
	require.NoError(t, err)
	addrs, _, err := m.reg.MACAddrs(port)
	require.NoError(t, err)
	assert.Contains(t, addrs, extra)

	assert.Equal(t, 1, m.reg.EventCallbackCount(port, ethdev.EventLinkStateChange))

	m.waitForLinks(ctx, time.Second)
	link, err := m.reg.LinkGetNowait(port)
	require.NoError(t, err)
	assert.True(t, link.Up)

	got := reasons(m.rec)
	assert.Contains(t, got, events.ReasonPortAttached)
	assert.Contains(t, got, events.ReasonPortConfigured)
	assert.Contains(t, got, events.ReasonPortStarted)
	assert.Contains(t, got, events.ReasonLinkUp, "link up raised by start")

	// a foreign callback argument is ignored
	onLinkChange(port, ethdev.EventLinkStateChange, "not a manager")

	require.NoError(t, m.shutdown())
	assert.Equal(t, 0, m.reg.Count())
	got = reasons(m.rec)
	assert.Contains(t, got, events.ReasonPortStopped)
	assert.Contains(t, got, events.ReasonPortDetached)
}

func TestAttachUnknownDriver(t *testing.T) {
	m := newTestManager(t)

	_, err := m.attach(context.Background(), "net_bogus0", 0)
	assert.Error(t, err)
	assert.Equal(t, 0, m.reg.Count())
	assert.Equal(t, []string{events.ReasonAttachFailed}, reasons(m.rec))
}

func TestAttachDuplicateFailsFast(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.attach(ctx, "net_ring0", 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.attach(ctx, "net_ring0", 5)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "permanent errors are not retried")
}

func TestSetupRejectsBadQueues(t *testing.T) {
	m := newTestManager(t)

	port, err := m.attach(context.Background(), "net_ring0", 0)
	require.NoError(t, err)

	pc := config.PortConfig{RxQueues: 4, TxQueues: 4, RxDescriptors: 8, TxDescriptors: 8}
	err = m.setup(port, pc)
	require.Error(t, err)
	assert.True(t, ethdev.IsInvalidArgument(err) || ethdev.IsValidation(err), "got %v", err)
	assert.Empty(t, m.ports)
	assert.Contains(t, reasons(m.rec), events.ReasonConfigureFailed)
}

func TestWaitForLinksTimeout(t *testing.T) {
	m := newTestManager(t)

	port, err := m.attach(context.Background(), "net_ring0,link_delay=1h", 0)
	require.NoError(t, err)
	pc := config.PortConfig{RxQueues: 1, TxQueues: 1, RxDescriptors: 8, TxDescriptors: 8}
	require.NoError(t, m.setup(port, pc))

	start := time.Now()
	m.waitForLinks(context.Background(), 200*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)

	link, err := m.reg.LinkGetNowait(port)
	require.NoError(t, err)
	assert.False(t, link.Up)
	assert.Contains(t, reasons(m.rec), events.ReasonLinkWaitTimeout)
}
