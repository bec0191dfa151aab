package ethdev

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// TestProperty_ResolvePoolPartition verifies the SR-IOV pool layout: 1 and 2
// queues per pool give 64 pools, 4 give 32, and the physical function's pool
// starts after every VF's queues. Other counts are rejected.
func TestProperty_ResolvePoolPartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("partition by queues per pool", prop.ForAll(
		func(nbQueues, maxVFs uint16) bool {
			part, err := ResolvePoolPartition(nbQueues, maxVFs)
			switch nbQueues {
			case 1, 2:
				return err == nil && part.Pools == 64 && part.QueuesPerPool == nbQueues &&
					part.DefaultPoolQueueIndex == maxVFs*nbQueues
			case 4:
				return err == nil && part.Pools == 32 && part.QueuesPerPool == 4 &&
					part.DefaultPoolQueueIndex == maxVFs*4
			default:
				return IsValidation(err) && part == PoolPartition{}
			}
		},
		gen.UInt16Range(0, 16),
		gen.UInt16Range(0, 63),
	))

	properties.TestingRun(t)
}

// TestProperty_SRIOVRSSQueueCounts verifies that RSS under SR-IOV accepts
// exactly 1, 2 or 4 rx queues and records the default pool offset.
func TestProperty_SRIOVRSSQueueCounts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sr-iov rss queue counts", prop.ForAll(
		func(nbRx, maxVFs uint16) bool {
			r, port, ops := newTestPort("net_fake0")
			ops.maxRx, ops.maxTx = 16, 16
			dev, _ := r.Device(port)
			dev.busDev = &bus.Device{Kind: bus.KindVirtual, Name: "net_fake0", MaxVFs: maxVFs}
			dev.Data().SRIOV = SRIOVState{Active: 64, QueuesPerPool: 4}

			err := r.Configure(port, nbRx, 1, &DevConf{RxMode: RxMode{MQMode: RxMQRSS}})
			switch nbRx {
			case 1, 2, 4:
				s := dev.Data().SRIOV
				return err == nil && s.QueuesPerPool == nbRx && s.DefaultPoolQueueIndex == maxVFs*nbRx
			default:
				return IsValidation(err)
			}
		},
		gen.UInt16Range(1, 16),
		gen.UInt16Range(0, 63),
	))

	properties.TestingRun(t)
}

// TestProperty_DCBQueueCount verifies that DCB fails for any rx queue count
// other than the fixed DCB count, with or without SR-IOV.
func TestProperty_DCBQueueCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("dcb requires the fixed queue count", prop.ForAll(
		func(nbRx uint16, sriov bool) bool {
			r, port, ops := newTestPort("net_fake0")
			ops.maxRx, ops.maxTx = types.DCBNumQueues, types.DCBNumQueues
			if sriov {
				dev, _ := r.Device(port)
				dev.Data().SRIOV = SRIOVState{Active: 64, QueuesPerPool: 2}
			}

			conf := &DevConf{
				RxMode: RxMode{MQMode: RxMQDCB},
				RxAdv:  RxAdvConf{DCB: DCBConf{NbTCs: 4}},
			}
			err := r.Configure(port, nbRx, 1, conf)
			if sriov || nbRx != types.DCBNumQueues {
				return IsValidation(err)
			}
			return err == nil
		},
		gen.UInt16Range(1, types.DCBNumQueues),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestHostSRIOV(t *testing.T) {
	tests := []struct {
		vfs  uint16
		want SRIOVState
	}{
		{vfs: 0, want: SRIOVState{}},
		{vfs: 1, want: SRIOVState{Active: 16, QueuesPerPool: 8, DefaultVMDQIndex: 1, DefaultPoolQueueIndex: 8}},
		{vfs: 15, want: SRIOVState{Active: 16, QueuesPerPool: 8, DefaultVMDQIndex: 15, DefaultPoolQueueIndex: 120}},
		{vfs: 16, want: SRIOVState{Active: 32, QueuesPerPool: 4, DefaultVMDQIndex: 16, DefaultPoolQueueIndex: 64}},
		{vfs: 32, want: SRIOVState{Active: 64, QueuesPerPool: 2, DefaultVMDQIndex: 32, DefaultPoolQueueIndex: 64}},
		{vfs: 63, want: SRIOVState{Active: 64, QueuesPerPool: 2, DefaultVMDQIndex: 63, DefaultPoolQueueIndex: 126}},
	}
	for _, tt := range tests {
		if got := HostSRIOV(tt.vfs); got != tt.want {
			t.Errorf("HostSRIOV(%d) = %+v, want %+v", tt.vfs, got, tt.want)
		}
	}
}
