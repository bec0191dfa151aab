package ethdev

import (
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// PoolPartition is an SR-IOV pool layout for RSS over VMDQ
type PoolPartition struct {
	// Pools is the number of pools the queues are split into
	Pools uint16

	// QueuesPerPool is the number of queues in each pool
	QueuesPerPool uint16

	// DefaultPoolQueueIndex is the first queue of the physical function's
	// pool, placed after every VF's pool
	DefaultPoolQueueIndex uint16
}

// ResolvePoolPartition computes the pool layout for nbQueues receive queues
// per pool on a device with maxVFs virtual functions. 1 or 2 queues give 64
// pools, 4 queues give 32 pools; any other count is rejected.
func ResolvePoolPartition(nbQueues, maxVFs uint16) (PoolPartition, error) {
	var pools uint16
	switch nbQueues {
	case 1, 2:
		pools = types.VMDQPools64
	case 4:
		pools = types.VMDQPools32
	default:
		return PoolPartition{}, &ValidationError{
			Field:   "nbRxQueues",
			Value:   nbQueues,
			Message: "SR-IOV RSS allows 1, 2 or 4 queues per pool",
		}
	}
	return PoolPartition{
		Pools:                 pools,
		QueuesPerPool:         nbQueues,
		DefaultPoolQueueIndex: maxVFs * nbQueues,
	}, nil
}

// HostSRIOV returns the SR-IOV state a physical function starts with when
// maxVFs virtual functions are enabled. Each VF takes one pool and the
// physical function uses the pool after the last VF. Fewer VFs leave more
// queues per pool: 32 or more VFs give 64 pools of 2 queues, 16 or more give
// 32 pools of 4, anything less gives 16 pools of 8. Zero VFs leaves SR-IOV
// off.
func HostSRIOV(maxVFs uint16) SRIOVState {
	if maxVFs == 0 {
		return SRIOVState{}
	}
	var s SRIOVState
	switch {
	case maxVFs >= types.VMDQPools32:
		s.Active, s.QueuesPerPool = types.VMDQPools64, 2
	case maxVFs >= types.VMDQPools16:
		s.Active, s.QueuesPerPool = types.VMDQPools32, 4
	default:
		s.Active, s.QueuesPerPool = types.VMDQPools16, 8
	}
	s.DefaultVMDQIndex = maxVFs
	s.DefaultPoolQueueIndex = maxVFs * s.QueuesPerPool
	return s
}

// checkMQMode validates the requested queue counts against the multi-queue
// mode before anything is resized. Under SR-IOV it rewrites the stored
// configuration's modes and may update the SR-IOV partition.
func checkMQMode(dev *Device, nbRx, nbTx uint16, conf *DevConf) error {
	data := dev.data
	port := dev.port

	if data.SRIOV.Active != 0 {
		return checkMQModeSRIOV(dev, nbRx, nbTx, conf)
	}

	if conf.RxMode.MQMode == RxMQVMDQDCB {
		if nbRx != types.VMDQDCBNumQueues {
			return newValidationError(port, "nbRxQueues", nbRx,
				"VMDQ+DCB requires %d rx queues", types.VMDQDCBNumQueues)
		}
		if !validVMDQDCBPools(conf.RxAdv.VMDQDCB.NbQueuePools) {
			return newValidationError(port, "rxAdv.vmdqDCB.nbQueuePools", conf.RxAdv.VMDQDCB.NbQueuePools,
				"VMDQ+DCB requires %d or %d pools", types.VMDQPools16, types.VMDQPools32)
		}
	}
	if conf.TxMode.MQMode == TxMQVMDQDCB {
		if nbTx != types.VMDQDCBNumQueues {
			return newValidationError(port, "nbTxQueues", nbTx,
				"VMDQ+DCB requires %d tx queues", types.VMDQDCBNumQueues)
		}
		if !validVMDQDCBPools(conf.TxAdv.VMDQDCB.NbQueuePools) {
			return newValidationError(port, "txAdv.vmdqDCB.nbQueuePools", conf.TxAdv.VMDQDCB.NbQueuePools,
				"VMDQ+DCB requires %d or %d pools", types.VMDQPools16, types.VMDQPools32)
		}
	}

	if conf.RxMode.MQMode == RxMQDCB {
		if nbRx != types.DCBNumQueues {
			return newValidationError(port, "nbRxQueues", nbRx,
				"DCB requires %d rx queues", types.DCBNumQueues)
		}
		if !validDCBTCs(conf.RxAdv.DCB.NbTCs) {
			return newValidationError(port, "rxAdv.dcb.nbTCs", conf.RxAdv.DCB.NbTCs,
				"DCB requires %d or %d traffic classes", types.DCBTCs4, types.DCBTCs8)
		}
	}
	if conf.TxMode.MQMode == TxMQDCB {
		if nbTx != types.DCBNumQueues {
			return newValidationError(port, "nbTxQueues", nbTx,
				"DCB requires %d tx queues", types.DCBNumQueues)
		}
		if !validDCBTCs(conf.TxAdv.DCB.NbTCs) {
			return newValidationError(port, "txAdv.dcb.nbTCs", conf.TxAdv.DCB.NbTCs,
				"DCB requires %d or %d traffic classes", types.DCBTCs4, types.DCBTCs8)
		}
	}
	return nil
}

func checkMQModeSRIOV(dev *Device, nbRx, nbTx uint16, conf *DevConf) error {
	data := dev.data
	port := dev.port
	sriov := &data.SRIOV

	switch conf.RxMode.MQMode {
	case RxMQDCB, RxMQDCBRSS, RxMQVMDQDCB, RxMQVMDQDCBRSS:
		return newValidationError(port, "rxMode.mqMode", conf.RxMode.MQMode,
			"DCB modes are not available while SR-IOV is active")
	case RxMQRSS, RxMQVMDQRSS:
		if conf.RxMode.MQMode == RxMQRSS {
			klog.V(4).Infof("Port %d SR-IOV active, rx mq mode %s changed to %s",
				port, conf.RxMode.MQMode, RxMQVMDQRSS)
		}
		data.Conf.RxMode.MQMode = RxMQVMDQRSS
		if nbRx <= sriov.QueuesPerPool {
			var maxVFs uint16
			if dev.busDev != nil {
				maxVFs = dev.busDev.MaxVFs
			}
			part, err := ResolvePoolPartition(nbRx, maxVFs)
			if err != nil {
				ve := err.(*ValidationError)
				ve.Port = port
				return ve
			}
			sriov.Active = part.Pools
			sriov.QueuesPerPool = part.QueuesPerPool
			sriov.DefaultPoolQueueIndex = part.DefaultPoolQueueIndex
		}
	default:
		data.Conf.RxMode.MQMode = RxMQVMDQOnly
		if sriov.QueuesPerPool > 1 {
			sriov.QueuesPerPool = 1
		}
	}

	switch conf.TxMode.MQMode {
	case TxMQDCB, TxMQVMDQDCB:
		return newValidationError(port, "txMode.mqMode", conf.TxMode.MQMode,
			"DCB modes are not available while SR-IOV is active")
	default:
		data.Conf.TxMode.MQMode = TxMQVMDQOnly
	}

	if nbRx > sriov.QueuesPerPool {
		return newValidationError(port, "nbRxQueues", nbRx,
			"SR-IOV active, at most %d queues per pool", sriov.QueuesPerPool)
	}
	if nbTx > sriov.QueuesPerPool {
		return newValidationError(port, "nbTxQueues", nbTx,
			"SR-IOV active, at most %d queues per pool", sriov.QueuesPerPool)
	}
	return nil
}

func validVMDQDCBPools(n int) bool {
	return n == types.VMDQPools16 || n == types.VMDQPools32
}

func validDCBTCs(n int) bool {
	return n == types.DCBTCs4 || n == types.DCBTCs8
}
