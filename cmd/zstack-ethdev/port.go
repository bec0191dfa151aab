package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jiayi-1994/zstack-ethdev/pkg/config"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/events"
	"github.com/jiayi-1994/zstack-ethdev/pkg/logging"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
)

// linkPollInterval is the link state polling period while waiting for link up
const linkPollInterval = 100 * time.Millisecond

// portManager brings configured ports up and down
type portManager struct {
	reg  *ethdev.Registry
	rec  *events.Recorder
	pool *mbuf.Pool

	// ports lists the ports brought up, in attach order
	ports []ethdev.PortID
}

func newPortManager(reg *ethdev.Registry, rec *events.Recorder, pool *mbuf.Pool) *portManager {
	return &portManager{reg: reg, rec: rec, pool: pool}
}

func (m *portManager) source(port ethdev.PortID) events.Source {
	name, _ := m.reg.Name(port)
	return events.Source{Port: uint16(port), Device: name}
}

// retryableAttach reports whether an attach failure may clear on its own,
// e.g. a kernel interface that has not appeared yet
func retryableAttach(err error) bool {
	return errors.Is(err, ethdev.ErrNoSuchDevice) ||
		errors.Is(err, ethdev.ErrNoMemory) ||
		errors.Is(err, ethdev.ErrTryAgain)
}

// attach attaches devargs, retrying transient failures with exponential
// backoff up to retries extra attempts
func (m *portManager) attach(ctx context.Context, devargs string, retries int) (ethdev.PortID, error) {
	log := logging.FromContext(ctx)

	var port ethdev.PortID
	op := func() error {
		p, err := m.reg.Attach(devargs)
		if err != nil {
			if !retryableAttach(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		port = p
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	notify := func(err error, next time.Duration) {
		log.Info("Attach failed, retrying", "devargs", devargs, "error", err.Error(), "after", next.String())
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		m.rec.AttachFailed(devargs, err)
		return 0, fmt.Errorf("failed to attach %s: %w", devargs, err)
	}

	m.rec.PortAttached(m.source(port), devargs)
	return port, nil
}

// setup configures queues and filters of an attached port and starts it
func (m *portManager) setup(port ethdev.PortID, pc config.PortConfig) error {
	src := m.source(port)

	if err := m.configure(port, pc); err != nil {
		m.rec.ConfigureFailed(src, err)
		return err
	}
	m.rec.PortConfigured(src, pc.RxQueues, pc.TxQueues)

	if pc.LSC {
		if err := m.reg.RegisterEventCallback(port, ethdev.EventLinkStateChange, onLinkChange, m); err != nil {
			return fmt.Errorf("failed to register link callback on port %d: %w", port, err)
		}
	}

	if err := m.reg.Start(port); err != nil {
		m.rec.StartFailed(src, err)
		return fmt.Errorf("failed to start port %d: %w", port, err)
	}
	mac, _ := m.reg.MACAddr(port)
	m.rec.PortStarted(src, mac.String())

	m.ports = append(m.ports, port)
	return nil
}

func (m *portManager) configure(port ethdev.PortID, pc config.PortConfig) error {
	conf, err := pc.DevConf()
	if err != nil {
		return err
	}
	if err := m.reg.Configure(port, pc.RxQueues, pc.TxQueues, conf); err != nil {
		return fmt.Errorf("failed to configure port %d: %w", port, err)
	}

	socket := m.reg.SocketID(port)
	for q := uint16(0); q < pc.RxQueues; q++ {
		if err := m.reg.RxQueueSetup(port, q, pc.RxDescriptors, socket, nil, m.pool); err != nil {
			return fmt.Errorf("failed to set up rx queue %d on port %d: %w", q, port, err)
		}
	}
	for q := uint16(0); q < pc.TxQueues; q++ {
		if err := m.reg.TxQueueSetup(port, q, pc.TxDescriptors, socket, nil); err != nil {
			return fmt.Errorf("failed to set up tx queue %d on port %d: %w", q, port, err)
		}
	}

	if pc.MTU != 0 {
		if err := m.reg.SetMTU(port, pc.MTU); err != nil {
			return fmt.Errorf("failed to set MTU %d on port %d: %w", pc.MTU, port, err)
		}
	}
	if pc.Promiscuous {
		if err := m.reg.PromiscuousEnable(port); err != nil {
			return fmt.Errorf("failed to enable promiscuous mode on port %d: %w", port, err)
		}
	}
	if pc.AllMulticast {
		if err := m.reg.AllMulticastEnable(port); err != nil {
			return fmt.Errorf("failed to enable all-multicast on port %d: %w", port, err)
		}
	}

	addrs, err := pc.SecondaryMACAddrs()
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := m.reg.MACAddrAdd(port, addr, 0); err != nil {
			return fmt.Errorf("failed to add MAC %s on port %d: %w", addr, port, err)
		}
	}
	return nil
}

// onLinkChange records the new link state of port; arg is the portManager
func onLinkChange(port ethdev.PortID, event ethdev.EventType, arg interface{}) {
	m, ok := arg.(*portManager)
	if !ok {
		return
	}
	src := m.source(port)

	link, err := m.reg.LinkGetNowait(port)
	if err != nil {
		logging.LoggerForPort(src.Port, src.Device).Error(err, "Cannot read link state", "event", event.String())
		return
	}
	m.rec.LinkChanged(src, link.String(), link.Up)
}

// waitForLinks polls each started port until its link is up. A port whose
// link stays down past timeout is recorded and left running.
func (m *portManager) waitForLinks(ctx context.Context, timeout time.Duration) {
	log := logging.FromContext(ctx)
	if timeout <= 0 {
		return
	}

	for _, port := range m.ports {
		var link ethdev.Link
		err := wait.PollUntilContextTimeout(ctx, linkPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
			l, err := m.reg.LinkGetNowait(port)
			if err != nil {
				return false, err
			}
			link = l
			return l.Up, nil
		})
		if err != nil {
			m.rec.LinkWaitTimeout(m.source(port), timeout)
			continue
		}
		log.Info("Link up", "port", port, "link", link.String())
	}
}

// shutdown stops and detaches the started ports, then releases whatever
// the registry still holds
func (m *portManager) shutdown() error {
	var errs error
	for i := len(m.ports) - 1; i >= 0; i-- {
		port := m.ports[i]
		src := m.source(port)

		if err := m.reg.Stop(port); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		m.rec.PortStopped(src)

		if err := m.reg.IsDetachable(port); err != nil {
			// left to Teardown
			continue
		}
		if _, err := m.reg.Detach(port); err != nil {
			m.rec.DetachFailed(src, err)
			errs = multierr.Append(errs, err)
			continue
		}
		m.rec.PortDetached(src)
	}
	m.ports = nil
	return multierr.Append(errs, m.reg.Teardown())
}
