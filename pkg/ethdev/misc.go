package ethdev

import (
	"time"
)

// rxQueue checks queueID against the configured receive queues
func (r *Registry) rxQueue(port PortID, op string, queueID uint16) (*Device, error) {
	dev, err := r.device(port, op)
	if err != nil {
		return nil, err
	}
	if queueID >= dev.data.NbRxQueues() {
		return nil, newPortError(port, op, ErrInvalidArgument, "invalid rx queue %d", queueID)
	}
	return dev, nil
}

// RxQueueCount returns the number of used descriptors on a receive queue
func (r *Registry) RxQueueCount(port PortID, queueID uint16) (uint32, error) {
	const op = "rx_queue_count"
	dev, err := r.rxQueue(port, op, queueID)
	if err != nil {
		return 0, err
	}
	counter, ok := dev.ops.(RxQueueCounter)
	if !ok {
		return 0, newPortError(port, op, ErrNotSupported, "")
	}
	n, err := counter.RxQueueCount(dev, queueID)
	if err != nil {
		return 0, newPortError(port, op, err, "queue %d", queueID)
	}
	return n, nil
}

// RxDescriptorDone reports whether the descriptor offset entries past the
// queue tail has been filled
func (r *Registry) RxDescriptorDone(port PortID, queueID uint16, offset uint16) (bool, error) {
	const op = "rx_descriptor_done"
	dev, err := r.rxQueue(port, op, queueID)
	if err != nil {
		return false, err
	}
	doner, ok := dev.ops.(RxDescriptorDoner)
	if !ok {
		return false, newPortError(port, op, ErrNotSupported, "")
	}
	done, err := doner.RxDescriptorDone(dev.data.RxQueues[queueID], offset)
	if err != nil {
		return false, newPortError(port, op, err, "queue %d", queueID)
	}
	return done, nil
}

// RxIntrEnable arms the receive interrupt of a queue
func (r *Registry) RxIntrEnable(port PortID, queueID uint16) error {
	const op = "rx_intr_enable"
	dev, err := r.rxQueue(port, op, queueID)
	if err != nil {
		return err
	}
	ic, ok := dev.ops.(RxIntrController)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := ic.RxQueueIntrEnable(dev, queueID); err != nil {
		return newPortError(port, op, err, "queue %d", queueID)
	}
	return nil
}

// RxIntrDisable disarms the receive interrupt of a queue
func (r *Registry) RxIntrDisable(port PortID, queueID uint16) error {
	const op = "rx_intr_disable"
	dev, err := r.rxQueue(port, op, queueID)
	if err != nil {
		return err
	}
	ic, ok := dev.ops.(RxIntrController)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := ic.RxQueueIntrDisable(dev, queueID); err != nil {
		return newPortError(port, op, err, "queue %d", queueID)
	}
	return nil
}

// FilterSupported probes whether the driver handles a filter family
func (r *Registry) FilterSupported(port PortID, filterType FilterType) error {
	return r.FilterCtrl(port, filterType, FilterNop, nil)
}

// FilterCtrl passes a filter operation to the driver. arg is owned by the
// filter family and not inspected here.
func (r *Registry) FilterCtrl(port PortID, filterType FilterType, op FilterOp, arg interface{}) error {
	const name = "filter_ctrl"
	dev, err := r.device(port, name)
	if err != nil {
		return err
	}
	fc, ok := dev.ops.(FilterController)
	if !ok {
		return newPortError(port, name, ErrNotSupported, "")
	}
	if err := fc.FilterCtrl(dev, filterType, op, arg); err != nil {
		return newPortError(port, name, err, "filter type %d op %d", filterType, op)
	}
	return nil
}

func (r *Registry) timesyncer(port PortID, op string) (*Device, Timesyncer, error) {
	dev, err := r.device(port, op)
	if err != nil {
		return nil, nil, err
	}
	ts, ok := dev.ops.(Timesyncer)
	if !ok {
		return nil, nil, newPortError(port, op, ErrNotSupported, "")
	}
	return dev, ts, nil
}

// TimesyncEnable turns on IEEE1588 timestamping
func (r *Registry) TimesyncEnable(port PortID) error {
	dev, ts, err := r.timesyncer(port, "timesync_enable")
	if err != nil {
		return err
	}
	if err := ts.TimesyncEnable(dev); err != nil {
		return newPortError(port, "timesync_enable", err, "")
	}
	return nil
}

// TimesyncDisable turns off IEEE1588 timestamping
func (r *Registry) TimesyncDisable(port PortID) error {
	dev, ts, err := r.timesyncer(port, "timesync_disable")
	if err != nil {
		return err
	}
	if err := ts.TimesyncDisable(dev); err != nil {
		return newPortError(port, "timesync_disable", err, "")
	}
	return nil
}

// TimesyncReadRxTimestamp returns the timestamp of the last received PTP
// packet
func (r *Registry) TimesyncReadRxTimestamp(port PortID, flags uint32) (time.Time, error) {
	dev, ts, err := r.timesyncer(port, "timesync_read_rx")
	if err != nil {
		return time.Time{}, err
	}
	t, err := ts.TimesyncReadRxTimestamp(dev, flags)
	if err != nil {
		return time.Time{}, newPortError(port, "timesync_read_rx", err, "")
	}
	return t, nil
}

// TimesyncReadTxTimestamp returns the timestamp of the last transmitted PTP
// packet
func (r *Registry) TimesyncReadTxTimestamp(port PortID) (time.Time, error) {
	dev, ts, err := r.timesyncer(port, "timesync_read_tx")
	if err != nil {
		return time.Time{}, err
	}
	t, err := ts.TimesyncReadTxTimestamp(dev)
	if err != nil {
		return time.Time{}, newPortError(port, "timesync_read_tx", err, "")
	}
	return t, nil
}

// RegLength returns the size of the device register dump
func (r *Registry) RegLength(port PortID) (int, error) {
	const op = "reg_length"
	dev, err := r.device(port, op)
	if err != nil {
		return 0, err
	}
	rd, ok := dev.ops.(RegisterDumper)
	if !ok {
		return 0, newPortError(port, op, ErrNotSupported, "")
	}
	n, err := rd.RegLength(dev)
	if err != nil {
		return 0, newPortError(port, op, err, "")
	}
	return n, nil
}

// RegInfo dumps device registers into info
func (r *Registry) RegInfo(port PortID, info *RegInfo) error {
	const op = "reg_info"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if info == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil register info")
	}
	rd, ok := dev.ops.(RegisterDumper)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := rd.RegInfo(dev, info); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

func (r *Registry) eeprom(port PortID, op string) (*Device, EEPROMAccessor, error) {
	dev, err := r.device(port, op)
	if err != nil {
		return nil, nil, err
	}
	ea, ok := dev.ops.(EEPROMAccessor)
	if !ok {
		return nil, nil, newPortError(port, op, ErrNotSupported, "")
	}
	return dev, ea, nil
}

// EEPROMLength returns the EEPROM size in bytes
func (r *Registry) EEPROMLength(port PortID) (int, error) {
	dev, ea, err := r.eeprom(port, "eeprom_length")
	if err != nil {
		return 0, err
	}
	n, err := ea.EEPROMLength(dev)
	if err != nil {
		return 0, newPortError(port, "eeprom_length", err, "")
	}
	return n, nil
}

// GetEEPROM reads info.Length bytes at info.Offset
func (r *Registry) GetEEPROM(port PortID, info *EEPROMInfo) error {
	if info == nil {
		return newPortError(port, "get_eeprom", ErrInvalidArgument, "nil eeprom info")
	}
	dev, ea, err := r.eeprom(port, "get_eeprom")
	if err != nil {
		return err
	}
	if err := ea.GetEEPROM(dev, info); err != nil {
		return newPortError(port, "get_eeprom", err, "")
	}
	return nil
}

// SetEEPROM writes info.Data at info.Offset
func (r *Registry) SetEEPROM(port PortID, info *EEPROMInfo) error {
	if info == nil {
		return newPortError(port, "set_eeprom", ErrInvalidArgument, "nil eeprom info")
	}
	dev, ea, err := r.eeprom(port, "set_eeprom")
	if err != nil {
		return err
	}
	if err := ea.SetEEPROM(dev, info); err != nil {
		return newPortError(port, "set_eeprom", err, "")
	}
	return nil
}
