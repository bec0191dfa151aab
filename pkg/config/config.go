// Package config provides configuration management for zstack-ethdev.
//
// This package handles:
//   - Configuration file parsing (YAML/JSON)
//   - Environment variable overrides
//   - Configuration validation
//   - Translation of port entries into ethdev port configurations
//
// Configuration Priority (highest to lowest):
//  1. Environment variables (ZSTACK_ETHDEV_*)
//  2. Configuration file
//  3. Default values
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

// EnvConfigFile names the configuration file when --config is not given
const EnvConfigFile = "ZSTACK_ETHDEV_CONFIG"

// Config is the daemon configuration
type Config struct {
	// EAL contains process environment settings
	EAL EALConfig `json:"eal" yaml:"eal"`

	// Mempool is the packet buffer pool shared by every receive queue
	Mempool MempoolConfig `json:"mempool" yaml:"mempool"`

	// Ports lists the ports to bring up, in attach order
	Ports []PortConfig `json:"ports" yaml:"ports"`

	// LinkWaitTimeout bounds the wait for each port's link after start.
	// A timeout is logged, not fatal.
	// Default: 10s
	LinkWaitTimeout time.Duration `json:"linkWaitTimeout" yaml:"linkWaitTimeout"`

	// AttachRetries is the number of extra attach attempts per port
	// Default: 3
	AttachRetries int `json:"attachRetries" yaml:"attachRetries"`

	// Metrics contains the Prometheus endpoint settings
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EALConfig contains process environment settings
type EALConfig struct {
	// ProcessType is "primary" or "secondary"
	// Default: "primary"
	ProcessType string `json:"processType" yaml:"processType"`

	// SocketMemMB bounds the heap. 0 sizes it from free hugepages, or leaves
	// it unbounded when none are configured.
	SocketMemMB int64 `json:"socketMemMB" yaml:"socketMemMB"`

	// RequireHugepages fails startup when no hugepages are free
	RequireHugepages bool `json:"requireHugepages" yaml:"requireHugepages"`
}

// MempoolConfig sizes the packet buffer pool
type MempoolConfig struct {
	// Name is the pool name
	// Default: "mbuf_pool"
	Name string `json:"name" yaml:"name"`

	// Size is the number of buffers
	// Default: 8192
	Size int `json:"size" yaml:"size"`

	// DataRoomSize is the buffer size including headroom
	// Default: 2176
	DataRoomSize uint16 `json:"dataRoomSize" yaml:"dataRoomSize"`
}

// PortConfig describes one port
type PortConfig struct {
	// Devargs is a PCI address or a virtual device string,
	// e.g. "0000:01:00.0" or "net_ring0,queues=2"
	Devargs string `json:"devargs" yaml:"devargs"`

	// RxQueues and TxQueues are the queue counts
	// Default: 1
	RxQueues uint16 `json:"rxQueues" yaml:"rxQueues"`
	TxQueues uint16 `json:"txQueues" yaml:"txQueues"`

	// RxDescriptors and TxDescriptors are the ring sizes per queue
	// Default: 512
	RxDescriptors uint16 `json:"rxDescriptors" yaml:"rxDescriptors"`
	TxDescriptors uint16 `json:"txDescriptors" yaml:"txDescriptors"`

	// MTU is applied after configure; 0 keeps the driver's MTU
	MTU uint16 `json:"mtu" yaml:"mtu"`

	Promiscuous  bool `json:"promiscuous" yaml:"promiscuous"`
	AllMulticast bool `json:"allMulticast" yaml:"allMulticast"`

	// RxMQMode is the receive multi-queue mode, e.g. "none", "rss",
	// "vmdq_dcb"
	// Default: "none"
	RxMQMode string `json:"rxMQMode" yaml:"rxMQMode"`

	// LSC enables link state change events
	LSC bool `json:"lsc" yaml:"lsc"`

	JumboFrame  bool   `json:"jumboFrame" yaml:"jumboFrame"`
	MaxRxPktLen uint32 `json:"maxRxPktLen" yaml:"maxRxPktLen"`

	VLANFilter bool `json:"vlanFilter" yaml:"vlanFilter"`
	VLANStrip  bool `json:"vlanStrip" yaml:"vlanStrip"`

	// MACAddrs are secondary unicast addresses added after configure
	MACAddrs []string `json:"macAddrs" yaml:"macAddrs"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	// Enabled serves /metrics
	// Default: true
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BindAddress is the listen address
	// Default: ":9464"
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `json:"format" yaml:"format"`

	// File is the log file path (optional)
	// If empty, logs to stdout
	File string `json:"file" yaml:"file"`
}

// Port defaults
const (
	DefaultQueues      = 1
	DefaultDescriptors = 512
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		EAL: EALConfig{
			ProcessType: "primary",
		},
		Mempool: MempoolConfig{
			Name:         "mbuf_pool",
			Size:         8192,
			DataRoomSize: 2048 + types.PktmbufHeadroom,
		},
		LinkWaitTimeout: 10 * time.Second,
		AttachRetries:   3,
		Metrics: MetricsConfig{
			Enabled:     true,
			BindAddress: ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from path and environment variables
//
// Configuration is loaded in the following order:
// 1. Default values
// 2. Configuration file (path, or ZSTACK_ETHDEV_CONFIG when path is empty)
// 3. Environment variable overrides
// 4. Port defaults for fields left unset
//
// Returns:
//   - *Config: Loaded configuration
//   - error: Loading or validation error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.applyPortDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - error: File reading or parsing error
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration
//
// Environment variables follow the pattern: ZSTACK_ETHDEV_<KEY>
// Examples:
//   - ZSTACK_ETHDEV_PROCESS_TYPE=secondary
//   - ZSTACK_ETHDEV_SOCKET_MEM_MB=2048
//   - ZSTACK_ETHDEV_PORTS="net_ring0,queues=2;0000:01:00.0"
//   - ZSTACK_ETHDEV_LINK_WAIT_TIMEOUT=30s
//   - ZSTACK_ETHDEV_LOG_LEVEL=debug
//
// ZSTACK_ETHDEV_PORTS replaces the port list with single-queue ports; entries
// are separated by ';' since devargs contain commas.
func (c *Config) ApplyEnvOverrides() {
	// EAL settings
	if v := os.Getenv("ZSTACK_ETHDEV_PROCESS_TYPE"); v != "" {
		c.EAL.ProcessType = v
	}
	if v := os.Getenv("ZSTACK_ETHDEV_SOCKET_MEM_MB"); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil && mb >= 0 {
			c.EAL.SocketMemMB = mb
		}
	}
	if v := os.Getenv("ZSTACK_ETHDEV_REQUIRE_HUGEPAGES"); v != "" {
		c.EAL.RequireHugepages = strings.ToLower(v) == "true"
	}

	// Mempool settings
	if v := os.Getenv("ZSTACK_ETHDEV_MEMPOOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Mempool.Size = n
		}
	}

	// Port settings
	if v := os.Getenv("ZSTACK_ETHDEV_PORTS"); v != "" {
		var ports []PortConfig
		for _, devargs := range strings.Split(v, ";") {
			if devargs = strings.TrimSpace(devargs); devargs != "" {
				ports = append(ports, PortConfig{Devargs: devargs})
			}
		}
		c.Ports = ports
	}
	if v := os.Getenv("ZSTACK_ETHDEV_LINK_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.LinkWaitTimeout = d
		}
	}
	if v := os.Getenv("ZSTACK_ETHDEV_ATTACH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.AttachRetries = n
		}
	}

	// Metrics settings
	if v := os.Getenv("ZSTACK_ETHDEV_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("ZSTACK_ETHDEV_METRICS_BIND_ADDRESS"); v != "" {
		c.Metrics.BindAddress = v
	}

	// Logging settings
	if v := os.Getenv("ZSTACK_ETHDEV_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ZSTACK_ETHDEV_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ZSTACK_ETHDEV_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// applyPortDefaults fills queue and descriptor counts left at zero
func (c *Config) applyPortDefaults() {
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.RxQueues == 0 {
			p.RxQueues = DefaultQueues
		}
		if p.TxQueues == 0 {
			p.TxQueues = DefaultQueues
		}
		if p.RxDescriptors == 0 {
			p.RxDescriptors = DefaultDescriptors
		}
		if p.TxDescriptors == 0 {
			p.TxDescriptors = DefaultDescriptors
		}
	}
}

// Validate validates the configuration
//
// Returns:
//   - error: Validation error listing every problem found
func (c *Config) Validate() error {
	var errors []string

	// Validate EAL settings
	if _, err := eal.ParseProcessType(c.EAL.ProcessType); err != nil {
		errors = append(errors, err.Error())
	}
	if c.EAL.SocketMemMB < 0 {
		errors = append(errors, fmt.Sprintf("invalid socket memory: %d MB (must be >= 0)", c.EAL.SocketMemMB))
	}

	// Validate mempool
	if c.Mempool.Name == "" {
		errors = append(errors, "mempool name is required")
	}
	if c.Mempool.Size <= 0 {
		errors = append(errors, fmt.Sprintf("invalid mempool size: %d (must be > 0)", c.Mempool.Size))
	}
	if c.Mempool.DataRoomSize <= types.PktmbufHeadroom {
		errors = append(errors, fmt.Sprintf("invalid mempool data room: %d (must exceed headroom %d)",
			c.Mempool.DataRoomSize, types.PktmbufHeadroom))
	}

	// Validate ports
	seen := make(map[string]int)
	for i, p := range c.Ports {
		for _, msg := range p.validate() {
			errors = append(errors, fmt.Sprintf("port %d (%s): %s", i, p.Devargs, msg))
		}
		name := p.deviceName()
		if name == "" {
			continue
		}
		if j, ok := seen[name]; ok {
			errors = append(errors, fmt.Sprintf("port %d: device %s already listed as port %d", i, name, j))
		}
		seen[name] = i
	}

	if c.LinkWaitTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid link wait timeout: %s", c.LinkWaitTimeout))
	}
	if c.AttachRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid attach retries: %d (must be >= 0)", c.AttachRetries))
	}

	// Validate metrics
	if c.Metrics.Enabled && c.Metrics.BindAddress == "" {
		errors = append(errors, "metrics bind address is required when metrics are enabled")
	}

	// Validate logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// deviceName returns the PCI address or virtual device name of the port
func (p PortConfig) deviceName() string {
	if addr, err := bus.ParsePCIAddress(p.Devargs); err == nil {
		return addr.String()
	}
	da, err := bus.ParseDevargs(p.Devargs)
	if err != nil {
		return ""
	}
	return da.Name
}

func (p PortConfig) validate() []string {
	var errors []string

	if strings.TrimSpace(p.Devargs) == "" {
		errors = append(errors, "devargs is required")
	}

	if p.RxQueues == 0 || p.RxQueues > types.MaxQueuesPerPort {
		errors = append(errors, fmt.Sprintf("invalid rx queues: %d (must be 1-%d)", p.RxQueues, types.MaxQueuesPerPort))
	}
	if p.TxQueues == 0 || p.TxQueues > types.MaxQueuesPerPort {
		errors = append(errors, fmt.Sprintf("invalid tx queues: %d (must be 1-%d)", p.TxQueues, types.MaxQueuesPerPort))
	}
	if p.RxDescriptors == 0 || p.TxDescriptors == 0 {
		errors = append(errors, "descriptor counts must be > 0")
	}
	if p.MTU != 0 && p.MTU < 68 {
		errors = append(errors, fmt.Sprintf("invalid mtu: %d (must be >= 68)", p.MTU))
	}
	if _, err := ethdev.ParseRxMQMode(p.RxMQMode); err != nil {
		errors = append(errors, err.Error())
	}
	if p.JumboFrame && p.MaxRxPktLen < types.EtherMinLen {
		errors = append(errors, fmt.Sprintf("invalid max rx packet length: %d (jumbo frames need >= %d)",
			p.MaxRxPktLen, types.EtherMinLen))
	}
	for _, s := range p.MACAddrs {
		addr, err := util.ParseEtherAddr(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("invalid MAC address %q: %v", s, err))
			continue
		}
		if !addr.IsValidAssigned() {
			errors = append(errors, fmt.Sprintf("MAC address %s is not a unicast address", s))
		}
	}
	return errors
}

// DevConf builds the ethdev configuration for the port
func (p PortConfig) DevConf() (*ethdev.DevConf, error) {
	mq, err := ethdev.ParseRxMQMode(p.RxMQMode)
	if err != nil {
		return nil, err
	}
	conf := &ethdev.DevConf{}
	conf.RxMode.MQMode = mq
	conf.RxMode.JumboFrame = p.JumboFrame
	conf.RxMode.MaxRxPktLen = p.MaxRxPktLen
	conf.RxMode.HWVLANFilter = p.VLANFilter
	conf.RxMode.HWVLANStrip = p.VLANStrip
	conf.RxMode.HWStripCRC = true
	conf.Intr.LSC = p.LSC
	if mq&ethdev.RxMQRSS != 0 {
		conf.RxAdv.RSS.HashFunctions = ethdev.RSSIPv4 | ethdev.RSSNonFragIPv4TCP | ethdev.RSSNonFragIPv4UDP
	}
	return conf, nil
}

// SecondaryMACAddrs parses MACAddrs
func (p PortConfig) SecondaryMACAddrs() ([]util.EtherAddr, error) {
	addrs := make([]util.EtherAddr, 0, len(p.MACAddrs))
	for _, s := range p.MACAddrs {
		addr, err := util.ParseEtherAddr(s)
		if err != nil {
			return nil, fmt.Errorf("mac address %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// EALConfig returns the EAL configuration. hugepageBytes sizes the heap when
// SocketMemMB is 0.
func (c *Config) EALConfig(hugepageBytes int64) *eal.Config {
	process, _ := eal.ParseProcessType(c.EAL.ProcessType)
	cfg := eal.DefaultConfig()
	cfg.Process = process
	cfg.SocketMemBytes = c.EAL.SocketMemMB << 20
	if cfg.SocketMemBytes == 0 {
		cfg.SocketMemBytes = hugepageBytes
	}
	return cfg
}

// IsPrimary returns true if the process runs as the primary
func (c *Config) IsPrimary() bool {
	process, _ := eal.ParseProcessType(c.EAL.ProcessType)
	return process == eal.ProcessPrimary
}
