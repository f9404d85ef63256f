package runner

import (
	"errors"
	"fmt"
	"time"

	"stressq/internal/report"
)

var ErrInvalidConfig = errors.New("invalid load test config")

type Config struct {
	ConcurrentClients   int           `mapstructure:"clients" json:"concurrent_clients"`
	OperationsPerClient int           `mapstructure:"ops" json:"operations_per_client"`
	OperationDelay      time.Duration `mapstructure:"delay" json:"operation_delay"`
	// TestDuration is advisory; standard runs are bounded by operation count.
	TestDuration  time.Duration `mapstructure:"duration" json:"test_duration"`
	Persistent    bool          `mapstructure:"persistent" json:"use_persistent_connection"`
	IncludeTrades bool          `mapstructure:"trading" json:"include_trading_operations"`
	StressMode    bool          `mapstructure:"stress" json:"stress_mode"`

	SSID string `mapstructure:"ssid" json:"-"`
	Demo bool   `mapstructure:"demo" json:"is_demo"`
}

func DefaultConfig() Config {
	return Config{
		ConcurrentClients:   5,
		OperationsPerClient: 20,
		OperationDelay:      time.Second,
		TestDuration:        5 * time.Minute,
		Persistent:          true,
		IncludeTrades:       true,
		Demo:                true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.ConcurrentClients <= 0:
		return fmt.Errorf("%w: concurrent clients must be positive, got %d", ErrInvalidConfig, c.ConcurrentClients)
	case c.OperationsPerClient < 0:
		return fmt.Errorf("%w: operations per client must not be negative, got %d", ErrInvalidConfig, c.OperationsPerClient)
	case c.OperationDelay < 0:
		return fmt.Errorf("%w: operation delay must not be negative, got %s", ErrInvalidConfig, c.OperationDelay)
	}
	return nil
}

// Describe is the configuration echo stored in reports.
func (c Config) Describe() *report.TestConfig {
	return &report.TestConfig{
		ConcurrentClients:   c.ConcurrentClients,
		OperationsPerClient: c.OperationsPerClient,
		OperationDelay:      c.OperationDelay.Seconds(),
		Persistent:          c.Persistent,
		IncludeTrading:      c.IncludeTrades,
		StressMode:          c.StressMode,
	}
}

// Timings holds every deadline and pause the runner applies. Tests shrink
// them; production code uses DefaultTimings.
type Timings struct {
	ConnectTimeout           time.Duration
	PersistentConnectTimeout time.Duration
	DisconnectTimeout        time.Duration

	OperationTimeout           time.Duration
	PersistentOperationTimeout time.Duration
	PingTimeout                time.Duration
	MarketDataTimeout          time.Duration
	LatestBarTimeout           time.Duration

	// PlaceholderLatency stands in for order lookups that are not issued.
	PlaceholderLatency time.Duration
	StressPingPause    time.Duration

	PhaseBudget     time.Duration
	PhaseCoolOff    time.Duration
	MonitorInterval time.Duration
	TickInterval    time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ConnectTimeout:             10 * time.Second,
		PersistentConnectTimeout:   15 * time.Second,
		DisconnectTimeout:          5 * time.Second,
		OperationTimeout:           5 * time.Second,
		PersistentOperationTimeout: 10 * time.Second,
		PingTimeout:                2 * time.Second,
		MarketDataTimeout:          3 * time.Second,
		LatestBarTimeout:           3 * time.Second,
		PlaceholderLatency:         100 * time.Millisecond,
		StressPingPause:            50 * time.Millisecond,
		PhaseBudget:                60 * time.Second,
		PhaseCoolOff:               5 * time.Second,
		MonitorInterval:            time.Second,
		TickInterval:               200 * time.Millisecond,
	}
}

// OrderDuration is the expiry, in seconds, of simulated orders.
const OrderDuration = 60
