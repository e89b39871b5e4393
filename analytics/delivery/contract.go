// SPDX-License-Identifier: ice License 1.0

package delivery

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	stdlibtime "time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/wpbe/wintr/analytics/guest"
	"github.com/wpbe/wintr/analytics/queue"
	"github.com/wpbe/wintr/analytics/tracking"
)

// Public API.

const (
	StateIdle        State = "idle"
	StateFlushing    State = "flushing"
	StateCircuitOpen State = "circuit_open"
	StateDisabled    State = "disabled"

	DefaultFlushInterval          = 5 * stdlibtime.Second
	DefaultCircuitCooldown        = 30 * stdlibtime.Second
	DefaultMaxConsecutiveFailures = 2
)

type (
	State string
	// Controller moves queued events to the backend in batches.
	// None of its operations ever surface a delivery error to the caller.
	Controller interface {
		io.Closer
		// Start runs the periodic flush loop until ctx is done or the controller is closed.
		Start(ctx context.Context)
		// Flush delivers everything queued so far. It is a no-op while another flush is in progress.
		Flush(ctx context.Context)
		// Trigger asks the flush loop for an immediate flush without waiting for it.
		Trigger()
		Stats() *Stats
	}
	Stats struct {
		State               State `json:"state"`
		Queued              int   `json:"queued"`
		ConsecutiveFailures int   `json:"consecutiveFailures"`
		Flushing            bool  `json:"flushing"`
		ServerAvailable     bool  `json:"serverAvailable"`
		Enabled             bool  `json:"enabled"`
	}
	Config struct {
		BaseURL                   string              `yaml:"baseUrl" mapstructure:"baseUrl"`
		PlaceholderHosts          []string            `yaml:"placeholderHosts" mapstructure:"placeholderHosts"`
		RequestTimeout            stdlibtime.Duration `yaml:"requestTimeout" mapstructure:"requestTimeout"`
		FlushInterval             stdlibtime.Duration `yaml:"flushInterval" mapstructure:"flushInterval"`
		CircuitCooldown           stdlibtime.Duration `yaml:"circuitCooldown" mapstructure:"circuitCooldown"`
		CircuitCooldownMax        stdlibtime.Duration `yaml:"circuitCooldownMax" mapstructure:"circuitCooldownMax"`
		CircuitCooldownMultiplier float64             `yaml:"circuitCooldownMultiplier" mapstructure:"circuitCooldownMultiplier"`
		MaxConsecutiveFailures    int                 `yaml:"maxConsecutiveFailures" mapstructure:"maxConsecutiveFailures"`
	}
)

// Private API.

const (
	maxAuthRetries            = 1
	defaultRequestTimeout     = 5 * stdlibtime.Second
	defaultCircuitCooldownMax = 5 * stdlibtime.Minute
)

type (
	controller struct {
		client      tracking.Client
		guests      guest.Manager
		queue       queue.Queue
		clock       clockwork.Clock
		cooldown    backoff.BackOff
		resetTimer  clockwork.Timer
		cfg         *Config
		triggerChan chan struct{}
		closeChan   chan struct{}
		wg          sync.WaitGroup
		closeOnce   sync.Once
		mx          sync.Mutex
		flushing    atomic.Bool
		failures    int
		unavailable bool
		disabled    bool
		placeholder bool
		resetGen    uint64
	}
)
