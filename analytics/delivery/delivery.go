// SPDX-License-Identifier: ice License 1.0

package delivery

import (
	"context"
	"strings"
	stdlibtime "time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/wpbe/wintr/analytics/guest"
	"github.com/wpbe/wintr/analytics/queue"
	"github.com/wpbe/wintr/analytics/tracking"
	"github.com/wpbe/wintr/log"
)

func New(cfg *Config, client tracking.Client, guests guest.Manager, events queue.Queue, clock clockwork.Clock) Controller {
	applyDefaults(cfg)
	placeholder := IsPlaceholder(cfg.BaseURL, cfg.PlaceholderHosts)
	if placeholder {
		log.Info("analytics endpoint looks like a default placeholder, delivery will stop after the first failure", "baseUrl", cfg.BaseURL)
	}

	return &controller{
		cfg:         cfg,
		client:      client,
		guests:      guests,
		queue:       events,
		clock:       clock,
		cooldown:    cooldownPolicy(cfg, clock),
		triggerChan: make(chan struct{}, 1),
		closeChan:   make(chan struct{}),
		placeholder: placeholder,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = DefaultCircuitCooldown
	}
	if cfg.CircuitCooldownMax <= 0 {
		cfg.CircuitCooldownMax = defaultCircuitCooldownMax
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
}

func cooldownPolicy(cfg *Config, clock clockwork.Clock) backoff.BackOff {
	if cfg.CircuitCooldownMultiplier <= 1 {
		return backoff.NewConstantBackOff(cfg.CircuitCooldown)
	}

	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.CircuitCooldown),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(cfg.CircuitCooldownMultiplier),
		backoff.WithMaxInterval(cfg.CircuitCooldownMax),
		backoff.WithMaxElapsedTime(0),
		backoff.WithClockProvider(clock),
	)
}

// IsPlaceholder reports whether baseURL points at one of the default, never-configured hosts.
func IsPlaceholder(baseURL string, placeholderHosts []string) bool {
	for _, host := range placeholderHosts {
		if host != "" && strings.Contains(baseURL, host) {
			return true
		}
	}

	return false
}

func (c *controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *controller) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case <-ticker.Chan():
			if c.isDisabled() {
				log.Debug("analytics delivery is disabled, stopping the flush loop")

				return
			}
			c.Flush(ctx)
		case <-c.triggerChan:
			c.Flush(ctx)
		}
	}
}

func (c *controller) Trigger() {
	select {
	case c.triggerChan <- struct{}{}:
	default:
	}
}

//nolint:funlen // Keeping the single auth retry visible in one place.
func (c *controller) Flush(ctx context.Context) {
	if !c.flushing.CompareAndSwap(false, true) {
		return
	}
	defer c.flushing.Store(false)
	if !c.ready(ctx) {
		return
	}
	for attempt := 0; ; attempt++ {
		creds := c.credentials(ctx)
		if creds == nil {
			log.Debug("no guest session available, keeping analytics events queued", "queued", c.queue.Len())

			return
		}
		events := c.queue.DrainAll()
		if len(events) == 0 {
			return
		}
		err := c.send(ctx, creds, events)
		outcome := tracking.Classify(err)
		if outcome == tracking.OutcomeSuccess {
			c.guests.Confirm(creds)
			c.succeeded(len(events))

			return
		}
		if outcome == tracking.OutcomeUnauthorized && attempt < maxAuthRetries {
			log.Warn("guest token rejected during delivery, rotating session", "guestId", creds.GuestID)
			c.guests.Rotate(ctx)
			c.queue.RequeueFront(events)

			continue
		}
		c.failed(err, outcome, events)

		return
	}
}

func (c *controller) ready(ctx context.Context) bool {
	c.mx.Lock()
	blocked := c.disabled || (c.unavailable && c.failures >= c.cfg.MaxConsecutiveFailures)
	c.mx.Unlock()

	return !blocked && c.queue.Len() > 0 && !c.guests.OptedOut(ctx)
}

func (c *controller) credentials(ctx context.Context) *tracking.Credentials {
	if creds := c.guests.Trusted(ctx); creds != nil {
		return creds
	}
	if c.guests.Ensure(ctx) == "" {
		return nil
	}

	return c.guests.Credentials(ctx)
}

func (c *controller) send(ctx context.Context, creds *tracking.Credentials, events []*tracking.Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	return c.client.SendBatch(ctx, creds, &tracking.Batch{GuestID: creds.GuestID, Events: events}) //nolint:wrapcheck // Classified by the caller.
}

func (c *controller) succeeded(delivered int) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.failures > 0 {
		log.Info("analytics delivery recovered", "failures", c.failures)
	}
	c.failures = 0
	c.unavailable = false
	c.cooldown.Reset()
	c.stopResetTimer()
	log.Debug("delivered analytics events", "count", delivered)
}

func (c *controller) failed(err error, outcome tracking.Outcome, events []*tracking.Event) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.failures++
	if c.placeholder {
		c.disabled = true
		c.unavailable = true
		c.stopResetTimer()
		dropped := len(events) + c.queue.Clear()
		log.Warn("analytics disabled, the delivery endpoint looks unconfigured",
			"baseUrl", c.cfg.BaseURL, "dropped", dropped, "outcome", outcome.String(), "statusCode", tracking.StatusCode(err), "error", err.Error())

		return
	}
	c.queue.RequeueFront(events)
	if c.failures == 1 {
		log.Warn("analytics delivery failed, events requeued for retry",
			"outcome", outcome.String(), "statusCode", tracking.StatusCode(err), "queued", c.queue.Len(), "error", err.Error())
	}
	if c.failures >= c.cfg.MaxConsecutiveFailures && !c.unavailable {
		c.unavailable = true
		cooldown := c.scheduleReset()
		log.Warn("analytics backend unavailable, pausing delivery", "failures", c.failures, "cooldown", cooldown.String())
	}
}

// scheduleReset arms the single circuit reset timer. The caller must hold mx.
func (c *controller) scheduleReset() stdlibtime.Duration {
	if c.resetTimer != nil {
		return 0
	}
	select {
	case <-c.closeChan:
		return 0
	default:
	}
	cooldown := c.cooldown.NextBackOff()
	c.resetGen++
	gen := c.resetGen
	c.resetTimer = c.clock.AfterFunc(cooldown, func() { c.resetCircuit(gen) })

	return cooldown
}

// stopResetTimer disarms the reset timer, if any. The caller must hold mx.
func (c *controller) stopResetTimer() {
	c.resetGen++
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

func (c *controller) resetCircuit(gen uint64) {
	c.mx.Lock()
	if gen != c.resetGen || c.disabled {
		c.mx.Unlock()

		return
	}
	c.resetTimer = nil
	c.failures = 0
	c.unavailable = false
	c.mx.Unlock()
	log.Info("analytics circuit cool-down elapsed, resuming delivery")
	c.Trigger()
}

func (c *controller) isDisabled() bool {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.disabled
}

func (c *controller) Stats() *Stats {
	c.mx.Lock()
	defer c.mx.Unlock()
	stats := &Stats{
		Queued:              c.queue.Len(),
		ConsecutiveFailures: c.failures,
		Flushing:            c.flushing.Load(),
		ServerAvailable:     !c.unavailable,
		Enabled:             !c.disabled,
	}
	switch {
	case c.disabled:
		stats.State = StateDisabled
	case stats.Flushing:
		stats.State = StateFlushing
	case c.unavailable:
		stats.State = StateCircuitOpen
	default:
		stats.State = StateIdle
	}

	return stats
}

// Close stops the flush loop and the reset timer, then makes a last best-effort flush.
func (c *controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.wg.Wait()
		c.mx.Lock()
		c.stopResetTimer()
		c.mx.Unlock()
		c.Flush(context.Background())
	})

	return nil
}
