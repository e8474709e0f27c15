package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

// FetchFunc loads the full order list from the backend.
type FetchFunc func(ctx context.Context) ([]models.OrderRecord, error)

// PollScheduler fetches the full order list on a ticker: often while the
// stream is down and rarely while it is up. A 5xx answer pauses scheduled
// polls for Cooldown.
type PollScheduler struct {
	DisconnectedInterval time.Duration
	ConnectedInterval    time.Duration
	Cooldown             time.Duration
	RequestTimeout       time.Duration

	fetch       FetchFunc
	apply       func([]models.OrderRecord) bool
	isConnected func() bool
	metrics     *SyncMetrics
	log         *logrus.Entry
	now         func() time.Time

	inFlight atomic.Bool

	mu            sync.Mutex
	lastFetch     time.Time
	cooldownUntil time.Time
	inBurst       bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

func NewPollScheduler(fetch FetchFunc, apply func([]models.OrderRecord) bool, isConnected func() bool, metrics *SyncMetrics) *PollScheduler {
	return &PollScheduler{
		DisconnectedInterval: 10 * time.Second,
		ConnectedInterval:    30 * time.Second,
		Cooldown:             5 * time.Second,
		RequestTimeout:       10 * time.Second,
		fetch:                fetch,
		apply:                apply,
		isConnected:          isConnected,
		metrics:              metrics,
		log:                  utils.Component("poller"),
		now:                  time.Now,
	}
}

// Start fetches once and then polls in the background until Stop. Calling
// Start while running is a no-op.
func (ps *PollScheduler) Start() {
	ps.mu.Lock()
	if ps.stopChan != nil {
		ps.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	ps.stopChan = stop
	ps.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		defer cancel()

		ticker := time.NewTicker(ps.tickInterval())
		defer ticker.Stop()

		go func() {
			<-stop
			cancel()
		}()

		_ = ps.poll(ctx, false)
		for {
			select {
			case <-ticker.C:
				if ps.due() {
					_ = ps.poll(ctx, false)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop ends the ticker goroutine and waits for it, including an in-flight
// fetch, which is cancelled. It is idempotent.
func (ps *PollScheduler) Stop() {
	ps.mu.Lock()
	stop := ps.stopChan
	ps.stopChan = nil
	ps.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	ps.wg.Wait()
}

// RefreshNow fetches immediately, ignoring the cooldown. It returns
// ErrRefreshInProgress when another fetch is running.
func (ps *PollScheduler) RefreshNow(ctx context.Context) error {
	return ps.poll(ctx, true)
}

// InCooldown reports whether scheduled polls are paused after a 5xx.
func (ps *PollScheduler) InCooldown() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.now().Before(ps.cooldownUntil)
}

func (ps *PollScheduler) tickInterval() time.Duration {
	d := ps.DisconnectedInterval
	if ps.ConnectedInterval > 0 && ps.ConnectedInterval < d {
		d = ps.ConnectedInterval
	}
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}

// due applies the per-state interval on top of the base tick.
func (ps *PollScheduler) due() bool {
	interval := ps.DisconnectedInterval
	if ps.isConnected != nil && ps.isConnected() {
		// zero disables the safety-net poll
		if ps.ConnectedInterval <= 0 {
			return false
		}
		interval = ps.ConnectedInterval
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	// tolerate ticker jitter
	return ps.now().Sub(ps.lastFetch) >= interval-interval/10
}

func (ps *PollScheduler) poll(ctx context.Context, force bool) error {
	if !ps.inFlight.CompareAndSwap(false, true) {
		ps.metrics.Poll("skipped")
		return ErrRefreshInProgress
	}
	defer ps.inFlight.Store(false)

	if !force && ps.InCooldown() {
		ps.metrics.Poll("skipped")
		ps.log.Debug("Skipping poll during server error cooldown")
		return nil
	}

	if ps.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ps.RequestTimeout)
		defer cancel()
	}

	records, err := ps.fetch(ctx)

	ps.mu.Lock()
	ps.lastFetch = ps.now()
	if err != nil {
		ps.fetchFailedLocked(err)
		ps.mu.Unlock()
		ps.metrics.Poll("error")
		return err
	}
	ps.inBurst = false
	ps.mu.Unlock()

	changed := ps.apply(records)
	ps.metrics.Poll("ok")
	ps.log.Debugf("Polled %d orders (changed=%t)", len(records), changed)
	return nil
}

func (ps *PollScheduler) fetchFailedLocked(err error) {
	if IsServerError(err) {
		now := ps.now()
		if !now.Before(ps.cooldownUntil) {
			ps.log.Warnf("Order API returned a server error, pausing polls for %s: %v", ps.Cooldown, err)
		} else {
			ps.log.Debugf("Order API still failing: %v", err)
		}
		ps.cooldownUntil = now.Add(ps.Cooldown)
		return
	}
	if ps.inBurst {
		ps.log.Debugf("Order poll failed: %v", err)
		return
	}
	ps.inBurst = true
	if IsTransient(err) {
		ps.log.Warnf("Order API unreachable (backend may be starting): %v", err)
		return
	}
	utils.ErrorLogger.WithField("component", "poller").Errorf("Order poll failed: %v", err)
}
