package loop

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// tickerConfig collects the functional options CallEvery/CallEveryWeak
// accept, the same option-struct shape the teacher uses for
// facade.Config/server.Config.
type tickerConfig struct {
	fixedInterval    bool
	startImmediately bool
	oneShot          bool
}

// TickerOption configures a Ticker at creation time.
type TickerOption func(*tickerConfig)

// FixedInterval selects whether the next fire is scheduled after the
// callback returns (true, the default) or the timer re-fires
// autonomously at the original cadence regardless of callback duration
// (false).
func FixedInterval(fixed bool) TickerOption {
	return func(c *tickerConfig) { c.fixedInterval = fixed }
}

// StartImmediately arms the Ticker as part of creation instead of leaving
// it Armed-Stopped until the caller calls Start.
func StartImmediately(start bool) TickerOption {
	return func(c *tickerConfig) { c.startImmediately = start }
}

// OneShot makes the Ticker cancel itself after its first successful fire.
func OneShot() TickerOption {
	return func(c *tickerConfig) { c.oneShot = true }
}

// Ticker is a timer handle bound to a Loop. Its callback runs only on the
// Loop's worker goroutine, regardless of which goroutine's timer fired.
type Ticker struct {
	loop     *Loop
	callerID CallerID
	interval time.Duration
	fn       func()
	alive    func() bool // non-nil for weak-bound tickers

	fixedInterval bool
	oneShot       bool

	running  atomic.Bool
	released atomic.Bool

	mu         sync.Mutex
	timer      *time.Timer   // fixed-interval / one-shot mode
	wallTicker *time.Ticker  // best-effort mode
	tickDone   chan struct{} // stops the best-effort reader goroutine
}

func newTicker(l *Loop, id CallerID, interval time.Duration, fn func(), alive func() bool, cfg tickerConfig) *Ticker {
	return &Ticker{
		loop:          l,
		callerID:      id,
		interval:      interval,
		fn:            fn,
		alive:         alive,
		fixedInterval: cfg.fixedInterval,
		oneShot:       cfg.oneShot,
	}
}

// Start arms the Ticker. Returns false if it was already running.
func (t *Ticker) Start() bool {
	if t.released.Load() {
		return false
	}
	if !t.running.CompareAndSwap(false, true) {
		return false
	}
	t.arm()
	return true
}

// Stop disarms the Ticker. Returns false if it was already stopped. A
// callback already running on the Loop thread is not interrupted.
func (t *Ticker) Stop() bool {
	if !t.running.CompareAndSwap(true, false) {
		return false
	}
	t.disarm()
	return true
}

// IsRunning reports the Ticker's current state.
func (t *Ticker) IsRunning() bool {
	return t.running.Load()
}

// Release disarms the Ticker and removes it from its Loop's caller-id
// registry. This is the Go stand-in for the C++ destructor that tears a
// Ticker down when its last handle drops: Go has no deterministic
// destructors, so callers that want prompt cleanup call Release
// explicitly rather than relying on GC finalization.
func (t *Ticker) Release() {
	t.release()
}

func (t *Ticker) release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	t.running.Store(false)
	t.disarm()
	t.loop.unregisterTicker(t.callerID, t)
}

func (t *Ticker) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fixedInterval || t.oneShot {
		t.timer = time.AfterFunc(t.interval, t.onFire)
		return
	}
	wt := time.NewTicker(t.interval)
	done := make(chan struct{})
	t.wallTicker = wt
	t.tickDone = done
	go t.runWallTicker(wt, done)
}

func (t *Ticker) runWallTicker(wt *time.Ticker, done chan struct{}) {
	defer wt.Stop()
	for {
		select {
		case <-wt.C:
			t.onFire()
		case <-done:
			return
		}
	}
}

func (t *Ticker) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.wallTicker != nil {
		close(t.tickDone)
		t.wallTicker = nil
		t.tickDone = nil
	}
}

// onFire runs on whichever goroutine the underlying time.Timer/time.Ticker
// fired on; it only ever posts a job to the Loop so that fireOnLoop — and
// therefore the user callback — runs on the Loop's single worker goroutine.
func (t *Ticker) onFire() {
	_ = t.loop.CallSoon(t.fireOnLoop)
}

func (t *Ticker) fireOnLoop() {
	if !t.running.Load() {
		return
	}
	if t.alive != nil && !t.alive() {
		t.selfCancel()
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("loop: ticker callback panic: %v", r)
			}
		}()
		t.fn()
	}()

	if t.oneShot {
		t.running.Store(false)
		t.disarm()
		return
	}
	if t.fixedInterval {
		t.rearmFixed()
	}
	// Best-effort mode's wallTicker keeps firing on the original cadence
	// on its own; there is nothing to re-arm here.
}

func (t *Ticker) rearmFixed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running.Load() {
		return
	}
	t.timer = time.AfterFunc(t.interval, t.onFire)
}

// selfCancel implements "weak-bound tickers check the owner before each
// invocation; failed upgrade triggers silent self-cancel" — no log, no
// further fires, the callback itself is never invoked for this fire.
func (t *Ticker) selfCancel() {
	t.running.Store(false)
	t.disarm()
}
