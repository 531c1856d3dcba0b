// Package loop implements the single-threaded cooperative event loop that
// every other package in this module is built on: a worker goroutine that
// executes every callback (jobs, timers) one at a time, fed from any
// goroutine through a mutex-guarded FIFO queue.
package loop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"
)

// CallerID tags a Ticker with the Network (or other owner) that created it,
// so that owner's teardown can cancel exactly its own tickers without
// disturbing siblings sharing the same Loop. CallerID 0 is reserved for
// tickers created directly against a Loop with no owning Network.
type CallerID uint16

// job is a unit of work submitted to the Loop. done is non-nil for
// CallGet submissions that need to signal completion, and panicV then
// points at the caller's slot for carrying a panic value back to it.
type job struct {
	fn     func()
	done   chan struct{}
	panicV *any
}

// Loop owns the worker goroutine, the cross-thread job queue and the
// registry of live Tickers. Exactly one goroutine — the worker started by
// New — ever executes a callback.
type Loop struct {
	// mu guards jobs, the cross-thread job queue callers from any goroutine
	// touch. Below it, the flags are atomics and the Ticker registry, which
	// is also reached from any goroutine, has its own tickersMu.
	mu   sync.Mutex
	jobs *queue.Queue
	// pad separates the hot cross-thread-contended queue above from the
	// worker-only bookkeeping below, mirroring the cache-line padding the
	// teacher's scheduler reaches for around its own hot timer fields.
	_ cpu.CacheLinePad

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	workerID      atomic.Uint64
	shuttingDown  atomic.Bool
	immediateStop atomic.Bool
	shutDown      atomic.Bool
	shutdownOnce  sync.Once

	tickersMu sync.Mutex
	tickers   map[CallerID]map[*Ticker]struct{}
}

// New starts a Loop with its own worker goroutine, mirroring the teacher's
// EventLoop which begins running as soon as it's constructed rather than
// requiring a separate Start call.
func New() *Loop {
	l := &Loop{
		jobs:    queue.New(),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		tickers: make(map[CallerID]map[*Ticker]struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	l.workerID.Store(currentGoroutineID())
	defer close(l.done)

	for {
		for {
			if l.immediateStop.Load() {
				l.drainOnShutdown()
				return
			}
			l.mu.Lock()
			if l.jobs.Length() == 0 {
				l.mu.Unlock()
				break
			}
			j := l.jobs.Remove().(job)
			l.mu.Unlock()
			l.runJob(j)
		}

		select {
		case <-l.wake:
			continue
		case <-l.quit:
			l.drainOnShutdown()
			return
		}
	}
}

func (l *Loop) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			if j.panicV != nil {
				*j.panicV = r
			}
			// A callback panic is absorbed here so one bad callback cannot
			// kill the worker; see spec's "Callback exception" error row.
		}
		if j.done != nil {
			close(j.done)
		}
	}()
	j.fn()
}

// drainOnShutdown discards any jobs still queued at the moment quit was
// observed, without running them; a discarded CallGet job has its done
// channel closed so the waiting caller is released. Graceful shutdown
// already ran everything before signaling quit, so in practice this
// empties the backlog an immediate shutdown abandons.
func (l *Loop) drainOnShutdown() {
	for {
		l.mu.Lock()
		if l.jobs.Length() == 0 {
			l.mu.Unlock()
			return
		}
		j := l.jobs.Remove().(job)
		l.mu.Unlock()
		if j.done != nil {
			close(j.done)
		}
	}
}

func (l *Loop) enqueue(j job) error {
	if l.shuttingDown.Load() {
		return ErrShutdown
	}
	l.mu.Lock()
	l.jobs.Add(j)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// CallSoon enqueues f for execution on the Loop thread. It never blocks and
// never runs f inline, even when called from the Loop thread itself.
func (l *Loop) CallSoon(f func()) error {
	return l.enqueue(job{fn: f})
}

// Call runs f inline if already on the Loop thread, otherwise forwards to
// CallSoon. This collapses the "am I already on the loop" decision that
// call sites would otherwise have to make themselves.
func (l *Loop) Call(f func()) error {
	if l.InEventLoop() {
		f()
		return nil
	}
	return l.CallSoon(f)
}

// CallGet is a synchronous RPC into the Loop: if already on-thread it runs
// f inline; otherwise it submits f via the job queue and blocks until it
// completes. Calling CallGet from the Loop thread while f would itself
// block on something only the Loop thread can satisfy is a programming
// error the caller must avoid; the only failure CallGet itself reports is
// ErrShutdown.
func CallGet[T any](l *Loop, f func() T) (T, error) {
	if l.InEventLoop() {
		return f(), nil
	}
	var result T
	var panicV any
	done := make(chan struct{})
	j := job{
		fn:     func() { result = f() },
		done:   done,
		panicV: &panicV,
	}
	if err := l.enqueue(j); err != nil {
		var zero T
		return zero, err
	}
	<-done
	if panicV != nil {
		panic(panicV)
	}
	return result, nil
}

// CallLater schedules a one-shot invocation of f at now+delay. The delay
// is always measured from the moment CallLater is called, never from the
// moment the Loop gets around to arming the underlying timer, per spec's
// rebasing requirement for off-thread submission.
func (l *Loop) CallLater(delay time.Duration, f func()) error {
	if l.shuttingDown.Load() {
		return ErrShutdown
	}
	if delay <= 0 {
		return l.CallSoon(f)
	}
	time.AfterFunc(delay, func() {
		_ = l.CallSoon(f)
	})
	return nil
}

// CallEvery creates a periodic Ticker owned directly by the Loop (caller-id
// 0), started immediately if opts says so.
func (l *Loop) CallEvery(interval time.Duration, f func(), opts ...TickerOption) (*Ticker, error) {
	return l.callEvery(0, interval, f, nil, opts...)
}

// CallEveryForCaller is CallEvery tagged with an explicit caller-id, used
// by Network to scope tickers it creates to its own id.
func (l *Loop) CallEveryForCaller(id CallerID, interval time.Duration, f func(), opts ...TickerOption) (*Ticker, error) {
	return l.callEvery(id, interval, f, nil, opts...)
}

// CallEveryWeak creates a periodic Ticker that checks alive() immediately
// before every invocation; a failed check (alive returns false) silently
// self-cancels the ticker without invoking f for that fire.
func (l *Loop) CallEveryWeak(interval time.Duration, alive func() bool, f func(), opts ...TickerOption) (*Ticker, error) {
	return l.callEvery(0, interval, f, alive, opts...)
}

// CallEveryWeakForCaller is CallEveryWeak tagged with an explicit
// caller-id, used by Network for weak-bound tickers it creates.
func (l *Loop) CallEveryWeakForCaller(id CallerID, interval time.Duration, alive func() bool, f func(), opts ...TickerOption) (*Ticker, error) {
	return l.callEvery(id, interval, f, alive, opts...)
}

// TickerCount returns the number of live Tickers currently tagged with id.
// Used by Network.Stats for introspection.
func (l *Loop) TickerCount(id CallerID) int {
	l.tickersMu.Lock()
	defer l.tickersMu.Unlock()
	return len(l.tickers[id])
}

func (l *Loop) callEvery(id CallerID, interval time.Duration, f func(), alive func() bool, opts ...TickerOption) (*Ticker, error) {
	if l.shuttingDown.Load() {
		return nil, ErrShutdown
	}
	cfg := tickerConfig{fixedInterval: true}
	for _, o := range opts {
		o(&cfg)
	}
	t := newTicker(l, id, interval, f, alive, cfg)
	l.registerTicker(id, t)
	if cfg.startImmediately {
		t.Start()
	}
	return t, nil
}

func (l *Loop) registerTicker(id CallerID, t *Ticker) {
	l.tickersMu.Lock()
	defer l.tickersMu.Unlock()
	set, ok := l.tickers[id]
	if !ok {
		set = make(map[*Ticker]struct{})
		l.tickers[id] = set
	}
	set[t] = struct{}{}
}

func (l *Loop) unregisterTicker(id CallerID, t *Ticker) {
	l.tickersMu.Lock()
	defer l.tickersMu.Unlock()
	if set, ok := l.tickers[id]; ok {
		delete(set, t)
		if len(set) == 0 {
			delete(l.tickers, id)
		}
	}
}

// StopTickers disarms and releases every Ticker tagged with id. Used by
// Network on teardown to cancel exactly its own tickers.
func (l *Loop) StopTickers(id CallerID) {
	l.tickersMu.Lock()
	set := l.tickers[id]
	delete(l.tickers, id)
	tickers := make([]*Ticker, 0, len(set))
	for t := range set {
		tickers = append(tickers, t)
	}
	l.tickersMu.Unlock()

	for _, t := range tickers {
		t.Stop()
		t.release()
	}
}

// InEventLoop reports whether the calling goroutine is the Loop's worker
// goroutine. Go has no public goroutine-identity API (unlike
// std::this_thread::get_id()), so this parses the id out of a runtime
// stack trace header — see goid.go.
func (l *Loop) InEventLoop() bool {
	return currentGoroutineID() == l.workerID.Load()
}

// Shutdown stops the Loop's worker goroutine. Graceful shutdown (immediate
// == false) lets the worker drain every already-queued job before exiting;
// immediate shutdown breaks the loop at the next safe point (between jobs)
// without running what remains. Either way every registered Ticker is
// stopped and released once the worker goroutine has exited, and further
// submissions are rejected with ErrShutdown.
func (l *Loop) Shutdown(immediate bool) error {
	var started bool
	l.shutdownOnce.Do(func() {
		started = true
		l.shuttingDown.Store(true)
		if immediate {
			// Tell the worker to bail out of its drain loop at the next
			// safe point instead of running through the rest of the
			// backlog; it checks this flag between every two jobs.
			l.immediateStop.Store(true)
		} else {
			// Give the worker a chance to observe an already-empty queue
			// before we ask it to quit; any job enqueued concurrently with
			// this call has already been rejected by enqueue's shutdown
			// check above, so there is nothing further to wait for here.
			for {
				l.mu.Lock()
				empty := l.jobs.Length() == 0
				l.mu.Unlock()
				if empty {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
		close(l.quit)
		<-l.done

		l.tickersMu.Lock()
		all := l.tickers
		l.tickers = make(map[CallerID]map[*Ticker]struct{})
		l.tickersMu.Unlock()
		for _, set := range all {
			for t := range set {
				t.Stop()
				t.release()
			}
		}
		l.shutDown.Store(true)
	})
	if !started && !l.shutDown.Load() {
		// A second caller arrived while the first shutdown was still in
		// flight; wait for it to finish so callers observe a consistent
		// post-shutdown Loop either way.
		<-l.done
	}
	return nil
}
