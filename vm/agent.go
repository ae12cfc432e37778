package vm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/benbjohnson/clock"
	"github.com/petermattis/goid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("relay.vm")

// Job is a deferred zero-argument callable, typically a promise reaction.
// A returned error is an exception escaping the job.
type Job func() error

// Waker breaks an agent's goroutine out of whatever blocking wait its host
// loop is in.
type Waker interface {
	Wake()
}

// Terminator is anything an agent can cascade termination to.
type Terminator interface {
	Terminate()
}

// RejectionTracker observes promise rejections that no handler has seen.
type RejectionTracker interface {
	// Rejected is called when a promise is rejected with no handlers attached.
	Rejected(p *Promise)
	// Handled is called when a handler is attached to an already rejected
	// promise that was reported through Rejected.
	Handled(p *Promise)
	// ReactionJobsProcessed is called after every successful drain.
	ReactionJobsProcessed()
}

var nextSignifier atomic.Uint64

type queuedJob struct {
	run Job
	ctx context.Context
}

// ---------------------------------------------------------------------------
// Agent: one logical thread of script execution
// ---------------------------------------------------------------------------

// Agent is one logical execution context with its own microtask queue and
// async waiter queue. The microtask queue belongs to the goroutine that
// drains the agent; the waiter queue accepts records from any goroutine.
type Agent struct {
	signifier uint64
	canBlock  bool

	// owner-only state
	jobs         []queuedJob
	interopDepth int
	propagation  context.Context
	kept         []Value
	cleanup      []weak.Pointer[FinalizationRegistry]
	tracker      RejectionTracker

	waitersMu sync.Mutex
	waiters   []*WaiterRecord

	childrenMu sync.Mutex
	children   []Terminator

	waker         Waker
	signal        chan struct{}
	terminated    chan struct{}
	terminateOnce sync.Once
	owner         atomic.Int64
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithCanBlock sets whether the agent may perform blocking waits.
func WithCanBlock(canBlock bool) AgentOption {
	return func(a *Agent) { a.canBlock = canBlock }
}

// WithWaker installs the host loop's wake-up mechanism.
func WithWaker(w Waker) AgentOption {
	return func(a *Agent) { a.waker = w }
}

// WithRejectionTracker installs a rejection tracker.
func WithRejectionTracker(t RejectionTracker) AgentOption {
	return func(a *Agent) { a.tracker = t }
}

// NewAgent creates an agent with a fresh, never reused signifier.
func NewAgent(opts ...AgentOption) *Agent {
	a := &Agent{
		signifier:   nextSignifier.Add(1),
		canBlock:    true,
		propagation: context.Background(),
		signal:      make(chan struct{}, 1),
		terminated:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Signifier returns the process-wide unique agent id.
func (a *Agent) Signifier() uint64 { return a.signifier }

// CanBlock reports whether the agent may block in a wait.
func (a *Agent) CanBlock() bool { return a.canBlock }

// Bind makes the calling goroutine the agent's owner. Draining from any
// other goroutine afterwards panics.
func (a *Agent) Bind() {
	a.owner.Store(goid.Get())
}

func (a *Agent) assertOwner() {
	g := goid.Get()
	if a.owner.CompareAndSwap(0, g) {
		return
	}
	if a.owner.Load() != g {
		panic(ErrWrongGoroutine)
	}
}

// SetRejectionTracker replaces the rejection tracker; nil removes it.
func (a *Agent) SetRejectionTracker(t RejectionTracker) { a.tracker = t }

// PropagationContext returns the context async continuations inherit.
func (a *Agent) PropagationContext() context.Context { return a.propagation }

// SetPropagationContext replaces the context captured by jobs enqueued from
// now on.
func (a *Agent) SetPropagationContext(ctx context.Context) { a.propagation = ctx }

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

// EnqueuePromiseJob appends job to the microtask queue. The propagation
// context current at enqueue time is restored while the job runs.
// Owner goroutine only; never blocks.
func (a *Agent) EnqueuePromiseJob(job Job) {
	a.jobs = append(a.jobs, queuedJob{run: job, ctx: a.propagation})
}

// PendingJobs returns the number of queued microtasks.
func (a *Agent) PendingJobs() int { return len(a.jobs) }

// PendingWaiters returns the number of queued async waiter records.
func (a *Agent) PendingWaiters() int {
	a.waitersMu.Lock()
	defer a.waitersMu.Unlock()
	return len(a.waiters)
}

// EnqueueWaitAsyncJob queues an async waiter record for resolution on this
// agent's goroutine. Safe for concurrent producers. If the record is
// already ready the agent is woken at once. The caller must not hold the
// record's critical section.
func (a *Agent) EnqueueWaitAsyncJob(rec *WaiterRecord) {
	a.waitersMu.Lock()
	a.waiters = append(a.waiters, rec)
	a.waitersMu.Unlock()

	rec.entry.EnterCriticalSection()
	ready := rec.IsReadyToResolve()
	rec.entry.LeaveCriticalSection()
	if ready {
		a.Wake()
	}
}

// ProcessAllPromiseJobs drains the agent. Ready async waiters are resolved
// before each microtask is popped; when only unresolved waiters are left
// the goroutine parks until a notify, a deadline or termination. On error
// both queues are cleared so nothing is replayed, and the error is
// returned. With processWeakRefs the keep-alive set is cleared and live
// finalization registries run their cleanup callbacks.
func (a *Agent) ProcessAllPromiseJobs(processWeakRefs bool) (err error) {
	a.assertOwner()
	defer func() {
		if r := recover(); r != nil {
			a.clearQueues()
			panic(r)
		}
	}()
	for {
		if err := a.drain(); err != nil {
			a.clearQueues()
			return err
		}
		if !processWeakRefs {
			break
		}
		a.ClearKeptObjects()
		if err := a.cleanupFinalizationRegistries(); err != nil {
			a.clearQueues()
			return err
		}
		if len(a.jobs) == 0 {
			break
		}
	}
	if a.tracker != nil {
		a.tracker.ReactionJobsProcessed()
	}
	return nil
}

func (a *Agent) drain() error {
	for {
		if a.isTerminated() {
			return ErrAgentTerminated
		}
		if err := a.resolveReadyWaiters(); err != nil {
			return err
		}
		if len(a.jobs) > 0 {
			job := a.jobs[0]
			a.jobs[0] = queuedJob{}
			a.jobs = a.jobs[1:]
			if err := a.runJob(job); err != nil {
				return err
			}
			continue
		}
		if a.PendingWaiters() == 0 {
			return nil
		}
		if err := a.park(); err != nil {
			return err
		}
	}
}

func (a *Agent) runJob(job queuedJob) error {
	prev := a.propagation
	a.propagation = job.ctx
	defer func() { a.propagation = prev }()
	return job.run()
}

// resolveReadyWaiters removes every ready record from its entry and resolves
// its capability with the wait result.
func (a *Agent) resolveReadyWaiters() error {
	a.waitersMu.Lock()
	var ready []*WaiterRecord
	pending := a.waiters[:0]
	for _, rec := range a.waiters {
		e := rec.entry
		e.EnterCriticalSection()
		if !rec.removed && rec.IsReadyToResolve() {
			e.Resolve(rec)
			ready = append(ready, rec)
		} else if !rec.removed {
			pending = append(pending, rec)
		}
		e.LeaveCriticalSection()
	}
	for i := len(pending); i < len(a.waiters); i++ {
		a.waiters[i] = nil
	}
	a.waiters = pending
	a.waitersMu.Unlock()

	for _, rec := range ready {
		if rec.capability == nil {
			continue
		}
		if err := rec.capability.Resolve(String(rec.result.String())); err != nil {
			return err
		}
	}
	return nil
}

// park waits for a wake signal, the earliest pending deadline or
// termination, whichever comes first.
func (a *Agent) park() error {
	var deadline <-chan time.Time
	if c, wait, ok := a.nextDeadline(); ok {
		if wait <= 0 {
			return nil
		}
		t := c.Timer(wait)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-a.signal:
	case <-deadline:
	case <-a.terminated:
		return ErrAgentTerminated
	}
	return nil
}

// nextDeadline returns the shortest remaining timeout among queued records,
// measured on the clock of the list that owns it.
func (a *Agent) nextDeadline() (clock.Clock, time.Duration, bool) {
	a.waitersMu.Lock()
	defer a.waitersMu.Unlock()
	var (
		c     clock.Clock
		next  time.Duration
		found bool
	)
	for _, rec := range a.waiters {
		d, ok := rec.Deadline()
		if !ok {
			continue
		}
		lc := rec.entry.list.clock
		if wait := lc.Until(d); !found || wait < next {
			c, next, found = lc, wait, true
		}
	}
	return c, next, found
}

// clearQueues drops all queued work, unlinking async waiters from their
// entries so stale records cannot be resolved later.
func (a *Agent) clearQueues() {
	if n := len(a.jobs); n > 0 {
		log.Debugf("agent %d: discarding %d queued jobs", a.signifier, n)
	}
	a.jobs = nil
	a.waitersMu.Lock()
	waiters := a.waiters
	a.waiters = nil
	a.waitersMu.Unlock()
	for _, rec := range waiters {
		rec.entry.EnterCriticalSection()
		rec.entry.remove(rec)
		rec.entry.LeaveCriticalSection()
	}
}

// ---------------------------------------------------------------------------
// Interop boundary
// ---------------------------------------------------------------------------

// InteropEnter records entry into script code from outside it.
func (a *Agent) InteropEnter() {
	a.interopDepth++
}

// InteropExit records the matching exit. It returns true when the script
// stack is empty again, the point at which callers drain microtasks.
func (a *Agent) InteropExit() bool {
	if a.interopDepth == 0 {
		panic(fmt.Sprintf("vm: agent %d: interop exit without enter", a.signifier))
	}
	a.interopDepth--
	return a.interopDepth == 0
}

// ---------------------------------------------------------------------------
// Wake-up and termination
// ---------------------------------------------------------------------------

// Wake interrupts the agent's goroutine if it is parked draining or blocked
// in its host loop.
func (a *Agent) Wake() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
	if a.waker != nil {
		a.waker.Wake()
	}
}

// AddChild registers an agent-owned resource, typically a worker spawned by
// this agent, for cascading termination.
func (a *Agent) AddChild(child Terminator) {
	a.childrenMu.Lock()
	defer a.childrenMu.Unlock()
	a.children = append(a.children, child)
}

// Children returns the registered children.
func (a *Agent) Children() []Terminator {
	a.childrenMu.Lock()
	defer a.childrenMu.Unlock()
	return append([]Terminator(nil), a.children...)
}

// Terminate terminates every child, then the agent itself. A drain in
// progress returns ErrAgentTerminated at its next check.
func (a *Agent) Terminate() {
	a.terminateOnce.Do(func() {
		for _, child := range a.Children() {
			child.Terminate()
		}
		close(a.terminated)
		log.Debugf("agent %d: terminated", a.signifier)
	})
}

// Terminated returns a channel closed once the agent is terminated.
func (a *Agent) Terminated() <-chan struct{} { return a.terminated }

func (a *Agent) isTerminated() bool {
	select {
	case <-a.terminated:
		return true
	default:
		return false
	}
}
