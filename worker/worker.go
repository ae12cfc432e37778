// Package worker runs scripts on their own agent and goroutine and exchanges
// structured-clone messages with them through a pair of mailboxes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/relay/vm"
	"github.com/chazu/relay/vm/clone"
)

var log = commonlog.GetLogger("relay.worker")

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("worker: already started")
	// ErrTerminated is returned when starting or posting to a finished worker.
	ErrTerminated = errors.New("worker: terminated")
)

// State is the lifecycle stage of a worker.
type State int32

const (
	Created State = iota
	Started
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// message is one mailbox entry. Exactly one of env, wire and wake is set.
type message struct {
	env  *clone.Envelope
	wire []byte
	wake bool
}

func (m message) envelope() (*clone.Envelope, error) {
	if m.wire != nil {
		return clone.UnmarshalEnvelope(m.wire)
	}
	return m.env, nil
}

// Worker is a script running on a dedicated agent. The host posts messages
// in with PostInMessage and reads replies with GetOutMessage.
type Worker struct {
	id     string
	parent *vm.Agent
	agent  *vm.Agent
	realm  *vm.Realm
	interp Interpreter

	inbound  *Mailbox[message]
	outbound *Mailbox[message]

	state         atomic.Int32
	done          chan struct{}
	finishOnce    sync.Once
	terminateOnce sync.Once

	reporter func(error)
	wire     bool
	canBlock bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithReporter receives uncaught script errors. The default logs them.
func WithReporter(fn func(error)) Option {
	return func(w *Worker) { w.reporter = fn }
}

// WithWire encodes portable messages to CBOR in both directions, as they
// would be when crossing a process boundary.
func WithWire(wire bool) Option {
	return func(w *Worker) { w.wire = wire }
}

// WithCanBlock sets whether the worker's agent may block in Atomics.wait.
func WithCanBlock(canBlock bool) Option {
	return func(w *Worker) { w.canBlock = canBlock }
}

type waker struct{ w *Worker }

func (k waker) Wake() {
	_ = k.w.inbound.Put(message{wake: true})
}

// New creates a worker owned by parent. Nothing runs until Start.
func New(parent *vm.Agent, interp Interpreter, opts ...Option) *Worker {
	w := &Worker{
		id:       uuid.NewString(),
		parent:   parent,
		interp:   interp,
		inbound:  NewMailbox[message](),
		outbound: NewMailbox[message](),
		done:     make(chan struct{}),
		canBlock: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.reporter == nil {
		w.reporter = func(err error) {
			log.Errorf("worker %s: %v", w.id, err)
		}
	}
	w.agent = vm.NewAgent(vm.WithWaker(waker{w}), vm.WithCanBlock(w.canBlock))
	w.realm = vm.NewRealm(context.Background(), w.agent)
	return w
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// State returns the current lifecycle stage.
func (w *Worker) State() State { return State(w.state.Load()) }

// Done is closed once the worker has finished.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Agent returns the worker's own agent.
func (w *Worker) Agent() *vm.Agent { return w.agent }

// Realm returns the worker's realm.
func (w *Worker) Realm() *vm.Realm { return w.realm }

// Start evaluates source on a new goroutine and then serves inbound
// messages until the worker is terminated, has no message handler, or a
// handler throws.
func (w *Worker) Start(source string) error {
	if !w.state.CompareAndSwap(int32(Created), int32(Started)) {
		if w.State() == Finished {
			return ErrTerminated
		}
		return ErrAlreadyStarted
	}
	w.realm.DefineFunction("postMessage", func(_ vm.Value, args []vm.Value) (vm.Value, error) {
		var transfer []vm.Value
		if list, ok := vm.Arg(args, 1).(*vm.Array); ok {
			for i := uint64(0); i < list.Length(); i++ {
				transfer = append(transfer, list.Index(i))
			}
		}
		return vm.Undefined, w.PostOutMessage(vm.Arg(args, 0), transfer...)
	})
	if w.parent != nil {
		w.parent.AddChild(w)
	}
	log.Debugf("worker %s: starting", w.id)
	go w.run(source)
	return nil
}

func (w *Worker) run(source string) {
	defer w.finish()
	defer func() {
		if r := recover(); r != nil {
			w.reporter(fmt.Errorf("worker panic: %v", r))
		}
	}()

	w.agent.Bind()
	if !w.state.CompareAndSwap(int32(Started), int32(Running)) {
		return
	}
	ctx := w.realm.Context()

	if err := w.interp.Evaluate(ctx, w.realm, source); err != nil {
		w.handle(err)
		return
	}
	if err := w.agent.ProcessAllPromiseJobs(true); err != nil {
		w.handle(err)
		return
	}
	if _, ok := w.realm.MessageHandler(); !ok {
		log.Debugf("worker %s: no message handler, finishing", w.id)
		return
	}

	for {
		msg, err := w.inbound.Take(ctx)
		if err != nil {
			w.handle(err)
			return
		}
		if msg.wake {
			continue
		}
		if err := w.dispatch(msg); err != nil {
			w.handle(err)
			return
		}
	}
}

func (w *Worker) dispatch(msg message) error {
	env, err := msg.envelope()
	if err != nil {
		return err
	}
	data, err := env.Deserialize()
	if err != nil {
		return err
	}
	handler, ok := w.realm.MessageHandler()
	if !ok {
		return nil
	}
	event := vm.NewObject()
	event.Set("data", data)
	_, err = w.realm.CallFromHost(handler, vm.Undefined, data, event)
	return err
}

func (w *Worker) handle(err error) {
	if vm.IsInterrupt(err) || errors.Is(err, ErrMailboxClosed) {
		log.Debugf("worker %s: stopped: %v", w.id, err)
		return
	}
	w.reporter(err)
}

func (w *Worker) finish() {
	w.finishOnce.Do(func() {
		w.state.Store(int32(Finished))
		w.outbound.Close()
		close(w.done)
		log.Debugf("worker %s: finished", w.id)
	})
}

// Wake unparks the worker's agent and pokes its inbound loop.
func (w *Worker) Wake() { w.agent.Wake() }

func (w *Worker) encode(v vm.Value, transfer []vm.Value) (message, error) {
	env, err := clone.Serialize(v, transfer)
	if err != nil {
		return message{}, err
	}
	if w.wire && env.Portable() {
		data, err := clone.MarshalEnvelope(env)
		if err != nil {
			return message{}, err
		}
		return message{wire: data}, nil
	}
	return message{env: env}, nil
}

// PostInMessage clones v into the worker's inbound mailbox. Buffers listed
// in transfer are moved and detached on the caller's side.
func (w *Worker) PostInMessage(v vm.Value, transfer []vm.Value) error {
	if w.State() == Finished {
		return ErrTerminated
	}
	msg, err := w.encode(v, transfer)
	if err != nil {
		return err
	}
	if err := w.inbound.Put(msg); err != nil {
		return ErrTerminated
	}
	return nil
}

// PostOutMessage clones v into the worker's outbound mailbox. Scripts reach
// it through the postMessage global.
func (w *Worker) PostOutMessage(v vm.Value, transfer ...vm.Value) error {
	msg, err := w.encode(v, transfer)
	if err != nil {
		return err
	}
	return w.outbound.Put(msg)
}

// GetOutMessage returns the next outbound message, blocking until one is
// posted. Once the worker has finished and its mailbox is empty it returns
// Undefined.
func (w *Worker) GetOutMessage(ctx context.Context) (vm.Value, error) {
	if w.State() == Finished && w.outbound.Len() == 0 {
		return vm.Undefined, nil
	}
	msg, err := w.outbound.Take(ctx)
	if errors.Is(err, ErrMailboxClosed) {
		return vm.Undefined, nil
	}
	if err != nil {
		return nil, err
	}
	env, err := msg.envelope()
	if err != nil {
		return nil, err
	}
	return env.Deserialize()
}

// Terminate stops the worker and everything it spawned. The worker's
// goroutine exits at its next interrupt check.
func (w *Worker) Terminate() {
	w.terminateOnce.Do(func() {
		log.Debugf("worker %s: terminating", w.id)
		w.agent.Terminate()
		if State(w.state.Swap(int32(Finished))) == Created {
			w.finish()
		}
		w.realm.Close()
		w.inbound.Close()
	})
}
