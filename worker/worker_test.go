package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/relay/vm"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startWorker(t *testing.T, parent *vm.Agent, program string, opts ...Option) *Worker {
	t.Helper()
	w := New(parent, Builtins(), opts...)
	if err := w.Start(program); err != nil {
		t.Fatalf("Start(%q): %v", program, err)
	}
	t.Cleanup(w.Terminate)
	return w
}

func TestWorker_Echo(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo")

	in := vm.NewObject()
	in.Set("greeting", vm.String("hello"))
	if err := w.PostInMessage(in, nil); err != nil {
		t.Fatalf("PostInMessage: %v", err)
	}

	out, err := w.GetOutMessage(testContext(t))
	if err != nil {
		t.Fatalf("GetOutMessage: %v", err)
	}
	obj, ok := out.(*vm.Object)
	if !ok {
		t.Fatalf("reply is %s", vm.TypeName(out))
	}
	if obj == in {
		t.Error("reply is the posted object itself, not a clone")
	}
	if obj.Get("greeting") != vm.String("hello") {
		t.Errorf("greeting = %s", vm.Display(obj.Get("greeting")))
	}
}

func TestWorker_CountersAreIsolated(t *testing.T) {
	parent := vm.NewAgent()
	a := startWorker(t, parent, "counter")
	b := startWorker(t, parent, "counter")
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		a.PostInMessage(vm.Int(1), nil)
	}
	b.PostInMessage(vm.Int(10), nil)

	var last vm.Value
	for i := 0; i < 3; i++ {
		v, err := a.GetOutMessage(ctx)
		if err != nil {
			t.Fatalf("a.GetOutMessage: %v", err)
		}
		last = v
	}
	if last != vm.Int(3) {
		t.Errorf("a count = %s, want 3", vm.Display(last))
	}
	v, err := b.GetOutMessage(ctx)
	if err != nil {
		t.Fatalf("b.GetOutMessage: %v", err)
	}
	if v != vm.Int(10) {
		t.Errorf("b count = %s, want 10", vm.Display(v))
	}
	if a.Agent().Signifier() == b.Agent().Signifier() {
		t.Error("workers share an agent signifier")
	}
}

func TestWorker_TerminateBeforeConsume(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo")
	w.Terminate()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish after Terminate")
	}
	if w.State() != Finished {
		t.Errorf("state = %s", w.State())
	}

	out, err := w.GetOutMessage(testContext(t))
	if err != nil {
		t.Fatalf("GetOutMessage: %v", err)
	}
	if out != vm.Undefined {
		t.Errorf("GetOutMessage = %s, want undefined", vm.Display(out))
	}
	if err := w.PostInMessage(vm.Int(1), nil); !errors.Is(err, ErrTerminated) {
		t.Errorf("PostInMessage after Terminate: %v", err)
	}
}

func TestWorker_TerminateUnstarted(t *testing.T) {
	w := New(vm.NewAgent(), Builtins())
	w.Terminate()
	select {
	case <-w.Done():
	default:
		t.Fatal("unstarted worker not finished by Terminate")
	}
	if err := w.Start("echo"); !errors.Is(err, ErrTerminated) {
		t.Errorf("Start after Terminate: %v", err)
	}
}

func TestWorker_ParentTerminationCascades(t *testing.T) {
	parent := vm.NewAgent()
	w := startWorker(t, parent, "echo")
	parent.Terminate()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child worker survived parent termination")
	}
	select {
	case <-w.Agent().Terminated():
	default:
		t.Error("child agent not terminated")
	}
}

func TestWorker_DoubleStart(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo")
	if err := w.Start("echo"); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: %v", err)
	}
}

func TestWorker_UnknownProgramIsReported(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	w := New(vm.NewAgent(), Builtins(), WithReporter(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	if err := w.Start("nope"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-w.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], ErrUnknownProgram) {
		t.Errorf("reported = %v", reported)
	}
}

func TestWorker_HandlerErrorEndsLoop(t *testing.T) {
	errc := make(chan error, 4)
	w := startWorker(t, vm.NewAgent(), "fail", WithReporter(func(err error) { errc <- err }))

	if err := w.PostInMessage(vm.String("boom"), nil); err != nil {
		t.Fatalf("PostInMessage: %v", err)
	}
	select {
	case err := <-errc:
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("reported %v, want mention of boom", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler error not reported")
	}
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept running after an uncaught error")
	}
	v, err := w.GetOutMessage(testContext(t))
	if err != nil || v != vm.Undefined {
		t.Errorf("GetOutMessage = %v, %v; want undefined", v, err)
	}
}

func TestWorker_WakeIsNoOp(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo")
	w.Wake()
	w.Wake()
	if err := w.PostInMessage(vm.Int(7), nil); err != nil {
		t.Fatalf("PostInMessage: %v", err)
	}
	v, err := w.GetOutMessage(testContext(t))
	if err != nil || v != vm.Int(7) {
		t.Errorf("GetOutMessage = %v, %v", v, err)
	}
}

func TestWorker_NoHandlerFinishes(t *testing.T) {
	interp := Programs{
		"once": func(_ context.Context, realm *vm.Realm) error {
			post := realm.Globals().Get("postMessage")
			_, err := vm.Call(post, vm.Undefined, vm.String("bye"))
			return err
		},
	}
	w := New(vm.NewAgent(), interp)
	if err := w.Start("once"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-w.Done()

	ctx := testContext(t)
	v, err := w.GetOutMessage(ctx)
	if err != nil || v != vm.String("bye") {
		t.Fatalf("GetOutMessage = %v, %v", v, err)
	}
	v, err = w.GetOutMessage(ctx)
	if err != nil || v != vm.Undefined {
		t.Errorf("drained GetOutMessage = %v, %v", v, err)
	}
}

func TestWorker_AsyncWaitNotifiedByHost(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "wait")

	sab := vm.NewSharedArrayBuffer(8)
	ta, err := vm.NewTypedArray(vm.Int32Elements, sab, 0, vm.LengthAuto)
	if err != nil {
		t.Fatalf("NewTypedArray: %v", err)
	}
	if err := w.PostInMessage(ta, nil); err != nil {
		t.Fatalf("PostInMessage: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := vm.AtomicsNotify(ta, 0, 1)
		if err != nil {
			t.Fatalf("AtomicsNotify: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never registered its waiter")
		}
		time.Sleep(time.Millisecond)
	}

	v, err := w.GetOutMessage(testContext(t))
	if err != nil {
		t.Fatalf("GetOutMessage: %v", err)
	}
	if v != vm.String("ok") {
		t.Errorf("wait result = %s, want ok", vm.Display(v))
	}
}

func TestWorker_WireTransfersBuffer(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo", WithWire(true))

	buf := vm.NewArrayBufferFrom([]byte("payload"))
	if err := w.PostInMessage(buf, []vm.Value{buf}); err != nil {
		t.Fatalf("PostInMessage: %v", err)
	}
	if !buf.Detached() {
		t.Error("transferred buffer still attached")
	}

	v, err := w.GetOutMessage(testContext(t))
	if err != nil {
		t.Fatalf("GetOutMessage: %v", err)
	}
	got, ok := v.(*vm.ArrayBuffer)
	if !ok {
		t.Fatalf("reply is %s", vm.TypeName(v))
	}
	if string(got.Bytes()) != "payload" {
		t.Errorf("payload = %q", got.Bytes())
	}
}

func TestWorker_OutOfBoundsViewRejectedAtPost(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo")

	buf, err := vm.NewResizableArrayBuffer(8, 16)
	if err != nil {
		t.Fatalf("NewResizableArrayBuffer: %v", err)
	}
	view, err := vm.NewTypedArray(vm.Int32Elements, buf, 0, 2)
	if err != nil {
		t.Fatalf("NewTypedArray: %v", err)
	}
	if err := buf.Resize(4); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := w.PostInMessage(view, nil); err == nil {
		t.Fatal("out-of-bounds view posted")
	}

	if err := w.PostInMessage(vm.String("still here"), nil); err != nil {
		t.Fatalf("PostInMessage: %v", err)
	}
	v, err := w.GetOutMessage(testContext(t))
	if err != nil || v != vm.String("still here") {
		t.Errorf("GetOutMessage = %v, %v", v, err)
	}
	if w.State() != Running {
		t.Errorf("state = %s, want running", w.State())
	}
}

func TestWorker_UncloneableMessageFails(t *testing.T) {
	w := startWorker(t, vm.NewAgent(), "echo")
	fn := vm.NewFunction("f", func(vm.Value, []vm.Value) (vm.Value, error) { return nil, nil })
	if err := w.PostInMessage(fn, nil); err == nil {
		t.Error("posting a function succeeded")
	}
}
