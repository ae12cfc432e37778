// Relay CLI - runs a builtin worker program and exchanges messages with it
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/relay/manifest"
	"github.com/chazu/relay/vm"
	"github.com/chazu/relay/worker"
)

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity (overrides relay.toml)")
	dir := flag.String("C", ".", "Directory to search for relay.toml")
	wire := flag.Bool("wire", false, "Send messages through the CBOR wire form")
	list := flag.Bool("list", false, "List available programs and exit")
	timeout := flag.Duration("timeout", 10*time.Second, "Time to wait for each reply")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: relay [options] program [json-message...]\n\n")
		fmt.Fprintf(os.Stderr, "Starts a worker running a builtin program, posts each JSON message to it\n")
		fmt.Fprintf(os.Stderr, "and prints the replies as JSON lines.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  relay echo '{\"a\": [1, 2]}'   # Echo a message back\n")
		fmt.Fprintf(os.Stderr, "  relay counter 1 2 3           # Running total: 1, 3, 6\n")
		fmt.Fprintf(os.Stderr, "  relay wait                    # Async wait on shared memory, notified by the host\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}

	level := m.Verbosity()
	if *verbosity >= 0 {
		level = *verbosity
	}
	var logPath *string
	if p := m.LogPath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(level, logPath)

	programs, err := worker.Builtins().Only(m.Worker.Programs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *list {
		fmt.Println(strings.Join(programs.Names(), "\n"))
		os.Exit(0)
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	host := vm.NewAgent(vm.WithCanBlock(m.CanBlock()))
	host.Bind()

	w := worker.New(host, programs,
		worker.WithWire(*wire || m.Worker.Wire),
		worker.WithCanBlock(m.CanBlock()),
		worker.WithReporter(func(err error) {
			fmt.Fprintf(os.Stderr, "Worker error: %v\n", err)
		}),
	)
	program := flag.Arg(0)
	if err := w.Start(program); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var code int
	if program == "wait" {
		code = runWait(ctx, w, *timeout)
	} else {
		code = runMessages(ctx, w, flag.Args()[1:], *timeout)
	}
	host.Terminate()
	os.Exit(code)
}

func runMessages(ctx context.Context, w *worker.Worker, args []string, timeout time.Duration) int {
	for _, arg := range args {
		var decoded any
		if err := json.Unmarshal([]byte(arg), &decoded); err != nil {
			fmt.Fprintf(os.Stderr, "Error: message %q is not JSON: %v\n", arg, err)
			return 1
		}
		v, err := vm.FromGo(decoded)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := w.PostInMessage(v, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if code := printReply(ctx, w, timeout); code != 0 {
			return code
		}
	}
	return 0
}

// runWait hands the worker a shared cell, then notifies it once its waiter
// is registered.
func runWait(ctx context.Context, w *worker.Worker, timeout time.Duration) int {
	sab := vm.NewSharedArrayBuffer(4)
	cell, err := vm.NewTypedArray(vm.Int32Elements, sab, 0, vm.LengthAuto)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := w.PostInMessage(cell, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	deadline := time.Now().Add(timeout)
	for {
		n, err := vm.AtomicsNotify(cell, 0, 1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "Error: worker never waited\n")
			return 1
		}
		time.Sleep(time.Millisecond)
	}
	return printReply(ctx, w, timeout)
}

func printReply(ctx context.Context, w *worker.Worker, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := w.GetOutMessage(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if reply == vm.Undefined {
		fmt.Fprintf(os.Stderr, "Worker finished without replying\n")
		return 1
	}
	out, err := json.Marshal(vm.ToGo(reply))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
