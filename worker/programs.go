package worker

import (
	"context"

	"github.com/chazu/relay/vm"
)

// Builtins returns the programs shipped with relay:
//
//	echo     posts every message straight back
//	counter  posts a running count of the messages it has seen
//	wait     expects a shared Int32Array, waits asynchronously on element 0
//	         and posts the wait result
//	fail     throws on every message
func Builtins() Programs {
	return Programs{
		"echo":    echoProgram,
		"counter": counterProgram,
		"wait":    waitProgram,
		"fail":    failProgram,
	}
}

func echoProgram(_ context.Context, realm *vm.Realm) error {
	post := realm.Globals().Get("postMessage")
	realm.DefineFunction("onmessage", func(_ vm.Value, args []vm.Value) (vm.Value, error) {
		return vm.Call(post, vm.Undefined, vm.Arg(args, 0))
	})
	return nil
}

func counterProgram(_ context.Context, realm *vm.Realm) error {
	post := realm.Globals().Get("postMessage")
	count := 0
	realm.DefineFunction("onmessage", func(_ vm.Value, args []vm.Value) (vm.Value, error) {
		step := 1
		if n, ok := vm.Arg(args, 0).(vm.Int); ok {
			step = int(n)
		}
		count += step
		return vm.Call(post, vm.Undefined, vm.Int(count))
	})
	return nil
}

func waitProgram(_ context.Context, realm *vm.Realm) error {
	post := realm.Globals().Get("postMessage")
	realm.DefineFunction("onmessage", func(_ vm.Value, args []vm.Value) (vm.Value, error) {
		ta, ok := vm.Arg(args, 0).(*vm.TypedArray)
		if !ok {
			return nil, vm.ThrowError(vm.TypeError, "wait expects an Int32Array, got %s", vm.TypeName(vm.Arg(args, 0)))
		}
		p, err := vm.AtomicsWaitAsync(realm.Agent(), ta, 0, 0, vm.Forever)
		if err != nil {
			return nil, err
		}
		p.Then(func(result vm.Value) (vm.Value, error) {
			return vm.Call(post, vm.Undefined, result)
		}, nil)
		return p, nil
	})
	return nil
}

func failProgram(_ context.Context, realm *vm.Realm) error {
	realm.DefineFunction("onmessage", func(_ vm.Value, args []vm.Value) (vm.Value, error) {
		return nil, vm.ThrowError(vm.PlainError, "fail: %s", vm.Display(vm.Arg(args, 0)))
	})
	return nil
}
