package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/relay/vm"
)

// ErrUnknownProgram is returned when a worker is started with a program
// name its interpreter does not know.
var ErrUnknownProgram = errors.New("worker: unknown program")

// Interpreter evaluates a worker's source in its realm. Evaluate runs on the
// worker's goroutine and must return once ctx is done.
type Interpreter interface {
	Evaluate(ctx context.Context, realm *vm.Realm, source string) error
}

// Program is a Go-implemented worker script. It typically installs an
// onmessage handler on the realm's globals.
type Program func(ctx context.Context, realm *vm.Realm) error

// Programs is an Interpreter whose source text is a program name.
type Programs map[string]Program

// Evaluate runs the named program.
func (p Programs) Evaluate(ctx context.Context, realm *vm.Realm, source string) error {
	prog, ok := p[source]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProgram, source)
	}
	if err := realm.Interrupted(); err != nil {
		return err
	}
	return prog(ctx, realm)
}

// Names returns the program names in sorted order.
func (p Programs) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Only returns the subset of p named in names. An empty list keeps
// everything.
func (p Programs) Only(names []string) (Programs, error) {
	if len(names) == 0 {
		return p, nil
	}
	out := make(Programs, len(names))
	for _, name := range names {
		prog, ok := p[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
		}
		out[name] = prog
	}
	return out, nil
}
