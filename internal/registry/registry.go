// Package registry implements the name-addressed table of native entry
// points and the variadic-arity invocation bridge described in spec §4.C.
//
// The original system stores raw machine-code addresses and calls them
// with a chosen arity via eleven arity-specific transmutes (spec §9,
// Design Note "the unsafe core made abstract", option b). This package
// takes option (a) instead, the idiomatic-Go reading of the same note:
// registrants hand over their real Go function value as-is (no wrapper
// closure required beyond the function itself), and Dispatch crosses the
// "register-width slot" boundary with reflect.Call rather than unsafe
// pointer arithmetic. Registration stays a trust boundary exactly as
// spec'd — Dispatch will return ErrCalleeFailed if the registrar's
// asserted call shape doesn't match the parsed arguments.
package registry

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/charmbracelet/x/ansi"

	"github.com/ehrlich-b/inshell/internal/args"
)

// MaxArity is the largest number of arguments Dispatch will marshal into a
// call. The ten-slot ceiling is a protocol invariant (spec §4.C), not an
// implementation limit of reflect.Call.
const MaxArity = 10

var (
	// ErrUnknownCommand is returned when Dispatch can't find name in the
	// registry.
	ErrUnknownCommand = errors.New("registry: command not found")
	// ErrTooManyArguments is returned when a command line parses to more
	// than MaxArity arguments.
	ErrTooManyArguments = errors.New("registry: too many arguments")
	// ErrCalleeFailed wraps a panic recovered from an invoked entry point,
	// or a reflect argument-shape mismatch between the parsed arguments and
	// the registrar's asserted call signature.
	ErrCalleeFailed = errors.New("registry: callee failed")
)

// Registry is a name -> entry-point table. The zero value is usable.
// Clones share no mutable state with their parent once created.
type Registry struct {
	entries map[string]reflect.Value
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]reflect.Value)}
}

// Insert binds name to fn, a Go function of arity 0..MaxArity whose
// parameters are each either an integer kind or string, and which returns
// zero or one register-width result. A prior binding for name is
// overwritten. Insert panics if fn is not a function, has more than
// MaxArity parameters, or returns more than one result — these are
// registrar-side programming errors, not runtime dispatch failures.
func (r *Registry) Insert(name string, fn any) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("registry: Insert(%q): not a function", name))
	}
	if v.Type().NumIn() > MaxArity {
		panic(fmt.Sprintf("registry: Insert(%q): arity %d exceeds MaxArity", name, v.Type().NumIn()))
	}
	if v.Type().NumOut() > 1 {
		panic(fmt.Sprintf("registry: Insert(%q): entry points return at most one value", name))
	}
	if r.entries == nil {
		r.entries = make(map[string]reflect.Value)
	}
	r.entries[name] = v
}

// Lookup returns the bound function value for name, or the zero Value and
// false if nothing is registered under that name.
func (r *Registry) Lookup(name string) (reflect.Value, bool) {
	v, ok := r.entries[name]
	return v, ok
}

// Names returns the registered command names in unspecified order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Clone returns a Registry sharing no mutable state with r. Intended to be
// called once per accepted peer, before any further Insert calls happen on
// either copy (registration happens before cloning, per spec §4.C).
func (r *Registry) Clone() *Registry {
	c := &Registry{entries: make(map[string]reflect.Value, len(r.entries))}
	for k, v := range r.entries {
		c.entries[k] = v
	}
	return c
}

const (
	beginColor = "34" // ANSI SGR blue
	endColor   = "35" // ANSI SGR magenta
)

// Dispatch parses line as "command rest", looks up command, marshals rest
// into arguments, and invokes the entry point. Banners are written to out
// (the target's current stdout, which may be redirected to an attached
// peer) before and after a successful call, colour-bracketed per spec
// §4.C. Dispatch never panics; callee panics are recovered into
// ErrCalleeFailed. Each failure is also reported as a line on out. The
// returned error is purely informational — the server-side caller only
// records it in the audit log (when one is configured) and continues, per
// spec §7's "dispatcher never escalates" policy.
func (r *Registry) Dispatch(out io.Writer, line string) error {
	name, rest := args.SplitCommand(line)
	if name == "" {
		return fmt.Errorf("registry: %w: empty command", ErrUnknownCommand)
	}

	fn, ok := r.Lookup(name)
	if !ok {
		fmt.Fprintf(out, "%s not found\n", name)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	parsed := args.Parse(rest)
	if len(parsed) > MaxArity {
		fmt.Fprintf(out, "%s: too many arguments\n", name)
		return fmt.Errorf("%w: %s", ErrTooManyArguments, name)
	}

	callArgs, err := marshalArgs(fn.Type(), parsed)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", name, err)
		return fmt.Errorf("%w: %v", ErrCalleeFailed, err)
	}

	fmt.Fprintln(out, sgrWrap(beginColor, fmt.Sprintf("---[begin to excel func %s]---", name)))

	result, callErr := invoke(fn, callArgs)
	if callErr != nil {
		fmt.Fprintf(out, "%s: %v\n", name, callErr)
		return fmt.Errorf("%w: %v", ErrCalleeFailed, callErr)
	}

	fmt.Fprintln(out, sgrWrap(endColor, fmt.Sprintf("---[end to excel func %s]: %s---", name, result)))
	return nil
}

// sgrWrap brackets text in the given SGR attribute code and a reset,
// built with charmbracelet/x/ansi's low-level sequence constants rather
// than hand-rolled escape bytes.
func sgrWrap(code, text string) string {
	return ansi.CSI + code + "m" + text + ansi.CSI + "0m"
}

// marshalArgs converts parsed Arguments into reflect.Values matching ft's
// parameter kinds, the idiomatic-Go stand-in for "pass N register-width
// unsigned integers to the callee": an Int maps onto any integer-kind
// parameter, a Str maps onto a string parameter (Go's GC keeps the backing
// string alive and stable for the call's duration with no extra pinning
// needed — see DESIGN.md's Open Question 3).
func marshalArgs(ft reflect.Type, parsed []args.Argument) ([]reflect.Value, error) {
	if ft.NumIn() != len(parsed) {
		return nil, fmt.Errorf("expected %d arguments, got %d", ft.NumIn(), len(parsed))
	}
	out := make([]reflect.Value, len(parsed))
	for i, a := range parsed {
		pt := ft.In(i)
		switch v := a.(type) {
		case args.Int:
			switch pt.Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				rv := reflect.New(pt).Elem()
				rv.SetInt(int64(v))
				out[i] = rv
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				rv := reflect.New(pt).Elem()
				rv.SetUint(uint64(v))
				out[i] = rv
			default:
				return nil, fmt.Errorf("argument %d: got int, entry point wants %s", i, pt)
			}
		case args.Str:
			if pt.Kind() != reflect.String {
				return nil, fmt.Errorf("argument %d: got string, entry point wants %s", i, pt)
			}
			rv := reflect.New(pt).Elem()
			rv.SetString(string(v))
			out[i] = rv
		default:
			return nil, fmt.Errorf("argument %d: unrecognised argument kind", i)
		}
	}
	return out, nil
}

// invoke calls fn with callArgs, recovering any panic (including a
// reflect argument-shape mismatch, an intentional callee panic, or an
// out-of-range conversion) as ErrCalleeFailed. Returns a textual
// representation of the single result, or "" if fn returns nothing.
func invoke(fn reflect.Value, callArgs []reflect.Value) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()
	out := fn.Call(callArgs)
	if len(out) == 0 {
		return "", nil
	}
	return fmt.Sprint(out[0].Interface()), nil
}
