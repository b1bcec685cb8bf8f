// Package funcs installs docsql's custom scalar functions into the SQLite
// driver.
//
// The driver keeps a process-wide function namespace and refuses to register
// a name twice, so each name is registered once with a trampoline that looks
// the current implementation up in a dispatch table. RegisterAll can then be
// called any number of times; later calls replace the implementation.
package funcs

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"path"
	"sort"
	"strings"
	"sync"

	"modernc.org/sqlite"
)

// Variadic is the arity of functions accepting any number of arguments.
const Variadic = -1

// Func describes one scalar SQL function.
type Func struct {
	Name string
	// NArgs is the exact argument count, or Variadic.
	NArgs int32
	// Deterministic is false for functions whose result can differ between
	// calls with the same arguments. Tests comparing results must not rely
	// on such functions unless SetRand installed a seeded source.
	Deterministic bool
	Doc           string
	Scalar        func(args []driver.Value) (driver.Value, error)
}

var (
	mu         sync.RWMutex
	impls      = map[string]Func{}
	registered = map[string]bool{}
)

// RegisterAll installs fns into the driver's global namespace. Functions
// already installed by an earlier call get their implementation replaced.
// Connections opened before the first registration of a name do not see it.
func RegisterAll(fns ...Func) error {
	mu.Lock()
	defer mu.Unlock()

	for _, fn := range fns {
		name := strings.ToLower(fn.Name)
		if name == "" || fn.Scalar == nil {
			return fmt.Errorf("register function %q: name and implementation are required", fn.Name)
		}
		fn.Name = name
		impls[name] = fn
		if registered[name] {
			continue
		}
		err := sqlite.RegisterFunction(name, &sqlite.FunctionImpl{
			NArgs:         Variadic,
			Deterministic: fn.Deterministic,
			Scalar:        trampoline(name),
		})
		if err != nil {
			delete(impls, name)
			return fmt.Errorf("register function %q: %w", name, err)
		}
		registered[name] = true
	}
	return nil
}

// RegisterBuiltins installs Builtins().
func RegisterBuiltins() error {
	return RegisterAll(Builtins()...)
}

// List returns the currently installed functions sorted by name.
func List() []Func {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Func, 0, len(impls))
	for _, fn := range impls {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func trampoline(name string) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (v driver.Value, err error) {
		mu.RLock()
		fn, ok := impls[name]
		mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no such function: %s", name)
		}
		if fn.NArgs != Variadic && int(fn.NArgs) != len(args) {
			return nil, fmt.Errorf("wrong number of arguments to function %s()", name)
		}
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("function %s: panic: %v", name, r)
			}
		}()
		return fn.Scalar(args)
	}
}

var (
	randMu sync.Mutex
	rng    = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
)

// SetRand replaces the random source used by rand_int and rand_float.
// Passing nil restores an unseeded source.
func SetRand(r *rand.Rand) {
	randMu.Lock()
	defer randMu.Unlock()
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	rng = r
}

// Builtins returns the functions docsql ships with.
func Builtins() []Func {
	return []Func{
		{
			Name:  "rand_int",
			NArgs: 2,
			Doc:   "rand_int(lo, hi) returns a random integer in [lo, hi]. Non-deterministic.",
			Scalar: func(args []driver.Value) (driver.Value, error) {
				lo, err := toInt(args[0])
				if err != nil {
					return nil, fmt.Errorf("rand_int: lo: %w", err)
				}
				hi, err := toInt(args[1])
				if err != nil {
					return nil, fmt.Errorf("rand_int: hi: %w", err)
				}
				if hi < lo {
					return nil, fmt.Errorf("rand_int: hi (%d) is less than lo (%d)", hi, lo)
				}
				randMu.Lock()
				defer randMu.Unlock()
				span := uint64(hi) - uint64(lo)
				if span == math.MaxUint64 {
					return int64(rng.Uint64()), nil
				}
				return int64(uint64(lo) + rng.Uint64N(span+1)), nil
			},
		},
		{
			Name:  "rand_float",
			NArgs: 0,
			Doc:   "rand_float() returns a random float in [0, 1). Non-deterministic.",
			Scalar: func([]driver.Value) (driver.Value, error) {
				randMu.Lock()
				defer randMu.Unlock()
				return rng.Float64(), nil
			},
		},
		{
			Name:          "to_array",
			NArgs:         Variadic,
			Deterministic: true,
			Doc:           "to_array(v...) returns its arguments as a JSON array.",
			Scalar: func(args []driver.Value) (driver.Value, error) {
				vals := make([]any, len(args))
				for i, a := range args {
					if b, ok := a.([]byte); ok {
						a = string(b)
					}
					vals[i] = a
				}
				return marshal(vals)
			},
		},
		{
			Name:          "split_array",
			NArgs:         2,
			Deterministic: true,
			Doc:           "split_array(text, sep) splits text on sep into a JSON array of strings.",
			Scalar: func(args []driver.Value) (driver.Value, error) {
				if args[0] == nil {
					return nil, nil
				}
				text, sep := toText(args[0]), toText(args[1])
				parts := []string{}
				if text != "" {
					parts = strings.Split(text, sep)
				}
				return marshal(parts)
			},
		},
		{
			Name:          "path_base",
			NArgs:         1,
			Deterministic: true,
			Doc:           "path_base(p) returns the last element of a slash-separated path.",
			Scalar: func(args []driver.Value) (driver.Value, error) {
				if args[0] == nil {
					return nil, nil
				}
				return path.Base(toText(args[0])), nil
			},
		},
		{
			Name:          "path_stem",
			NArgs:         1,
			Deterministic: true,
			Doc:           "path_stem(p) returns the last path element without its extension.",
			Scalar: func(args []driver.Value) (driver.Value, error) {
				if args[0] == nil {
					return nil, nil
				}
				base := path.Base(toText(args[0]))
				return strings.TrimSuffix(base, path.Ext(base)), nil
			},
		},
	}
}

func marshal(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toInt(v driver.Value) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toText(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
