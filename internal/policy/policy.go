package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/logging"
)

// DefaultTimeout bounds a single admit call.
const DefaultTimeout = 100 * time.Millisecond

const admitFunc = "admit"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("policy closed")

// RejectedError reports an operation the policy refused.
type RejectedError struct {
	Doc    string
	Op     clock.Local
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("policy rejected %v on %s", e.Op, e.Doc)
	}
	return fmt.Sprintf("policy rejected %v on %s: %s", e.Op, e.Doc, e.Reason)
}

// Policy is a loaded policy script. A Lua state is single-threaded, so calls
// are serialized.
type Policy struct {
	mu      sync.Mutex
	L       *lua.LState
	name    string
	timeout time.Duration
	logger  *logging.Logger
	closed  bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithTimeout bounds each admit call.
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger receives the script's print output at debug level.
func WithLogger(l *logging.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// Load runs the script at path.
func Load(path string, opts ...Option) (*Policy, error) {
	return load(path, func(L *lua.LState) error { return L.DoFile(path) }, opts)
}

// LoadString runs src, naming it name in errors.
func LoadString(name, src string, opts ...Option) (*Policy, error) {
	return load(name, func(L *lua.LState) error { return L.DoString(src) }, opts)
}

func load(name string, run func(*lua.LState) error, opts []Option) (*Policy, error) {
	p := &Policy{
		name:    name,
		timeout: DefaultTimeout,
		logger:  logging.NewNull(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("policy").WithField("script", name)
	p.L = newState(p.logger)

	if err := protect(func() error { return run(p.L) }); err != nil {
		p.L.Close()
		return nil, fmt.Errorf("load policy %s: %w", name, err)
	}
	if fn := p.L.GetGlobal(admitFunc); fn.Type() != lua.LTFunction {
		p.L.Close()
		return nil, fmt.Errorf("load policy %s: global %q is %s, want function", name, admitFunc, fn.Type())
	}
	return p, nil
}

// newState opens the safe standard libraries and removes the loaders.
func newState(logger *logging.Logger) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		logger.Debug("%s", strings.Join(parts, "\t"))
		return 0
	}))
	return L
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Admit asks the script about each operation in turn and returns a
// *RejectedError for the first one refused.
func (p *Policy) Admit(ctx context.Context, doc string, ops []operation.Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	for _, op := range ops {
		ok, reason, err := p.call(doc, op)
		if err != nil {
			return fmt.Errorf("policy %s on %v: %w", p.name, op.ID, err)
		}
		if !ok {
			return &RejectedError{Doc: doc, Op: op.ID, Reason: reason}
		}
	}
	return nil
}

func (p *Policy) call(doc string, op operation.Operation) (bool, string, error) {
	err := protect(func() error {
		return p.L.CallByParam(lua.P{
			Fn:      p.L.GetGlobal(admitFunc),
			NRet:    2,
			Protect: true,
		}, lua.LString(doc), p.opTable(op))
	})
	if err != nil {
		return false, "", err
	}
	ok, reason := p.L.Get(-2), p.L.Get(-1)
	p.L.Pop(2)

	var msg string
	if s, isStr := reason.(lua.LString); isStr {
		msg = string(s)
	}
	return lua.LVAsBool(ok), msg, nil
}

func (p *Policy) opTable(op operation.Operation) *lua.LTable {
	t := p.L.NewTable()
	t.RawSetString("replica", lua.LNumber(op.ID.Replica))
	t.RawSetString("counter", lua.LNumber(op.ID.Value))
	t.RawSetString("lamport", lua.LNumber(op.Lamport.Value))
	t.RawSetString("kind", lua.LString(op.Kind))
	switch {
	case op.Insert != nil:
		t.RawSetString("text", lua.LString(op.Insert.Text))
	case op.Delete != nil:
		bytes := 0
		for _, r := range op.Delete.Ranges {
			bytes += r.Len()
		}
		t.RawSetString("ranges", lua.LNumber(len(op.Delete.Ranges)))
		t.RawSetString("bytes", lua.LNumber(bytes))
	}
	return t
}

// Close releases the Lua state.
func (p *Policy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.L.Close()
	}
	return nil
}
