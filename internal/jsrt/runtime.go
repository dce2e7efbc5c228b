// Package jsrt hosts rewritten modules in an embedded JavaScript runtime.
//
// The module is converted to CommonJS, evaluated once, and its exports are
// exposed through the driver interfaces. Every touch of the JavaScript heap
// happens on the event loop goroutine.
package jsrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/rs/zerolog"

	"elmbind/internal/driver"
	"elmbind/internal/trace"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("runtime is closed")

// Options configures a Runtime.
type Options struct {
	// Console installs console.log and friends.
	Console bool
}

// Runtime is a loaded module. It implements driver.Module.
type Runtime struct {
	name string
	loop *eventloop.EventLoop

	closeOnce sync.Once
	closed    chan struct{}

	// owned by the loop goroutine
	exports   *goja.Object
	parse     goja.Callable
	stringify goja.Callable
}

var (
	_ driver.Module  = (*Runtime)(nil)
	_ driver.Starter = (*Runtime)(nil)
)

// Load converts moduleText and evaluates it on a fresh event loop.
func Load(ctx context.Context, name string, moduleText []byte, opts Options) (*Runtime, error) {
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeStage, "load", trace.CurrentSpan(ctx)).WithExtra("module", name)

	code, err := Transform(name, moduleText)
	if err != nil {
		span.End(err.Error())
		return nil, err
	}

	rt := &Runtime{
		name:   name,
		loop:   eventloop.NewEventLoop(eventloop.EnableConsole(opts.Console)),
		closed: make(chan struct{}),
	}
	rt.loop.Start()

	err = rt.do(ctx, func(vm *goja.Runtime) error {
		return rt.evaluate(vm, code)
	})
	if err != nil {
		rt.Close()
		span.End(err.Error())
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("module", name).Int("bytes", len(code)).Msg("module loaded")
	span.End("")
	return rt, nil
}

// Close stops the event loop. Pending timers are discarded. It must not be
// called from a port listener.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.loop.Stop()
	})
}

func (r *Runtime) evaluate(vm *goja.Runtime, code []byte) error {
	wrapped := "(function(exports, module, require){\n" + string(code) + "\n})"
	fnValue, err := vm.RunScript(r.name, wrapped)
	if err != nil {
		return fmt.Errorf("failed to evaluate %s: %w", r.name, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return fmt.Errorf("failed to evaluate %s: module wrapper is not callable", r.name)
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return err
	}
	require := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(fmt.Errorf("require(%s) is not available", call.Argument(0).String())))
	})
	if _, err := fn(goja.Undefined(), exports, module, require); err != nil {
		return fmt.Errorf("failed to run %s: %w", r.name, err)
	}
	r.exports = module.Get("exports").ToObject(vm)

	jsonObj := vm.Get("JSON").ToObject(vm)
	if r.parse, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return errors.New("JSON.parse is not callable")
	}
	if r.stringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return errors.New("JSON.stringify is not callable")
	}
	return nil
}

// Exports returns the names of the module's own exports.
func (r *Runtime) Exports(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.do(ctx, func(vm *goja.Runtime) error {
		keys = r.exports.Keys()
		return nil
	})
	return keys, err
}

// Init walks path from the module exports and calls `<path>.init(config)`.
func (r *Runtime) Init(ctx context.Context, path []string, config json.RawMessage) (driver.Instance, error) {
	var inst *instance
	err := r.do(ctx, func(vm *goja.Runtime) error {
		var err error
		inst, err = r.initOnLoop(ctx, vm, path, config)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Start initializes the program, opens portName and subscribes listener in
// one loop job. Timers scheduled by init run only after the listener is in
// place.
func (r *Runtime) Start(ctx context.Context, path []string, config json.RawMessage, portName string, listener func(json.RawMessage)) (func(), error) {
	var cancel func()
	err := r.do(ctx, func(vm *goja.Runtime) error {
		inst, err := r.initOnLoop(ctx, vm, path, config)
		if err != nil {
			return err
		}
		p, err := inst.portOnLoop(vm, portName)
		if err != nil {
			return err
		}
		cancel, err = p.subscribeOnLoop(vm, listener)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancel, nil
}

func (r *Runtime) initOnLoop(ctx context.Context, vm *goja.Runtime, path []string, config json.RawMessage) (*instance, error) {
	var cur goja.Value = r.exports
	for i, seg := range path {
		if isAbsent(cur) {
			return nil, fmt.Errorf("%w: %s", driver.ErrNoInit, strings.Join(path[:i], "."))
		}
		cur = cur.ToObject(vm).Get(seg)
	}
	accessor := strings.Join(path, ".")
	if isAbsent(cur) {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoInit, accessor)
	}
	target := cur.ToObject(vm)
	initFn, ok := goja.AssertFunction(target.Get("init"))
	if !ok {
		return nil, fmt.Errorf("%w: %s.init is not a function", driver.ErrNoInit, accessor)
	}
	arg, err := r.parse(goja.Undefined(), vm.ToValue(string(config)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	app, err := initFn(target, arg)
	if err != nil {
		return nil, fmt.Errorf("%s.init: %w", accessor, err)
	}
	if isAbsent(app) {
		return nil, fmt.Errorf("%s.init returned %s", accessor, app)
	}
	return &instance{rt: r, ctx: ctx, path: accessor, app: app.ToObject(vm)}, nil
}

// do runs fn on the loop goroutine and waits for it.
func (r *Runtime) do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	select {
	case <-r.closed:
		return ErrClosed
	default:
	}
	errc := make(chan error, 1)
	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		errc <- protect(vm, fn)
	})
	select {
	case err := <-errc:
		return err
	case <-r.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// protect turns panics raised by goja helpers into errors.
func protect(vm *goja.Runtime, fn func(vm *goja.Runtime) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("javascript panic: %v", p)
		}
	}()
	return fn(vm)
}

// toJSON renders v as JSON text; undefined becomes null.
func (r *Runtime) toJSON(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null"), nil
	}
	out, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
