package jsrt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"elmbind/internal/driver"
)

// instance is an initialized program. ctx is the context Init ran under;
// port lookups and subscriptions wait on it.
type instance struct {
	rt   *Runtime
	ctx  context.Context
	path string
	app  *goja.Object
}

func (i *instance) Port(name string) (driver.Port, error) {
	var p *port
	err := i.rt.do(i.ctx, func(vm *goja.Runtime) error {
		var err error
		p, err = i.portOnLoop(vm, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (i *instance) portOnLoop(vm *goja.Runtime, name string) (*port, error) {
	ports := i.app.Get("ports")
	if isAbsent(ports) {
		return nil, fmt.Errorf("%w: %s has no ports", driver.ErrNoPort, i.path)
	}
	v := ports.ToObject(vm).Get(name)
	if isAbsent(v) {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoPort, name)
	}
	obj := v.ToObject(vm)
	subscribe, ok := goja.AssertFunction(obj.Get("subscribe"))
	if !ok {
		return nil, fmt.Errorf("%w: %s.subscribe is not a function", driver.ErrNoPort, name)
	}
	unsubscribe, _ := goja.AssertFunction(obj.Get("unsubscribe"))
	return &port{rt: i.rt, ctx: i.ctx, name: name, obj: obj, subscribe: subscribe, unsubscribe: unsubscribe}, nil
}

type port struct {
	rt          *Runtime
	ctx         context.Context
	name        string
	obj         *goja.Object
	subscribe   goja.Callable
	unsubscribe goja.Callable // nil when the port cannot unsubscribe
}

// Subscribe registers listener with the port. Emitted values are delivered
// as JSON on the loop goroutine.
func (p *port) Subscribe(listener func(json.RawMessage)) (func(), error) {
	var cancel func()
	err := p.rt.do(p.ctx, func(vm *goja.Runtime) error {
		var err error
		cancel, err = p.subscribeOnLoop(vm, listener)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancel, nil
}

func (p *port) subscribeOnLoop(vm *goja.Runtime, listener func(json.RawMessage)) (func(), error) {
	callback := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		raw, err := p.rt.toJSON(call.Argument(0))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		listener(raw)
		return goja.Undefined()
	})
	if _, err := p.subscribe(p.obj, callback); err != nil {
		return nil, fmt.Errorf("ports.%s.subscribe: %w", p.name, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if p.unsubscribe == nil {
				return
			}
			// Enqueue only: cancel may run on the loop goroutine.
			p.rt.loop.RunOnLoop(func(*goja.Runtime) {
				_, _ = p.unsubscribe(p.obj, callback)
			})
		})
	}
	return cancel, nil
}
