// Package driver instantiates a compiled module once and turns the first
// value emitted on its output port into a Future.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"elmbind/internal/trace"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultPath = "Elm.Binding"
	DefaultPort = "out"
)

// ErrNoInit is returned by Module implementations when the init path does
// not name an initializer.
var ErrNoInit = errors.New("module has no initializer at path")

// ErrNoPort is returned by Instance implementations for unknown ports.
var ErrNoPort = errors.New("instance has no such port")

// Module is a loaded ES module exposing initializers under a namespace.
type Module interface {
	// Init calls the initializer found by walking path from the module
	// namespace. config is passed to it unchanged.
	Init(ctx context.Context, path []string, config json.RawMessage) (Instance, error)
}

// Instance is one running program.
type Instance interface {
	Port(name string) (Port, error)
}

// Port is an outgoing channel of an Instance.
type Port interface {
	// Subscribe registers listener. The listener may run before Subscribe
	// returns. cancel removes the listener and is safe to call repeatedly.
	Subscribe(listener func(json.RawMessage)) (cancel func(), err error)
}

// Starter is implemented by modules that can initialize a program and
// subscribe to one of its ports as a single step. Run prefers it, so values
// the program emits from work scheduled during init reach the listener.
type Starter interface {
	Start(ctx context.Context, path []string, config json.RawMessage, port string, listener func(json.RawMessage)) (cancel func(), err error)
}

// Options selects the initializer and the output port.
type Options struct {
	Path string // dotted, e.g. "Elm.Binding"
	Port string
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.Port == "" {
		o.Port = DefaultPort
	}
	return o
}

// SplitPath splits a dotted accessor path, rejecting empty segments.
func SplitPath(path string) ([]string, error) {
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("invalid init path %q: empty segment", path)
		}
	}
	return segments, nil
}

// Run instantiates mod with config, subscribes to the output port and
// returns a Future for the first emitted value. The subscription is released
// after the first emission; later emissions are dropped. Run applies no
// timeout: a port that never emits leaves the Future pending.
func Run(ctx context.Context, mod Module, config any, opts Options) (*Future[json.RawMessage], error) {
	if mod == nil {
		return nil, errors.New("driver: nil module")
	}
	opts = opts.withDefaults()
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeStage, "run", trace.CurrentSpan(ctx)).
		WithExtra("init", opts.Path).
		WithExtra("port", opts.Port)
	logger := zerolog.Ctx(ctx).With().Str("init", opts.Path).Str("port", opts.Port).Logger()

	path, err := SplitPath(opts.Path)
	if err != nil {
		span.End(err.Error())
		return nil, err
	}
	raw, err := marshalConfig(config)
	if err != nil {
		span.End(err.Error())
		return nil, err
	}

	fut := newFuture[json.RawMessage]()
	sub := &subscription{}
	listener := func(v json.RawMessage) {
		if !fut.resolve(cloneRaw(v)) {
			logger.Debug().Msg("dropping emission after the first")
			return
		}
		logger.Debug().Int("bytes", len(v)).Msg("port emitted")
		sub.release()
	}

	var cancel func()
	if starter, ok := mod.(Starter); ok {
		cancel, err = starter.Start(ctx, path, raw, opts.Port, listener)
		if err != nil {
			span.End(err.Error())
			return nil, fmt.Errorf("failed to start %s on port %s: %w", opts.Path, opts.Port, err)
		}
	} else {
		cancel, err = subscribe(ctx, mod, path, raw, opts, listener)
		if err != nil {
			span.End(err.Error())
			return nil, err
		}
	}
	sub.attach(cancel)
	span.End("")
	return fut, nil
}

func subscribe(ctx context.Context, mod Module, path []string, raw json.RawMessage, opts Options, listener func(json.RawMessage)) (func(), error) {
	inst, err := mod.Init(ctx, path, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", opts.Path, err)
	}
	port, err := inst.Port(opts.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", opts.Port, err)
	}
	cancel, err := port.Subscribe(listener)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to port %s: %w", opts.Port, err)
	}
	return cancel, nil
}

// Call runs mod, waits for the first emission and decodes it into O.
func Call[O any](ctx context.Context, mod Module, config any, opts Options) (O, error) {
	var out O
	fut, err := Run(ctx, mod, config, opts)
	if err != nil {
		return out, err
	}
	raw, err := fut.Wait(ctx)
	if err != nil {
		return out, fmt.Errorf("waiting for port output: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode port output: %w", err)
	}
	return out, nil
}

func marshalConfig(config any) (json.RawMessage, error) {
	switch v := config.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("config is not valid JSON")
		}
		return cloneRaw(v), nil
	case nil:
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

// subscription releases the port listener exactly once, even when the first
// emission happens inside Subscribe before cancel is known.
type subscription struct {
	mu       sync.Mutex
	cancel   func()
	fired    bool
	released bool
}

func (s *subscription) release() {
	s.mu.Lock()
	s.fired = true
	cancel := s.cancel
	if cancel != nil {
		s.released = true
		s.cancel = nil
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *subscription) attach(cancel func()) {
	if cancel == nil {
		return
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	if s.fired {
		s.released = true
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
}
