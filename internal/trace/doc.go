// Package trace records spans for elmbind commands, pipeline stages and
// rewrite steps.
//
// Enable tracing from the command line:
//
//	elmbind rewrite --trace=- --trace-level=step binding.js
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelCommand: command boundaries only
//   - LevelStage: build pipeline stages
//   - LevelStep: individual rewrite steps
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStep, "extract-export", parent)
//	defer span.End("")
package trace
