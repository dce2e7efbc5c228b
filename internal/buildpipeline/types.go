package buildpipeline

import (
	"time"

	"elmbind/internal/observ"
)

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageGenerate writes the Elm binding module.
	StageGenerate Stage = "generate"
	// StageCompile runs the Elm compiler.
	StageCompile Stage = "compile"
	// StageRewrite converts the bundle into an ES module.
	StageRewrite Stage = "rewrite"
	// StageLoad evaluates the module in the JavaScript host.
	StageLoad Stage = "load"
	// StageRun instantiates the program and waits for its output.
	StageRun Stage = "run"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageGenerate, StageCompile, StageRewrite, StageLoad, StageRun}

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the task is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the task is currently working.
	StatusWorking Status = "working"
	// StatusCached indicates the result came from the rewrite cache.
	StatusCached Status = "cached"
	// StatusDone indicates the task is done.
	StatusDone Status = "done"
	// StatusError indicates the task encountered an error.
	StatusError Status = "error"
)

// Event reports progress for a target (or for the whole pipeline when
// Target is empty).
type Event struct {
	Target  string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Implementations must be safe for
// concurrent use when passed to RewriteFiles.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Add accumulates dur onto stage.
func (t *Timings) Add(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] += dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}

// Report lists recorded stages in pipeline order.
func (t Timings) Report() observ.Report {
	timer := observ.NewTimer()
	for _, stage := range Stages {
		if t.Has(stage) {
			timer.Record(string(stage), t.Duration(stage), "")
		}
	}
	return timer.Report()
}
