package buildpipeline

import "time"

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// FuncSink adapts a function to ProgressSink.
type FuncSink func(Event)

func (f FuncSink) OnEvent(evt Event) {
	if f != nil {
		f(evt)
	}
}

func emitQueued(sink ProgressSink, targets []string, stage Stage) {
	if sink == nil {
		return
	}
	for _, target := range targets {
		sink.OnEvent(Event{Target: target, Stage: stage, Status: StatusQueued})
	}
}

func emitStage(sink ProgressSink, target string, stage Stage, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{Target: target, Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}
