package main

import (
	"fmt"
	"io"
	"time"

	"elmbind/internal/buildpipeline"
)

var stageVerbs = map[buildpipeline.Stage]string{
	buildpipeline.StageGenerate: "generated",
	buildpipeline.StageCompile:  "compiled",
	buildpipeline.StageRewrite:  "rewrote",
	buildpipeline.StageLoad:     "loaded",
	buildpipeline.StageRun:      "ran",
}

func printStageTimings(out io.Writer, timings buildpipeline.Timings) error {
	if out == nil {
		return nil
	}
	for _, stage := range buildpipeline.Stages {
		if !timings.Has(stage) {
			continue
		}
		if _, err := fmt.Fprintf(out, "%s %.1f ms\n", stageVerbs[stage], toMillis(timings.Duration(stage))); err != nil {
			return err
		}
	}
	return nil
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
