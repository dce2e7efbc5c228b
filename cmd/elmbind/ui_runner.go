package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"elmbind/internal/buildpipeline"
	"elmbind/internal/ui"
)

type rewriteOutcome struct {
	results []buildpipeline.RewriteResult
	err     error
}

func runRewriteWithUI(ctx context.Context, title string, req buildpipeline.RewriteRequest) ([]buildpipeline.RewriteResult, error) {
	events := make(chan buildpipeline.Event, 256)
	outcomeCh := make(chan rewriteOutcome, 1)

	go func() {
		req.Progress = buildpipeline.ChannelSink{Ch: events}
		res, err := buildpipeline.RewriteFiles(ctx, req)
		outcomeCh <- rewriteOutcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, req.Inputs, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
