// Package elmc drives the upstream Elm compiler.
package elmc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultBinary is looked up in PATH when Make.Binary is empty.
const DefaultBinary = "elm"

// Request names one compilation. Paths are relative to Dir.
type Request struct {
	Dir      string
	Source   string
	Output   string
	Optimize bool
}

// Compiler turns an Elm source file into a JavaScript bundle.
type Compiler interface {
	Compile(ctx context.Context, req Request) error
}

// CompileError is a compiler run that wrote diagnostics.
type CompileError struct {
	Source string
	Stderr string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("elm binding %s failed to compile: %s", e.Source, e.Stderr)
}

// Make runs `elm make`.
type Make struct {
	Binary        string
	PrintCommands bool
	// Stdout receives the compiler's progress output; discarded when nil.
	Stdout io.Writer
}

var _ Compiler = Make{}

// Args returns the compiler arguments for req.
func Args(req Request) []string {
	args := []string{"make", req.Source, "--output=" + req.Output}
	if req.Optimize {
		args = append(args, "--optimize")
	}
	return args
}

// Compile runs the compiler in req.Dir. Any stderr output counts as a
// failure, even with a zero exit status.
func (m Make) Compile(ctx context.Context, req Request) error {
	if req.Source == "" || req.Output == "" {
		return errors.New("elmc: source and output are required")
	}
	name := m.Binary
	if name == "" {
		name = DefaultBinary
	}
	args := Args(req)
	logger := zerolog.Ctx(ctx)
	if m.PrintCommands {
		logger.Info().Str("dir", req.Dir).Msgf("%s %s", name, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.Dir
	cmd.Stdout = m.Stdout
	var stderr strings.Builder
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return &CompileError{Source: req.Source, Stderr: msg}
	}
	if runErr != nil {
		return fmt.Errorf("failed to invoke elm compiler: %w", runErr)
	}
	logger.Debug().Str("source", req.Source).Str("output", req.Output).Msg("elm make finished")
	return nil
}
