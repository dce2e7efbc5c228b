package bundle

import (
	"errors"
	"fmt"
	"strings"
)

// Step names one transformation of the rewrite pipeline.
type Step string

const (
	StepExtractExport             Step = "extract-export"
	StepDisableWrapperHeader      Step = "disable-wrapper-header"
	StepDisableStrictDirective    Step = "disable-strict-directive"
	StepNeutralizeExportMachinery Step = "neutralize-export-machinery"
	StepEmitPublicExport          Step = "emit-public-export"
)

// ErrMalformedBundle matches every *MalformedBundleError via errors.Is.
var ErrMalformedBundle = errors.New("malformed bundle")

// MalformedBundleError reports an anchor that did not match exactly once.
type MalformedBundleError struct {
	Step   Step
	Reason string
	// Line and Column are 1-based; zero when no source location applies.
	Line   int
	Column int
}

func (e *MalformedBundleError) Error() string {
	var sb strings.Builder
	sb.WriteString("malformed bundle: ")
	sb.WriteString(string(e.Step))
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Line > 0 {
		fmt.Fprintf(&sb, " (line %d, column %d)", e.Line, e.Column)
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrMalformedBundle) succeed.
func (e *MalformedBundleError) Is(target error) bool {
	return target == ErrMalformedBundle
}

// FailedStep returns the step recorded in err, if err is a MalformedBundleError.
func FailedStep(err error) (Step, bool) {
	var mb *MalformedBundleError
	if errors.As(err, &mb) {
		return mb.Step, true
	}
	return "", false
}
