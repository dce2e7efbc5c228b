// Package binding generates the Elm port module that exposes one function
// of a user project as a headless program.
package binding

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// ErrInvalidCall is returned for function references that are not of the
// form MyModule.MySubmodule.myFunction.
var ErrInvalidCall = errors.New("invalid Elm call")

var (
	moduleSegment = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	functionName  = regexp.MustCompile(`^[a-z][A-Za-z0-9_]*$`)
)

// Function is a fully qualified Elm function reference.
type Function struct {
	Module []string
	Name   string
}

// ParseFunction splits "A.B.fn" into its module path and function name.
func ParseFunction(ref string) (Function, error) {
	segments := strings.Split(ref, ".")
	if len(segments) < 2 {
		return Function{}, fmt.Errorf("%w %q: expected format is MyModule.MySubmodule.myFunction", ErrInvalidCall, ref)
	}
	mod, name := segments[:len(segments)-1], segments[len(segments)-1]
	for _, s := range mod {
		if !moduleSegment.MatchString(s) {
			return Function{}, fmt.Errorf("%w %q: %q is not a module name", ErrInvalidCall, ref, s)
		}
	}
	if !functionName.MatchString(name) {
		return Function{}, fmt.Errorf("%w %q: %q is not a function name", ErrInvalidCall, ref, name)
	}
	return Function{Module: mod, Name: name}, nil
}

// ModulePath is the dotted module name, e.g. "A.B".
func (f Function) ModulePath() string {
	return strings.Join(f.Module, ".")
}

func (f Function) String() string {
	return f.ModulePath() + "." + f.Name
}

// Spec describes one generated binding module.
type Spec struct {
	Function Function
	Input    string // Elm annotation of the flags, parenthesized
	Output   string // Elm annotation of the port value
	Seed     string
}

// NewSpec fills in a fresh time-ordered seed so concurrent bindings of the
// same function never share file names.
func NewSpec(fn Function, input, output string) (Spec, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Spec{}, fmt.Errorf("failed to generate binding seed: %w", err)
	}
	return Spec{
		Function: fn,
		Input:    input,
		Output:   output,
		Seed:     strings.ReplaceAll(id.String(), "-", ""),
	}, nil
}

// ModuleName is `<segments joined by _>_Binding<seed>`.
func (s Spec) ModuleName() string {
	parts := append(append([]string{}, s.Function.Module...), s.Function.Name)
	return strings.Join(parts, "_") + "_Binding" + s.Seed
}

// FileName is the Elm source file the module must live in.
func (s Spec) FileName() string {
	return s.ModuleName() + ".elm"
}

var moduleTemplate = template.Must(template.New("binding").Parse(`port module {{.ModuleName}} exposing (main)

import Json.Encode
import {{.Function.ModulePath}}


port out : {{.Output}} -> Cmd msg


main : Program {{.Input}} () Never
main =
    Platform.worker
        { init = \flags -> ( (), out ({{.Function}} flags) )
        , update = \_ _ -> ( (), Cmd.none )
        , subscriptions = \_ -> Sub.none
        }
`))

// Render returns the Elm source of the binding module.
func Render(s Spec) ([]byte, error) {
	if len(s.Function.Module) == 0 || s.Function.Name == "" {
		return nil, fmt.Errorf("%w: empty function reference", ErrInvalidCall)
	}
	if s.Input == "" || s.Output == "" {
		return nil, errors.New("binding needs both input and output types")
	}
	var buf bytes.Buffer
	if err := moduleTemplate.Execute(&buf, s); err != nil {
		return nil, fmt.Errorf("failed to render binding %s: %w", s.ModuleName(), err)
	}
	return buf.Bytes(), nil
}
