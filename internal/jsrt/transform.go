package jsrt

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// TransformError lists the esbuild diagnostics that stopped a conversion.
type TransformError struct {
	Name     string
	Messages []api.Message
}

func (e *TransformError) Error() string {
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return fmt.Sprintf("failed to transform %s: %s", e.Name, strings.Join(parts, "; "))
}

// Transform converts ES module text into a CommonJS body that assigns the
// module namespace to module.exports.
func Transform(name string, moduleText []byte) ([]byte, error) {
	result := api.Transform(string(moduleText), api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Platform:   api.PlatformNeutral,
		Target:     api.ES2015,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, &TransformError{Name: name, Messages: result.Errors}
	}
	return result.Code, nil
}
