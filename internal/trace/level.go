package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff     Level = iota // no tracing
	LevelCommand              // CLI command boundaries
	LevelStage                // build pipeline stages
	LevelStep                 // rewrite steps and runtime calls
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelCommand:
		return "command"
	case LevelStage:
		return "stage"
	case LevelStep:
		return "step"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff, nil
	case "command":
		return LevelCommand, nil
	case "stage":
		return LevelStage, nil
	case "step":
		return LevelStep, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|command|stage|step)", s)
	}
}

// ShouldEmit reports whether events of scope are recorded at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	if l == LevelOff {
		return false
	}
	return uint8(scope) <= uint8(l)
}
