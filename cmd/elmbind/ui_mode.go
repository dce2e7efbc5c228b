package main

import (
	"fmt"
	"os"
	"strings"
)

// progressUI is the --ui setting of commands that can show a progress view.
type progressUI int

const (
	progressAuto progressUI = iota
	progressOn
	progressOff
)

func parseProgressUI(value string) (progressUI, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return progressAuto, nil
	case "on":
		return progressOn, nil
	case "off":
		return progressOff, nil
	default:
		return progressAuto, fmt.Errorf("invalid --ui value %q for elmbind rewrite (expected auto|on|off)", value)
	}
}

// enabled decides whether a batch of targets gets the interactive view.
// --quiet and single files always print plain lines; auto also requires
// stdout to be a terminal.
func (p progressUI) enabled(quiet bool, targets int) bool {
	if quiet || targets < 2 {
		return false
	}
	switch p {
	case progressOn:
		return true
	case progressOff:
		return false
	default:
		return isTerminal(os.Stdout)
	}
}
