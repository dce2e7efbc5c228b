package version

import (
	"testing"

	"github.com/fatih/color"
)

func withPlain(t *testing.T) {
	t.Helper()
	orig := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = orig })
}

func override(t *testing.T, v, commit, date string) {
	t.Helper()
	ov, oc, od := Version, GitCommit, BuildDate
	Version, GitCommit, BuildDate = v, commit, date
	t.Cleanup(func() { Version, GitCommit, BuildDate = ov, oc, od })
}

func TestVersion_DefaultValue(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
}

func TestString(t *testing.T) {
	withPlain(t)
	cases := []struct {
		version, commit, date string
		want                  string
	}{
		{"1.2.3", "", "", "elmbind 1.2.3"},
		{"0.1.0-dev", "abc123", "", "elmbind 0.1.0-dev (abc123)"},
		{"1.2.3-rc.1+build.7", "abc123", "2026-01-15", "elmbind 1.2.3-rc.1+build.7 (abc123) built 2026-01-15"},
		{"custom", "", "", "elmbind custom"},
	}
	for _, tc := range cases {
		override(t, tc.version, tc.commit, tc.date)
		if got := String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
