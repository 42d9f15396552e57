package logger

import (
	"strings"
	"testing"
)

func TestPanelWidthMatchesLongestLine(t *testing.T) {
	out := panel("short\na somewhat longer line\nmid")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("panel has %d lines, want 5:\n%s", len(lines), out)
	}
	want := len("a somewhat longer line") + 4 // borders and padding
	for i, line := range lines {
		if got := len([]rune(line)); got != want {
			t.Errorf("line %d width = %d, want %d: %q", i, got, want, line)
		}
	}
}

func TestPanelCapsWidth(t *testing.T) {
	out := panel(strings.Repeat("x", 300))

	top := strings.Split(out, "\n")[0]
	if got := len([]rune(top)); got != 104 {
		t.Errorf("top border width = %d, want 104", got)
	}
}
