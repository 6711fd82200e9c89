package ui

import (
	"strings"
	"testing"
)

func TestTable_Alignment(t *testing.T) {
	out := Table(
		[]string{"ID", "OPERATION"},
		[][]string{
			{"a", "create"},
			{"longer-id", "delete"},
		},
	)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}

	col := strings.Index(lines[2], "delete")
	if col < 0 {
		t.Fatalf("missing cell in %q", lines[2])
	}
	if got := strings.Index(lines[1], "create"); got != col {
		t.Errorf("column misaligned: create at %d, delete at %d", got, col)
	}
}

func TestRenderStatus_Unknown(t *testing.T) {
	if got := RenderStatus("paused"); got != "paused" {
		t.Errorf("RenderStatus(paused) = %q", got)
	}
}
