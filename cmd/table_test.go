package cmd

import (
	"strings"
	"testing"
)

func TestRenderTableAlignment(t *testing.T) {
	out := renderTable([]string{"NAME", "COUNT"}, [][]string{{"a", "7"}}, 1)

	for _, want := range []string{"NAME", "COUNT", "│ a    │", "│     7 │"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTableShortRow(t *testing.T) {
	out := renderTable([]string{"KEY", "VALUE"}, [][]string{{"only"}})
	if !strings.Contains(out, "only") {
		t.Errorf("Short row not rendered:\n%s", out)
	}
}
