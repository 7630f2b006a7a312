package ui

import (
	"os"
	"testing"
)

func TestDisableColorRendersPlain(t *testing.T) {
	DisableColor()
	for name, render := range map[string]func(string) string{
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"accent": RenderAccent,
		"muted":  RenderMuted,
	} {
		if got := render("✓"); got != "✓" {
			t.Errorf("%s: got %q, want plain text", name, got)
		}
	}
}

func TestIsTerminalOnPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() failed: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if IsTerminal(r) {
		t.Error("a pipe is not a terminal")
	}
}
