package colors

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestInit(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	on, off := true, false

	color.NoColor = true
	Init(&on)
	if !Enabled() {
		t.Error("expected colors enabled when Init(true)")
	}

	Init(&off)
	if Enabled() {
		t.Error("expected colors disabled when Init(false)")
	}

	Init(nil)
	if Enabled() {
		t.Error("Init(nil) should keep the current setting")
	}
}

func TestStatePalette(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = false
	got := Active().Sprint("active")
	if !strings.Contains(got, "\x1b[") || !strings.Contains(got, "active") {
		t.Errorf("Active() did not colorize: %q", got)
	}

	color.NoColor = true
	if got := Inactive().Sprint("inactive"); got != "inactive" {
		t.Errorf("Inactive() with colors off = %q", got)
	}
}
