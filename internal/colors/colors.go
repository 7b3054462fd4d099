// Package colors provides the CLI palette with TTY-aware defaults.
//
// Colors are automatically disabled when stdout is not a terminal (piped or
// redirected to a file). Use Init() to override based on CLI flags.
package colors

import "github.com/fatih/color"

// Init allows overriding the auto-detected color setting.
//   - forceColor == nil: keep auto-detected value
//   - forceColor == true: force colors on (--color)
//   - forceColor == false: force colors off (--no-color)
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func Bold() *color.Color        { return color.New(color.Bold) }
func FaintHiBlue() *color.Color { return color.New(color.Faint, color.FgHiBlue) }

// Section activation states
func Active() *color.Color    { return color.New(color.Bold, color.FgHiGreen) }
func Tentative() *color.Color { return color.New(color.Bold, color.FgHiYellow) }
func Inactive() *color.Color  { return color.New(color.Faint, color.FgHiRed) }

// Find/replace diff lines
func Removed() *color.Color { return color.New(color.FgRed) }
func Added() *color.Color   { return color.New(color.FgGreen) }
