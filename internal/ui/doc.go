// Package ui renders sync outcomes for the terminal with lipgloss styles.
//
// [Palette] holds the colors; [Styles] is the default. Colors are dropped
// automatically when output is not a terminal, so the same strings are safe to
// write to logs and pipes.
package ui
