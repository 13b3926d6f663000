package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/whisparr-sync/internal/models"
)

// Styles is the default palette used by the CLI.
var Styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// State renders a sync state in its color: green, orange or red.
func (p *Palette) State(s models.SyncState) string {
	switch s {
	case models.Succeeded:
		return p.OK(s.String())
	case models.Skipped:
		return p.Warn(s.String())
	default:
		return p.Err(s.String())
	}
}

// Mark is the one-character status used in progress lines.
func (p *Palette) Mark(s models.SyncState) string {
	switch s {
	case models.Succeeded:
		return p.OK("✓")
	case models.Skipped:
		return p.Warn("-")
	default:
		return p.Err("✗")
	}
}
