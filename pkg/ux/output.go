// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders command output for terminals and pipes.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Brand palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the lipgloss styles used when color is enabled.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
	IconArrow   Icon = "→"
)

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printer writes styled lines. With color disabled every style is a
// no-op, so piped output stays plain text.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

// ForFile creates a Printer for f, enabling color only on a terminal.
func ForFile(f *os.File) *Printer {
	return NewPrinter(f, IsTerminal(f))
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.style(Styles.Success, string(i))
	case IconWarning:
		return p.style(Styles.Warning, string(i))
	case IconError:
		return p.style(Styles.Error, string(i))
	default:
		return string(i)
	}
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.style(Styles.Title, text))
}

// Subtitle prints a secondary heading.
func (p *Printer) Subtitle(text string) {
	fmt.Fprintln(p.w, p.style(Styles.Subtitle, text))
}

// Status prints a line prefixed with icon.
func (p *Printer) Status(icon Icon, text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.icon(icon), text)
}

// Field prints an indented "key: value" line.
func (p *Printer) Field(key string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.style(Styles.Bold, key+":"), value)
}

// Muted prints de-emphasized text.
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.w, p.style(Styles.Muted, text))
}

// List prints items as an indented bullet list under label. Nothing is
// printed for an empty list.
func (p *Printer) List(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(p.w, "  %s\n", p.style(Styles.Bold, label+":"))
	for _, item := range items {
		fmt.Fprintf(p.w, "    %s %s\n", IconBullet, item)
	}
}

// Box prints content inside a rounded border. Without color the content
// is printed under a title line instead.
func (p *Printer) Box(title, content string) {
	if !p.color {
		fmt.Fprintf(p.w, "[%s]\n%s\n", title, content)
		return
	}
	body := Styles.Title.Render(title) + "\n" + strings.TrimRight(content, "\n")
	fmt.Fprintln(p.w, Styles.Box.Render(body))
}
