// Package cli holds enginectl's terminal rendering: markdown-styled turn
// output for `enginectl tail`, grounded on the same glamour+lipgloss
// combination the teacher's REPL renderer uses for chat replies.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

var (
	colorCyan   = lipgloss.Color("#00D7FF")
	colorGray   = lipgloss.Color("#6C6C6C")
	colorGreen  = lipgloss.Color("#00FF87")
	colorRed    = lipgloss.Color("#FF5F5F")
	colorYellow = lipgloss.Color("#FFD75F")
)

// Renderer turns a Turn into a styled, markdown-rendered terminal block.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer builds a Renderer for the given terminal width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{glamour: r, width: width}
}

// RenderTurn renders one turn: a header line with seq and per-phase
// latency, then any errors and warnings, the VLM's reply as rendered
// markdown, and the parsed tool calls.
func (r *Renderer) RenderTurn(t *entity.Turn) string {
	seqStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	latStyle := lipgloss.NewStyle().Foreground(colorGray)

	header := fmt.Sprintf("%s %s",
		seqStyle.Render(fmt.Sprintf("turn %d", t.Seq)),
		latStyle.Render(fmt.Sprintf("(exec %dms, annotate %dms, vlm %dms)",
			t.Latency.ExecMS, t.Latency.AnnotateMS, t.Latency.VLMMS)),
	)

	var out strings.Builder
	out.WriteString(header)
	out.WriteString("\n")

	if len(t.Errors) > 0 {
		errStyle := lipgloss.NewStyle().Foreground(colorRed).Bold(true)
		for _, e := range t.Errors {
			out.WriteString(errStyle.Render("✗ "+e) + "\n")
		}
	}
	if len(t.Warnings) > 0 {
		warnStyle := lipgloss.NewStyle().Foreground(colorYellow)
		for _, w := range t.Warnings {
			out.WriteString(warnStyle.Render("⚠ "+w) + "\n")
		}
	}

	if t.VLMText != "" {
		out.WriteString(r.renderMarkdown(t.VLMText))
		out.WriteString("\n")
	}

	if len(t.ToolCallsOut) > 0 {
		nameStyle := lipgloss.NewStyle().Foreground(colorGreen)
		argStyle := lipgloss.NewStyle().Foreground(colorGray)
		for _, c := range t.ToolCallsOut {
			out.WriteString(fmt.Sprintf("  %s %s\n",
				nameStyle.Render(c.Name), argStyle.Render(strings.Join(c.Args, " "))))
		}
	}

	return out.String()
}

func (r *Renderer) renderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}
