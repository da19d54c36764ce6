package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"chainput/pkg/types"
	"chainput/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Padding(0, 1)
)

// outcomeLabel names how the run ended: streaming, abandoned or failed.
func outcomeLabel(out *types.Outcome, err error) (string, lipgloss.Style) {
	switch {
	case err != nil:
		return "failed", valueStyle.Copy().Foreground(dangerColor)
	case out.State == types.StateStreaming:
		return string(out.State), valueStyle.Copy().Foreground(accentColor)
	default:
		return string(out.State), valueStyle.Copy().Foreground(warningColor)
	}
}

func renderSummary(out *types.Outcome, err error) string {
	label, style := outcomeLabel(out, err)
	target := out.Target
	if target == "" {
		target = "-"
	}

	metrics := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"Run ID", out.RunID, valueStyle},
		{"Role", string(out.Role), valueStyle},
		{"Index", fmt.Sprintf("%d", out.Index), valueStyle},
		{"Outcome", label, style},
		{"Next host", target, valueStyle},
		{"Dial attempts", fmt.Sprintf("%d", out.Attempts), valueStyle},
		{"Hosts skipped", fmt.Sprintf("%d", out.Advanced), valueStyle},
		{"Started", out.Started.Format(logTimeLayout), valueStyle},
		{"Finished", out.Finished.Format(logTimeLayout), valueStyle},
		{"Duration", out.Duration().Round(time.Millisecond).String(), valueStyle},
	}

	var content strings.Builder
	for _, m := range metrics {
		content.WriteString(labelStyle.Render(m.label+":") + " " + m.style.Render(m.value) + "\n")
	}
	if err != nil {
		content.WriteString(labelStyle.Render("Error:") + " " + style.Render(err.Error()) + "\n")
	}

	d := out.Duration()
	bytes := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		}).
		Headers("STAGE", "BYTES", "RATE").
		Row("received", utils.FormatDataSize(out.Received), utils.FormatRate(out.Received, d)).
		Row("persisted", utils.FormatDataSize(out.Persisted), utils.FormatRate(out.Persisted, d)).
		Row("forwarded", utils.FormatDataSize(out.Forwarded), utils.FormatRate(out.Forwarded, d)).
		Row("drained", utils.FormatDataSize(out.Drained), utils.FormatRate(out.Drained, d))

	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("CHAINPUT RUN"),
		strings.TrimRight(content.String(), "\n"),
		"",
		bytes.Render(),
	)
	return panelStyle.Render(body)
}

func printSummary(w io.Writer, out *types.Outcome, err error) {
	if out == nil {
		return
	}
	fmt.Fprintln(w, renderSummary(out, err))
}
