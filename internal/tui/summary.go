package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"epubslim/internal/pipeline"
)

type SummaryRow struct {
	Label string
	Value string
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := dimStyle.Render(strings.Repeat("-", labelWidth+valueWidth+3))
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// BatchRows lays out a batch summary for RenderSummary.
func BatchRows(s pipeline.Summary) []SummaryRow {
	return []SummaryRow{
		{Label: "Archives", Value: fmt.Sprintf("%d", s.Archives)},
		{Label: "Packaged", Value: fmt.Sprintf("%d", s.Packaged)},
		{Label: "Unchanged", Value: fmt.Sprintf("%d", s.Unchanged)},
		{Label: "Quarantined", Value: fmt.Sprintf("%d", s.Quarantined)},
		{Label: "Failed", Value: fmt.Sprintf("%d", s.Failed)},
		{Label: "Space saved", Value: FormatBytes(s.BytesSaved)},
	}
}

// RenderReport prints the header, image table and any document problems of
// one archive.
func RenderReport(r *pipeline.Report) string {
	var b strings.Builder

	b.WriteString(fileStyle.Render(r.Archive))
	b.WriteString(" ")
	b.WriteString(lipgloss.NewStyle().Foreground(OutcomeColor(r.Outcome)).Render(outcomeLabel(r)))
	b.WriteString("\n")
	if r.Reason != "" {
		b.WriteString("  " + warnStyle.Render(r.Reason) + "\n")
	}
	if r.OutputPath != "" {
		b.WriteString("  " + dimStyle.Render("output: ") + labelStyle.Render(r.OutputPath) + "\n")
	}
	if r.MovedTo != "" {
		b.WriteString("  " + dimStyle.Render("original: ") + labelStyle.Render(r.MovedTo) + "\n")
	}
	if r.Success() {
		b.WriteString("  " + dimStyle.Render("size: ") + labelStyle.Render(fmt.Sprintf("%s -> %s",
			FormatBytes(r.OriginalSize), FormatBytes(r.OutputSize))) + "\n")
	}

	if len(r.Images) > 0 {
		b.WriteString(ImageTable(r.Images))
		b.WriteString("\n")
	}

	for _, d := range r.Documents {
		if d.Error != "" {
			b.WriteString("  " + bulletStyle.Render("-") + " " + errorStyle.Render(d.Name+": "+d.Error) + "\n")
		}
		for _, w := range d.Warnings {
			b.WriteString("  " + bulletStyle.Render("-") + " " + dimStyle.Render(d.Name+": "+w) + "\n")
		}
	}
	for _, w := range r.Warnings {
		b.WriteString("  " + bulletStyle.Render("-") + " " + dimStyle.Render(w) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ImageTable renders the per-image rows.
func ImageTable(images []pipeline.ImageReport) string {
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		name := img.Name
		if img.Renamed {
			name += " -> " + img.NewName
		}
		status := string(img.ReferenceStatus)
		if img.Error != "" {
			status = img.Error
		}
		rows = append(rows, []string{
			name,
			FormatBytes(img.OriginalSize),
			FormatBytes(img.NewSize),
			fmt.Sprintf("%.1f%%", img.ResizePercent),
			fmt.Sprintf("%.1f%%", img.CompressionPercent),
			fmt.Sprintf("%d/%d", img.UpdatedReferences, img.TotalReferences),
			status,
		})
	}
	return newTable("Image", "Before", "After", "Area", "Size", "Refs", "Status").Rows(rows...).Render()
}

// AnalyticsTable renders size per directory and suffix.
func AnalyticsTable(a pipeline.Analytics) string {
	rows := [][]string{{"(all)", "", fmt.Sprintf("%d", a.Total.Files), fmt.Sprintf("%.2f", a.Total.MiB()), "100.00"}}
	for _, d := range a.Dirs {
		rows = append(rows, []string{d.Name, "", fmt.Sprintf("%d", d.Files), fmt.Sprintf("%.2f", d.MiB()), fmt.Sprintf("%.2f", d.Percent)})
		for _, s := range d.Suffixes {
			rows = append(rows, []string{"", s.Name, fmt.Sprintf("%d", s.Files), fmt.Sprintf("%.2f", s.MiB()), fmt.Sprintf("%.2f", s.Percent)})
		}
	}
	return newTable("Directory", "Suffix", "Files", "MiB", "%").Rows(rows...).Render()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func outcomeLabel(r *pipeline.Report) string {
	if r.DryRun {
		return "[would be " + string(r.Outcome) + "]"
	}
	return "[" + string(r.Outcome) + "]"
}

// FormatBytes prints n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	if n < unit {
		return fmt.Sprintf("%s%d B", sign, n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %ciB", sign, float64(n)/float64(div), "KMGTPE"[exp])
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

var (
	valueStyle  = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
	fileStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccentAlt).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(ColorInk).Padding(0, 1)
	bulletStyle = lipgloss.NewStyle().Foreground(ColorDim)
	errorStyle  = lipgloss.NewStyle().Foreground(ColorError)
)
