package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"epubslim/internal/pipeline"
)

type Model struct {
	updates <-chan pipeline.ProgressUpdate
	cancel  func()
	title   string
	started time.Time
	width   int

	archive string
	phase   string

	archivesTotal  int
	archivesDone   int
	imagesTotal    int
	imagesDone     int
	documentsTotal int
	documentsDone  int
	quarantined    int
	errors         int
	bytesSaved     int64
	cancelling     bool
	quitting       bool
}

type doneMsg struct{}

type updateMsg pipeline.ProgressUpdate

// NewModel shows the updates until the channel closes. cancel is called when
// the user presses ctrl+c or q; the model keeps reading so the batch can wind
// down and report.
func NewModel(title string, updates <-chan pipeline.ProgressUpdate, cancel func()) Model {
	return Model{updates: updates, cancel: cancel, title: title, started: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m = m.apply(pipeline.ProgressUpdate(msg))
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) apply(u pipeline.ProgressUpdate) Model {
	if u.Archive != "" && u.Archive != m.archive {
		// Per-archive bars restart with each archive.
		m.archive = u.Archive
		m.imagesTotal, m.imagesDone = 0, 0
		m.documentsTotal, m.documentsDone = 0, 0
	}
	if u.Phase != "" {
		m.phase = u.Phase
	}
	m.archivesTotal += u.ArchivesTotalDelta
	m.archivesDone += u.ArchivesDoneDelta
	m.imagesTotal += u.ImagesTotalDelta
	m.imagesDone += u.ImagesDoneDelta
	m.documentsTotal += u.DocumentsTotalDelta
	m.documentsDone += u.DocumentsDoneDelta
	m.quarantined += u.QuarantinedDelta
	m.errors += u.ErrorDelta
	m.bytesSaved += u.BytesSavedDelta
	return m
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-24)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	elapsed := time.Since(m.started).Round(time.Millisecond)
	current := "waiting"
	if m.archive != "" {
		current = m.archive
		if m.phase != "" {
			current += " · " + m.phase
		}
	}
	if m.cancelling {
		current = "cancelling, finishing " + current
	}

	lines := []string{
		titleStyle.Render(m.title),
		dimStyle.Render(current),
		progressLine("Archives ", m.archivesDone, m.archivesTotal, barWidth),
		progressLine("Images   ", m.imagesDone, m.imagesTotal, barWidth),
		progressLine("Chapters ", m.documentsDone, m.documentsTotal, barWidth),
		labelStyle.Render(fmt.Sprintf("Saved: %s", FormatBytes(m.bytesSaved))) +
			warnStyle.Render(fmt.Sprintf("  quarantined:%d", m.quarantined)) +
			dimStyle.Render(fmt.Sprintf("  errors:%d", m.errors)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
	}

	return strings.Join(lines, "\n")
}

func progressLine(label string, done, total, width int) string {
	ratio := 0.0
	if total > 0 {
		ratio = float64(done) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
	}
	return labelStyle.Render(label) + barStyle.Render(renderBar(width, ratio)) +
		dimStyle.Render(fmt.Sprintf(" %d/%d", done, total))
}

func listenForUpdates(updates <-chan pipeline.ProgressUpdate) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
)
