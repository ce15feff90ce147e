package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/franksops/bbdrain/engine"
)

// RefreshInterval is how often the view polls the drainer.
const RefreshInterval = 200 * time.Millisecond

// StatsSource is anything that can report a live drain snapshot.
type StatsSource interface {
	Stats() engine.Snapshot
}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	source   StatsSource
	state    engine.Snapshot
	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	// throughput is derived from successive snapshots, in bytes per second.
	throughput float64
	lastBytes  int64
	lastSample time.Time
	quitting   bool

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	streamStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg is sent periodically to update the UI state
type TUIUpdateMsg struct {
	State engine.Snapshot
	At    time.Time
}

func NewTUIModel(source StatsSource) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		source:       source,
		state:        source.Stats(),
		spinner:      s,
		progress:     prog,
		lastSample:   time.Now(),
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		streamStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

// Quitting reports whether the user asked to leave the view.
func (m TUIModel) Quitting() bool {
	return m.quitting
}

func (m TUIModel) poll() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return TUIUpdateMsg{State: m.source.Stats(), At: t}
	})
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.poll(),
	)
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case TUIUpdateMsg:
		m.sample(msg)
		if m.state.Done {
			return m, tea.Quit
		}
		cmds = append(cmds, m.poll())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *TUIModel) sample(msg TUIUpdateMsg) {
	m.state = msg.State
	if elapsed := msg.At.Sub(m.lastSample); elapsed > 0 {
		delta := msg.State.WriteSucceeded - m.lastBytes
		m.throughput = float64(delta) / elapsed.Seconds()
	}
	m.lastBytes = msg.State.WriteSucceeded
	m.lastSample = msg.At
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder
	st := m.state

	// Header
	header := fmt.Sprintf("%s bbdrain %s", m.spinner.View(), m.titleStyle.Render("Burst Buffer Drain"))
	sb.WriteString(header + "\n")

	// Global Progress
	var percent float64
	if st.EnqueuedBytes > 0 {
		percent = float64(st.WriteSucceeded) / float64(st.EnqueuedBytes)
		if percent > 1 {
			percent = 1
		}
	}

	opsInfo := fmt.Sprintf("ETA: %s | Queue: %d (max %d) | %s / %s | %s",
		formatETA(percent, m.throughput/1000, st.EnqueuedBytes, st.WriteSucceeded),
		st.Pending, st.MaxQueueDepth,
		humanize.IBytes(uint64(st.WriteSucceeded)), humanize.IBytes(uint64(st.EnqueuedBytes)),
		formatSpeed(m.throughput))

	sb.WriteString(m.infoStyle.Render(opsInfo) + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	// Operation counters
	sb.WriteString("Operations:\n")
	var content strings.Builder
	for _, kind := range []engine.OpKind{
		engine.OpCreate, engine.OpOpen, engine.OpCopy, engine.OpCopyAt,
		engine.OpWrite, engine.OpWriteAt, engine.OpSeekEnd,
	} {
		if n := st.Ops(kind); n > 0 {
			content.WriteString(fmt.Sprintf("%-8s %s\n", kind, m.streamStyle.Render(fmt.Sprint(n))))
		}
	}
	if content.Len() == 0 {
		content.WriteString(m.infoStyle.Render("No operations drained yet..."))
	}
	if failed := st.Skipped + st.Faulted + st.Dropped; failed > 0 {
		content.WriteString(m.errorStyle.Render(fmt.Sprintf(
			"skipped %d | faulted %d | dropped %d", st.Skipped, st.Faulted, st.Dropped)) + "\n")
	}

	m.viewport.SetContent(content.String())
	sb.WriteString(m.viewport.View())

	// Footer
	help := m.helpStyle.Render("q/ctrl+c: leave view (drain continues)")
	if st.Done {
		if st.Mismatch() {
			help = m.errorStyle.Render("Drain finished with partial transfers.")
		} else {
			help = m.successStyle.Render("Drain Complete!")
		}
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

func formatETA(progress float64, bytesPerMs float64, totalBytes, completedBytes int64) string {
	if progress == 0 || bytesPerMs <= 0 || totalBytes == 0 {
		return "Calculating..."
	}

	remainingBytes := totalBytes - completedBytes
	if remainingBytes <= 0 {
		return "0s"
	}

	remainingMs := float64(remainingBytes) / bytesPerMs
	d := time.Duration(remainingMs) * time.Millisecond

	if d.Hours() > 24 {
		return "> 1d"
	}

	return d.Round(time.Second).String()
}
