// Package tui is the interactive search screen: a filter input above one
// table per directory, refreshed as the operator types.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirsearch/internal/query"
)

// Subsystem is the logging subsystem of the renderer.
const Subsystem = "ui"

// headerHeight is the number of lines above the result viewport: the input
// box (3) and the status line.
const headerHeight = 4

// Submitter accepts filters and publishes search snapshots.
// *query.Orchestrator implements it.
type Submitter interface {
	Submit(filter string) uint64
	Updates() <-chan query.Snapshot
}

type snapshotMsg query.Snapshot

type updatesClosedMsg struct{}

// Model is the Bubble Tea model of the search screen.
type Model struct {
	ctx       context.Context // Logging context
	submitter Submitter
	opts      Options
	styles    styles

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	snap   query.Snapshot
	width  int
	height int
}

// New creates the search screen model.
func New(ctx context.Context, submitter Submitter, opts Options) Model {
	st := defaultStyles()

	in := textinput.New()
	in.Placeholder = fmt.Sprintf("%d characters minimum", opts.MinFilterLength)
	in.Prompt = "filter> "
	in.CharLimit = 256
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Spinner

	return Model{
		ctx:       ctx,
		submitter: submitter,
		opts:      opts,
		styles:    st,
		input:     in,
		spinner:   sp,
		viewport:  viewport.New(80, 20),
	}
}

// listen waits for the next snapshot.
func listen(ch <-chan query.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listen(m.submitter.Updates()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)

		if filter := m.input.Value(); filter != before {
			seq := m.submitter.Submit(filter)
			tflog.SubsystemTrace(m.ctx, Subsystem, "Filter submitted", map[string]any{
				"seq":    seq,
				"filter": filter,
			})
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-len(m.input.Prompt)-6, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight, 1)
		m.refreshContent()

	case snapshotMsg:
		wasPending := m.snap.Status == query.StatusPending
		m.snap = query.Snapshot(msg)
		m.refreshContent()
		if m.snap.Status == query.StatusReady {
			m.viewport.GotoTop()
		}
		if m.snap.Status == query.StatusPending && !wasPending {
			cmds = append(cmds, m.spinner.Tick)
		}
		cmds = append(cmds, listen(m.submitter.Updates()))

	case updatesClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		if m.snap.Status == query.StatusPending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// refreshContent renders the current snapshot into the viewport. Results of
// the last completed search stay visible while a new one is pending.
func (m *Model) refreshContent() {
	switch m.snap.Status {
	case query.StatusReady:
		m.viewport.SetContent(renderAggregate(m.snap.Aggregate, m.opts, m.styles))
	case query.StatusIdle, query.StatusFailed:
		m.viewport.SetContent("")
	}
}

// status returns the line shown under the input.
func (m Model) status() string {
	switch m.snap.Status {
	case query.StatusPending:
		return m.spinner.View() + " " + m.styles.Status.Render("search in progress")
	case query.StatusFailed:
		return m.styles.Error.Render("search failed: " + errorText(m.snap.Err))
	case query.StatusReady:
		return m.styles.Status.Render(fmt.Sprintf("%s (%s)",
			matchesSummary(m.snap.Aggregate), m.snap.Elapsed.Round(time.Millisecond)))
	default:
		return ""
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var qe *query.QueryError
	if errors.As(err, &qe) && qe.Err != nil && !qe.Timeout() {
		return qe.Err.Error()
	}
	return err.Error()
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Input.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.status())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	return b.String()
}

// Run shows the search screen until the operator quits or ctx is done.
func Run(ctx context.Context, submitter Submitter, opts Options) error {
	p := tea.NewProgram(New(ctx, submitter, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running search screen: %w", err)
	}
	return nil
}
