// Package monitor is the live TUI dashboard for observing sync activity:
// goals, the pending mutation queue, dead letters, and the orchestrator's
// status line.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/queue"
	"github.com/morlinbrot/goaldy/internal/repo"
	gsync "github.com/morlinbrot/goaldy/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelGoals Panel = iota
	PanelQueue
	PanelDeadLetters
)

// Deps are the collaborators the monitor reads from. Probe reports server
// reachability; it is called on every refresh tick.
type Deps struct {
	Orch  *gsync.Orchestrator
	Queue *queue.Queue
	Goals *repo.Repository[*models.Goal]
	Probe func(ctx context.Context) bool
}

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	deps Deps

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Goals       []*models.Goal
	Pending     []*queue.Item
	DeadLetters []*queue.DeadLetter
	LastSyncAt  *time.Time

	// Sync state
	Status    gsync.Status
	StatusMsg string
	Online    bool

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Spinner      spinner.Model
	Err          error

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 60

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Goals       []*models.Goal
	Pending     []*queue.Item
	DeadLetters []*queue.DeadLetter
	LastSyncAt  *time.Time
	Status      gsync.Status
	StatusMsg   string
	Online      bool
	Err         error
	Timestamp   time.Time
}

// SyncDoneMsg reports the outcome of a manually triggered sync
type SyncDoneMsg struct {
	Result gsync.Result
	Err    error
}

// NewModel creates a new monitor model
func NewModel(deps Deps, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		deps:            deps,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelGoals,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Goals = msg.Goals
		m.Pending = msg.Pending
		m.DeadLetters = msg.DeadLetters
		m.LastSyncAt = msg.LastSyncAt
		m.Status = msg.Status
		m.StatusMsg = msg.StatusMsg
		m.Online = msg.Online
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil

	case SyncDoneMsg:
		if msg.Err != nil && msg.Err != gsync.ErrSyncInProgress {
			m.Err = msg.Err
		}
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelGoals
		return m, nil

	case "2":
		m.ActivePanel = PanelQueue
		return m, nil

	case "3":
		m.ActivePanel = PanelDeadLetters
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "s":
		return m, m.triggerSync()

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		return FetchData(deps)
	}
}

// triggerSync runs a full sync cycle off the UI loop
func (m Model) triggerSync() tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if deps.Probe != nil {
			deps.Probe(ctx)
		}
		result, err := deps.Orch.FullSync(ctx)
		return SyncDoneMsg{Result: result, Err: err}
	}
}
