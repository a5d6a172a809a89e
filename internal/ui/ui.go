// Package ui is the tracker's terminal display: a sky view, the target
// list, and the banner/keyboard surface of the control loop. It owns the
// terminal; everything it shows comes from fusion snapshots and
// controller status reads, so it never blocks the control loop.
package ui

import (
	"context"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/model"
	"github.com/signalsfoundry/nexplane/tracking"
)

// refreshInterval is the display repaint cadence.
const refreshInterval = 200 * time.Millisecond

// biasStep is one arrow-key nudge (0.05 degrees).
var biasStep = astro.DegToRad(0.05)

// gainStep scales a gain by ±10% per keypress.
const gainStep = 1.1

// Fusion supplies the target list.
type Fusion interface {
	Snapshot(ctx context.Context) []model.Target
}

// Control is the slice of the controller the display drives.
type Control interface {
	Status() tracking.Status
	Track(hex string)
	NudgeBias(dAz, dEl float64)
	SetGains(kp, ki, kd float64)
}

// tickMsg drives the repaint timer.
type tickMsg time.Time

// Model is the bubbletea model for the tracker display.
type Model struct {
	fusion  Fusion
	control Control

	staleAfter time.Duration
	monochrome bool

	width, height int
	cursor        int

	targets []model.Target
	status  tracking.Status
}

// New builds the display model.
func New(fusion Fusion, control Control, staleAfter time.Duration, monochrome bool) Model {
	return Model{
		fusion:     fusion,
		control:    control,
		staleAfter: staleAfter,
		monochrome: monochrome,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.targets = m.fusion.Snapshot(context.Background())
		sort.Slice(m.targets, func(i, j int) bool {
			return m.targets[i].Hex < m.targets[j].Hex
		})
		if m.cursor >= len(m.targets) {
			m.cursor = max(0, len(m.targets)-1)
		}
		m.status = m.control.Status()
		return m, tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	st := m.status
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		if m.cursor < len(m.targets)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}

	case "enter", "t":
		if m.cursor < len(m.targets) {
			m.control.Track(m.targets[m.cursor].Hex)
		}
	case "esc":
		m.control.Track("")

	// Manual pointing bias. "Up" always means up on the sky; the
	// controller rotates the bias into the mount frame.
	case "shift+up":
		m.control.NudgeBias(0, biasStep)
	case "shift+down":
		m.control.NudgeBias(0, -biasStep)
	case "shift+left":
		m.control.NudgeBias(-biasStep, 0)
	case "shift+right":
		m.control.NudgeBias(biasStep, 0)

	case "1":
		m.control.SetGains(st.Kp/gainStep, st.Ki, st.Kd)
	case "2":
		m.control.SetGains(st.Kp*gainStep, st.Ki, st.Kd)
	case "3":
		m.control.SetGains(st.Kp, st.Ki/gainStep, st.Kd)
	case "4":
		m.control.SetGains(st.Kp, st.Ki*gainStep, st.Kd)
	case "5":
		m.control.SetGains(st.Kp, st.Ki, st.Kd/gainStep)
	case "6":
		m.control.SetGains(st.Kp, st.Ki, st.Kd*gainStep)
	}
	return m, nil
}

// Run starts the display program and blocks until it exits.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
