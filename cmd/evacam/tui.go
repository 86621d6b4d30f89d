package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	evacam "github.com/Bin1119/EVA-CAM"
)

// holdWindow is how long a direction stays held after the latest key event.
// Terminals report key repeats but never releases, so release is synthesized:
// each repeat re-arms the timer, and silence past the window counts as key-up.
const holdWindow = 150 * time.Millisecond

// refreshEvery paces the status redraw.
const refreshEvery = 100 * time.Millisecond

var keyDirections = map[string]evacam.Direction{
	"up":   evacam.DirXPos,
	"down": evacam.DirXNeg,
	"d":    evacam.DirYPos,
	"a":    evacam.DirYNeg,
	"w":    evacam.DirZPos,
	"s":    evacam.DirZNeg,
	"q":    evacam.DirYawPos,
	"e":    evacam.DirYawNeg,
}

type tickMsg time.Time

type noticeMsg string

type model struct {
	session *evacam.SessionController
	tracker *evacam.DirectionTracker
	cfg     evacam.Config

	mu     sync.Mutex
	timers map[evacam.Direction]*time.Timer

	notice   string
	quitting bool
}

func newModel(session *evacam.SessionController, cfg evacam.Config) *model {
	return &model{
		session: session,
		tracker: session.Tracker(),
		cfg:     cfg,
		timers:  make(map[evacam.Direction]*time.Timer),
	}
}

func (m *model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			m.releaseAll()
			return m, tea.Quit

		case "esc":
			m.releaseAll()
			m.session.EmergencyStop()
			m.notice = "EMERGENCY STOP — press r to reset once the arm is still"
			return m, nil

		case "r":
			return m, m.resetCmd()

		default:
			if d, ok := keyDirections[msg.String()]; ok {
				m.press(d)
			}
			return m, nil
		}
	}
	return m, nil
}

// press records a key-down and re-arms the synthetic release timer.
func (m *model) press(d evacam.Direction) {
	m.tracker.KeyDown(d, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[d]; ok {
		t.Reset(holdWindow)
		return
	}
	m.timers[d] = time.AfterFunc(holdWindow, func() {
		m.tracker.KeyUp(d)
	})
}

// releaseAll drops every held direction immediately.
func (m *model) releaseAll() {
	m.mu.Lock()
	for d, t := range m.timers {
		t.Stop()
		delete(m.timers, d)
		m.tracker.KeyUp(d)
	}
	m.mu.Unlock()
	m.tracker.Clear()
}

// resetCmd clears the emergency latch and restarts interactive control.
func (m *model) resetCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.session.ResetEmergency(ctx); err != nil {
			return noticeMsg(fmt.Sprintf("reset refused: %v", err))
		}
		if err := m.session.StartInteractive(context.Background()); err != nil {
			return noticeMsg(fmt.Sprintf("restart failed: %v", err))
		}
		return noticeMsg("emergency stop reset, control resumed")
	}
}

func (m *model) View() string {
	if m.quitting {
		return "shutting down...\n"
	}

	st := m.session.Status()
	var b strings.Builder

	b.WriteString("EVA-CAM interactive control\n\n")
	fmt.Fprintf(&b, "  loop: %-9s  emergency: %-5v  recording: %v\n",
		st.LoopState, st.EmergencyTripped, st.Recording)
	if st.SessionID != "" {
		fmt.Fprintf(&b, "  session: %s\n", st.SessionID)
	}
	p := st.CommandedPose
	fmt.Fprintf(&b, "  pose: x=%.1f y=%.1f z=%.1f  roll=%.1f pitch=%.1f yaw=%.1f\n",
		p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)

	held := m.tracker.Snapshot().Directions()
	if len(held) > 0 {
		names := make([]string, len(held))
		for i, d := range held {
			names[i] = d.String()
		}
		fmt.Fprintf(&b, "  held: %s\n", strings.Join(names, " "))
	} else {
		b.WriteString("  held: none\n")
	}

	if m.notice != "" {
		fmt.Fprintf(&b, "\n  %s\n", m.notice)
	}

	b.WriteString("\n  w/s ±z   a/d ±y   ↑/↓ ±x   q/e yaw   esc emergency stop   r reset   ctrl+c quit\n")
	return b.String()
}
