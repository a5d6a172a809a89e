package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/tracking"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

	commFailStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("231")).Background(lipgloss.Color("196")).Padding(0, 2)

	sunLockStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("16")).Background(lipgloss.Color("226")).Padding(0, 2)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))

	rowStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	staleRowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	selectedRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	trackedRowStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))

	spaceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("NexPlane"))
	b.WriteString("  ")
	b.WriteString(m.banner())
	b.WriteString("\n\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	b.WriteString(m.skyView(44, 12))
	b.WriteString("\n")

	b.WriteString(m.targetTable())
	b.WriteString("\n")
	b.WriteString(staleRowStyle.Render(
		"j/k select · enter track · esc stop · shift+arrows nudge · 1-6 gains · q quit"))
	b.WriteString("\n")
	return b.String()
}

// banner renders the emergency banners.
func (m Model) banner() string {
	switch {
	case m.status.CommFailure:
		return commFailStyle.Render("COMMUNICATION FAILURE")
	case m.status.State == tracking.StateSunLockout:
		return sunLockStyle.Render("SUN LOCKOUT — use the hand controller")
	}
	return rowStyle.Render(m.status.State.String())
}

// statusLine summarizes boresight, sun, gains, and bias.
func (m Model) statusLine() string {
	s := m.status
	return rowStyle.Render(fmt.Sprintf(
		"scope az %6.2f° el %6.2f°   sun az %6.2f° el %6.2f°   bias (%+.2f°, %+.2f°)   kp %.3f ki %.3f kd %.3f",
		astro.RadToDeg(s.ScopeAz), astro.RadToDeg(s.ScopeEl),
		astro.RadToDeg(s.SunAz), astro.RadToDeg(s.SunEl),
		astro.RadToDeg(s.BiasAz), astro.RadToDeg(s.BiasEl),
		s.Kp, s.Ki, s.Kd))
}

// skyView draws an azimuth/elevation chart of the sky above the horizon:
// azimuth 0-360 left to right, elevation 0-90 bottom to top. The Sun's
// keep-out zone is shown as graduated rings of dots at quarter steps out
// to the exclusion radius (5/10/15/20 degrees at the default radius).
func (m Model) skyView(w, h int) string {
	grid := make([][]rune, h)
	for y := range grid {
		grid[y] = make([]rune, w)
		for x := range grid[y] {
			grid[y][x] = ' '
		}
	}

	plot := func(az, el float64, glyph rune, overwrite bool) {
		if el < 0 {
			return
		}
		x := int(astro.WrapRad(az, 0) / (2 * math.Pi) * float64(w))
		y := h - 1 - int(el/(math.Pi/2)*float64(h-1))
		if x >= 0 && x < w && y >= 0 && y < h {
			if overwrite || grid[y][x] == ' ' {
				grid[y][x] = glyph
			}
		}
	}

	// Keep-out rings go in first so targets and markers stay visible on
	// top of them.
	for ring := 1; ring <= 4; ring++ {
		radius := m.status.SunExclusion * float64(ring) / 4
		drawCircle(m.status.SunAz, m.status.SunEl, radius, func(az, el float64) {
			plot(az, el, '.', false)
		})
	}

	for _, g := range m.targets {
		glyph := '+'
		if g.InSpace {
			glyph = '*'
		}
		plot(g.Az, g.El, glyph, true)
	}
	plot(m.status.MoonAz, m.status.MoonEl, 'C', true)
	plot(m.status.SunAz, m.status.SunEl, 'O', true)
	plot(m.status.ScopeAz, m.status.ScopeEl, 'X', true)

	var b strings.Builder
	b.WriteString(headerStyle.Render("N" + strings.Repeat(" ", w/4-1) + "E" +
		strings.Repeat(" ", w/4-1) + "S" + strings.Repeat(" ", w/4-1) + "W"))
	b.WriteString("\n")
	for _, row := range grid {
		b.WriteString(rowStyle.Render(string(row)))
		b.WriteString("\n")
	}
	return b.String()
}

// drawCircle samples a small circle of the given angular radius around a
// sky direction and hands each sample to emit.
func drawCircle(az, el, radius float64, emit func(az, el float64)) {
	if radius <= 0 {
		return
	}
	const samples = 72
	sinEl := math.Sin(el)
	cosEl := math.Cos(el)
	sinR := math.Sin(radius)
	cosR := math.Cos(radius)
	for i := 0; i < samples; i++ {
		bearing := float64(i) / samples * 2 * math.Pi
		pEl := math.Asin(astro.Clamp(sinEl*cosR+cosEl*sinR*math.Cos(bearing), -1, 1))
		pAz := az + math.Atan2(math.Sin(bearing)*sinR*cosEl, cosR-sinEl*math.Sin(pEl))
		emit(pAz, pEl)
	}
}

// targetTable renders the selectable target list.
func (m Model) targetTable() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-10s %7s %7s %9s", "CALLSIGN", "HEX", "AZ", "EL", "RANGE")))
	b.WriteString("\n")

	now := time.Now()
	for i, g := range m.targets {
		line := fmt.Sprintf("%-12s %-10s %6.1f° %6.1f° %8.1fkm",
			g.Callsign, g.Hex,
			astro.RadToDeg(g.Az), astro.RadToDeg(g.El), g.Range/1000)

		style := rowStyle
		switch {
		case i == m.cursor:
			style = selectedRowStyle
		case g.Hex == m.status.TrackedHex:
			style = trackedRowStyle
		case g.Stale(now, m.staleAfter):
			style = staleRowStyle
		case g.InSpace && !m.monochrome:
			style = spaceStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	if len(m.targets) == 0 {
		b.WriteString(staleRowStyle.Render("waiting for targets..."))
		b.WriteString("\n")
	}
	return b.String()
}
