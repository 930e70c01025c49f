// Package retroscan provides a fullscreen terminal surface-scan display
// styled like an old DOS disk utility: one glyph per sector, phases per
// media region. The UI owns the sector state map; callers mark sectors
// good or bad as they verify them.
package retroscan

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is returned when the user requests to stop the scan.
var ErrInterrupted = errors.New("interrupted")

// Sector states tracked by the UI.
const (
	stateUnseen = iota
	stateGood
	stateBad
)

// UI is the fullscreen scan display.
type UI struct {
	s         tcell.Screen
	stopChan  chan struct{}
	once      sync.Once
	closeOnce sync.Once
	closed    bool

	title        string
	summaryLines []string
	legendLines  []string
	statusLines  []string
	phases       []string
	phaseDone    map[string]bool

	mu         sync.Mutex
	state      []byte
	currentPos int64
	goodCount  int64
	badCount   int64
}

// NewUI initializes the terminal screen and starts the key-event loop.
func NewUI(totalSectors int64) (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	u := newUIWithScreen(s, totalSectors)
	go u.eventLoop()
	return u, nil
}

func newUIWithScreen(s tcell.Screen, totalSectors int64) *UI {
	s.DisableMouse()
	return &UI{
		s:         s,
		stopChan:  make(chan struct{}),
		phaseDone: make(map[string]bool),
		state:     make([]byte, totalSectors),
	}
}

// Close restores the terminal. Safe to call more than once.
func (u *UI) Close() {
	u.closeOnce.Do(func() {
		u.RequestStop()
		u.closed = true
		u.s.Fini()
		fmt.Print("\033[?1049l\033[?25h")
	})
}

// RequestStop signals that the user asked to stop. Safe to call more than
// once.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stopChan)
		u.s.PostEvent(tcell.NewEventInterrupt(nil))
	})
}

// IsStopped reports whether a stop was requested.
func (u *UI) IsStopped() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// SetTitle sets the line shown at the top of the screen.
func (u *UI) SetTitle(t string) { u.title = t }

// SetSummaryLines sets the informational lines below the title.
func (u *UI) SetSummaryLines(lines []string) {
	u.summaryLines = append([]string(nil), lines...)
}

// SetLegend sets the glyph-legend lines.
func (u *UI) SetLegend(lines []string) {
	u.legendLines = append([]string(nil), lines...)
}

// SetStatusLines sets the status block at the bottom.
func (u *UI) SetStatusLines(lines []string) {
	u.statusLines = append([]string(nil), lines...)
}

// SetPhases sets the phase checklist, one entry per media region.
func (u *UI) SetPhases(labels []string) {
	u.phases = append([]string(nil), labels...)
}

// SetPhaseDone checks off a phase; the name is case-insensitive.
func (u *UI) SetPhaseDone(p string) {
	u.phaseDone[strings.ToLower(p)] = true
}

// MarkGood records a readable sector.
func (u *UI) MarkGood(sector int64) { u.mark(sector, stateGood) }

// MarkBad records an unreadable sector.
func (u *UI) MarkBad(sector int64) { u.mark(sector, stateBad) }

func (u *UI) mark(sector int64, st byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if sector < 0 || sector >= int64(len(u.state)) {
		return
	}
	switch u.state[sector] {
	case stateGood:
		u.goodCount--
	case stateBad:
		u.badCount--
	}
	u.state[sector] = st
	if st == stateGood {
		u.goodCount++
	} else {
		u.badCount++
	}
	if sector > u.currentPos {
		u.currentPos = sector
	}
}

// Counts returns how many sectors verified good and bad so far.
func (u *UI) Counts() (good, bad int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.goodCount, u.badCount
}

func putStr(s tcell.Screen, x, y int, str string) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, tcell.StyleDefault)
	}
}

// LayoutAndDraw redraws the whole screen from current state.
func (u *UI) LayoutAndDraw() {
	if u.closed {
		return
	}
	u.s.Clear()
	w, h := u.s.Size()
	y := 0

	if u.title != "" {
		putStr(u.s, 0, y, strings.Repeat("═", w))
		putStr(u.s, (w-len(u.title))/2, y, u.title)
		y++
	}
	for _, line := range u.summaryLines {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line)
		y++
	}
	for _, line := range u.legendLines {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line)
		y++
	}

	// Sector map, scrolled to follow the scan position.
	mapRows := h - y - 7
	if mapRows < 1 {
		mapRows = 1
	}
	u.drawMap(w, mapRows, y)
	y += mapRows

	if len(u.phases) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w))
		putStr(u.s, 2, y, " Regions ")
		y++
		var b strings.Builder
		for i, p := range u.phases {
			if i > 0 {
				b.WriteByte(' ')
			}
			mark := ' '
			if u.phaseDone[strings.ToLower(p)] {
				mark = '✓'
			}
			fmt.Fprintf(&b, "[%c]%s", mark, p)
		}
		putStr(u.s, 0, y, b.String())
		y++
	}

	if len(u.statusLines) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w))
		putStr(u.s, 2, y, " Status ")
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line)
			y++
		}
	}

	u.s.Show()
}

func (u *UI) drawMap(w, rows, top int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	total := int64(len(u.state))
	cells := int64(w * rows)
	start := int64(0)
	if total > cells {
		if u.currentPos >= cells-1 {
			start = u.currentPos - (cells - 1)
		}
		if start+cells > total {
			start = total - cells
		}
		if start < 0 {
			start = 0
		}
	}

	const (
		glyphUnseen = '░'
		glyphGood   = '█'
		glyphBad    = '✗'
	)
	for row := 0; row < rows; row++ {
		var b strings.Builder
		b.Grow(w)
		for col := 0; col < w; col++ {
			abs := start + int64(row*w+col)
			if abs >= total {
				break
			}
			switch u.state[abs] {
			case stateGood:
				b.WriteRune(glyphGood)
			case stateBad:
				b.WriteRune(glyphBad)
			default:
				b.WriteRune(glyphUnseen)
			}
		}
		putStr(u.s, 0, top+row, b.String())
	}
}

func (u *UI) eventLoop() {
	for {
		select {
		case <-u.stopChan:
			return
		default:
		}
		ev := u.s.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC:
				u.RequestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				u.RequestStop()
			case ev.Key() == tcell.KeyEscape:
				u.RequestStop()
			}
		case *tcell.EventResize:
			u.s.Sync()
		case *tcell.EventInterrupt:
			return
		case nil:
			return
		}
	}
}
