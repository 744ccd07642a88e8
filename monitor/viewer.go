package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"lautenbacher.net/regbus/util"
)

const viewerTitle = " REGBUS Register Monitor "

// Viewer is a TUI component showing the sampler summary.
type Viewer struct {
	tuiApp   *tview.Application
	view     *tview.TextView
	ossignal chan os.Signal
	running  atomic.Bool
}

func NewViewer(ossignal chan os.Signal) *Viewer {
	return &Viewer{
		tuiApp:   tview.NewApplication(),
		ossignal: ossignal,
	}
}

// Start runs the TUI until stopSignal is closed or the user quits. It
// should be called as a goroutine.
func (v *Viewer) Start(stopSignal <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	v.setupUI()

	go func() {
		<-stopSignal
		slog.Info("Stopping register monitor TUI...")
		v.tuiApp.Stop()
	}()

	v.running.Store(true)
	err := v.tuiApp.Run()
	v.running.Store(false)
	if err != nil {
		slog.Error("Error running register monitor TUI", "error", err)
		v.quit()
		return
	}
	slog.Info("Register monitor TUI has stopped.")
}

// Follow redraws the view whenever a new snapshot is published until
// stopSignal is closed.
func (v *Viewer) Follow(snapshots *util.Latest[Snapshot], stopSignal <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stopSignal:
			return
		case <-snapshots.C():
			v.Update(snapshots.Value())
		}
	}
}

// Update schedules a redraw with the given snapshot. Safe for concurrent
// use. It is a no-op while the TUI is not running.
func (v *Viewer) Update(snap Snapshot) {
	if !v.running.Load() {
		return
	}
	text := formatSummary(snap)
	v.tuiApp.QueueUpdateDraw(func() {
		v.view.SetText(text)
	})
}

func (v *Viewer) setupUI() {
	v.view = tview.NewTextView()
	v.view.SetDynamicColors(true)
	v.view.SetTextAlign(tview.AlignLeft)
	v.view.SetBackgroundColor(tcell.ColorDarkSlateGray)
	v.view.SetBorder(true).SetTitle(viewerTitle).SetTitleColor(tcell.ColorLightBlue)

	intro := tview.NewTextView()
	intro.SetBorder(true).SetTitleColor(tcell.ColorLightBlue)
	intro.SetText("Polling watched registers. Hit [#ff0000]q[-] to exit")
	intro.SetTextAlign(tview.AlignCenter)
	intro.SetDynamicColors(true)
	intro.SetBackgroundColor(tcell.ColorDarkSlateGray)

	layout := tview.NewFlex().SetDirection(tview.FlexRow)
	layout.AddItem(intro, 3, 1, false)
	layout.AddItem(v.view, 0, 1, true)

	v.tuiApp.SetRoot(layout, true).SetFocus(v.view)
	v.tuiApp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q', 'Q':
			v.tuiApp.Stop()
			v.quit()
		}
		return event
	})
}

// quit asks the main loop to shut down unless a signal is already pending.
func (v *Viewer) quit() {
	select {
	case v.ossignal <- os.Interrupt:
	default:
	}
}

// formatSummary renders one line per register plus a footer with the
// read errors per device.
func formatSummary(snap Snapshot) string {
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("[yellow]%-10s %-5s %-5s %5s %-17s %7s %6s[white]\n",
		"Device", "Reg", "Last", "N", "[min|mean|max]", "median", "stddev"))

	for _, rs := range snap.Registers {
		if rs.Samples == 0 {
			buf.WriteString(fmt.Sprintf("[blue]%-10s[-] 0x%02x  ----  %5d\n", rs.Device, rs.Address, 0))
			continue
		}
		buf.WriteString(fmt.Sprintf("[blue]%-10s[-] 0x%02x  0x%02x  %5d [%4.0f|%4.0f|%4.0f] %7.1f %6.1f\n",
			rs.Device, rs.Address, rs.Last, rs.Samples, rs.Min, rs.Mean, rs.Max, rs.Median, rs.StdDev))
	}

	devices := make([]string, 0, len(snap.Errors))
	for name, n := range snap.Errors {
		if n > 0 {
			devices = append(devices, fmt.Sprintf("%s=%d", name, n))
		}
	}
	if len(devices) > 0 {
		sort.Strings(devices)
		buf.WriteString("[red]read errors:[-] " + strings.Join(devices, " ") + "\n")
	}
	return buf.String()
}
