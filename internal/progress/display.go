package progress

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Display periodically renders the tracker state to the terminal
type Display struct {
	tracker  *Tracker
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a new progress display
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and prints the final state
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.render()
		case <-d.stopCh:
			d.render()
			fmt.Println()
			return
		}
	}
}

// render writes a single status line, overwriting the previous one.
func (d *Display) render() {
	status := d.tracker.GetStatus()

	bar := progressBar(d.tracker.GetBytesProgressPercent(), 30)
	line := fmt.Sprintf("\r%s %d/%d files  %s/%s  %s  ETA %s",
		bar,
		status.ProcessedFiles, status.TotalFiles,
		FormatBytes(status.ProcessedBytes), FormatBytes(status.TotalBytes),
		FormatSpeed(status.CurrentSpeed),
		FormatDuration(status.ETA),
	)

	fmt.Print(line + strings.Repeat(" ", 4))
}

func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)

	return fmt.Sprintf("[%s] %5.1f%%", bar, percent)
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
