package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StatusWriter shows a single spinning status line, used for phases with
// no per-item table such as refreshing the package index.
type StatusWriter struct {
	w          io.Writer
	mu         sync.Mutex
	message    string
	phaseStart time.Time
	done       chan struct{}
	stopped    bool
}

// NewStatusWriter starts the spinner on w.
func NewStatusWriter(w io.Writer, msg string) *StatusWriter {
	sw := &StatusWriter{
		w:          w,
		message:    msg,
		phaseStart: time.Now(),
		done:       make(chan struct{}),
	}
	go sw.loop()
	return sw
}

// Update replaces the message and restarts the phase timer.
func (sw *StatusWriter) Update(msg string) {
	sw.mu.Lock()
	sw.message = msg
	sw.phaseStart = time.Now()
	sw.mu.Unlock()
}

// Stop clears the status line. Calling it again is a no-op.
func (sw *StatusWriter) Stop() {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	sw.mu.Unlock()
	close(sw.done)
	fmt.Fprint(sw.w, "\r\033[K")
}

func (sw *StatusWriter) loop() {
	tick := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			sw.mu.Lock()
			msg, start := sw.message, sw.phaseStart
			sw.mu.Unlock()

			spinner := spinnerFrames[tick%len(spinnerFrames)]
			tick++
			fmt.Fprintf(sw.w, "\r\033[K%s %s (%s)", spinner, msg, formatElapsed(time.Since(start)))
		}
	}
}

func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
