package tui

import (
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RunWithWork starts a bubbletea program for model, runs workFn in a
// goroutine and blocks until the program exits. A non-nil error from
// workFn is shown by the model and returned.
func RunWithWork(out io.Writer, model ProgressModel, workFn func(send func(tea.Msg)) error) error {
	p := tea.NewProgram(model, tea.WithOutput(out))

	go func() {
		// Let the event loop render the first frame.
		time.Sleep(50 * time.Millisecond)

		if err := workFn(p.Send); err != nil {
			p.Send(ErrorMsg{Err: err})
			return
		}
		p.Send(WorkDoneMsg{})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := finalModel.(ProgressModel); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}
