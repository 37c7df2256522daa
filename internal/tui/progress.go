package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tickInterval = 150 * time.Millisecond

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg time.Time

// Column is one column of the progress table.
type Column struct {
	Header string
	Width  int
}

// Row holds the field values of one table row.
type Row struct {
	Key    string
	Fields []string
}

// ProgressModel renders a table of work items, one row per archive or
// request, with a spinner footer while work is running. Rows are created
// on first update, so callers need not know the item list in advance.
type ProgressModel struct {
	columns  []Column
	rows     []Row
	rowIndex map[string]int
	title    string
	verb     string
	expected int
	done     bool
	err      error
	// cancel is invoked when the user interrupts.
	cancel func()

	statusCol int
	tick      int
}

// NewProgressModel creates a model with the given title and columns. verb
// labels the footer ("Indexing 3/10...").
func NewProgressModel(title, verb string, columns []Column) ProgressModel {
	statusCol := -1
	for i, c := range columns {
		if strings.EqualFold(c.Header, "STATUS") {
			statusCol = i
			break
		}
	}
	if verb == "" {
		verb = "Processing"
	}
	return ProgressModel{
		columns:   columns,
		rowIndex:  make(map[string]int),
		title:     title,
		verb:      verb,
		statusCol: statusCol,
	}
}

// OnCancel registers fn to run when the user presses ctrl+c.
func (m *ProgressModel) OnCancel(fn func()) { m.cancel = fn }

// AddRow pre-populates a row.
func (m *ProgressModel) AddRow(key string, fields []string) {
	padded := make([]string, len(m.columns))
	copy(padded, fields)
	m.rowIndex[key] = len(m.rows)
	m.rows = append(m.rows, Row{Key: key, Fields: padded})
}

func scheduleTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return scheduleTick()
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, scheduleTick()

	case ExpectMsg:
		m.expected = int(msg)
		return m, nil

	case RowUpdateMsg:
		m.applyRowUpdate(msg)
		return m, nil

	case WorkDoneMsg:
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *ProgressModel) applyRowUpdate(msg RowUpdateMsg) {
	idx, ok := m.rowIndex[msg.Key]
	if !ok {
		m.AddRow(msg.Key, nil)
		idx = m.rowIndex[msg.Key]
	}
	row := &m.rows[idx]
	for j, col := range m.columns {
		if val, exists := msg.Fields[col.Header]; exists {
			row.Fields[j] = val
		}
	}
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	if m.done && m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}

	widths := make([]int, len(m.columns))
	for i, col := range m.columns {
		widths[i] = max(len(col.Header), col.Width)
	}

	var b strings.Builder
	if m.title != "" {
		b.WriteString(TitleStyle.Render(m.title))
		b.WriteByte('\n')
	}

	headers := make([]string, len(m.columns))
	for i, col := range m.columns {
		headers[i] = HeaderStyle.Render(pad(col.Header, widths[i]))
	}
	b.WriteString(strings.Join(headers, "  "))
	b.WriteByte('\n')

	for _, row := range m.rows {
		parts := make([]string, len(m.columns))
		for i := range m.columns {
			val := TruncateWithEllipsis(row.Fields[i], widths[i])
			if i == m.statusCol {
				parts[i] = StatusStyle(val).Render(pad(val, widths[i]))
			} else {
				parts[i] = pad(val, widths[i])
			}
		}
		b.WriteString(strings.Join(parts, "  "))
		b.WriteByte('\n')
	}

	if !m.done {
		processed, total := m.progressCounts()
		spinner := spinnerFrames[m.tick%len(spinnerFrames)]
		fmt.Fprintf(&b, "\n%s %s %d/%d...\n", spinner, m.verb, processed, total)
	}
	return b.String()
}

// progressCounts returns how many rows reached a terminal status, and the
// total, which is the expected count when one was announced.
func (m ProgressModel) progressCounts() (int, int) {
	total := max(len(m.rows), m.expected)
	if m.statusCol < 0 {
		return 0, total
	}
	processed := 0
	for _, row := range m.rows {
		if IsTerminalStatus(strings.TrimSpace(row.Fields[m.statusCol])) {
			processed++
		}
	}
	return processed, total
}

// Done reports whether the model has finished.
func (m ProgressModel) Done() bool {
	return m.done
}

// Err returns the fatal error, if any.
func (m ProgressModel) Err() error {
	return m.err
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// NonEmptyOrDash returns "-" for empty or blank strings.
func NonEmptyOrDash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

// TruncateWithEllipsis shortens value to max bytes, ending in "...".
func TruncateWithEllipsis(value string, max int) string {
	if max <= 0 {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
