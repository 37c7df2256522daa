package tui

// RowUpdateMsg sets fields of the row with the given key, by column
// header. The row is created when it does not exist yet.
type RowUpdateMsg struct {
	Key    string
	Fields map[string]string
}

// ExpectMsg announces how many rows the work will produce.
type ExpectMsg int

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the program quits.
type ErrorMsg struct {
	Err error
}
