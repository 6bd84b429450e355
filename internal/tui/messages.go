package tui

// RowUpdateMsg updates a single row's fields by column header.
type RowUpdateMsg struct {
	Key    string
	Fields map[string]string
}

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the program quits.
type ErrorMsg struct {
	Err error
}
