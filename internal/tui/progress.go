package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tickInterval = 150 * time.Millisecond

// tickMsg drives the footer spinner.
type tickMsg time.Time

// Column defines a single column of a TableModel.
type Column struct {
	Header string
	Width  int
}

// Row holds the field values for a single table row.
type Row struct {
	Key    string
	Fields []string
}

// TableModel is a bubbletea model that renders one row per item of work
// and restyles the STATUS column as rows settle. Rows whose status is still
// "pending" count as outstanding in the footer.
type TableModel struct {
	columns  []Column
	rows     []Row
	rowIndex map[string]int
	noun     string
	done     bool
	err      error

	statusCol int
	tick      int
}

// NewTableModel creates a model whose footer counts noun, e.g. "volumes".
func NewTableModel(noun string, columns []Column) TableModel {
	statusCol := -1
	for i, c := range columns {
		if strings.EqualFold(c.Header, "STATUS") {
			statusCol = i
			break
		}
	}
	return TableModel{
		columns:   columns,
		rowIndex:  make(map[string]int),
		noun:      noun,
		statusCol: statusCol,
	}
}

// AddRow pre-populates a row. Call this before the program starts.
func (m *TableModel) AddRow(key string, fields []string) {
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

func (m TableModel) Init() tea.Cmd {
	return scheduleTick()
}

func (m TableModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, scheduleTick()

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
		if msg.String() == "ctrl+c" {
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *TableModel) applyRowUpdate(msg RowUpdateMsg) {
	idx, ok := m.rowIndex[msg.Key]
	if !ok {
		return
	}
	row := &m.rows[idx]
	for j, col := range m.columns {
		if val, exists := msg.Fields[col.Header]; exists {
			row.Fields[j] = val
		}
	}
}

func (m TableModel) View() string {
	if m.done && m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}

	widths := make([]int, len(m.columns))
	for i, col := range m.columns {
		widths[i] = max(len(col.Header), col.Width)
	}

	var b strings.Builder
	header := make([]string, len(m.columns))
	for i, col := range m.columns {
		header[i] = HeaderStyle.Render(pad(col.Header, widths[i]))
	}
	b.WriteString(strings.Join(header, "  "))
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
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
		b.WriteByte('\n')
	}

	if !m.done {
		settled, total := m.progressCounts()
		spinner := spinnerFrames[m.tick%len(spinnerFrames)]
		fmt.Fprintf(&b, "\n%s Checking %d/%d %s...\n", spinner, settled, total, m.noun)
	}
	return b.String()
}

// progressCounts returns (settled, total) rows.
func (m TableModel) progressCounts() (int, int) {
	total := len(m.rows)
	if m.statusCol < 0 {
		return 0, total
	}
	settled := 0
	for _, row := range m.rows {
		status := strings.TrimSpace(row.Fields[m.statusCol])
		if status != "" && status != "pending" {
			settled++
		}
	}
	return settled, total
}

func (m TableModel) Done() bool { return m.done }

func (m TableModel) Err() error { return m.err }

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// NonEmptyOrDash returns "-" for empty/whitespace strings.
func NonEmptyOrDash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

// TruncateWithEllipsis truncates a string and adds "..." if it exceeds max length.
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
