package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"avocado/internal/prune"
)

// Volume table columns.
var VolumeColumns = []Column{
	{Header: "VOLUME", Width: 40},
	{Header: "STATUS", Width: 10},
	{Header: "REASON", Width: 50},
}

// NewVolumeTable pre-populates one pending row per volume.
func NewVolumeTable(names []string) TableModel {
	m := NewTableModel("volumes", VolumeColumns)
	for _, name := range names {
		m.AddRow(name, []string{name, "pending", ""})
	}
	return m
}

// PruneReporter turns prune progress into row updates.
type PruneReporter struct {
	send func(tea.Msg)
}

func NewPruneReporter(send func(tea.Msg)) *PruneReporter {
	return &PruneReporter{send: send}
}

// Classified implements prune.Reporter.
func (r *PruneReporter) Classified(v prune.Verdict) {
	status := "active"
	if v.Abandoned {
		status = "abandoned"
	}
	r.send(RowUpdateMsg{Key: v.Name, Fields: map[string]string{
		"STATUS": status,
		"REASON": NonEmptyOrDash(v.Reason),
	}})
}

// Removed implements prune.Reporter.
func (r *PruneReporter) Removed(name string) {
	r.send(RowUpdateMsg{Key: name, Fields: map[string]string{"STATUS": "removed"}})
}

// Failed implements prune.Reporter.
func (r *PruneReporter) Failed(name string, err error) {
	r.send(RowUpdateMsg{Key: name, Fields: map[string]string{
		"STATUS": "failed",
		"REASON": err.Error(),
	}})
}

var _ prune.Reporter = (*PruneReporter)(nil)
