package storage

import (
	"errors"
	"time"

	"stressq/internal/report"
)

var ErrNotFound = errors.New("run not found")

// Run is one persisted load test.
type Run struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Label     string        `json:"label,omitempty"`
	Report    report.Report `json:"report"`
}

// Entry adapts r for report.Compare.
func (r Run) Entry() report.Entry {
	label := r.Label
	if label == "" {
		label = r.ID
	}
	return report.Entry{Label: label, Report: r.Report}
}
