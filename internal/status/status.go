// Package status writes the human/monitoring-readable status file: one
// '|'-delimited line per target, truncate-and-rewrite on every flush.
package status

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fichtner/apinger/internal/target"
)

// Writer rewrites the status file from scratch on every Write call.
// Readers of the status file are advisory, so a plain os.WriteFile
// (truncate and rewrite, no atomic rename) is sufficient here.
type Writer struct {
	path string
}

// New returns a Writer for path. An empty path disables writing.
func New(path string) *Writer {
	return &Writer{path: path}
}

// Write renders and persists one line per target.
func (w *Writer) Write(targets []*target.Target) error {
	if w.path == "" {
		return nil
	}
	var b strings.Builder
	for _, t := range targets {
		b.WriteString(renderLine(t))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(w.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("status: write %s: %w", w.path, err)
	}
	return nil
}

func renderLine(t *target.Target) string {
	avgDelay, delayKnown := t.AvgDelay()
	avgLoss, lossKnown := t.AvgLoss()

	delayStr := "n/a"
	if delayKnown {
		delayStr = fmt.Sprintf("%.3f", avgDelay)
	}
	lossStr := "n/a"
	if lossKnown {
		lossStr = fmt.Sprintf("%.1f", avgLoss)
	}

	return fmt.Sprintf("%s | %s | %s | %d | %d | %d | %s | %s | %s",
		t.Name, t.SourceIP, t.Description,
		t.LastSent+1, t.Received, t.LastReceivedTime.Sec,
		delayStr, lossStr, statusTag(t))
}

// statusTag applies status-tag precedence: force_down overrides any
// active alarm names, which override "none".
func statusTag(t *target.Target) string {
	if t.ForceDown {
		return "force_down"
	}
	var names []string
	for name, b := range t.Alarms {
		if b.Active {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
