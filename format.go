package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// printTable writes aligned columns to the given writer.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// formatSize returns a human-readable size.
func formatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

// drainEvents renders flow events as they stream and returns once the
// emitter closes. Call in a goroutine alongside the flow.
func drainEvents(em *wchsync.ChannelEmitter, done chan<- struct{}) {
	for ev := range em.Events() {
		renderEvent(ev)
	}

	close(done)
}

// renderEvent prints one event line.
func renderEvent(ev wchsync.Event) {
	label := ev.Path
	if label == "" && ev.Item != nil {
		label = ev.Item.Name()
	}

	if label == "" {
		label = ev.ID
	}

	switch ev.Name {
	case wchsync.EventPushed, wchsync.EventPulled, wchsync.EventDeleted,
		wchsync.EventResourcePushed, wchsync.EventResourcePulled:
		statusf("%s %s: %s\n", ev.Name, ev.Service, label)
	case wchsync.EventLocalOnly, wchsync.EventResourceLocalOnly:
		statusf("%s %s: %s (not on server)\n", ev.Name, ev.Service, label)
	default:
		fmt.Fprintf(os.Stderr, "%s %s: %s: %v\n", ev.Name, ev.Service, label, ev.Err)
	}
}
