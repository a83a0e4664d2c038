package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/coffer-backup/coffer-go/pkg/log"
)

// Stats holds aggregate statistics about an audit file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Operations        map[string]int
	Statuses          map[string]int
	Sessions          map[string]*SessionStats
	Reloads           int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Requests   int
	Identity   string
	RemoteAddr string
}

// RunStats analyzes the audit file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Operations:        make(map[string]int),
		Statuses:          make(map[string]int),
		Sessions:          make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		collect(stats, event)
	}

	printStats(w, stats)
	return nil
}

func collect(stats *Stats, event log.Event) {
	stats.TotalEvents++
	stats.EventsByLayer[event.Layer]++
	stats.EventsByCategory[event.Category]++
	stats.EventsByDirection[event.Direction]++

	if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
		stats.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(stats.TimeRange.End) {
		stats.TimeRange.End = event.Timestamp
	}

	if event.SessionID != "" {
		sess, ok := stats.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
		if event.Identity != "" && sess.Identity == "" {
			sess.Identity = event.Identity
		}
		if event.RemoteAddr != "" && sess.RemoteAddr == "" {
			sess.RemoteAddr = event.RemoteAddr
		}
		if event.Message != nil && event.Message.Type == log.MessageTypeRequest {
			sess.Requests++
		}
	}

	if event.Message != nil {
		if event.Message.Type == log.MessageTypeRequest && event.Message.Operation != nil {
			stats.Operations[event.Message.Operation.String()]++
		}
		if event.Message.Type == log.MessageTypeResponse && event.Message.Status != nil {
			stats.Statuses[event.Message.Status.String()]++
		}
	}

	if event.StateChange != nil && event.StateChange.Entity == log.StateEntityConfig {
		stats.Reloads++
	}

	if event.Error != nil {
		stats.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Coffer Audit Trail Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Operations) > 0 {
		fmt.Fprintln(w, "Requests by Operation:")
		printSortedCounts(w, stats.Operations)
		fmt.Fprintln(w)
	}

	if len(stats.Statuses) > 0 {
		fmt.Fprintln(w, "Responses by Status:")
		printSortedCounts(w, stats.Statuses)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			shortID := s.id
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}
			fmt.Fprintf(w, "  [%s] %d events, %d requests, duration %s\n",
				shortID, s.stats.Events, s.stats.Requests, duration)
			if s.stats.Identity != "" {
				fmt.Fprintf(w, "           Identity: %s\n", s.stats.Identity)
			}
			if s.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Peer: %s\n", s.stats.RemoteAddr)
			}
		}
	}

	if stats.Reloads > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Config Reloads: %d\n", stats.Reloads)
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func printSortedCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %d\n", k+":", counts[k])
	}
}
