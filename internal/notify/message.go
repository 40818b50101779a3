package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/crewbridge/internal/sink"
)

// FormatDegradedMessage creates the body sent when a cycle loses most reads.
func FormatDegradedMessage(snap *sink.Snapshot, errs []string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Cycle: %s\n", snap.ID))
	sb.WriteString(fmt.Sprintf("Variables: %d\n", snap.Total))
	sb.WriteString(fmt.Sprintf("Failed: %d (%.0f%%)\n", snap.Failed, snap.FailureRatio()*100))
	sb.WriteString(fmt.Sprintf("Elapsed: %s", (time.Duration(snap.ElapsedMs) * time.Millisecond).Round(time.Millisecond)))

	// Include first 3 error messages if available
	if len(errs) > 0 {
		sb.WriteString("\n\nErrors:\n")
		limit := 3
		if len(errs) < limit {
			limit = len(errs)
		}
		for i := 0; i < limit; i++ {
			sb.WriteString(fmt.Sprintf("- %s\n", errs[i]))
		}
		if len(errs) > 3 {
			sb.WriteString(fmt.Sprintf("... and %d more errors", len(errs)-3))
		}
	}

	return sb.String()
}

// FormatRecoveredMessage creates the body sent when reads succeed again.
func FormatRecoveredMessage(snap *sink.Snapshot, downFor time.Duration) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Cycle: %s\n", snap.ID))
	sb.WriteString(fmt.Sprintf("Variables: %d\n", snap.Total))
	sb.WriteString(fmt.Sprintf("Failed: %d\n", snap.Failed))
	sb.WriteString(fmt.Sprintf("Degraded for: %s", downFor.Round(time.Second)))

	return sb.String()
}
