// Package ops exposes process health and counters to operators. It does not
// serve artifacts.
package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/statuskeeper/internal/ingest"
	"github.com/user/statuskeeper/internal/types"
)

// Status is a point-in-time view of the running process.
type Status struct {
	State          types.ConnState  `json:"state"`
	LastTransition types.Transition `json:"last_transition"`
	Connects       int              `json:"connects"`
	Pending        int64            `json:"pending"`
	Stats          ingest.Snapshot  `json:"stats"`
	Artifacts      int              `json:"artifacts"`
	Ledger         int64            `json:"ledger"`
	Drains         []ingest.Report  `json:"drains,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
}

// Provider produces the current Status.
type Provider interface {
	Status(ctx context.Context) (*Status, error)
}

// History returns the most recent ledger records.
type History interface {
	Tail(ctx context.Context, limit int) ([]*types.ArtifactRecord, error)
}

// Summary renders a Status as a few lines of plain text.
func (s *Status) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s", s.State)
	if s.LastTransition.Reason != "" {
		fmt.Fprintf(&b, " (%s)", s.LastTransition.Reason)
	}
	fmt.Fprintf(&b, "\nConnects: %d\n", s.Connects)
	fmt.Fprintf(&b, "Artifacts: %d (ledger %d)\n", s.Artifacts, s.Ledger)
	fmt.Fprintf(&b, "Live: %d  History: %d  Drains: %d\n", s.Stats.Live, s.Stats.History, s.Stats.Drains)
	fmt.Fprintf(&b, "Stored: %d  Duplicates: %d  Skipped: %d  Failed: %d",
		s.Stats.Stored, s.Stats.Duplicates, s.Stats.Skipped, s.Stats.Failed)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, "\nUptime: %s", time.Since(s.StartedAt).Truncate(time.Second))
	}
	return b.String()
}
