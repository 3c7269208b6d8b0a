package migrate

import (
	"fmt"
	"time"

	"github.com/witmigrate/witmigrate/internal/types"
)

// Summary counts what a run did. Skipped counts items a resumed run
// found already done; Unchanged counts items with nothing to rewrite.
type Summary struct {
	Items     int
	Fixed     int
	Planned   int
	Unchanged int
	Skipped   int
	Failed    int
	Malformed int

	LinksAdded   int
	LinksRemoved int
	LinkFailures int
	Unresolved   int

	DryRun   bool
	Duration time.Duration
}

// Merge adds other's counts into s.
func (s *Summary) Merge(other Summary) {
	s.Items += other.Items
	s.Fixed += other.Fixed
	s.Planned += other.Planned
	s.Unchanged += other.Unchanged
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Malformed += other.Malformed
	s.LinksAdded += other.LinksAdded
	s.LinksRemoved += other.LinksRemoved
	s.LinkFailures += other.LinkFailures
	s.Unresolved += other.Unresolved
	s.Duration += other.Duration
	s.DryRun = s.DryRun || other.DryRun
}

func (s *Summary) add(r ItemReport) {
	s.Items++
	switch r.Status {
	case types.StatusFixed:
		s.Fixed++
	case types.StatusPlanned:
		s.Planned++
	case types.StatusUnchanged:
		s.Unchanged++
	case types.StatusResumed:
		s.Skipped++
	case types.StatusMalformed:
		s.Malformed++
	default:
		s.Failed++
	}
	s.LinksAdded += r.Outcome.Result.Added
	s.LinksRemoved += r.Outcome.Result.Removed
	s.LinkFailures += r.Outcome.Result.Failures()
	s.Unresolved += r.Outcome.Unresolved()
}

// Updated returns the number of items saved (or, on a dry run, that would be).
func (s Summary) Updated() int {
	return s.Fixed + s.Planned
}

// Failures returns the number of items that could not be processed.
func (s Summary) Failures() int {
	return s.Failed + s.Malformed
}

// String renders the end of run line.
func (s Summary) String() string {
	line := fmt.Sprintf("DONE in %s - %d Items, %d Updated, %d Skipped, %d Failures",
		s.Duration.Round(time.Millisecond), s.Items, s.Updated(), s.Unchanged+s.Skipped, s.Failures())
	if s.DryRun {
		line += " (dry run)"
	}
	return line
}
