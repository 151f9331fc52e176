package transfer

import (
	"fmt"
	"time"
)

// Outcome is the overall result of a batch.
type Outcome string

const (
	OutcomeAllSucceeded   Outcome = "all_succeeded"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeNothingToDo    Outcome = "nothing_to_do"
)

// BatchSummary counts the results of one session.
type BatchSummary struct {
	Submitted int
	Completed int
	Failed    int
	Cancelled int
	Duration  time.Duration
}

// Outcome picks the headline result. Any cancellation marks the batch as
// cancelled, even if some tasks also failed.
func (s BatchSummary) Outcome() Outcome {
	switch {
	case s.Submitted == 0:
		return OutcomeNothingToDo
	case s.Cancelled > 0:
		return OutcomeCancelled
	case s.Failed > 0:
		return OutcomePartialFailure
	}
	return OutcomeAllSucceeded
}

// ExitCode maps the outcome onto a process exit status.
func (s BatchSummary) ExitCode() int {
	switch s.Outcome() {
	case OutcomePartialFailure:
		return 1
	case OutcomeCancelled:
		return 130
	}
	return 0
}

func (s BatchSummary) String() string {
	switch s.Outcome() {
	case OutcomeNothingToDo:
		return "nothing to do"
	case OutcomeCancelled:
		return fmt.Sprintf("cancelled: %d of %d task(s) completed", s.Completed, s.Submitted)
	case OutcomePartialFailure:
		return fmt.Sprintf("succeeded with %d failure(s): %d of %d task(s) completed", s.Failed, s.Completed, s.Submitted)
	}
	return fmt.Sprintf("all %d task(s) completed", s.Submitted)
}

// Describe phrases the summary for a batch of one kind.
func (s BatchSummary) Describe(kind Kind) string {
	noun, verb := "file(s)", "uploaded"
	if kind == KindDownload {
		noun, verb = "repository download(s)", "completed"
	}
	switch s.Outcome() {
	case OutcomeNothingToDo:
		return "no files processed"
	case OutcomeCancelled:
		return fmt.Sprintf("%s cancelled (%d/%d %s %s)", kind, s.Completed, s.Submitted, noun, verb)
	case OutcomePartialFailure:
		return fmt.Sprintf("%s complete with errors (%d/%d %s failed)", kind, s.Failed, s.Submitted, noun)
	}
	return fmt.Sprintf("all %d %s %s", s.Submitted, noun, verb)
}
