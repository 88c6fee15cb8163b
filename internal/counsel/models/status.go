package models

import (
	"fmt"
	"strings"

	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

// Status is the lifecycle state of a counsel request.
// Invariant: the value is one of the six constants below.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusRecommended Status = "RECOMMENDED"
	StatusMatched     Status = "MATCHED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusRejected    Status = "REJECTED"
)

// AllStatuses lists every status in lifecycle order, REJECTED last.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusRecommended,
		StatusMatched,
		StatusInProgress,
		StatusCompleted,
		StatusRejected,
	}
}

// ParseStatus constructs a Status from external input (case-insensitive).
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" {
		return "", dErrors.New(dErrors.CodeValidation, "status is required")
	}
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRecommended, StatusMatched, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether normal flow can leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// stage is the position on the main path PENDING..COMPLETED. REJECTED sits
// off the path and reports -1.
func (s Status) stage() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRecommended:
		return 1
	case StatusMatched:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted:
		return 4
	case StatusRejected:
		return -1
	default:
		panic(fmt.Sprintf("counsel: unhandled status %q", string(s)))
	}
}

// IsBelow reports whether s is an earlier main-path stage than other.
// REJECTED is never below anything.
func (s Status) IsBelow(other Status) bool {
	if s == StatusRejected || other == StatusRejected {
		return false
	}
	return s.stage() < other.stage()
}

func (s Status) String() string {
	return string(s)
}
