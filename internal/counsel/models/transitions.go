package models

import (
	"fmt"
	"strings"
	"unicode/utf8"

	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

// ActorKind selects which half of the status table applies.
type ActorKind string

const (
	// ActorSelfService is the owning party (guardian or institution) moving
	// the request through its normal lifecycle.
	ActorSelfService ActorKind = "self_service"
	// ActorAdmin is an operator forcing a status for remediation.
	ActorAdmin ActorKind = "admin"
)

// Justification bounds for admin overrides, counted in characters.
const (
	MinJustificationLength = 10
	MaxJustificationLength = 500
)

type edge struct {
	from Status
	to   Status
}

// normalTransitions is the self-service table. The value is the history
// reason recorded when the caller does not supply one.
var normalTransitions = map[edge]string{
	{StatusPending, StatusRecommended}:  "recommendations generated",
	{StatusRecommended, StatusMatched}:  "institution selected",
	{StatusMatched, StatusInProgress}:   "counseling started",
	{StatusInProgress, StatusCompleted}: "counseling completed",

	{StatusPending, StatusRejected}:     "request cancelled",
	{StatusRecommended, StatusRejected}: "request cancelled",
	{StatusMatched, StatusRejected}:     "request cancelled",
	{StatusInProgress, StatusRejected}:  "request cancelled",
}

// adminTargets is the set an admin may force a request into. COMPLETED is
// absent: completion only happens through IN_PROGRESS -> COMPLETED.
var adminTargets = map[Status]bool{
	StatusPending:     true,
	StatusRecommended: true,
	StatusMatched:     true,
	StatusInProgress:  true,
	StatusRejected:    true,
}

// AdminTargets returns the statuses an admin override may set.
func AdminTargets() []Status {
	out := make([]Status, 0, len(adminTargets))
	for _, s := range AllStatuses() {
		if adminTargets[s] {
			out = append(out, s)
		}
	}
	return out
}

// CheckTransition reports whether actor may move a request from -> to.
// An admin call is never validated against the self-service table and vice
// versa.
func CheckTransition(from, to Status, actor ActorKind) error {
	switch actor {
	case ActorSelfService:
		return checkNormal(from, to)
	case ActorAdmin:
		return checkAdmin(from, to)
	default:
		panic(fmt.Sprintf("counsel: unhandled actor kind %q", string(actor)))
	}
}

// IsAllowed is the boolean form of CheckTransition.
func IsAllowed(from, to Status, actor ActorKind) bool {
	return CheckTransition(from, to, actor) == nil
}

func checkNormal(from, to Status) error {
	if _, ok := normalTransitions[edge{from, to}]; ok {
		return nil
	}
	switch from {
	case StatusCompleted:
		return dErrors.New(dErrors.CodeInvalidTransition, "completed requests cannot be changed")
	case StatusRejected:
		return dErrors.New(dErrors.CodeInvalidTransition, "rejected requests cannot be changed")
	}
	return dErrors.New(dErrors.CodeInvalidTransition,
		fmt.Sprintf("cannot move request from %s to %s", from, to))
}

// checkAdmin applies the override rules in a fixed precedence:
// terminal current state, completion target, target outside the admin set,
// then no-op. A REJECTED -> REJECTED override is therefore a no-op.
func checkAdmin(from, to Status) error {
	if from == StatusCompleted {
		return dErrors.New(dErrors.CodeImmutableTerminalState, "completed requests cannot be changed")
	}
	if to == StatusCompleted {
		return dErrors.New(dErrors.CodeForbiddenTransition,
			"completion cannot be forced; it must follow IN_PROGRESS")
	}
	if !adminTargets[to] {
		return dErrors.New(dErrors.CodeForbiddenTransition,
			fmt.Sprintf("status %s cannot be set by an administrator", to))
	}
	if from == to {
		return dErrors.New(dErrors.CodeNoOpTransition,
			fmt.Sprintf("request is already %s", to))
	}
	return nil
}

// ValidateJustification enforces the 10–500 character rule on admin reasons
// and returns the trimmed text.
func ValidateJustification(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	n := utf8.RuneCountInString(reason)
	if n < MinJustificationLength || n > MaxJustificationLength {
		return "", dErrors.New(dErrors.CodeInvalidJustification,
			fmt.Sprintf("reason must be between %d and %d characters", MinJustificationLength, MaxJustificationLength))
	}
	return reason, nil
}

// defaultReason returns the synthesized history reason for a normal edge.
func defaultReason(from, to Status) string {
	return normalTransitions[edge{from, to}]
}

// clearsMatch reports whether an admin move must drop the matched
// institution and counselor: any move below MATCHED, and a rollback from
// IN_PROGRESS to MATCHED for re-review.
func clearsMatch(from, to Status) bool {
	if to.IsBelow(StatusMatched) {
		return true
	}
	return to == StatusMatched && from == StatusInProgress
}
