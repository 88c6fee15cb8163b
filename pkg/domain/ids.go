package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so that a ChildID can never be passed
// where an InstitutionID is expected.
//
// Usage: construct via the Parse* functions at trust boundaries (handlers,
// webhook payloads, oracle responses). Direct conversion from uuid.UUID is
// fine for freshly generated values.
type (
	UserID           uuid.UUID
	CounselRequestID uuid.UUID
	RecommendationID uuid.UUID
	HistoryEntryID   uuid.UUID
	ChildID          uuid.UUID
	GuardianID       uuid.UUID
	InstitutionID    uuid.UUID
	CounselorID      uuid.UUID
)

// maxIDLength bounds the raw input before it reaches uuid.Parse.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

// ParseUserID parses an actor identifier.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

// ParseCounselRequestID parses a counsel request identifier.
func ParseCounselRequestID(s string) (CounselRequestID, error) {
	u, err := parseUUID("counsel_request_id", s)
	return CounselRequestID(u), err
}

func ParseChildID(s string) (ChildID, error) {
	u, err := parseUUID("child_id", s)
	return ChildID(u), err
}

func ParseGuardianID(s string) (GuardianID, error) {
	u, err := parseUUID("guardian_id", s)
	return GuardianID(u), err
}

func ParseInstitutionID(s string) (InstitutionID, error) {
	u, err := parseUUID("institution_id", s)
	return InstitutionID(u), err
}

func ParseCounselorID(s string) (CounselorID, error) {
	u, err := parseUUID("counselor_id", s)
	return CounselorID(u), err
}

func (id UserID) String() string           { return uuid.UUID(id).String() }
func (id CounselRequestID) String() string { return uuid.UUID(id).String() }
func (id RecommendationID) String() string { return uuid.UUID(id).String() }
func (id HistoryEntryID) String() string   { return uuid.UUID(id).String() }
func (id ChildID) String() string          { return uuid.UUID(id).String() }
func (id GuardianID) String() string       { return uuid.UUID(id).String() }
func (id InstitutionID) String() string    { return uuid.UUID(id).String() }
func (id CounselorID) String() string      { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id CounselRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id InstitutionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Compare orders institution ids by their canonical string form. Ranking uses
// it to break score ties deterministically.
func (id InstitutionID) Compare(other InstitutionID) int {
	return strings.Compare(id.String(), other.String())
}

// MarshalText lets typed IDs serialize as plain UUID strings in JSON.
func (id CounselRequestID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RecommendationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id HistoryEntryID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ChildID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }
func (id GuardianID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id InstitutionID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id CounselorID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)           { return uuid.UUID(id).MarshalText() }
