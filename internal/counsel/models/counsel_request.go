package models

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/validation"
)

// CounselRequest is the aggregate root for a child counseling request.
//
// Invariants:
//   - Status changes only through Apply, which consults the status table
//   - MatchedInstitutionID is set only on entering MATCHED through selection
//     and is cleared when an admin rolls the request back for re-matching
//   - CenterName, CareType and ChildName are fixed once the request leaves PENDING
//   - UpdatedAt changes on every transition; Version increments on every write
//
// A CounselRequest value is a snapshot. Apply returns a new snapshot and never
// mutates its receiver, so stores can compare the loaded Version on write.
type CounselRequest struct {
	ID                   id.CounselRequestID `json:"id"`
	ChildID              id.ChildID          `json:"child_id"`
	GuardianID           *id.GuardianID      `json:"guardian_id,omitempty"`
	ChildName            string              `json:"child_name"`
	CenterName           string              `json:"center_name"`
	CareType             string              `json:"care_type"`
	Status               Status              `json:"status"`
	MatchedInstitutionID *id.InstitutionID   `json:"matched_institution_id,omitempty"`
	MatchedCounselorID   *id.CounselorID     `json:"matched_counselor_id,omitempty"`
	FormData             json.RawMessage     `json:"form_data,omitempty"`
	Source               string              `json:"source"`
	RequestDate          time.Time           `json:"request_date"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Version              int64               `json:"-"`
}

// Intake is the normalised payload an intake adapter hands to the lifecycle.
type Intake struct {
	ChildID     id.ChildID
	GuardianID  *id.GuardianID
	ChildName   string
	CenterName  string
	CareType    string
	FormData    json.RawMessage
	RequestDate time.Time
	Source      string
	SubmittedBy string
}

// Sources recorded on new requests.
const (
	SourceGuardian       = "guardian"
	SourceWebhookPrefix  = "webhook:"
	SourceInstitutionApp = "institution"
)

// NewCounselRequest validates intake invariants and builds a PENDING request.
func NewCounselRequest(requestID id.CounselRequestID, in Intake, now time.Time) (*CounselRequest, error) {
	if in.ChildID == (id.ChildID{}) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "child_id is required")
	}
	centerName := strings.TrimSpace(in.CenterName)
	if centerName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "center_name cannot be empty")
	}
	if utf8.RuneCountInString(centerName) > validation.MaxCenterNameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "center_name is too long")
	}
	careType := strings.TrimSpace(in.CareType)
	if careType == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "care_type cannot be empty")
	}
	if utf8.RuneCountInString(careType) > validation.MaxCareTypeLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "care_type is too long")
	}
	childName := strings.TrimSpace(in.ChildName)
	if utf8.RuneCountInString(childName) > validation.MaxChildNameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "child_name is too long")
	}
	if len(in.FormData) > validation.MaxFormDataBytes {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "form_data is too large")
	}
	if len(in.FormData) > 0 && !json.Valid(in.FormData) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "form_data must be valid JSON")
	}
	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = SourceGuardian
	}
	requestDate := in.RequestDate
	if requestDate.IsZero() {
		requestDate = now
	}
	return &CounselRequest{
		ID:          requestID,
		ChildID:     in.ChildID,
		GuardianID:  in.GuardianID,
		ChildName:   childName,
		CenterName:  centerName,
		CareType:    careType,
		Status:      StatusPending,
		FormData:    in.FormData,
		Source:      source,
		RequestDate: requestDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CreationEntry is the first history row of a request. It has no FromStatus.
func (r *CounselRequest) CreationEntry(changedBy string) StatusHistoryEntry {
	return StatusHistoryEntry{
		ID:               id.HistoryEntryID(uuid.New()),
		CounselRequestID: r.ID,
		ToStatus:         StatusPending,
		Reason:           "request submitted via " + r.Source,
		ChangedBy:        changedBy,
		ActorKind:        ActorSelfService,
		ChangedAt:        r.CreatedAt,
	}
}

// Transition describes one requested status change.
type Transition struct {
	To        Status
	ActorID   string
	ActorKind ActorKind
	Reason    string
	At        time.Time

	// Set when To is MATCHED through selection.
	InstitutionID *id.InstitutionID
	CounselorID   *id.CounselorID
}

// Apply checks t against the status table and returns the next snapshot with
// the history entry that records it. The receiver is never modified.
func (r CounselRequest) Apply(t Transition) (CounselRequest, StatusHistoryEntry, error) {
	if err := CheckTransition(r.Status, t.To, t.ActorKind); err != nil {
		return r, StatusHistoryEntry{}, err
	}

	reason := strings.TrimSpace(t.Reason)
	if t.ActorKind == ActorAdmin {
		var err error
		reason, err = ValidateJustification(t.Reason)
		if err != nil {
			return r, StatusHistoryEntry{}, err
		}
	} else if reason == "" {
		reason = defaultReason(r.Status, t.To)
	}

	next := r
	next.Status = t.To
	next.UpdatedAt = t.At

	switch {
	case t.ActorKind == ActorSelfService && t.To == StatusMatched:
		if t.InstitutionID == nil || t.InstitutionID.IsNil() {
			return r, StatusHistoryEntry{}, dErrors.New(dErrors.CodeInvalidSelection, "institution_id is required")
		}
		inst := *t.InstitutionID
		next.MatchedInstitutionID = &inst
		if t.CounselorID != nil {
			counselor := *t.CounselorID
			next.MatchedCounselorID = &counselor
		} else {
			next.MatchedCounselorID = nil
		}
	case t.ActorKind == ActorAdmin && clearsMatch(r.Status, t.To):
		next.MatchedInstitutionID = nil
		next.MatchedCounselorID = nil
	}

	entry := StatusHistoryEntry{
		ID:               id.HistoryEntryID(uuid.New()),
		CounselRequestID: r.ID,
		FromStatus:       r.Status,
		ToStatus:         t.To,
		Reason:           reason,
		ChangedBy:        t.ActorID,
		ActorKind:        t.ActorKind,
		ChangedAt:        t.At,
	}
	return next, entry, nil
}

// HasMatch reports whether a matched institution is recorded.
func (r *CounselRequest) HasMatch() bool {
	return r.MatchedInstitutionID != nil
}

// CanDelete permits physical deletion only while the request is PENDING, so
// in-flight matches are never destroyed.
func (r *CounselRequest) CanDelete() error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeNotDeletable, "only PENDING requests can be deleted")
	}
	return nil
}

// Profile is what the scoring oracle sees of a request.
type Profile struct {
	CounselRequestID id.CounselRequestID
	CareType         string
	CenterName       string
	FormData         json.RawMessage
	Location         string
}

// locationKeys are form fields that carry a location hint, most specific first.
var locationKeys = []string{"address", "region", "district", "city"}

// Profile extracts the oracle input. Location comes from the first string
// location field found in the form data.
func (r *CounselRequest) Profile() Profile {
	p := Profile{
		CounselRequestID: r.ID,
		CareType:         r.CareType,
		CenterName:       r.CenterName,
		FormData:         r.FormData,
	}
	if len(r.FormData) == 0 {
		return p
	}
	var fields map[string]any
	if err := json.Unmarshal(r.FormData, &fields); err != nil {
		return p
	}
	for _, key := range locationKeys {
		if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
			p.Location = strings.TrimSpace(v)
			break
		}
	}
	return p
}
