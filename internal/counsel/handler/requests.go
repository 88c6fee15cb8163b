package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/validation"
)

// SelectInstitutionRequest is the body of POST /counsel-requests/{id}/select-institution.
type SelectInstitutionRequest struct {
	InstitutionID string `json:"institutionId" validate:"required,max=64"`
	CounselorID   string `json:"counselorId" validate:"omitempty,max=64"`

	parsedInstitution id.InstitutionID
	parsedCounselor   *id.CounselorID
}

// Validate implements httputil.Validatable.
func (r *SelectInstitutionRequest) Validate() error {
	r.InstitutionID = strings.TrimSpace(r.InstitutionID)
	r.CounselorID = strings.TrimSpace(r.CounselorID)
	if err := validation.Struct(r); err != nil {
		return err
	}
	institutionID, err := id.ParseInstitutionID(r.InstitutionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidSelection, "institutionId is not a valid identifier")
	}
	r.parsedInstitution = institutionID
	if r.CounselorID != "" {
		counselorID, err := id.ParseCounselorID(r.CounselorID)
		if err != nil {
			return err
		}
		r.parsedCounselor = &counselorID
	}
	return nil
}

// CancelRequest is the body of POST /counsel-requests/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r *CancelRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	return validation.Struct(r)
}

// ForceStatusRequest is the body of PATCH /admin/counsel-requests/{id}/status.
// The justification length rule lives in the model so every caller shares it.
type ForceStatusRequest struct {
	NewStatus string `json:"newStatus" validate:"required"`
	Reason    string `json:"reason" validate:"max=1000"`

	parsedStatus models.Status
}

func (r *ForceStatusRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	status, err := models.ParseStatus(r.NewStatus)
	if err != nil {
		return err
	}
	r.parsedStatus = status
	return nil
}

// parseListFilter reads the admin listing query string. Paging bounds are
// normalised by the service.
func parseListFilter(q url.Values) (models.ListFilter, error) {
	var f models.ListFilter

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	f.CareType = strings.ToUpper(strings.TrimSpace(q.Get("careType")))
	if raw := strings.TrimSpace(q.Get("institutionId")); raw != "" {
		institutionID, err := id.ParseInstitutionID(raw)
		if err != nil {
			return f, err
		}
		f.InstitutionID = &institutionID
	}
	if raw := strings.TrimSpace(q.Get("counselorId")); raw != "" {
		counselorID, err := id.ParseCounselorID(raw)
		if err != nil {
			return f, err
		}
		f.CounselorID = &counselorID
	}

	rng, err := parseDateRange(q)
	if err != nil {
		return f, err
	}
	f.From, f.To = rng.From, rng.To

	f.Search = strings.TrimSpace(q.Get("search"))
	if utf8.RuneCountInString(f.Search) > validation.MaxSearchLength {
		return f, dErrors.New(dErrors.CodeValidation, "search is too long")
	}

	if f.Page, err = intParam(q, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be an integer")
	}
	return n, nil
}

// parseDateRange reads from/to as RFC 3339 timestamps or plain dates. A plain
// "to" date covers that whole day.
func parseDateRange(q url.Values) (models.DateRange, error) {
	var rng models.DateRange
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, _, err := parseTimeParam("from", raw)
		if err != nil {
			return rng, err
		}
		rng.From = &from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, dateOnly, err := parseTimeParam("to", raw)
		if err != nil {
			return rng, err
		}
		if dateOnly {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		rng.To = &to
	}
	return rng, nil
}

func parseTimeParam(name, raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), true, nil
	}
	return time.Time{}, false, dErrors.New(dErrors.CodeValidation, name+" must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
}
