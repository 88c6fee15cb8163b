package models

import (
	"math"
	"time"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
)

// ListFilter narrows the admin request listing. Zero values mean "any".
type ListFilter struct {
	Status        Status
	CareType      string
	InstitutionID *id.InstitutionID
	CounselorID   *id.CounselorID
	From          *time.Time
	To            *time.Time
	// Search matches case-insensitively against center name and child name.
	Search string
	Page   int
	Limit  int
}

// Offset returns the row offset for a 1-based page. It saturates at
// math.MaxInt instead of overflowing.
func (f ListFilter) Offset() int {
	if f.Page <= 1 || f.Limit <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.Limit {
		return math.MaxInt
	}
	return (f.Page - 1) * f.Limit
}

// ListResult is one page of the admin listing, newest first.
type ListResult struct {
	Items []CounselRequest
	Total int
	Page  int
	Limit int
}

// DateRange bounds statistics by request creation time. Nil ends are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls in the range (inclusive).
func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}
