// Package intake turns external submissions into the normalised models.Intake
// the lifecycle service accepts. Guardians submit through the authenticated
// API; triage chatbots deliver through an unauthenticated webhook that is
// deduplicated per delivery.
package intake

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/validation"
)

// Payload is the request body shared by both intake paths.
type Payload struct {
	ChildID     string          `json:"childId" validate:"required,uuid"`
	GuardianID  string          `json:"guardianId,omitempty" validate:"omitempty,uuid"`
	ChildName   string          `json:"childName,omitempty" validate:"max=100"`
	CenterName  string          `json:"centerName" validate:"required,max=200"`
	CareType    string          `json:"careType" validate:"required,max=50"`
	FormData    json.RawMessage `json:"formData,omitempty"`
	RequestDate *time.Time      `json:"requestDate,omitempty"`
}

// Validate trims the text fields and checks them against the tag rules.
func (p *Payload) Validate() error {
	if p == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	p.ChildID = strings.TrimSpace(p.ChildID)
	p.GuardianID = strings.TrimSpace(p.GuardianID)
	p.ChildName = strings.TrimSpace(p.ChildName)
	p.CenterName = strings.TrimSpace(p.CenterName)
	p.CareType = strings.ToUpper(strings.TrimSpace(p.CareType))

	if err := validation.Struct(p); err != nil {
		return err
	}
	if len(p.FormData) > validation.MaxFormDataBytes {
		return dErrors.New(dErrors.CodeValidation, "formData is too large")
	}
	if len(p.FormData) > 0 {
		if !json.Valid(p.FormData) {
			return dErrors.New(dErrors.CodeValidation, "formData must be valid JSON")
		}
		if string(p.FormData) == "null" {
			p.FormData = nil
		}
	}
	return nil
}

// toIntake converts a validated payload. Validate must have succeeded.
func (p *Payload) toIntake(source, submittedBy string) (models.Intake, error) {
	childID, err := id.ParseChildID(p.ChildID)
	if err != nil {
		return models.Intake{}, err
	}
	in := models.Intake{
		ChildID:     childID,
		ChildName:   p.ChildName,
		CenterName:  p.CenterName,
		CareType:    p.CareType,
		FormData:    p.FormData,
		Source:      source,
		SubmittedBy: submittedBy,
	}
	if p.GuardianID != "" {
		guardianID, err := id.ParseGuardianID(p.GuardianID)
		if err != nil {
			return models.Intake{}, err
		}
		in.GuardianID = &guardianID
	}
	if p.RequestDate != nil {
		in.RequestDate = p.RequestDate.UTC()
	}
	return in, nil
}

// WebhookPayload is a triage chatbot delivery. ExternalID identifies the
// delivery on the sender's side and keys deduplication when present.
type WebhookPayload struct {
	Payload
	ExternalID string `json:"externalId,omitempty" validate:"max=128"`
}

// Validate checks the embedded payload and the delivery id.
func (p *WebhookPayload) Validate() error {
	if p == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	if err := p.Payload.Validate(); err != nil {
		return err
	}
	return validation.Struct(p)
}
