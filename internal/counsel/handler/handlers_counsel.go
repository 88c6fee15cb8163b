package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/intake"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/httputil"
	request "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/request"
)

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, ok := httputil.DecodeAndPrepare[intake.Payload](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	created, err := h.submitter.Submit(ctx, payload)
	if err != nil {
		h.writeFailure(w, r, "failed to create counsel request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestResponse(created))
}

// handleWebhook answers 201 for a new request and 200 when the delivery was
// already seen.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeFailure(w, r, "webhook body too large", dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return
		}
		h.writeFailure(w, r, "failed to read webhook body", dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}

	source := chi.URLParam(r, "source")
	delivery, err := h.webhook.Receive(ctx, source, body)
	if err != nil {
		h.writeFailure(w, r, "webhook delivery rejected", err)
		return
	}
	status := http.StatusCreated
	if delivery.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toRequestResponse(delivery.Request))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), requestID)
	if err != nil {
		h.writeFailure(w, r, "failed to load counsel request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleRequestRecommendation(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, recs, err := h.service.RequestRecommendation(r.Context(), requestID)
	if err != nil {
		h.writeFailure(w, r, "recommendation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecommendations(req.ID, req.Status, recs))
}

func (h *Handler) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	recs, err := h.service.Recommendations(r.Context(), requestID)
	if err != nil {
		h.writeFailure(w, r, "failed to list recommendations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecommendations(requestID, "", recs))
}

func (h *Handler) handleSelectInstitution(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[SelectInstitutionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	req, err := h.service.SelectInstitution(ctx, requestID, body.parsedInstitution, body.parsedCounselor)
	if err != nil {
		h.writeFailure(w, r, "institution selection failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.service.Start)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.service.Complete)
}

func (h *Handler) advance(
	w http.ResponseWriter,
	r *http.Request,
	step func(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error),
) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, err := step(r.Context(), requestID)
	if err != nil {
		h.writeFailure(w, r, "status transition failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	req, err := h.service.Cancel(ctx, requestID, body.Reason)
	if err != nil {
		h.writeFailure(w, r, "cancellation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), requestID); err != nil {
		h.writeFailure(w, r, "failed to delete counsel request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
