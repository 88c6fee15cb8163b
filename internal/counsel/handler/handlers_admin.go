package handler

import (
	"net/http"

	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/httputil"
	request "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/request"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

func (h *Handler) handleForceStatus(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[ForceStatusRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.ForceStatus(ctx, requestID, body.parsedStatus, body.Reason, requestcontext.UserID(ctx))
	if err != nil {
		h.writeFailure(w, r, "admin status override rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toForceStatus(res))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), requestID)
	if err != nil {
		h.writeFailure(w, r, "failed to load status history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toHistory(entries))
}

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.writeFailure(w, r, "invalid listing query", err)
		return
	}
	res, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeFailure(w, r, "failed to list counsel requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toList(res))
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	rng, err := parseDateRange(r.URL.Query())
	if err != nil {
		h.writeFailure(w, r, "invalid statistics range", err)
		return
	}
	stats, err := h.service.Statistics(r.Context(), rng)
	if err != nil {
		h.writeFailure(w, r, "failed to compute statistics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatistics(rng, stats))
}
