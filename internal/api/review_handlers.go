package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/review"
)

const (
	defaultReviewLimit = 100
	maxReviewLimit     = 1000
	reviewTimeout      = 5 * time.Second
)

// reviewHandler exposes the manual review queue.
type reviewHandler struct {
	queue   ReviewQueue
	timeout time.Duration
	logger  *zap.Logger
}

func newReviewHandler(queue ReviewQueue, logger *zap.Logger) *reviewHandler {
	return &reviewHandler{queue: queue, timeout: reviewTimeout, logger: logger}
}

// List handles GET /v1/review?status=&limit=. It returns {"items": [...]},
// 400 for invalid filters, 503 without a queue, or 500 if the store fails.
func (h *reviewHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "review queue unavailable")
		return
	}
	limit, err := parseLimit(r, defaultReviewLimit, maxReviewLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter monitor.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter = monitor.Status(strings.ToUpper(raw))
		if !filter.NeedsReview() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	items, err := h.queue.Pending(ctx)
	if err != nil {
		h.logger.Error("list review items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list review items")
		return
	}

	out := make([]review.Item, 0, len(items))
	for _, it := range items {
		if filter != "" && it.Status != filter {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type overrideRequest struct {
	Online *bool `json:"online"`
}

// Override handles POST /v1/targets/{target_id}/override with body
// {"online": bool}. Unknown targets return 404.
func (h *reviewHandler) Override(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "review queue unavailable")
		return
	}
	targetID := chi.URLParam(r, "target_id")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.queue.Resolve(ctx, targetID, *req.Online); err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		h.logger.Error("apply override failed", zap.String("target_id", targetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to apply override")
		return
	}
	status := monitor.StatusOffline
	if *req.Online {
		status = monitor.StatusOnline
	}
	writeJSON(w, http.StatusOK, map[string]string{"target_id": targetID, "status": string(status)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
