package queue

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicore/queue-api/internal/model"
	queueService "github.com/clinicore/queue-api/internal/service/queue"
	apperrors "github.com/clinicore/queue-api/pkg/errors"
	"github.com/clinicore/queue-api/pkg/httputil"
)

const defaultDisplayLimit = 20

type Handler struct {
	service *queueService.Service
}

func NewHandler(service *queueService.Service) *Handler {
	return &Handler{service: service}
}

// CheckIn creates a WAITING entry from a confirmed appointment or overturn.
func (h *Handler) CheckIn(c *gin.Context) {
	var req model.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}

	entry, err := h.service.CheckIn(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, entry)
}

func (h *Handler) ListQueue(c *gin.Context) {
	filters := model.QueueFilters{}

	if id := c.Query("doctor_id"); id != "" {
		doctorID, err := uuid.Parse(id)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewBadRequest("invalid doctor ID", err))
			return
		}
		filters.DoctorID = &doctorID
	}

	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := model.QueueStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !model.ValidQueueStatus(status) {
				httputil.RespondWithError(c, apperrors.NewBadRequest("invalid status: "+s, nil))
				return
			}
			filters.Statuses = append(filters.Statuses, status)
		}
	}

	entries, err := h.service.ListToday(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entries)
}

// ListActive returns the CALLED and ATTENDING entries, filtered server-side.
func (h *Handler) ListActive(c *gin.Context) {
	var doctorID *uuid.UUID
	if id := c.Query("doctor_id"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewBadRequest("invalid doctor ID", err))
			return
		}
		doctorID = &parsed
	}

	entries, err := h.service.ListActive(c.Request.Context(), doctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entries)
}

// ListDisplay returns the bounded list for public waiting-room screens.
func (h *Handler) ListDisplay(c *gin.Context) {
	limit := defaultDisplayLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.RespondWithError(c, apperrors.NewBadRequest("invalid limit", err))
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListDisplay(c.Request.Context(), limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entries)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}

func (h *Handler) GetEntry(c *gin.Context) {
	id, ok := h.entryID(c)
	if !ok {
		return
	}

	entry, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entry)
}

// CallNext claims the next waiting patient for a doctor. An empty waiting
// queue is reported as a successful empty result, not an error.
func (h *Handler) CallNext(c *gin.Context) {
	var req model.CallNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}

	entry, err := h.service.CallNext(c.Request.Context(), req.DoctorID, req.ServicePoint)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrEmptyQueue) {
			httputil.RespondWithEmpty(c, "no patients waiting")
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entry)
}

func (h *Handler) CallSpecific(c *gin.Context) {
	id, ok := h.entryID(c)
	if !ok {
		return
	}

	var req model.CallSpecificRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}

	entry, err := h.service.CallSpecific(c.Request.Context(), id, req.ServicePoint)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entry)
}

func (h *Handler) Recall(c *gin.Context) {
	h.transition(c, h.service.Recall)
}

func (h *Handler) MarkAttending(c *gin.Context) {
	h.transition(c, h.service.MarkAttending)
}

func (h *Handler) MarkCompleted(c *gin.Context) {
	h.transition(c, h.service.MarkCompleted)
}

func (h *Handler) MarkNoShow(c *gin.Context) {
	h.transition(c, h.service.MarkNoShow)
}

func (h *Handler) ChangeStatus(c *gin.Context) {
	id, ok := h.entryID(c)
	if !ok {
		return
	}

	var req model.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}

	entry, err := h.service.ChangeStatus(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entry)
}

func (h *Handler) entryID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid queue entry ID", err))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error)) {
	id, ok := h.entryID(c)
	if !ok {
		return
	}

	entry, err := op(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, entry)
}
