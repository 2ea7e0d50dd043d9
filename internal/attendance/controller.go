package attendance

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/reservations"
	"classbook/internal/shared/idempotency"
	"classbook/internal/shared/middleware"
	"classbook/internal/shared/utils/response"
)

const IdempotencyKeyHeader = "X-Idempotency-Key"

type Controller interface {
	CheckIn(c *gin.Context)
	WalkIn(c *gin.Context)
	BatchCheckIn(c *gin.Context)
	GetRoster(c *gin.Context)
}

type controller struct {
	service   Service
	validator *validator.Validate
}

func NewController(service Service) Controller {
	return &controller{
		service:   service,
		validator: validator.New(),
	}
}

func requireActor(c *gin.Context) (Actor, bool) {
	memberIDStr, ok := middleware.GetMemberID(c)
	if !ok {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "Member not authenticated", nil, nil)
		return Actor{}, false
	}
	memberID, err := uuid.Parse(memberIDStr)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusUnauthorized, "Invalid member ID in token", nil, err.Error())
		return Actor{}, false
	}
	return Actor{ID: memberID, Staff: middleware.IsStaff(c)}, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, reservations.ErrReservationNotFound), errors.Is(err, classes.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, entitlements.ErrEntitlementRequired), errors.Is(err, entitlements.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrCheckInNotOpen),
		errors.Is(err, ErrClassAtCapacity),
		errors.Is(err, ErrNotCheckinable),
		errors.Is(err, ErrWalkInsDisabled),
		errors.Is(err, reservations.ErrDuplicateReservation),
		errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (ctrl *controller) CheckIn(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	reservationID, err := uuid.Parse(c.Param("reservationId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid reservation ID", nil, err.Error())
		return
	}

	rawKey := c.GetHeader(IdempotencyKeyHeader)
	if rawKey == "" {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Missing X-Idempotency-Key header", nil, nil)
		return
	}
	key, err := uuid.Parse(rawKey)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "X-Idempotency-Key must be a UUID", nil, err.Error())
		return
	}

	record, err := ctrl.service.CheckIn(c.Request.Context(), reservationID, actor, key)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Checked in", record, nil)
}

func (ctrl *controller) WalkIn(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid instance ID", nil, err.Error())
		return
	}

	var req WalkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := ctrl.validator.Struct(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	record, err := ctrl.service.WalkIn(c.Request.Context(), instanceID, actor.ID, req)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "Walk-in admitted", record, nil)
}

func (ctrl *controller) BatchCheckIn(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid instance ID", nil, err.Error())
		return
	}

	var req BatchCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := ctrl.validator.Struct(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	results, err := ctrl.service.BatchCheckIn(c.Request.Context(), instanceID, req.ReservationIDs, actor)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	succeeded := 0
	for i := range results {
		if results[i].Success {
			succeeded++
		}
	}
	response.RespondJSON(c, "success", http.StatusOK, "Batch check-in processed", gin.H{
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	}, nil)
}

func (ctrl *controller) GetRoster(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid instance ID", nil, err.Error())
		return
	}

	roster, err := ctrl.service.GetRoster(c.Request.Context(), instanceID)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Roster fetched successfully", roster, nil)
}
