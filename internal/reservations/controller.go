package reservations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/shared/idempotency"
	"classbook/internal/shared/middleware"
	"classbook/internal/shared/utils/response"
)

// IdempotencyKeyHeader carries the client-chosen key that makes reserve and
// cancel retries safe.
const IdempotencyKeyHeader = "X-Idempotency-Key"

type Controller interface {
	Reserve(c *gin.Context)
	ConfirmReservation(c *gin.Context)
	AcceptPromotion(c *gin.Context)
	CancelReservation(c *gin.Context)
	GetReservation(c *gin.Context)
	ListMyReservations(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

// requireActor resolves the authenticated caller. Writes the 401 response
// itself so handlers can bail with a bare return.
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

// requireIdempotencyKey reads and validates the X-Idempotency-Key header.
func requireIdempotencyKey(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(IdempotencyKeyHeader)
	if raw == "" {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Missing X-Idempotency-Key header", nil, nil)
		return uuid.Nil, false
	}
	key, err := uuid.Parse(raw)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "X-Idempotency-Key must be a UUID", nil, err.Error())
		return uuid.Nil, false
	}
	return key, true
}

// statusForError maps engine errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrReservationNotFound), errors.Is(err, classes.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReservationOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrPromotionExpired):
		return http.StatusGone
	case errors.Is(err, entitlements.ErrEntitlementRequired), errors.Is(err, entitlements.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrInstanceNotBookable),
		errors.Is(err, ErrClassFull),
		errors.Is(err, ErrDuplicateReservation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConfirmationNotOpen),
		errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (ctrl *controller) Reserve(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	key, ok := requireIdempotencyKey(c)
	if !ok {
		return
	}

	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	reservation, err := ctrl.service.Reserve(c.Request.Context(), actor.ID, key, req)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	message := "Reservation created successfully"
	if reservation.Status == StatusWaitlisted {
		message = "Class is full, added to waitlist"
	}
	response.RespondJSON(c, "success", http.StatusCreated, message, reservation, nil)
}

func (ctrl *controller) ConfirmReservation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	reservationID, err := uuid.Parse(c.Param("reservationId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid reservation ID", nil, err.Error())
		return
	}

	reservation, err := ctrl.service.Confirm(c.Request.Context(), reservationID, actor)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Attendance confirmed", reservation, nil)
}

func (ctrl *controller) AcceptPromotion(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	reservationID, err := uuid.Parse(c.Param("reservationId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid reservation ID", nil, err.Error())
		return
	}

	reservation, err := ctrl.service.AcceptPromotion(c.Request.Context(), reservationID, actor)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Promotion accepted, seat booked", reservation, nil)
}

func (ctrl *controller) CancelReservation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	key, ok := requireIdempotencyKey(c)
	if !ok {
		return
	}

	reservationID, err := uuid.Parse(c.Param("reservationId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid reservation ID", nil, err.Error())
		return
	}

	reservation, err := ctrl.service.Cancel(c.Request.Context(), reservationID, actor, key)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Reservation cancelled", reservation, nil)
}

func (ctrl *controller) GetReservation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	reservationID, err := uuid.Parse(c.Param("reservationId"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid reservation ID", nil, err.Error())
		return
	}

	reservation, err := ctrl.service.GetReservation(c.Request.Context(), reservationID, actor)
	if err != nil {
		response.RespondJSON(c, "error", statusForError(err), err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Reservation retrieved successfully", reservation, nil)
}

func (ctrl *controller) ListMyReservations(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var query MemberReservationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}

	result, err := ctrl.service.ListMemberReservations(c.Request.Context(), actor.ID, query)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusInternalServerError, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Reservations retrieved successfully", result, nil)
}
