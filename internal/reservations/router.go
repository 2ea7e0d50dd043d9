package reservations

import (
	"classbook/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupReservationRoutes(router *gin.RouterGroup, controller Controller) {
	// All reservation routes require an authenticated member
	reservations := router.Group("/reservations")
	reservations.Use(middleware.JWTAuth())
	{
		reservations.POST("", controller.Reserve)                                    // POST /api/v1/reservations - Book a seat or join the waitlist
		reservations.GET("/:reservationId", controller.GetReservation)               // GET /api/v1/reservations/:reservationId - Reservation details
		reservations.POST("/:reservationId/confirm", controller.ConfirmReservation)  // POST /api/v1/reservations/:reservationId/confirm - Confirm attendance
		reservations.POST("/:reservationId/accept", controller.AcceptPromotion)      // POST /api/v1/reservations/:reservationId/accept - Accept a promotion offer
		reservations.POST("/:reservationId/cancel", controller.CancelReservation)    // POST /api/v1/reservations/:reservationId/cancel - Cancel or leave the waitlist
	}

	// Member history
	members := router.Group("/members")
	members.Use(middleware.JWTAuth())
	{
		members.GET("/me/reservations", controller.ListMyReservations) // GET /api/v1/members/me/reservations - Own reservation history
	}
}
