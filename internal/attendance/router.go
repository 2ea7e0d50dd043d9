package attendance

import (
	"classbook/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupAttendanceRoutes(router *gin.RouterGroup, controller Controller) {
	// Self check-in is member-facing; ownership is enforced in the service
	reservations := router.Group("/reservations")
	reservations.Use(middleware.JWTAuth())
	{
		reservations.POST("/:reservationId/check-in", controller.CheckIn) // POST /api/v1/reservations/:reservationId/check-in - Mark attendance
	}

	// Front-desk surface, staff only
	instances := router.Group("/class-instances")
	instances.Use(middleware.JWTAuth())
	{
		instances.GET("/:instanceId/roster", middleware.RequireStaff(), controller.GetRoster)            // GET /api/v1/class-instances/:instanceId/roster - Staff roster view
		instances.POST("/:instanceId/walk-ins", middleware.RequireStaff(), controller.WalkIn)            // POST /api/v1/class-instances/:instanceId/walk-ins - Admit at the door
		instances.POST("/:instanceId/check-ins/batch", middleware.RequireStaff(), controller.BatchCheckIn) // POST /api/v1/class-instances/:instanceId/check-ins/batch - Bulk check-in
	}
}
