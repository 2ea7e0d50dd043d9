package classes

import (
	"classbook/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupClassRoutes(router *gin.RouterGroup, controller Controller) {
	// Public routes - anyone can browse the schedule
	publicClasses := router.Group("/class-instances")
	{
		publicClasses.GET("", controller.ListInstances)           // GET /api/v1/class-instances - Browse the schedule
		publicClasses.GET("/:instanceId", controller.GetInstance) // GET /api/v1/class-instances/:instanceId - Instance details
	}

	// Staff routes - scheduler feed, capacity changes and class cancellation
	staffClasses := router.Group("/class-instances")
	staffClasses.Use(middleware.JWTAuth(), middleware.RequireStaff())
	{
		staffClasses.POST("", controller.CreateInstance)                       // POST /api/v1/class-instances - Scheduler lands an instance
		staffClasses.PATCH("/:instanceId/capacity", controller.AdjustCapacity) // PATCH /api/v1/class-instances/:instanceId/capacity - Adjust capacity
		staffClasses.POST("/:instanceId/cancel", controller.CancelInstance)    // POST /api/v1/class-instances/:instanceId/cancel - Cancel the class
	}
}
