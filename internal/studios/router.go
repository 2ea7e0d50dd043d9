package studios

import (
	"classbook/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupStudioRoutes(rg *gin.RouterGroup, controller *Controller) {
	// Public reads for schedule browsing
	studios := rg.Group("/studios")
	{
		studios.GET("", controller.ListStudios)
		studios.GET("/:id", controller.GetStudio)
	}

	// Staff manage studios and their booking policy
	staff := rg.Group("/staff/studios")
	staff.Use(middleware.JWTAuth(), middleware.RequireStaff())
	{
		staff.POST("", controller.CreateStudio)
		staff.PATCH("/:id", controller.UpdateStudio)
	}
}
