package studios

import (
	"errors"
	"net/http"

	"classbook/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (c *Controller) CreateStudio(ctx *gin.Context) {
	var req CreateStudioRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}

	studio, err := c.service.CreateStudio(ctx.Request.Context(), req)
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Failed to create studio", nil, err.Error())
		return
	}

	response.RespondJSON(ctx, "success", http.StatusCreated, "Studio created successfully", studio, nil)
}

func (c *Controller) GetStudio(ctx *gin.Context) {
	id := ctx.Param("id")
	if id == "" {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Studio ID is required", nil, "missing studio ID")
		return
	}

	studio, err := c.service.GetStudio(ctx.Request.Context(), id)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, ErrStudioNotFound) {
			statusCode = http.StatusNotFound
		}
		response.RespondJSON(ctx, "error", statusCode, "Failed to get studio", nil, err.Error())
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Studio retrieved successfully", studio, nil)
}

func (c *Controller) ListStudios(ctx *gin.Context) {
	list, err := c.service.ListStudios(ctx.Request.Context())
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusInternalServerError, "Failed to list studios", nil, err.Error())
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Studios retrieved successfully", list, nil)
}

func (c *Controller) UpdateStudio(ctx *gin.Context) {
	id := ctx.Param("id")
	if id == "" {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Studio ID is required", nil, "missing studio ID")
		return
	}

	var req UpdateStudioRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}

	studio, err := c.service.UpdateStudio(ctx.Request.Context(), id, req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, ErrStudioNotFound) {
			statusCode = http.StatusNotFound
		}
		response.RespondJSON(ctx, "error", statusCode, "Failed to update studio", nil, err.Error())
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Studio updated successfully", studio, nil)
}
