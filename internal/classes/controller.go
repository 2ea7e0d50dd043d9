package classes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classbook/internal/shared/utils/response"
)

type Controller interface {
	CreateInstance(c *gin.Context)
	GetInstance(c *gin.Context)
	ListInstances(c *gin.Context)
	AdjustCapacity(c *gin.Context)
	CancelInstance(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

func (ctrl *controller) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	instance, err := ctrl.service.CreateInstance(c.Request.Context(), req)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "Class instance created successfully", instance, nil)
}

func (ctrl *controller) GetInstance(c *gin.Context) {
	instanceIDStr := c.Param("instanceId")
	instanceID, err := uuid.Parse(instanceIDStr)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid class instance ID", nil, err.Error())
		return
	}

	instance, err := ctrl.service.GetInstanceByID(c.Request.Context(), instanceID)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, ErrInstanceNotFound) {
			statusCode = http.StatusNotFound
		}
		response.RespondJSON(c, "error", statusCode, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Class instance retrieved successfully", instance, nil)
}

func (ctrl *controller) ListInstances(c *gin.Context) {
	var query InstanceListQuery

	if err := c.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}

	instances, err := ctrl.service.ListInstances(c.Request.Context(), query)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusInternalServerError, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Class instances retrieved successfully", instances, nil)
}

func (ctrl *controller) AdjustCapacity(c *gin.Context) {
	instanceIDStr := c.Param("instanceId")
	instanceID, err := uuid.Parse(instanceIDStr)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid class instance ID", nil, err.Error())
		return
	}

	var req AdjustCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	instance, err := ctrl.service.AdjustCapacity(c.Request.Context(), instanceID, req)
	if err != nil {
		statusCode := http.StatusBadRequest
		if errors.Is(err, ErrInstanceNotFound) {
			statusCode = http.StatusNotFound
		}
		response.RespondJSON(c, "error", statusCode, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Capacity adjusted successfully", instance, nil)
}

func (ctrl *controller) CancelInstance(c *gin.Context) {
	instanceIDStr := c.Param("instanceId")
	instanceID, err := uuid.Parse(instanceIDStr)
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid class instance ID", nil, err.Error())
		return
	}

	summary, err := ctrl.service.CancelInstance(c.Request.Context(), instanceID)
	if err != nil {
		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInstanceNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, ErrInstanceNotCancelable):
			statusCode = http.StatusConflict
		}
		response.RespondJSON(c, "error", statusCode, err.Error(), nil, nil)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Class instance cancelled", summary, nil)
}
