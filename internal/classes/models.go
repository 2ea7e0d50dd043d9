package classes

import (
	"time"

	"github.com/google/uuid"
)

// ClassInstance is one concrete occurrence of a class on the schedule.
// Rows are produced by the upstream scheduler; this service reads them,
// adjusts capacity and drives the cancelled/completed transitions.
type ClassInstance struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StudioID    uuid.UUID      `json:"studio_id" gorm:"type:uuid;not null;index"`
	Title       string         `json:"title" gorm:"not null;size:255"`
	Instructor  string         `json:"instructor" gorm:"size:255"`
	StartsAt    time.Time      `json:"starts_at" gorm:"not null;index"`
	EndsAt      time.Time      `json:"ends_at" gorm:"not null"`
	MaxCapacity int            `json:"max_capacity" gorm:"not null;check:max_capacity >= 0"`
	Status      InstanceStatus `json:"status" gorm:"type:varchar(20);default:'scheduled'"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (ClassInstance) TableName() string {
	return "class_instances"
}

type ClassInstanceResponse struct {
	ID          string         `json:"id"`
	StudioID    string         `json:"studio_id"`
	Title       string         `json:"title"`
	Instructor  string         `json:"instructor"`
	StartsAt    time.Time      `json:"starts_at"`
	EndsAt      time.Time      `json:"ends_at"`
	MaxCapacity int            `json:"max_capacity"`
	Status      InstanceStatus `json:"status"`
	SeatsTaken  int            `json:"seats_taken"`
	SeatsOpen   int            `json:"seats_open"`
	Waitlisted  int            `json:"waitlisted"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type CreateInstanceRequest struct {
	StudioID    string    `json:"studio_id" binding:"required,uuid"`
	Title       string    `json:"title" binding:"required,min=2,max=255"`
	Instructor  string    `json:"instructor" binding:"omitempty,max=255"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
	MaxCapacity int       `json:"max_capacity" binding:"required,min=0,max=10000"`
}

type AdjustCapacityRequest struct {
	MaxCapacity *int `json:"max_capacity" binding:"required,min=0,max=10000"`
}

type InstanceListQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=100"`
	StudioID string `form:"studio_id" binding:"omitempty,uuid"`
	Status   string `form:"status" binding:"omitempty,oneof=scheduled cancelled completed"`
	DateFrom string `form:"date_from"`
	DateTo   string `form:"date_to"`
	Search   string `form:"search"`
}

type PaginatedInstances struct {
	Instances  []ClassInstanceResponse `json:"instances"`
	TotalCount int64                   `json:"total_count"`
	Page       int                     `json:"page"`
	Limit      int                     `json:"limit"`
	TotalPages int                     `json:"total_pages"`
}

// ToResponse converts an instance to its API shape. Seat counts are
// populated separately by the service layer.
func (ci *ClassInstance) ToResponse() ClassInstanceResponse {
	return ClassInstanceResponse{
		ID:          ci.ID.String(),
		StudioID:    ci.StudioID.String(),
		Title:       ci.Title,
		Instructor:  ci.Instructor,
		StartsAt:    ci.StartsAt,
		EndsAt:      ci.EndsAt,
		MaxCapacity: ci.MaxCapacity,
		Status:      ci.Status,
		CreatedAt:   ci.CreatedAt,
		UpdatedAt:   ci.UpdatedAt,
	}
}

// HasStarted reports whether the class start time has passed.
func (ci *ClassInstance) HasStarted(now time.Time) bool {
	return now.After(ci.StartsAt)
}

// HasEnded reports whether the class end time has passed.
func (ci *ClassInstance) HasEnded(now time.Time) bool {
	return now.After(ci.EndsAt)
}
