// api/routes/router.go
package routes

import (
	"net/http"
	"time"

	"classbook/internal/attendance"
	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/fees"
	"classbook/internal/notifications"
	"classbook/internal/reservations"
	"classbook/internal/shared/config"
	"classbook/internal/shared/database"
	"classbook/internal/studios"
	"classbook/internal/waitlist"
	"classbook/pkg/cache"

	"github.com/gin-gonic/gin"
)

// Router holds all route dependencies
type Router struct {
	config       *config.Config
	db           *database.DB
	cacheService cache.Service
	publisher    notifications.Publisher

	// Wired during SetupRoutes; the background sweeps run off these
	waitlistEngine    waitlist.Engine
	feeService        fees.Service
	attendanceService attendance.Service
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, db *database.DB, cacheService cache.Service, publisher notifications.Publisher) *Router {
	return &Router{
		config:       cfg,
		db:           db,
		cacheService: cacheService,
		publisher:    publisher,
	}
}

// WaitlistEngine returns the promotion engine built during SetupRoutes.
func (r *Router) WaitlistEngine() waitlist.Engine { return r.waitlistEngine }

// FeeService returns the fee pipeline built during SetupRoutes.
func (r *Router) FeeService() fees.Service { return r.feeService }

// AttendanceService returns the attendance tracker built during SetupRoutes.
func (r *Router) AttendanceService() attendance.Service { return r.attendanceService }

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check and basic info endpoints
	r.setupHealthRoutes(engine)

	pg := r.db.GetPostgreSQL()

	// Entitlement gate: comp credits first, then class packs, then
	// subscriptions, then drop-in payment
	authority := entitlements.NewSandboxAuthority()
	gate := entitlements.NewGate(
		entitlements.NewCompCreditProvider(pg),
		entitlements.NewClassPackProvider(pg),
		entitlements.NewSubscriptionProvider(pg),
		entitlements.NewDropInProvider(authority),
	)

	// Studio registry carries the booking policies
	studioService := studios.NewService(studios.NewRepository(pg), r.cacheService, r.config.Booking)

	classService := classes.NewService(classes.NewRepository(pg), studioService)
	classService.SetCacheService(r.cacheService)

	feeService := fees.NewService(fees.NewRepository(pg), authority)
	feeService.SetPublisher(r.publisher)

	reservationRepo := reservations.NewRepository(pg)
	reservationService := reservations.NewService(reservationRepo, classService, studioService, gate, feeService)
	reservationService.SetCacheService(r.cacheService)
	reservationService.SetPublisher(r.publisher)

	waitlistEngine := waitlist.NewEngine(reservationRepo, classService, studioService, gate)
	waitlistEngine.SetPublisher(r.publisher)

	// Close the cycle: freed seats kick promotions, class cancellation
	// cascades through the booking ledger
	reservationService.SetPromotionEngine(waitlistEngine)
	classService.SetReservationEngine(reservationService)

	attendanceService := attendance.NewService(attendance.NewRepository(pg), reservationRepo,
		reservationService, classService, studioService, gate)
	attendanceService.SetPublisher(r.publisher)
	attendanceService.SetCacheService(r.cacheService)

	r.waitlistEngine = waitlistEngine
	r.feeService = feeService
	r.attendanceService = attendanceService

	// API routes
	api := engine.Group(r.config.GetAPIBasePath())
	{
		studios.SetupStudioRoutes(api, studios.NewController(studioService))
		classes.SetupClassRoutes(api, classes.NewController(classService))
		reservations.SetupReservationRoutes(api, reservations.NewController(reservationService))
		attendance.SetupAttendanceRoutes(api, attendance.NewController(attendanceService))
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		// Perform health checks
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "classbook-core",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "classbook-core",
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "operational",
			"api_version": r.config.APIVersion,
			"timestamp":   time.Now(),
		})
	})
}
