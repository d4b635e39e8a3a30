package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/facilityops/backend/internal/config"
	"github.com/facilityops/backend/internal/db"
	"github.com/facilityops/backend/internal/escalate"
	"github.com/facilityops/backend/internal/http/handlers"
	"github.com/facilityops/backend/internal/http/middleware"
	"github.com/facilityops/backend/internal/schedule"
	"github.com/facilityops/backend/internal/workorder"

	_ "github.com/facilityops/backend/docs"
)

func Router(cfg config.Config, store *db.Store, scheduler *schedule.Scheduler, registry *workorder.Registry, engine *escalate.Engine, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Scheduler: scheduler,
		Registry:  registry,
		Engine:    engine,
		Store:     store,
		Validator: validator.New(),
		Logger:    logger,
		AdminKey:  cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/resources", h.ResourcesList)
		api.GET("/resources/:id/availability", h.Availability)
		api.POST("/bookings", h.CreateBooking)
		api.GET("/bookings/:id", h.BookingDetails)
		api.DELETE("/bookings/:id", h.CancelBooking)
		api.POST("/work-items", h.CreateWorkItem)
		api.GET("/work-items/:id", h.WorkItemDetails)
		api.POST("/work-items/:id/transition", h.AdvanceWorkItemState)
		api.GET("/escalations", h.EscalationsList)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/resources", h.CreateResource)
		admin.POST("/resources/import", h.ImportResources)
		admin.PATCH("/work-items/:id/priority", h.ChangeWorkItemPriority)
		admin.POST("/sweep", h.Sweep)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
