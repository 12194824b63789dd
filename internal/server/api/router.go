package api

import (
	"labdrop/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg config.ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))
	e.Use(RequestLogger())

	// Rate limiter on unauthenticated writes only
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	api := e.Group("/api")
	api.GET("/health", handler.HandleHealth)

	// Uploader-facing
	api.GET("/uploaders", handler.HandleListUploaders)
	api.POST("/uploaders", handler.HandleCreateUploader, limiter.Middleware())
	api.POST("/upload-batches", handler.HandleCreateBatch, limiter.Middleware())

	// Session
	api.POST("/admin/login", handler.HandleLogin, limiter.Middleware())
	api.POST("/admin/logout", handler.HandleLogout)

	admin := api.Group("/admin", RequireAdmin(handler.svc.Sessions))
	admin.GET("/me", handler.HandleMe)

	admin.GET("/uploads", handler.HandleListUploads)
	admin.GET("/files/:id/download", handler.HandleDownload)
	admin.POST("/files/download-many", handler.HandleDownloadMany)
	admin.POST("/files/archive", handler.HandleArchive)
	admin.POST("/files/delete-many", handler.HandleDeleteMany)
	admin.POST("/copy-string", handler.HandleCopyString)

	admin.GET("/settings", handler.HandleGetSettings)
	admin.PUT("/settings", handler.HandleUpdateSettings)

	admin.GET("/users", handler.HandleListAdmins)
	admin.POST("/users", handler.HandleCreateAdmin)
	admin.PATCH("/users/:id", handler.HandleUpdateAdmin)
	admin.DELETE("/users/:id", handler.HandleDeleteAdmin)

	admin.GET("/uploaders", handler.HandleAdminListUploaders)
	admin.PATCH("/uploaders/:id", handler.HandleUpdateUploader)
	admin.DELETE("/uploaders/:id", handler.HandleDisableUploader)

	admin.POST("/migrate/import-legacy", handler.HandleImportLegacy)

	return e
}
