package api

import (
	"docvault/internal/server/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, svc *service.VaultService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Health
	e.GET("/health", handler.HandleHealth)

	// Registration and login issue the session credential
	e.POST("/api/register", handler.HandleRegister)
	e.POST("/api/login", handler.HandleLogin)

	// Session-protected document operations
	auth := SessionAuth(svc)
	e.POST("/api/documents", handler.HandleUpload, auth)
	e.GET("/api/documents", handler.HandleList, auth)
	e.POST("/api/documents/:id/token", handler.HandleDownloadToken, auth)

	// Download authenticates with the download token alone
	e.GET("/api/download", handler.HandleDownload)

	return e
}
