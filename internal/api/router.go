package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/api/middleware"
	"github.com/example/phk-shop/internal/auth"
)

// RouterConfig holds router configuration
type RouterConfig struct {
	JWTService  *auth.JWTService
	Logger      *zap.Logger
	CORSOrigins []string
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// NewRouter creates the HTTP router with all routes
func NewRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(cfg.Logger.Named("http")))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/healthz", h.Health)

	api := r.Group("/api")

	// Public routes
	api.GET("/products/:id", h.GetProduct)
	// Daraja posts results here without credentials.
	api.POST("/payments/mpesa/callback", h.MPesaCallback)

	// Protected routes (require authentication)
	user := api.Group("", middleware.AuthMiddleware(cfg.JWTService))
	{
		user.GET("/cart", h.GetCart)
		user.GET("/cart/total", h.CartTotal)
		user.GET("/cart/contents", h.CartContents)
		user.POST("/cart/items", h.AddCartItem)
		user.PATCH("/cart/items/:productID", h.UpdateCartItem)
		user.DELETE("/cart/items/:productID", h.RemoveCartItem)
		user.DELETE("/cart", h.ClearCart)

		user.POST("/orders", h.CreateOrder)
		user.GET("/orders", h.ListOrders)
		user.GET("/orders/:reference", h.GetOrder)
		user.POST("/orders/:reference/retry-payment", h.RetryPayment)

		user.GET("/notifications", h.ListNotifications)
		user.POST("/notifications/:id/read", h.MarkNotificationRead)
	}

	// Admin routes (require admin role)
	admin := api.Group("/admin", middleware.AuthMiddleware(cfg.JWTService), middleware.RequireAdmin())
	{
		admin.GET("/orders", h.ListAllOrders)
		admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)
		admin.POST("/products", h.SaveProduct)
		admin.PUT("/products/:id", h.SaveProduct)
		admin.DELETE("/products/:id", h.DeleteProduct)
	}

	return r
}
