package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/api/middleware"
	"github.com/example/phk-shop/internal/catalog"
	"github.com/example/phk-shop/internal/domain/cart"
	"github.com/example/phk-shop/internal/domain/order"
	"github.com/example/phk-shop/internal/notification"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	carts         *cart.Service
	orders        *order.Service
	catalog       *catalog.Service
	notifications *notification.Sink
	log           *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(carts *cart.Service, orders *order.Service, cat *catalog.Service, notifications *notification.Sink, log *zap.Logger) *Handlers {
	return &Handlers{
		carts:         carts,
		orders:        orders,
		catalog:       cat,
		notifications: notifications,
		log:           log.Named("api"),
	}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ============================================
// Cart
// ============================================

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
	Variation string `json:"variation,omitempty"`
}

type updateItemRequest struct {
	Quantity  int    `json:"quantity"`
	Variation string `json:"variation,omitempty"`
}

func (h *Handlers) GetCart(c *gin.Context) {
	view, err := h.carts.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) CartTotal(c *gin.Context) {
	total := h.carts.Total(c.Request.Context(), middleware.UserID(c))
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func (h *Handlers) CartContents(c *gin.Context) {
	contents, err := h.carts.Contents(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contents)
}

func (h *Handlers) AddCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	item, err := h.carts.AddItem(c.Request.Context(), middleware.UserID(c), req.ProductID, req.Quantity, req.Variation)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handlers) UpdateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	item, err := h.carts.UpdateQuantity(c.Request.Context(), middleware.UserID(c), c.Param("productID"), req.Variation, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handlers) RemoveCartItem(c *gin.Context) {
	err := h.carts.RemoveItem(c.Request.Context(), middleware.UserID(c), c.Param("productID"), c.Query("variation"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ClearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), middleware.UserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================
// Products
// ============================================

func (h *Handlers) GetProduct(c *gin.Context) {
	p, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ============================================
// Notifications
// ============================================

func (h *Handlers) ListNotifications(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
