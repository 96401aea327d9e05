package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/api/middleware"
	"github.com/example/phk-shop/internal/domain/order"
	"github.com/example/phk-shop/internal/models"
)

// callbackAck is the only body Daraja expects back; any other answer makes
// it redeliver.
var callbackAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

type retryRequest struct {
	Phone string `json:"phone,omitempty"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handlers) CreateOrder(c *gin.Context) {
	var req order.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	d, err := h.orders.CreateOrder(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handlers) ListOrders(c *gin.Context) {
	list, err := h.orders.ListOrders(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handlers) GetOrder(c *gin.Context) {
	claims, _ := middleware.GetClaims(c)
	d, err := h.orders.GetOrder(c.Request.Context(), claims.UserID, claims.IsAdmin(), c.Param("reference"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handlers) RetryPayment(c *gin.Context) {
	var req retryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	res, err := h.orders.RetryPayment(c.Request.Context(), middleware.UserID(c), c.Param("reference"), req.Phone)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// MPesaCallback always acknowledges. Unmatched or malformed results are
// logged and dropped.
func (h *Handlers) MPesaCallback(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn("callback body unreadable", zap.Error(err))
		c.JSON(http.StatusOK, callbackAck)
		return
	}
	// The engine logs the outcome; persistence failures are acknowledged too.
	if _, err := h.orders.ProcessCallback(c.Request.Context(), raw); err != nil && order.Kind(err) != order.KindCallbackNotFound {
		h.log.Error("callback not applied", zap.Error(err))
	}
	c.JSON(http.StatusOK, callbackAck)
}

// ============================================
// Admin
// ============================================

func (h *Handlers) ListAllOrders(c *gin.Context) {
	list, err := h.orders.ListAllOrders(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	o, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status, middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handlers) SaveProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid product")
		return
	}
	if id := c.Param("id"); id != "" {
		p.ID = id
	}
	saved, err := h.catalog.SaveProduct(c.Request.Context(), &p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handlers) DeleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
