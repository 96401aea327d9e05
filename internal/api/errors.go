package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/catalog"
	"github.com/example/phk-shop/internal/domain/cart"
	"github.com/example/phk-shop/internal/domain/order"
	"github.com/example/phk-shop/internal/notification"
)

// Kinds for errors that originate outside the order engine.
const (
	KindBadRequest        = "BadRequest"
	KindItemNotFound      = "ItemNotFound"
	KindVariationNotFound = "VariationNotFound"
	KindInvalidProduct    = "InvalidProduct"
	KindNotFound          = "NotFound"
)

type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

var statusByKind = map[string]int{
	order.KindEmptyCart:            http.StatusBadRequest,
	order.KindInvalidAddress:       http.StatusBadRequest,
	order.KindInvalidPaymentMethod: http.StatusBadRequest,
	order.KindInvalidQuantity:      http.StatusBadRequest,
	order.KindTotalMismatch:        http.StatusConflict,
	order.KindProductNotFound:      http.StatusNotFound,
	order.KindOrderNotFound:        http.StatusNotFound,
	order.KindCallbackNotFound:     http.StatusNotFound,
	order.KindInvalidStatus:        http.StatusConflict,
	order.KindForbidden:            http.StatusForbidden,
	order.KindRetryNotAllowed:      http.StatusConflict,
	order.KindGatewayUnavailable:   http.StatusBadGateway,
	KindItemNotFound:               http.StatusNotFound,
	KindVariationNotFound:          http.StatusNotFound,
	KindInvalidProduct:             http.StatusBadRequest,
	KindNotFound:                   http.StatusNotFound,
}

// classify maps err to its client-facing kind and HTTP status.
func classify(err error) (string, int) {
	var kind string
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		kind = KindItemNotFound
	case errors.Is(err, cart.ErrVariationNotFound):
		kind = KindVariationNotFound
	case errors.Is(err, catalog.ErrInvalidProduct):
		kind = KindInvalidProduct
	case errors.Is(err, notification.ErrNotFound):
		kind = KindNotFound
	default:
		kind = order.Kind(err)
	}
	if status, ok := statusByKind[kind]; ok {
		return kind, status
	}
	return kind, http.StatusInternalServerError
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	kind, status := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		message = "internal error"
	}
	c.JSON(status, errorResponse{ErrorKind: kind, Message: message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{ErrorKind: KindBadRequest, Message: message})
}
