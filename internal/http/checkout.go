package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmehdipour/recurring-orders/internal/checkout"
	"github.com/jmehdipour/recurring-orders/internal/model"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type checkoutReq struct {
	PaymentMethod string `json:"payment_method"`
}

type watchReq struct {
	CartID              string `json:"cart_id"`
	PaymentCollectionID string `json:"payment_collection_id"`
}

func checkoutHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req checkoutReq
		if err := c.Bind(&req); err != nil {
			return jsonError(c, http.StatusBadRequest, "bad request")
		}
		method, ok := model.ParsePaymentMethod(req.PaymentMethod)
		if !ok {
			return jsonError(c, http.StatusBadRequest, "invalid payment_method")
		}
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		out, err := m.CompleteBackendCheckout(c.Request().Context(), method)
		if err != nil {
			return writeError(c, err)
		}
		status := http.StatusOK
		if out.Status == checkout.StatusPending {
			status = http.StatusAccepted
		}
		return c.JSON(status, out)
	}
}

// watchHandler starts a settlement poll for a pending payment of the
// session. The loop outlives the request and completes the order once paid.
func (s *Server) watchHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req watchReq
		if err := c.Bind(&req); err != nil {
			return jsonError(c, http.StatusBadRequest, "bad request")
		}
		req.CartID = strings.TrimSpace(req.CartID)
		req.PaymentCollectionID = strings.TrimSpace(req.PaymentCollectionID)
		if req.CartID == "" || req.PaymentCollectionID == "" {
			return jsonError(c, http.StatusBadRequest, "cart_id and payment_collection_id are required")
		}
		if s.poller == nil {
			return jsonError(c, http.StatusServiceUnavailable, "settlement polling disabled")
		}
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		if _, err := m.OwnedPending(c.Request().Context(), req.CartID, req.PaymentCollectionID); err != nil {
			return writeError(c, err)
		}

		log := s.log.With(zap.String("cart_id", req.CartID))
		started := s.poller.Watch(s.base, req.CartID, req.PaymentCollectionID,
			func(ctx context.Context, cartID, pcID string) error {
				err := m.FinalizeSettled(ctx, cartID, pcID)
				if err != nil {
					log.Error("finalize settled payment failed", zap.Error(err))
				}
				return err
			})

		return c.JSON(http.StatusAccepted, map[string]any{
			"cart_id":  req.CartID,
			"watching": true,
			"started":  started,
		})
	}
}

func (s *Server) unwatchHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		cartID := c.Param("cart_id")
		if _, err := m.OwnedPending(c.Request().Context(), cartID, ""); err != nil {
			return writeError(c, err)
		}
		if s.poller != nil {
			s.poller.Stop(cartID)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listPendingHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		list, err := m.PendingPayments(c.Request().Context())
		if err != nil {
			return writeError(c, err)
		}
		if list == nil {
			list = []model.PendingPayment{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(list),
			"results": list,
		})
	}
}

func discardPendingHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		if err := m.DiscardPending(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
