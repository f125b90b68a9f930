package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/recurring-orders/internal/checkout"
	"github.com/jmehdipour/recurring-orders/internal/http/middleware"
	echo "github.com/labstack/echo/v4"
)

type itemReq struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// machineFor resolves the checkout machine of the authenticated session.
func machineFor(c echo.Context, reg *checkout.Registry) (*checkout.Machine, bool) {
	custID, ok := requireCustomer(c)
	if !ok {
		return nil, false
	}
	return reg.Get(custID, middleware.SessionFromCtx(c)), true
}

func getCartHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		cart, err := m.Cart(c.Request().Context())
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cart)
	}
}

func addItemHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req itemReq
		if err := c.Bind(&req); err != nil {
			return jsonError(c, http.StatusBadRequest, "bad request")
		}
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		cart, err := m.AddItem(c.Request().Context(), strings.TrimSpace(req.VariantID), req.Quantity)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cart)
	}
}

func updateItemHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req itemReq
		if err := c.Bind(&req); err != nil {
			return jsonError(c, http.StatusBadRequest, "bad request")
		}
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		cart, err := m.UpdateItem(c.Request().Context(), c.Param("id"), req.Quantity)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cart)
	}
}

func removeItemHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		cart, err := m.RemoveItem(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cart)
	}
}

func clearCartHandler(reg *checkout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ok := machineFor(c, reg)
		if !ok {
			return unauthorized(c)
		}
		cart, err := m.Clear(c.Request().Context())
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cart)
	}
}
