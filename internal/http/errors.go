package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/http/middleware"
	echo "github.com/labstack/echo/v4"
)

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// writeError maps the error taxonomy to a status code. Unknown errors are
// logged and reported as 500 without detail.
func writeError(c echo.Context, err error) error {
	var nse *errs.NoShippingOptionError
	switch {
	case errs.IsValidation(err), errors.As(err, &nse):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errs.IsNotFound(err):
		return jsonError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrCheckoutInProgress), errors.Is(err, errs.ErrCartBusy), errors.Is(err, errs.ErrVersionConflict):
		return jsonError(c, http.StatusConflict, err.Error())
	case errs.IsExternal(err):
		c.Logger().Errorf("upstream failure: %v", err)
		return jsonError(c, http.StatusBadGateway, "upstream service failed")
	default:
		c.Logger().Errorf("request failed: %v", err)
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}
}

func requireCustomer(c echo.Context) (string, bool) {
	return middleware.CustomerIDFromCtx(c)
}

func unauthorized(c echo.Context) error {
	return jsonError(c, http.StatusUnauthorized, "unauthorized")
}
