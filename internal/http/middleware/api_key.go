package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/recurring-orders/internal/repository"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxCustomerID  = "customer_id"
	ctxCustomerRPS = "customer_rps"
)

// CustomerIDFromCtx extracts authenticated customer_id set by APIKeyMiddleware.
func CustomerIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxCustomerID).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using X-API-Key header.
// On success it stores customer_id in context and blocks suspended accounts.
func APIKeyMiddleware(customers repository.CustomersRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			cu, err := customers.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				c.Logger().Errorf("api key lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if cu == nil || cu.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxCustomerID, cu.ID)
			if cu.RateLimitRPS != nil {
				c.Set(ctxCustomerRPS, *cu.RateLimitRPS)
			}
			return next(c)
		}
	}
}
