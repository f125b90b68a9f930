package middleware

import (
	"strings"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v4"
)

const (
	HeaderSessionID = "X-Session-ID"
	ctxSessionID    = "session_id"
)

// SessionFromCtx returns the client session id set by SessionMiddleware.
func SessionFromCtx(c echo.Context) string {
	s, _ := c.Get(ctxSessionID).(string)
	return s
}

// SessionMiddleware scopes cart and checkout state to a client session. A
// missing or malformed X-Session-ID gets a fresh one, echoed back so the
// client can reuse it.
func SessionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(HeaderSessionID))
			id, err := uuid.Parse(raw)
			if err != nil {
				id = uuid.New()
			}
			c.Set(ctxSessionID, id.String())
			c.Response().Header().Set(HeaderSessionID, id.String())
			return next(c)
		}
	}
}
