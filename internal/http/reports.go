package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listRunsHandler(runs repository.RunLogRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		custID, ok := requireCustomer(c)
		if !ok {
			return unauthorized(c)
		}

		f := repository.RunFilter{
			CustomerID:   custID,
			RecurrenceID: strings.TrimSpace(c.QueryParam("recurrence_id")),
			Limit:        50,
		}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		switch o := model.RunOutcome(strings.TrimSpace(c.QueryParam("outcome"))); o {
		case model.RunSucceeded, model.RunPending, model.RunPaused:
			f.Outcome = o
		}
		if v := c.QueryParam("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return jsonError(c, http.StatusBadRequest, "since must be RFC3339")
			}
			f.Since = t
		}

		recs, err := runs.ListByCustomer(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return jsonError(c, http.StatusInternalServerError, "query failed")
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(recs),
			"results": recs,
		})
	}
}
