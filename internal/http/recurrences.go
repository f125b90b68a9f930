package http

import (
	"net/http"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/service/recurrences"
	echo "github.com/labstack/echo/v4"
)

func listRecurrencesHandler(svc *recurrences.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		custID, ok := requireCustomer(c)
		if !ok {
			return unauthorized(c)
		}
		list, err := svc.List(c.Request().Context(), custID)
		if err != nil {
			return writeError(c, err)
		}
		if list == nil {
			list = []model.Recurrence{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(list),
			"results": list,
		})
	}
}

func createRecurrenceHandler(svc *recurrences.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in recurrences.CreateInput
		if err := c.Bind(&in); err != nil {
			return jsonError(c, http.StatusBadRequest, "bad request")
		}
		custID, ok := requireCustomer(c)
		if !ok {
			return unauthorized(c)
		}
		rec, err := svc.Create(c.Request().Context(), custID, in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, rec)
	}
}

func pauseRecurrenceHandler(svc *recurrences.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		custID, ok := requireCustomer(c)
		if !ok {
			return unauthorized(c)
		}
		rec, err := svc.Pause(c.Request().Context(), custID, c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func resumeRecurrenceHandler(svc *recurrences.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		custID, ok := requireCustomer(c)
		if !ok {
			return unauthorized(c)
		}
		rec, err := svc.Resume(c.Request().Context(), custID, c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func deleteRecurrenceHandler(svc *recurrences.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		custID, ok := requireCustomer(c)
		if !ok {
			return unauthorized(c)
		}
		if err := svc.Delete(c.Request().Context(), custID, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
