package patient

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/validation"
	"github.com/ehr/admissions/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group, writeMW ...echo.MiddlewareFunc) {
	write := func(roles ...string) []echo.MiddlewareFunc {
		return append([]echo.MiddlewareFunc{auth.RequireRole(roles...)}, writeMW...)
	}

	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/patients", h.SearchPatients)
	read.GET("/patients/:id", h.GetPatient)

	api.POST("/patients", h.CreatePatient, write(auth.RoleClerk)...)
	api.PATCH("/patients/:id", h.UpdatePatient, write(auth.RoleClerk)...)
	api.DELETE("/patients/:id", h.DeletePatient, write(auth.RoleAdmin)...)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var cmd CreateCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), h.now(), cmd)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var cmd UpdateCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Update(c.Request().Context(), h.now(), id, cmd)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), h.now(), id); err != nil {
		return respondError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	list, total, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"), pg.Limit(), pg.Offset())
	if err != nil {
		return respondError(err)
	}
	if list == nil {
		list = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg))
}

func respondError(err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"code":    "ValidationFailed",
			"message": "validation failed",
			"fields":  verr.Fields,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateNationalID), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrHasOpenAdmission):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}
