package admission

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/metrics"
	"github.com/ehr/admissions/pkg/pagination"
)

const maxUpdateBody = 64 << 10

type Handler struct {
	lifecycle *Lifecycle
	policy    FieldPolicy
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewHandler(l *Lifecycle, m *metrics.Metrics) *Handler {
	return &Handler{lifecycle: l, policy: DefaultFieldPolicy(), metrics: m, now: time.Now}
}

// RegisterRoutes mounts the admission endpoints. writeMW runs after the role
// check on every mutating route (idempotency, audit).
func (h *Handler) RegisterRoutes(api *echo.Group, writeMW ...echo.MiddlewareFunc) {
	write := func(roles ...string) []echo.MiddlewareFunc {
		return append([]echo.MiddlewareFunc{auth.RequireRole(roles...)}, writeMW...)
	}

	// Read endpoints – all clinical staff, scoped per role in the handler
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/admissions", h.ListAdmissions)
	read.GET("/admissions/:id", h.GetAdmission)
	read.GET("/patients/:id/admissions", h.ListPatientAdmissions)
	read.GET("/patients/:id/death-record", h.GetDeathRecord)
	api.GET("/admissions/statistics", h.Statistics, auth.RequireRole(auth.RoleClerk))

	api.POST("/patients/:id/admissions", h.Admit, write(auth.RoleClerk)...)
	api.PATCH("/admissions/:id", h.UpdateAdmission, write(auth.RoleClerk, auth.RoleDoctor)...)
	api.POST("/admissions/:id/discharge", h.Discharge, write(auth.RoleDoctor)...)
	api.POST("/admissions/:id/confirm-death", h.ConfirmDeath, write(auth.RoleDoctor)...)
	api.POST("/admissions/:id/convert-to-inpatient", h.ConvertToInpatient, write(auth.RoleClerk, auth.RoleDoctor)...)
	api.POST("/admissions/:id/transfer", h.Transfer, write(auth.RoleClerk, auth.RoleDoctor)...)
}

// -- Transitions --

func (h *Handler) Admit(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var cmd AdmitCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.lifecycle.Admit(c.Request().Context(), actor(c), h.now(), patientID, cmd)
	h.record("admit", err)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := h.authorizeModify(c)
	if err != nil {
		return err
	}
	var cmd DischargeCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.lifecycle.Discharge(c.Request().Context(), actor(c), h.now(), id, cmd)
	h.record(TransitionDischarge.String(), err)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ConfirmDeath(c echo.Context) error {
	id, err := h.authorizeModify(c)
	if err != nil {
		return err
	}
	var cmd ConfirmDeathCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.lifecycle.ConfirmDeath(c.Request().Context(), actor(c), h.now(), id, cmd)
	h.record(TransitionConfirmDeath.String(), err)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ConvertToInpatient(c echo.Context) error {
	id, err := h.authorizeModify(c)
	if err != nil {
		return err
	}
	var cmd ConvertCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.lifecycle.ConvertToInpatient(c.Request().Context(), actor(c), h.now(), id, cmd)
	h.record(TransitionConvert.String(), err)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := h.authorizeModify(c)
	if err != nil {
		return err
	}
	var cmd TransferCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.lifecycle.Transfer(c.Request().Context(), actor(c), h.now(), id, cmd)
	h.record(TransitionTransfer.String(), err)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// UpdateAdmission applies the role field policy before the lifecycle sees
// the patch. Stripped fields are reported in X-Ignored-Fields.
func (h *Handler) UpdateAdmission(c echo.Context) error {
	id, err := h.authorizeModify(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUpdateBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	p, _ := auth.PrincipalFromContext(c.Request().Context())
	cmd, stripped, err := h.policy.Strip(p.Roles, body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(stripped) > 0 {
		if cmd.Empty() {
			return c.JSON(http.StatusForbidden, errorBody{
				Code:    "FieldsNotPermitted",
				Message: "your role may not update: " + strings.Join(stripped, ", "),
			})
		}
		c.Response().Header().Set("X-Ignored-Fields", strings.Join(stripped, ","))
	}

	a, err := h.lifecycle.Update(c.Request().Context(), actor(c), h.now(), id, cmd)
	h.record(TransitionUpdate.String(), err)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Reads --

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.lifecycle.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return RespondError(c, err)
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if !CanAccess(p, a) {
		return echo.NewHTTPError(http.StatusForbidden, "admission is not assigned to you")
	}
	return c.JSON(http.StatusOK, a)
}

// ListAdmissions serves the admission index. Doctors and nurses only see
// admissions assigned to them.
func (h *Handler) ListAdmissions(c echo.Context) error {
	f := Filter{
		Status: Status(c.QueryParam("status")),
		Type:   Type(c.QueryParam("admission_type")),
	}
	switch f.Status {
	case "", StatusAdmitted, StatusDischarged, StatusDeceased, StatusTransferred:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}
	switch f.Type {
	case "", TypeInpatient, TypeOutpatient:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission_type filter")
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id filter")
		}
		f.PatientID = &id
	}
	bounds := []struct {
		param string
		dst   **time.Time
	}{
		{"admitted_from", &f.AdmittedFrom},
		{"admitted_to", &f.AdmittedTo},
	}
	for _, b := range bounds {
		v := c.QueryParam(b.param)
		if v == "" {
			continue
		}
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+b.param+" filter, expected YYYY-MM-DD")
		}
		*b.dst = &d
	}

	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if !unscoped(p) {
		id := p.ID
		if p.HasRole(auth.RoleDoctor) {
			f.DoctorID = &id
		} else {
			f.NurseID = &id
		}
	}

	pg := pagination.FromContext(c)
	list, total, err := h.lifecycle.Search(c.Request().Context(), f, pg.Limit(), pg.Offset())
	if err != nil {
		return RespondError(c, err)
	}
	if list == nil {
		list = []*Admission{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg))
}

func (h *Handler) ListPatientAdmissions(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	list, err := h.lifecycle.ListForPatient(c.Request().Context(), patientID)
	if err != nil {
		return RespondError(c, err)
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	visible := make([]*Admission, 0, len(list))
	for _, a := range list {
		if CanAccess(p, a) {
			visible = append(visible, a)
		}
	}
	return c.JSON(http.StatusOK, visible)
}

// deathRecordResponse always reports whether the patient died; the death
// admission itself is only included for callers who may read it.
type deathRecordResponse struct {
	Deceased  bool       `json:"deceased"`
	Admission *Admission `json:"admission,omitempty"`
}

func (h *Handler) GetDeathRecord(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	death, err := h.lifecycle.GetPatientDeathRecord(c.Request().Context(), patientID)
	if err != nil {
		return RespondError(c, err)
	}
	resp := deathRecordResponse{Deceased: death != nil}
	if p, _ := auth.PrincipalFromContext(c.Request().Context()); death != nil && CanAccess(p, death) {
		resp.Admission = death
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Statistics(c echo.Context) error {
	s, err := h.lifecycle.Statistics(c.Request().Context(), h.now())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// -- Helpers --

// authorizeModify parses :id and, for doctors, checks the admission is
// assigned to the caller before any transition runs.
func (h *Handler) authorizeModify(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if unscoped(p) {
		return id, nil
	}
	a, err := h.lifecycle.GetAdmission(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		// The transition itself reports the missing admission.
		return id, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	if !CanModify(p, a) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "admission is not assigned to you")
	}
	return id, nil
}

// unscoped reports whether p sees and modifies every admission.
func unscoped(p auth.Principal) bool {
	return p.HasRole(auth.RoleAdmin) || p.HasRole(auth.RoleClerk)
}

// CanModify reports whether p may write to a: unscoped staff always, doctors
// only when assigned.
func CanModify(p auth.Principal, a *Admission) bool {
	if unscoped(p) {
		return true
	}
	return p.HasRole(auth.RoleDoctor) && a.DoctorID != nil && *a.DoctorID == p.ID
}

// CanAccess reports whether p may read a. Doctors and nurses see only the
// admissions they are assigned to.
func CanAccess(p auth.Principal, a *Admission) bool {
	if unscoped(p) {
		return true
	}
	if p.HasRole(auth.RoleDoctor) && a.DoctorID != nil && *a.DoctorID == p.ID {
		return true
	}
	return p.HasRole(auth.RoleNurse) && a.NurseID != nil && *a.NurseID == p.ID
}

func actor(c echo.Context) Actor {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	return Actor{ID: p.ID, Name: p.Name}
}

func (h *Handler) record(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if e, ok := AsError(err); ok {
			outcome = string(e.Code)
		}
	}
	h.metrics.Transition(transition, outcome)
}

type errorBody struct {
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	CurrentStatus Status            `json:"current_status,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	Conflicting   *Summary          `json:"conflicting_admission,omitempty"`
	Retry         bool              `json:"retry,omitempty"`
}

var kindStatus = map[Kind]int{
	KindValidation:        http.StatusUnprocessableEntity,
	KindStateConflict:     http.StatusConflict,
	KindAggregateConflict: http.StatusConflict,
	KindNotFound:          http.StatusNotFound,
	KindConcurrency:       http.StatusConflict,
}

// RespondError renders lifecycle errors. Anything else is handed back to
// echo, which logs it and answers 500.
func RespondError(c echo.Context, err error) error {
	if e, ok := AsError(err); ok {
		body := errorBody{
			Code:          string(e.Code),
			Message:       e.Message,
			CurrentStatus: e.CurrentStatus,
			Fields:        e.Fields,
			Retry:         e.Kind == KindConcurrency,
		}
		if e.Conflicting != nil {
			body.Conflicting = e.Conflicting.Summary()
		}
		status, ok := kindStatus[e.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, body)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request timed out").SetInternal(err)
	case errors.Is(err, ErrDuplicateNumber):
		return c.JSON(http.StatusConflict, errorBody{
			Code:    string(CodeVersionConflict),
			Message: "could not allocate an admission number, retry the request",
			Retry:   true,
		})
	case errors.Is(err, ErrSequenceExhausted):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error()).SetInternal(err)
	}
	return err
}
