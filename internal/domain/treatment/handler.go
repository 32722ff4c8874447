package treatment

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/domain/admission"
	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/blobstore"
	"github.com/ehr/admissions/internal/platform/validation"
)

const uploadField = "attachments"

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group, writeMW ...echo.MiddlewareFunc) {
	write := append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleDoctor)}, writeMW...)

	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/treatment-types", h.ListTypes)
	read.GET("/treatment-outcomes", h.ListOutcomes)
	read.GET("/admissions/:id/treatments", h.ListRecords)
	read.GET("/admissions/:id/treatments/:record_id", h.GetRecord)
	read.GET("/admissions/:id/treatments/:record_id/attachments/:attachment_id", h.DownloadAttachment)

	api.POST("/admissions/:id/treatments", h.CreateRecord, write...)
	api.PATCH("/admissions/:id/treatments/:record_id", h.UpdateRecord, write...)
	api.POST("/admissions/:id/treatments/:record_id/attachments", h.UploadAttachments, write...)
	api.DELETE("/admissions/:id/treatments/:record_id/attachments/:attachment_id", h.RemoveAttachment, write...)
}

func (h *Handler) ListTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": Types})
}

func (h *Handler) ListOutcomes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": Outcomes})
}

func (h *Handler) CreateRecord(c echo.Context) error {
	admissionID, err := h.authorize(c, true)
	if err != nil {
		return err
	}
	var cmd CreateCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if cmd.DoctorID == nil && p.HasRole(auth.RoleDoctor) {
		id := p.ID
		cmd.DoctorID = &id
	}
	rec, err := h.svc.Create(c.Request().Context(), h.now(), p.ID, admissionID, cmd)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	admissionID, err := h.authorize(c, false)
	if err != nil {
		return err
	}
	list, err := h.svc.List(c.Request().Context(), admissionID)
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []*Record{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"admission_id": admissionID,
		"total":        len(list),
		"data":         list,
	})
}

func (h *Handler) GetRecord(c echo.Context) error {
	admissionID, err := h.authorize(c, false)
	if err != nil {
		return err
	}
	recordID, err := parseParam(c, "record_id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), admissionID, recordID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	admissionID, err := h.authorize(c, true)
	if err != nil {
		return err
	}
	recordID, err := parseParam(c, "record_id")
	if err != nil {
		return err
	}
	var cmd UpdateCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	rec, err := h.svc.Update(c.Request().Context(), h.now(), p.ID, admissionID, recordID, cmd)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// UploadAttachments stores every file of the multipart "attachments" field.
// Files are added one at a time; a failure stops at that file.
func (h *Handler) UploadAttachments(c echo.Context) error {
	admissionID, err := h.authorize(c, true)
	if err != nil {
		return err
	}
	recordID, err := parseParam(c, "record_id")
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form expected")
	}
	files := form.File[uploadField]
	if len(files) == 0 {
		return respondError(c, &validation.Error{Fields: map[string]string{uploadField: "is required"}})
	}

	p, _ := auth.PrincipalFromContext(c.Request().Context())
	var rec *Record
	for _, fh := range files {
		rec, err = h.upload(c, p.ID, admissionID, recordID, fh)
		if err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) upload(c echo.Context, actorID, admissionID, recordID uuid.UUID, fh *multipart.FileHeader) (*Record, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return h.svc.AddAttachment(c.Request().Context(), h.now(), actorID, admissionID, recordID, Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Content:     f,
	})
}

func (h *Handler) RemoveAttachment(c echo.Context) error {
	admissionID, err := h.authorize(c, true)
	if err != nil {
		return err
	}
	recordID, err := parseParam(c, "record_id")
	if err != nil {
		return err
	}
	attachmentID, err := parseParam(c, "attachment_id")
	if err != nil {
		return err
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	rec, err := h.svc.RemoveAttachment(c.Request().Context(), h.now(), p.ID, admissionID, recordID, attachmentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	admissionID, err := h.authorize(c, false)
	if err != nil {
		return err
	}
	recordID, err := parseParam(c, "record_id")
	if err != nil {
		return err
	}
	attachmentID, err := parseParam(c, "attachment_id")
	if err != nil {
		return err
	}
	body, att, err := h.svc.OpenAttachment(c.Request().Context(), admissionID, recordID, attachmentID)
	if err != nil {
		return respondError(c, err)
	}
	defer body.Close()

	contentType := att.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote(att.FileName))
	return c.Stream(http.StatusOK, contentType, body)
}

// authorize parses :id and checks the caller's scope on the admission:
// read access for viewers, assignment for writers.
func (h *Handler) authorize(c echo.Context, modify bool) (uuid.UUID, error) {
	id, err := parseParam(c, "id")
	if err != nil {
		return uuid.Nil, err
	}
	a, err := h.svc.Admission(c.Request().Context(), id)
	if errors.Is(err, admission.ErrNotFound) {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "admission not found")
	}
	if err != nil {
		return uuid.Nil, err
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if modify && !admission.CanModify(p, a) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "admission is not assigned to you")
	}
	if !modify && !admission.CanAccess(p, a) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "you do not have access to this admission's treatment records")
	}
	return id, nil
}

func parseParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func respondError(c echo.Context, err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"code":    "ValidationFailed",
			"message": "validation failed",
			"fields":  verr.Fields,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAttachmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAdmissionClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return admission.RespondError(c, err)
}
