package patient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientrecords/internal/platform/hospitalfile"
	"github.com/ehr/patientrecords/pkg/pagination"
)

type Handler struct {
	svc            *Service
	maxUploadBytes int64
}

func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/stats", h.GetStats)
	api.GET("/patients/export", h.ExportPatients)
	api.GET("/patients/linked", h.ListLinked)
	api.POST("/patients/sync/:external_id", h.SyncPatient)

	api.GET("/fhir/patients", h.SearchExternal)
	api.POST("/fhir/patients/:id/import", h.ImportExternal)
	api.GET("/fhir/patients/:id/observations", h.ExternalObservations)

	api.POST("/integrations/file", h.ImportFile)
	api.GET("/integrations/file/template", h.FileTemplate)
	api.POST("/integrations/api/simulate", h.SimulateAPICall)
	api.POST("/integrations/webhook/simulate", h.SimulateWebhook)
	api.GET("/integrations/events", h.ListEvents)
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "invalid patient record",
			"fields":  verr.Fields,
		})
	case errors.Is(err, ErrMalformedExternalRecord):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, hospitalfile.ErrUnsupportedFormat), errors.Is(err, hospitalfile.ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var in ManualEntry
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.AddManual(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListPatients(c echo.Context) error {
	criteria := Criteria{
		Name:   c.QueryParam("name"),
		Source: Source(c.QueryParam("source")),
		Gender: c.QueryParam("gender"),
	}
	if criteria.Source != "" && !criteria.Source.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown source %q", criteria.Source))
	}

	records, err := h.svc.List(c.Request().Context(), criteria)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(records, pg), len(records), pg.Limit, pg.Offset))
}

func (h *Handler) GetStats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ExportPatients(c echo.Context) error {
	format, err := hospitalfile.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return httpError(err)
	}
	return h.attachment(c, "patients_data", format, func(w io.Writer) error {
		return h.svc.Export(c.Request().Context(), w, format)
	})
}

func (h *Handler) ListLinked(c echo.Context) error {
	records, err := h.svc.LinkedRecords(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) SyncPatient(c echo.Context) error {
	res, err := h.svc.SyncExternal(c.Request().Context(), c.Param("external_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Clinical data server --

func (h *Handler) SearchExternal(c echo.Context) error {
	records, err := h.svc.SearchExternal(c.Request().Context(), c.QueryParam("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) ImportExternal(c echo.Context) error {
	res, err := h.svc.ImportExternal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if res.Outcome == OutcomeCreated {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func (h *Handler) ExternalObservations(c echo.Context) error {
	obs, err := h.svc.ExternalObservations(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, obs)
}

// -- Hospital integrations --

func (h *Handler) ImportFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	format, err := hospitalfile.FormatFromName(fh.Filename)
	if err != nil {
		return httpError(err)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	rows, err := hospitalfile.Read(f, format)
	if err != nil {
		if errors.Is(err, hospitalfile.ErrEmptyFile) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.ImportHospitalFile(c.Request().Context(), rows)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) FileTemplate(c echo.Context) error {
	format, err := hospitalfile.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return httpError(err)
	}
	return h.attachment(c, "hospital_sample", format, func(w io.Writer) error {
		return hospitalfile.Write(w, format, hospitalfile.SampleRows())
	})
}

func (h *Handler) SimulateAPICall(c echo.Context) error {
	res, err := h.svc.SimulateAPICall(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SimulateWebhook(c echo.Context) error {
	res, err := h.svc.SimulateWebhook(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	events, total, err := h.svc.Events(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}

// attachment renders the whole file before anything is sent, so a failed
// load still reaches the client as an error status.
func (h *Handler) attachment(c echo.Context, base string, format hospitalfile.Format, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return httpError(err)
	}
	contentType := "text/csv; charset=utf-8"
	if format == hospitalfile.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	name := base + "." + strings.ToLower(string(format))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}
