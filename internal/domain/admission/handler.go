package admission

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/admissions", h.ListAdmissions)
	api.GET("/admissions/:id", h.GetAdmission)
	api.POST("/admissions", h.CreateAdmission)
	api.POST("/admissions/:id/discharge", h.DischargeAdmission)
	api.DELETE("/admissions/:id", h.DeleteAdmission)
}

type createRequest struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	DoctorID      uuid.UUID `json:"doctor_id" validate:"required"`
	BedID         uuid.UUID `json:"bed_id" validate:"required"`
	AdmissionDate string    `json:"admission_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Reason        string    `json:"reason" validate:"required"`
	Diagnosis     *string   `json:"diagnosis"`
	TreatmentPlan *string   `json:"treatment_plan"`
}

type dischargeRequest struct {
	DischargeDate    string `json:"discharge_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	DischargeSummary string `json:"discharge_summary" validate:"required"`
}

func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("", "malformed request body")
	}
	return c.Validate(req)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("id", "invalid id")
	}
	return id, nil
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validation(field, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (h *Handler) CreateAdmission(c echo.Context) error {
	var req createRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	at, err := parseTime("admission_date", req.AdmissionDate)
	if err != nil {
		return err
	}
	a, err := h.svc.Create(c.Request().Context(), NewAdmission{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		BedID:         req.BedID,
		AdmissionDate: at,
		Reason:        req.Reason,
		Diagnosis:     req.Diagnosis,
		TreatmentPlan: req.TreatmentPlan,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Status: Status(c.QueryParam("status"))}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("patient_id", "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if v := c.QueryParam("bed_id"); v != "" {
		bid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("bed_id", "invalid bed_id")
		}
		f.BedID = &bid
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DischargeAdmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req dischargeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	at, err := parseTime("discharge_date", req.DischargeDate)
	if err != nil {
		return err
	}
	a, err := h.svc.Discharge(c.Request().Context(), id, Discharge{DischargeDate: at, Summary: req.DischargeSummary})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAdmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
