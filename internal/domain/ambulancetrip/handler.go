package ambulancetrip

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	api.GET("/ambulance-trips", h.ListTrips)
	api.GET("/ambulance-trips/:id", h.GetTrip)
	api.POST("/ambulance-trips", h.CreateTrip)
	api.POST("/ambulance-trips/:id/start", h.StartTrip)
	api.POST("/ambulance-trips/:id/complete", h.CompleteTrip)
	api.POST("/ambulance-trips/:id/cancel", h.CancelTrip)
	api.DELETE("/ambulance-trips/:id", h.DeleteTrip)
}

type createRequest struct {
	PatientID      uuid.UUID        `json:"patient_id" validate:"required"`
	AmbulanceID    uuid.UUID        `json:"ambulance_id" validate:"required"`
	DriverID       uuid.UUID        `json:"driver_id" validate:"required"`
	PickupLocation string           `json:"pickup_location" validate:"required"`
	Destination    string           `json:"destination" validate:"required"`
	TripDate       string           `json:"trip_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	DistanceKm     *decimal.Decimal `json:"distance_km" validate:"omitempty,positive_money"`
	Notes          *string          `json:"notes"`
}

type completeRequest struct {
	DistanceKm decimal.Decimal `json:"distance_km" validate:"positive_money"`
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

func (h *Handler) CreateTrip(c echo.Context) error {
	var req createRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, req.TripDate)
	if err != nil {
		return apperr.Validation("trip_date", "must be an RFC 3339 timestamp")
	}
	t, err := h.svc.Create(c.Request().Context(), NewTrip{
		PatientID:      req.PatientID,
		AmbulanceID:    req.AmbulanceID,
		DriverID:       req.DriverID,
		PickupLocation: req.PickupLocation,
		Destination:    req.Destination,
		TripDate:       at,
		EstimatedKm:    req.DistanceKm,
		Notes:          req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTrip(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTrips(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Status: Status(c.QueryParam("status"))}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("patient_id", "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if v := c.QueryParam("ambulance_id"); v != "" {
		aid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("ambulance_id", "invalid ambulance_id")
		}
		f.AmbulanceID = &aid
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) StartTrip(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Start(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CompleteTrip(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	t, err := h.svc.Complete(c.Request().Context(), id, req.DistanceKm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CancelTrip(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTrip(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
