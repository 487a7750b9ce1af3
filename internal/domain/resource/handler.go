package resource

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/pkg/pagination"
)

type Handler struct {
	alloc *Allocator
}

func NewHandler(alloc *Allocator) *Handler {
	return &Handler{alloc: alloc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/beds", h.ListBeds)
	api.GET("/beds/occupancy", h.BedOccupancy)
	api.GET("/beds/:id", h.GetBed)
	api.POST("/beds", h.CreateBed)
	api.PUT("/beds/:id", h.UpdateBed)
	api.DELETE("/beds/:id", h.DeleteBed)
	api.POST("/beds/:id/status", h.SetBedStatus)

	api.GET("/ambulances", h.ListAmbulances)
	api.GET("/ambulances/occupancy", h.AmbulanceOccupancy)
	api.GET("/ambulances/:id", h.GetAmbulance)
	api.POST("/ambulances", h.CreateAmbulance)
	api.PUT("/ambulances/:id", h.UpdateAmbulance)
	api.DELETE("/ambulances/:id", h.DeleteAmbulance)
	api.POST("/ambulances/:id/status", h.SetAmbulanceStatus)
}

type bedRequest struct {
	WardID       *uuid.UUID      `json:"ward_id"`
	BedNumber    string          `json:"bed_number" validate:"required,max=20"`
	BedType      *string         `json:"bed_type"`
	Status       Status          `json:"status"`
	ChargePerDay decimal.Decimal `json:"charge_per_day" validate:"money"`
	Notes        *string         `json:"notes"`
}

type ambulanceRequest struct {
	VehicleNumber string          `json:"vehicle_number" validate:"required,max=20"`
	VehicleType   *string         `json:"vehicle_type"`
	Status        Status          `json:"status"`
	ChargePerKm   decimal.Decimal `json:"charge_per_km" validate:"money"`
	Notes         *string         `json:"notes"`
}

type statusRequest struct {
	Status Status `json:"status" validate:"required"`
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

// -- Beds --

func (h *Handler) CreateBed(c echo.Context) error {
	var req bedRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	b := &Bed{WardID: req.WardID, BedNumber: req.BedNumber, BedType: req.BedType,
		Status: req.Status, ChargePerDay: req.ChargePerDay, Notes: req.Notes}
	if err := h.alloc.CreateBed(c.Request().Context(), b); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.alloc.GetBed(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := BedFilter{Status: Status(c.QueryParam("status"))}
	if v := c.QueryParam("ward_id"); v != "" {
		wid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("ward_id", "invalid ward_id")
		}
		f.WardID = &wid
	}
	items, total, err := h.alloc.ListBeds(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req bedRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Status != "" {
		return apperr.Validation("status", "use the status endpoint to change status")
	}
	b := &Bed{ID: id, WardID: req.WardID, BedNumber: req.BedNumber, BedType: req.BedType,
		ChargePerDay: req.ChargePerDay, Notes: req.Notes}
	if err := h.alloc.UpdateBed(c.Request().Context(), b); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.alloc.DeleteBed(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetBedStatus(c echo.Context) error {
	return h.setStatus(c, KindBed)
}

func (h *Handler) BedOccupancy(c echo.Context) error {
	return h.occupancy(c, KindBed)
}

// -- Ambulances --

func (h *Handler) CreateAmbulance(c echo.Context) error {
	var req ambulanceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a := &Ambulance{VehicleNumber: req.VehicleNumber, VehicleType: req.VehicleType,
		Status: req.Status, ChargePerKm: req.ChargePerKm, Notes: req.Notes}
	if err := h.alloc.CreateAmbulance(c.Request().Context(), a); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAmbulance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.alloc.GetAmbulance(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAmbulances(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AmbulanceFilter{Status: Status(c.QueryParam("status"))}
	items, total, err := h.alloc.ListAmbulances(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAmbulance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ambulanceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Status != "" {
		return apperr.Validation("status", "use the status endpoint to change status")
	}
	a := &Ambulance{ID: id, VehicleNumber: req.VehicleNumber, VehicleType: req.VehicleType,
		ChargePerKm: req.ChargePerKm, Notes: req.Notes}
	if err := h.alloc.UpdateAmbulance(c.Request().Context(), a); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAmbulance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.alloc.DeleteAmbulance(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetAmbulanceStatus(c echo.Context) error {
	return h.setStatus(c, KindAmbulance)
}

func (h *Handler) AmbulanceOccupancy(c echo.Context) error {
	return h.occupancy(c, KindAmbulance)
}

// -- shared --

func (h *Handler) setStatus(c echo.Context, kind Kind) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.alloc.ForceStatus(ctx, kind, id, req.Status); err != nil {
		return err
	}
	if kind == KindBed {
		b, err := h.alloc.GetBed(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, b)
	}
	a, err := h.alloc.GetAmbulance(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) occupancy(c echo.Context, kind Kind) error {
	occ, err := h.alloc.Occupancy(c.Request().Context(), kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, occ)
}
