package billing

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
	ledger   *Ledger
	payments *PaymentProcessor
}

func NewHandler(ledger *Ledger, payments *PaymentProcessor) *Handler {
	return &Handler{ledger: ledger, payments: payments}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/invoices", h.ListInvoices)
	api.POST("/invoices", h.CreateInvoice)
	api.POST("/invoices/from-charges", h.CreateInvoiceFromCharges)
	api.GET("/invoices/:id", h.GetInvoice)
	api.PUT("/invoices/:id", h.UpdateInvoice)
	api.DELETE("/invoices/:id", h.DeleteInvoice)
	api.POST("/invoices/:id/cancel", h.CancelInvoice)
	api.GET("/invoices/:id/items", h.GetInvoiceItems)
	api.POST("/invoices/:id/items", h.AddInvoiceItem)
	api.DELETE("/invoices/:id/items/:itemId", h.RemoveInvoiceItem)
	api.GET("/invoices/:id/payments", h.GetInvoicePayments)

	api.POST("/payments", h.RecordPayment)
	api.GET("/payments/summary", h.DailySummary)
	api.GET("/payments/:id", h.GetPayment)
	api.DELETE("/payments/:id", h.ReversePayment)
}

type itemRequest struct {
	ItemType    ItemType        `json:"item_type" validate:"required"`
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"money"`
}

func (r itemRequest) newItem() NewItem {
	return NewItem{ItemType: r.ItemType, Description: r.Description, Quantity: r.Quantity, UnitPrice: r.UnitPrice}
}

type createInvoiceRequest struct {
	PatientID      uuid.UUID       `json:"patient_id"`
	InvoiceDate    string          `json:"invoice_date" validate:"required,datetime=2006-01-02"`
	DueDate        string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	TaxAmount      decimal.Decimal `json:"tax_amount" validate:"money"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"money"`
	Notes          *string         `json:"notes"`
	Items          []itemRequest   `json:"items" validate:"required,min=1,dive"`
}

type fromChargesRequest struct {
	PatientID      uuid.UUID       `json:"patient_id"`
	InvoiceDate    string          `json:"invoice_date" validate:"required,datetime=2006-01-02"`
	DueDate        string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	TaxAmount      decimal.Decimal `json:"tax_amount" validate:"money"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"money"`
	Notes          *string         `json:"notes"`
}

type updateInvoiceRequest struct {
	DueDate        *string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	TaxAmount      *decimal.Decimal `json:"tax_amount" validate:"omitempty,money"`
	DiscountAmount *decimal.Decimal `json:"discount_amount" validate:"omitempty,money"`
	Notes          *string          `json:"notes"`
}

type recordPaymentRequest struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount" validate:"positive_money"`
	PaymentMethod Method          `json:"payment_method" validate:"required,oneof=cash card bank_transfer cheque insurance online"`
	ReceivedBy    uuid.UUID       `json:"received_by"`
	PaymentDate   string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	TransactionID *string         `json:"transaction_id" validate:"omitempty,max=100"`
	Notes         *string         `json:"notes"`
}

func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("", "malformed request body")
	}
	return c.Validate(req)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation(name, "invalid %s", name)
	}
	return id, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, apperr.Validation(field, "must be a date formatted as %s", dateLayout)
	}
	return t, nil
}

func parseDates(invoiceDate, dueDate string) (time.Time, time.Time, error) {
	inv, err := parseDate("invoice_date", invoiceDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	due, err := parseDate("due_date", dueDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return inv, due, nil
}

// -- Invoice Handlers --

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	invDate, dueDate, err := parseDates(req.InvoiceDate, req.DueDate)
	if err != nil {
		return err
	}
	in := NewInvoice{
		PatientID:   req.PatientID,
		InvoiceDate: invDate,
		DueDate:     dueDate,
		Tax:         req.TaxAmount,
		Discount:    req.DiscountAmount,
		Notes:       req.Notes,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, it.newItem())
	}
	inv, err := h.ledger.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) CreateInvoiceFromCharges(c echo.Context) error {
	var req fromChargesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	invDate, dueDate, err := parseDates(req.InvoiceDate, req.DueDate)
	if err != nil {
		return err
	}
	inv, err := h.ledger.CreateFromCharges(c.Request().Context(), FromCharges{
		PatientID:   req.PatientID,
		InvoiceDate: invDate,
		DueDate:     dueDate,
		Tax:         req.TaxAmount,
		Discount:    req.DiscountAmount,
		Notes:       req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.ledger.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := InvoiceFilter{Status: Status(c.QueryParam("status"))}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("patient_id", "invalid patient_id")
		}
		f.PatientID = &pid
	}
	items, total, err := h.ledger.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateInvoiceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	upd := HeaderUpdate{Tax: req.TaxAmount, Discount: req.DiscountAmount, Notes: req.Notes}
	if req.DueDate != nil {
		due, err := parseDate("due_date", *req.DueDate)
		if err != nil {
			return err
		}
		upd.DueDate = &due
	}
	inv, err := h.ledger.UpdateHeader(c.Request().Context(), id, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.ledger.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.ledger.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetInvoiceItems(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.ledger.Items(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddInvoiceItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req itemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	it, err := h.ledger.AddItem(c.Request().Context(), id, req.newItem())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) RemoveInvoiceItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	itemID, err := parseID(c, "itemId")
	if err != nil {
		return err
	}
	inv, err := h.ledger.RemoveItem(c.Request().Context(), id, itemID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetInvoicePayments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.payments.ListByInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

// -- Payment Handlers --

func (h *Handler) RecordPayment(c echo.Context) error {
	var req recordPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	date, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		return err
	}
	p, err := h.payments.RecordPayment(c.Request().Context(), NewPayment{
		InvoiceID:     req.InvoiceID,
		Amount:        req.Amount,
		Method:        req.PaymentMethod,
		ReceivedBy:    req.ReceivedBy,
		PaymentDate:   date,
		TransactionID: req.TransactionID,
		Notes:         req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.payments.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ReversePayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.payments.Reverse(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DailySummary defaults to today when no date is given.
func (h *Handler) DailySummary(c echo.Context) error {
	day := h.payments.now()
	if v := c.QueryParam("date"); v != "" {
		d, err := parseDate("date", v)
		if err != nil {
			return err
		}
		day = d
	}
	s, err := h.payments.DailySummary(c.Request().Context(), day)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}
