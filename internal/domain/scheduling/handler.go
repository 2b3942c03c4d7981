package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/availability"
	"github.com/hms/hms/pkg/pagination"
)

// Error codes returned by the slot endpoint besides the engine codes.
const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeDoctorNotFound  = "DOCTOR_NOT_FOUND"
	codeServiceNotFound = "SERVICE_NOT_FOUND"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: every role
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	readGroup.GET("/doctors", h.ListDoctors)
	readGroup.GET("/doctors/:id", h.GetDoctor)
	readGroup.GET("/doctors/:id/services", h.ListServices)
	readGroup.GET("/doctors/:id/schedule", h.GetSchedule)
	readGroup.GET("/doctors/:id/available-slots", h.AvailableSlots)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/bookings", h.ListBookings)
	readGroup.GET("/bookings/:id", h.GetBooking)
	readGroup.POST("/bookings/:id/cancel", h.CancelBooking)
	readGroup.POST("/availability/local-view", h.ToLocalView)
	readGroup.POST("/availability/utc-rules", h.ToUTCRules)

	// Doctor-owned writes: admin, doctor
	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.PUT("/doctors/:id/schedule", h.ReplaceSchedule)
	doctorGroup.POST("/doctors/:id/services", h.CreateService)
	doctorGroup.PUT("/doctors/:id/services/:serviceId", h.UpdateService)
	doctorGroup.DELETE("/doctors/:id/services/:serviceId", h.DeleteService)
	doctorGroup.GET("/patients", h.SearchPatients)
	doctorGroup.PATCH("/bookings/:id/status", h.UpdateBookingStatus)
	doctorGroup.GET("/calendar/today", h.Today)

	// Patient self-service: admin, patient
	api.POST("/bookings", h.CreateBooking, auth.RequireRole(auth.RolePatient))
	api.POST("/patients", h.CreatePatient, auth.RequireRole(auth.RolePatient))

	// Admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors", h.CreateDoctor)
	adminGroup.GET("/calendar/appointments", h.ListCalendar)
}

// errorStatus maps service errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrPatientNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBookingConflict), errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrServiceInUse), errors.Is(err, ErrPatientExists):
		return http.StatusConflict
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, availability.ErrInvalidServiceDuration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidTimezone),
		errors.Is(err, availability.ErrMalformedTimeString), errors.Is(err, availability.ErrUnknownWeekday):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(errorStatus(err), err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// callerID returns the caller's user id as a uuid, or uuid.Nil.
func callerID(c echo.Context) uuid.UUID {
	id, _ := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	return id
}

// ownDoctor rejects doctors acting on another doctor's resources. A doctor's
// user id is their doctor id.
func ownDoctor(c echo.Context, doctorID uuid.UUID) error {
	ctx := c.Request().Context()
	if auth.IsOnly(ctx, auth.RoleDoctor) && callerID(c) != doctorID {
		return echo.NewHTTPError(http.StatusForbidden, "doctors may only manage their own schedule")
	}
	return nil
}

// canSeeBooking allows admins, the booking's doctor and its patient.
func canSeeBooking(c echo.Context, b *Booking) bool {
	ctx := c.Request().Context()
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return true
	}
	me := callerID(c)
	return (auth.HasRole(ctx, auth.RoleDoctor) && b.DoctorID == me) ||
		(auth.HasRole(ctx, auth.RolePatient) && b.PatientID == me)
}

// -- Doctor Handlers --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Medical Service Handlers --

func (h *Handler) CreateService(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := ownDoctor(c, doctorID); err != nil {
		return err
	}
	var ms MedicalService
	if err := c.Bind(&ms); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ms.DoctorID = doctorID
	if err := h.svc.CreateMedicalService(c.Request().Context(), &ms); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ms)
}

func (h *Handler) UpdateService(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	serviceID, err := parseID(c, "serviceId")
	if err != nil {
		return err
	}
	if err := ownDoctor(c, doctorID); err != nil {
		return err
	}
	var ms MedicalService
	if err := c.Bind(&ms); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ms.ID, ms.DoctorID = serviceID, doctorID
	if err := h.svc.UpdateMedicalService(c.Request().Context(), &ms); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ms)
}

func (h *Handler) DeleteService(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	serviceID, err := parseID(c, "serviceId")
	if err != nil {
		return err
	}
	if err := ownDoctor(c, doctorID); err != nil {
		return err
	}
	if err := h.svc.DeleteMedicalService(c.Request().Context(), doctorID, serviceID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListServices(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListMedicalServices(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*MedicalService{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Schedule Handlers --

func (h *Handler) GetSchedule(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.svc.GetScheduleView(c.Request().Context(), doctorID, c.QueryParam("tz"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ReplaceSchedule(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := ownDoctor(c, doctorID); err != nil {
		return err
	}
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.ReplaceSchedule(c.Request().Context(), doctorID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type localViewRequest struct {
	Timezone string              `json:"timezone"`
	Rules    []availability.Rule `json:"rules"`
}

type utcRulesRequest struct {
	Timezone   string                        `json:"timezone"`
	Selections []availability.LocalSelection `json:"selections"`
}

// ToLocalView renders UTC rules in a zone without touching storage.
func (h *Handler) ToLocalView(c echo.Context) error {
	var req localViewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	selections, err := h.svc.RulesToLocalView(req.Rules, req.Timezone)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"timezone":   req.Timezone,
		"selections": selections,
	})
}

// ToUTCRules converts local selections to UTC rules without touching storage.
func (h *Handler) ToUTCRules(c echo.Context) error {
	var req utcRulesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rules, err := h.svc.LocalViewToRules(req.Selections, req.Timezone)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"rules": rules})
}

// -- Available Slot Handlers --

type slotError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type slotErrorResponse struct {
	Slots []time.Time `json:"slots"`
	Error slotError   `json:"error"`
}

func slotFailure(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, slotErrorResponse{Slots: []time.Time{}, Error: slotError{Code: code, Message: msg}})
}

// AvailableSlots answers GET /doctors/:id/available-slots?serviceId=&date=.
// Failures keep the response shape: an empty slot list plus an error code.
func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return slotFailure(c, http.StatusBadRequest, codeInvalidRequest, "invalid doctor id")
	}
	rawService, rawDate := c.QueryParam("serviceId"), c.QueryParam("date")
	if rawService == "" || rawDate == "" {
		return slotFailure(c, http.StatusBadRequest, codeInvalidRequest, "serviceId and date are required")
	}
	serviceID, err := uuid.Parse(rawService)
	if err != nil {
		return slotFailure(c, http.StatusBadRequest, codeInvalidRequest, "invalid serviceId")
	}
	date, err := time.Parse(DateLayout, rawDate)
	if err != nil {
		return slotFailure(c, http.StatusBadRequest, codeInvalidRequest, "date must be yyyy-MM-dd")
	}

	res, err := h.svc.ComputeAvailableSlots(c.Request().Context(), doctorID, serviceID, date)
	if err != nil {
		code := string(availability.CodeOf(err))
		switch {
		case errors.Is(err, ErrServiceNotFound):
			code = codeServiceNotFound
		case errors.Is(err, ErrDoctorNotFound):
			code = codeDoctorNotFound
		}
		return slotFailure(c, errorStatus(err), code, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// -- Booking Handlers --

func (h *Handler) CreateBooking(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if auth.IsOnly(ctx, auth.RolePatient, auth.RoleDoctor) {
		req.PatientID = callerID(c)
	}
	b, err := h.svc.CreateBooking(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !canSeeBooking(c, b) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBookingNotFound.Error())
	}
	return c.JSON(http.StatusOK, b)
}

type cancelRequest struct {
	By string `json:"by"`
}

// cancelledBy picks who a cancellation is recorded against. A caller with
// exactly one of the patient and doctor roles cancels as that role. Admins
// and callers holding both roles say which one they act as in requested.
func cancelledBy(ctx context.Context, requested string) string {
	isPatient := auth.IsOnly(ctx, auth.RolePatient)
	isDoctor := auth.IsOnly(ctx, auth.RoleDoctor)
	switch {
	case isPatient && !isDoctor:
		return "patient"
	case isDoctor && !isPatient:
		return "doctor"
	default:
		return requested
	}
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.GetBooking(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !canSeeBooking(c, b) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBookingNotFound.Error())
	}
	b, err = h.svc.CancelBooking(ctx, id, cancelledBy(ctx, req.By))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateBookingStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.GetBooking(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := ownDoctor(c, b.DoctorID); err != nil {
		return err
	}
	b, err = h.svc.UpdateBookingStatus(ctx, id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// bookingFilter reads ?doctor_id=, ?patient_id= and ?status=, then narrows
// non-admins to their own bookings. A caller holding both the doctor and
// patient roles sees their own practice when they filter by their doctor
// id and the bookings they attend otherwise.
func bookingFilter(c echo.Context) (BookingFilter, error) {
	var f BookingFilter
	for name, dst := range map[string]*uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
		if raw := c.QueryParam(name); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = id
		}
	}
	f.Status = c.QueryParam("status")

	ctx := c.Request().Context()
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return f, nil
	}
	me := callerID(c)
	isDoctor := auth.IsOnly(ctx, auth.RoleDoctor)
	isPatient := auth.IsOnly(ctx, auth.RolePatient)
	if isDoctor && (!isPatient || f.DoctorID == me) {
		f.DoctorID = me
	} else {
		f.PatientID = me
	}
	return f, nil
}

func (h *Handler) ListBookings(c echo.Context) error {
	f, err := bookingFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBookings(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*CalendarEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Patient Handlers --

// CreatePatient registers a patient. Patients register themselves under
// their own user id; admins may pass any id or none.
func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleAdmin) {
		p.ID = callerID(c)
		if p.ID == uuid.Nil {
			return echo.NewHTTPError(http.StatusForbidden, "caller has no patient id")
		}
	}
	if err := h.svc.CreatePatient(ctx, &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// GetPatient lets patients read only their own record.
func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if auth.IsOnly(ctx, auth.RolePatient, auth.RoleDoctor) && callerID(c) != id {
		return echo.NewHTTPError(http.StatusNotFound, ErrPatientNotFound.Error())
	}
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Calendar Handlers --

// parseInstant accepts RFC 3339 timestamps or bare dates (UTC midnight).
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(DateLayout, s)
}

func (h *Handler) ListCalendar(c echo.Context) error {
	from, err := parseInstant(c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start")
	}
	to, err := parseInstant(c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCalendar(c.Request().Context(), from, to, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Today(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctorID := uuid.Nil
	if auth.IsOnly(c.Request().Context(), auth.RoleDoctor) {
		doctorID = callerID(c)
	}
	items, total, err := h.svc.TodaysAppointments(c.Request().Context(), doctorID, c.QueryParam("tz"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
