package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// RegisterRoutes mounts the scheduling endpoints. booking wraps the booking
// route only, typically with the Idempotency-Key guard.
func (h *Handler) RegisterRoutes(api *echo.Group, booking ...echo.MiddlewareFunc) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleStaff))
	staff.GET("/doctors/:id/slots", h.GetAvailableSlots)
	staff.GET("/appointments", h.ListAppointments)
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.POST("/appointments", h.BookAppointment, booking...)
	staff.PATCH("/appointments/:id/status", h.TransitionStatus)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/appointments/no-show-sweep", h.SweepNoShows)
}

type slotsResponse struct {
	DoctorID uuid.UUID   `json:"doctor_id"`
	Date     Date        `json:"date"`
	Slots    []TimeOfDay `json:"slots"`
}

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slots, err := h.svc.GetAvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, slotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

func (h *Handler) BookAppointment(c echo.Context) error {
	bookedBy, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authenticated user required")
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := h.svc.BookAppointment(c.Request().Context(), bookedBy, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	doctorID, err := uuid.Parse(c.QueryParam("doctor_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id query parameter must be a UUID")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointmentsByDoctor(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) TransitionStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.TransitionStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type sweepResponse struct {
	Marked []uuid.UUID `json:"marked"`
	Count  int         `json:"count"`
}

func (h *Handler) SweepNoShows(c echo.Context) error {
	marked, err := h.svc.MarkNoShows(c.Request().Context(), h.now())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sweepResponse{Marked: marked, Count: len(marked)})
}

func httpError(c echo.Context, err error) error {
	kind := apperror.KindOf(err)
	if kind == apperror.KindDependency {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("scheduling request failed")
	}
	return echo.NewHTTPError(apperror.HTTPStatus(kind), apperror.PublicMessage(err))
}
