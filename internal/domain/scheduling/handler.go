package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/DevCuidame/clin-sync-backend-sub001/pkg/pagination"
)

type Handler struct {
	schedules    *ScheduleService
	exceptions   *ExceptionService
	slots        *SlotService
	availability *Orchestrator
}

func NewHandler(schedules *ScheduleService, exceptions *ExceptionService, slots *SlotService, availability *Orchestrator) *Handler {
	return &Handler{schedules: schedules, exceptions: exceptions, slots: slots, availability: availability}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/schedules", h.CreateSchedule)
	api.POST("/schedules/bulk", h.BulkCreateSchedules)
	api.GET("/schedules", h.SearchSchedules)
	api.GET("/schedules/day/:day", h.ListSchedulesByDay)
	api.GET("/schedules/:id", h.GetSchedule)
	api.PUT("/schedules/:id", h.UpdateSchedule)
	api.PATCH("/schedules/:id/toggle", h.ToggleSchedule)
	api.DELETE("/schedules/:id", h.DeleteSchedule)

	api.POST("/exceptions", h.CreateException)
	api.POST("/exceptions/bulk", h.BulkCreateExceptions)
	api.GET("/exceptions", h.SearchExceptions)
	api.GET("/exceptions/type/:type", h.ListExceptionsByType)
	api.GET("/exceptions/range", h.ListExceptionsByDateRange)
	api.GET("/exceptions/:id", h.GetException)
	api.PUT("/exceptions/:id", h.UpdateException)
	api.DELETE("/exceptions/:id", h.DeleteException)

	api.POST("/slots", h.CreateSlot)
	api.POST("/slots/bulk", h.BulkGenerateSlots)
	api.GET("/slots/:id", h.GetSlot)
	api.PUT("/slots/:id", h.UpdateSlot)
	api.DELETE("/slots/:id", h.DeleteSlot)

	prof := api.Group("/professionals/:id")
	prof.GET("/schedules", h.ListProfessionalSchedules)
	prof.GET("/exceptions", h.ListProfessionalExceptions)
	prof.DELETE("/exceptions", h.DeleteProfessionalExceptions)
	prof.GET("/slots", h.ListProfessionalSlots)
	prof.POST("/slots/pregenerate", h.PreGenerateSlots)
	prof.GET("/availability", h.GetAvailability)
	prof.GET("/availability/:date", h.GetAvailabilityForDate)
	prof.GET("/slot-statistics", h.GetSlotStatistics)
}

// httpError maps service errors onto HTTP statuses. Anything unmapped is
// logged with the request logger and answered with a generic 500.
func httpError(c echo.Context, err error) error {
	var overlap *OverlapError
	switch {
	case errors.As(err, &overlap):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidTimeFormat),
		errors.Is(err, ErrInvalidDateFormat),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrInvalidBreak):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	zerolog.Ctx(c.Request().Context()).Error().Err(err).
		Str("path", c.Request().URL.Path).
		Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func paramID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func queryBool(c echo.Context, name string) (*bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &b, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func queryString(c echo.Context, name string) *string {
	if v := c.QueryParam(name); v != "" {
		return &v
	}
	return nil
}

// -- Schedule Handlers --

func (h *Handler) CreateSchedule(c echo.Context) error {
	var sched Schedule
	if err := c.Bind(&sched); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.schedules.Create(c.Request().Context(), &sched); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *Handler) BulkCreateSchedules(c echo.Context) error {
	var items []*Schedule
	if err := c.Bind(&items); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one schedule is required")
	}
	res := h.schedules.BulkCreate(c.Request().Context(), items)
	return c.JSON(bulkStatus(len(res.Succeeded)), res)
}

// bulkStatus is 201 when at least one item was created, 400 otherwise.
func bulkStatus(succeeded int) int {
	if succeeded == 0 {
		return http.StatusBadRequest
	}
	return http.StatusCreated
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	sched, err := h.schedules.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) SearchSchedules(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ScheduleFilter
	var err error
	if f.ProfessionalID, err = queryUUID(c, "professional_id"); err != nil {
		return err
	}
	if v := c.QueryParam("day_of_week"); v != "" {
		day, err := ParseDayOfWeek(v)
		if err != nil {
			return httpError(c, err)
		}
		f.DayOfWeek = &day
	}
	if f.IsActive, err = queryBool(c, "is_active"); err != nil {
		return err
	}
	f.ValidDate = queryString(c, "valid_date")

	items, total, err := h.schedules.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListSchedulesByDay(c echo.Context) error {
	day, err := ParseDayOfWeek(c.Param("day"))
	if err != nil {
		return httpError(c, err)
	}
	items, err := h.schedules.GetByDay(c.Request().Context(), day)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListProfessionalSchedules(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	activeOnly, err := queryBool(c, "active_only")
	if err != nil {
		return err
	}
	items, err := h.schedules.GetByProfessional(c.Request().Context(), pid, activeOnly != nil && *activeOnly)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var u ScheduleUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := h.schedules.Update(c.Request().Context(), id, &u)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) ToggleSchedule(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	sched, err := h.schedules.ToggleActive(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.schedules.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Exception Handlers --

func (h *Handler) CreateException(c echo.Context) error {
	var e Exception
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.exceptions.Create(c.Request().Context(), &e); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) BulkCreateExceptions(c echo.Context) error {
	var items []*Exception
	if err := c.Bind(&items); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one exception is required")
	}
	res := h.exceptions.BulkCreate(c.Request().Context(), items)
	return c.JSON(bulkStatus(len(res.Succeeded)), res)
}

func (h *Handler) GetException(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	e, err := h.exceptions.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SearchExceptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ExceptionFilter
	var err error
	if f.ProfessionalID, err = queryUUID(c, "professional_id"); err != nil {
		return err
	}
	if v := c.QueryParam("type"); v != "" {
		t := ExceptionType(v)
		f.Type = &t
	}
	f.DateFrom = queryString(c, "date_from")
	f.DateTo = queryString(c, "date_to")
	f.SpecificDate = queryString(c, "date")

	items, total, err := h.exceptions.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListExceptionsByType(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.exceptions.GetByType(c.Request().Context(), ExceptionType(c.Param("type")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListExceptionsByDateRange(c echo.Context) error {
	pg := pagination.FromContext(c)
	from, to := c.QueryParam("start_date"), c.QueryParam("end_date")
	if from == "" || to == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date and end_date are required")
	}
	items, total, err := h.exceptions.GetByDateRange(c.Request().Context(), from, to, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListProfessionalExceptions(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.exceptions.GetByProfessional(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateException(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var u ExceptionUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.exceptions.Update(c.Request().Context(), id, &u)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteException(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.exceptions.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteProfessionalExceptions deletes all of a professional's exceptions,
// or only those within start_date..end_date when both are given.
func (h *Handler) DeleteProfessionalExceptions(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	from, to := c.QueryParam("start_date"), c.QueryParam("end_date")
	var n int64
	switch {
	case from == "" && to == "":
		n, err = h.exceptions.DeleteByProfessional(c.Request().Context(), pid)
	case from != "" && to != "":
		n, err = h.exceptions.DeleteByProfessionalDateRange(c.Request().Context(), pid, from, to)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "start_date and end_date must be given together")
	}
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// -- Slot Handlers --

func (h *Handler) CreateSlot(c echo.Context) error {
	var t TimeSlot
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.slots.Create(c.Request().Context(), &t); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) BulkGenerateSlots(c echo.Context) error {
	var req BulkSlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.slots.BulkGenerate(c.Request().Context(), &req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if c.QueryParam("include") == "professional" {
		d, err := h.slots.GetByIDWithProfessional(c.Request().Context(), id)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, d)
	}
	t, err := h.slots.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListProfessionalSlots(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := SlotFilter{
		DateFrom: queryString(c, "date_from"),
		DateTo:   queryString(c, "date_to"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if v := c.QueryParam("status"); v != "" {
		st := SlotStatus(v)
		f.Status = &st
	}
	availableOnly, err := queryBool(c, "available_only")
	if err != nil {
		return err
	}
	f.AvailableOnly = availableOnly != nil && *availableOnly

	items, total, err := h.slots.ListByProfessional(c.Request().Context(), pid, f)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var u SlotUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.slots.Update(c.Request().Context(), id, &u)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.slots.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Availability Handlers --

func (h *Handler) GetAvailability(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	start := c.QueryParam("start_date")
	if start == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date is required")
	}
	var opts AvailabilityOptions
	if opts.Duration, err = queryInt(c, "duration"); err != nil {
		return err
	}
	if opts.MaxVirtualSlots, err = queryInt(c, "max_slots"); err != nil {
		return err
	}
	if opts.AutoGenerate, err = queryBool(c, "auto_generate"); err != nil {
		return err
	}
	persist, err := queryBool(c, "persist_popular")
	if err != nil {
		return err
	}
	opts.PersistPopular = persist != nil && *persist

	res, err := h.availability.GetAvailableSlots(c.Request().Context(), pid, start, c.QueryParam("end_date"), opts)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAvailabilityForDate(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	duration, err := queryInt(c, "duration")
	if err != nil {
		return err
	}
	res, err := h.availability.GetAvailabilityForDate(c.Request().Context(), pid, c.Param("date"), duration)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetSlotStatistics(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	start := c.QueryParam("start_date")
	if start == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date is required")
	}
	stats, err := h.availability.GetSlotStatistics(c.Request().Context(), pid, start, c.QueryParam("end_date"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

type preGenerateRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Duration  int    `json:"duration"`
}

func (h *Handler) PreGenerateSlots(c echo.Context) error {
	pid, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req preGenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StartDate == "" || req.EndDate == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date and end_date are required")
	}
	report, err := h.availability.PreGenerateSlots(c.Request().Context(), pid, req.StartDate, req.EndDate, req.Duration)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
