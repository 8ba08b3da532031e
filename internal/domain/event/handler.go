package event

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vitaltrack/vitaltrack/internal/domain/meta"
	"github.com/vitaltrack/vitaltrack/pkg/pagination"
)

type Handler struct {
	svc *Service
	imp *Importer
}

func NewHandler(svc *Service, imp *Importer) *Handler {
	return &Handler{svc: svc, imp: imp}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/events", h.SearchEvents)
	api.GET("/events/query", h.QueryEvents)
	api.GET("/events/:uid", h.GetEvent)
	api.POST("/events", h.ImportEvents)
	api.PUT("/events/:uid", h.UpdateEvent)
	api.DELETE("/events/:uid", h.DeleteEvent)
}

// SearchEvents is the object-graph search: full events with data values
// and notes, plus a pager.
func (h *Handler) SearchEvents(c echo.Context) error {
	p, err := bindSearchParams(c)
	if err != nil {
		return httpError(err)
	}
	page, err := h.svc.SearchEvents(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// QueryEvents is the columnar variant: one flat row per event.
func (h *Handler) QueryEvents(c echo.Context) error {
	p, err := bindSearchParams(c)
	if err != nil {
		return httpError(err)
	}
	grid, pager, err := h.svc.SearchGrid(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	resp := map[string]interface{}{
		"headers": grid.Headers,
		"rows":    grid.Rows,
		"width":   grid.Width,
		"height":  grid.Height,
	}
	if pager != nil {
		resp["metaData"] = map[string]interface{}{"pager": pager}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetEvent(c echo.Context) error {
	ev, err := h.svc.GetEvent(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

// ImportEvents accepts either a single event object or a wrapper with an
// "events" array, and runs the import pipeline over it.
func (h *Handler) ImportEvents(c echo.Context) error {
	events, err := bindEvents(c)
	if err != nil {
		return httpError(err)
	}
	opts, err := bindImportOptions(c)
	if err != nil {
		return httpError(err)
	}
	summaries := h.imp.ImportEvents(c.Request().Context(), events, opts)
	status := http.StatusOK
	if summaries.Status == ImportError {
		status = http.StatusConflict
	}
	return c.JSON(status, summaries)
}

func (h *Handler) UpdateEvent(c echo.Context) error {
	var ev Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev.UID = c.Param("uid")
	opts, err := bindImportOptions(c)
	if err != nil {
		return httpError(err)
	}
	opts.Strategy = StrategyUpdate
	summaries := h.imp.ImportEvents(c.Request().Context(), []*Event{&ev}, opts)
	status := http.StatusOK
	if summaries.Status == ImportError {
		status = http.StatusConflict
	}
	return c.JSON(status, summaries)
}

func (h *Handler) DeleteEvent(c echo.Context) error {
	summary := h.imp.DeleteEvent(c.Request().Context(), c.Param("uid"))
	if summary.Status == ImportError {
		return c.JSON(http.StatusConflict, summary)
	}
	return c.JSON(http.StatusOK, summary)
}

// eventsPayload is the import request body: a bare event or a batch.
type eventsPayload struct {
	Events []*Event `json:"events"`
}

func bindEvents(c echo.Context) ([]*Event, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, clientErrorf("failed to read request body")
	}
	var payload eventsPayload
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Events) > 0 {
		return payload.Events, nil
	}
	var single Event
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, clientErrorf("request body is not a valid event payload")
	}
	return []*Event{&single}, nil
}

func bindImportOptions(c echo.Context) (ImportOptions, error) {
	opts := ImportOptions{Strategy: StrategyCreateAndUpdate}
	if s := c.QueryParam("strategy"); s != "" {
		switch Strategy(strings.ToUpper(s)) {
		case StrategyCreate, StrategyUpdate, StrategyCreateAndUpdate, StrategyDelete, StrategySync:
			opts.Strategy = Strategy(strings.ToUpper(s))
		default:
			return opts, clientErrorf("unknown import strategy %q", s)
		}
	}
	opts.DryRun, _ = strconv.ParseBool(c.QueryParam("dryRun"))
	return opts, nil
}

func bindSearchParams(c echo.Context) (*SearchParams, error) {
	p := &SearchParams{
		EventUID:             c.QueryParam("event"),
		Program:              c.QueryParam("program"),
		ProgramStage:         c.QueryParam("programStage"),
		OrgUnit:              c.QueryParam("orgUnit"),
		OrgUnitMode:          OrgUnitMode(strings.ToUpper(c.QueryParam("ouMode"))),
		TrackedEntity:        c.QueryParam("trackedEntityInstance"),
		Enrollment:           c.QueryParam("enrollment"),
		Status:               Status(strings.ToUpper(c.QueryParam("status"))),
		EnrollmentStatus:     meta.EnrollmentStatus(strings.ToUpper(c.QueryParam("programStatus"))),
		AttributeOptionCombo: c.QueryParam("attributeOptionCombo"),
		CategoryCombo:        c.QueryParam("attributeCc"),
		AssignedUserMode:     AssignedUserMode(strings.ToUpper(c.QueryParam("assignedUserMode"))),
		Paging:               pagination.FromContext(c),
	}

	if v := c.QueryParam("attributeCos"); v != "" {
		p.CategoryOptions = splitOptions(v)
	}
	if v := c.QueryParam("assignedUser"); v != "" {
		p.AssignedUsers = splitOptions(v)
	}
	if v := c.QueryParam("followUp"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, clientErrorf("followUp %q is not a boolean", v)
		}
		p.FollowUp = &b
	}

	var err error
	if p.StartDate, err = parseDate(c.QueryParam("startDate")); err != nil {
		return nil, err
	}
	if p.EndDate, err = parseDate(c.QueryParam("endDate")); err != nil {
		return nil, err
	}
	if p.DueDateStart, err = parseDate(c.QueryParam("dueDateStart")); err != nil {
		return nil, err
	}
	if p.DueDateEnd, err = parseDate(c.QueryParam("dueDateEnd")); err != nil {
		return nil, err
	}
	if p.LastUpdatedStart, err = parseDate(c.QueryParam("lastUpdatedStartDate")); err != nil {
		return nil, err
	}
	if p.LastUpdatedEnd, err = parseDate(c.QueryParam("lastUpdatedEndDate")); err != nil {
		return nil, err
	}
	if v := c.QueryParam("lastUpdatedDuration"); v != "" {
		if p.LastUpdatedDuration, err = ParseDuration(v); err != nil {
			return nil, err
		}
	}
	if p.SkipChangedBefore, err = parseDate(c.QueryParam("skipChangedBefore")); err != nil {
		return nil, err
	}

	for _, f := range c.QueryParams()["filter"] {
		item, err := ParseFilterParam(f)
		if err != nil {
			return nil, err
		}
		p.Items = append(p.Items, item)
	}
	for _, de := range c.QueryParams()["dataElement"] {
		for _, d := range splitOptions(de) {
			if _, ok := findItem(p.Items, d); !ok {
				p.Items = append(p.Items, QueryItem{DataElement: d})
			}
		}
	}

	// Order terms are comma-separated: semicolons are dropped by Go's
	// query parsing before the handler ever sees them.
	for _, o := range strings.Split(c.QueryParam("order"), ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		field, dir := o, "asc"
		if idx := strings.LastIndex(o, ":"); idx >= 0 {
			field, dir = o[:idx], o[idx+1:]
		}
		p.Order = append(p.Order, OrderParam{Field: field, Direction: dir})
	}

	p.IncludeAllDataElements, _ = strconv.ParseBool(c.QueryParam("includeAllDataElements"))
	p.IncludeAttributes, _ = strconv.ParseBool(c.QueryParam("includeAttributes"))
	p.IncludeDeleted, _ = strconv.ParseBool(c.QueryParam("includeDeleted"))
	p.SkipEventID, _ = strconv.ParseBool(c.QueryParam("skipEventId"))

	if p.IDSchemes.Program, err = ParseIDScheme(firstNonEmpty(c.QueryParam("programIdScheme"), c.QueryParam("idScheme"))); err != nil {
		return nil, err
	}
	if p.IDSchemes.ProgramStage, err = ParseIDScheme(firstNonEmpty(c.QueryParam("programStageIdScheme"), c.QueryParam("idScheme"))); err != nil {
		return nil, err
	}
	if p.IDSchemes.OrgUnit, err = ParseIDScheme(firstNonEmpty(c.QueryParam("orgUnitIdScheme"), c.QueryParam("idScheme"))); err != nil {
		return nil, err
	}
	if p.IDSchemes.AttributeOptionCombo, err = ParseIDScheme(firstNonEmpty(c.QueryParam("categoryOptionComboIdScheme"), c.QueryParam("idScheme"))); err != nil {
		return nil, err
	}
	if p.IDSchemes.DataElement, err = ParseIDScheme(firstNonEmpty(c.QueryParam("dataElementIdScheme"), c.QueryParam("idScheme"))); err != nil {
		return nil, err
	}
	return p, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, clientErrorf("date %q is not valid", s)
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// httpError maps engine errors onto HTTP status codes: caller input to
// 400, absent objects to 404, configuration problems to 500.
func httpError(err error) error {
	switch {
	case IsClientError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	case errors.Is(err, meta.ErrConfig):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
