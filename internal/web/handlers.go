package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"dosu/internal/calendar"
	"dosu/internal/client"
	"dosu/internal/dispatch"
	"dosu/internal/metrics"
	"dosu/internal/models"

	"github.com/rs/zerolog"
)

var (
	errBadDate  = errors.New("invalid date")
	errBadParam = errors.New("invalid parameter")
)

var statusFilters = []models.Status{models.StatusActive, models.StatusCanceled, models.StatusNoShow}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	now := s.now().In(s.loc)
	http.Redirect(w, r, fmt.Sprintf("/monthly/%d/%d", now.Year(), int(now.Month())), http.StatusFound)
}

func (s *Server) handleMonthPage(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("month_page")
	s.serveMonth(w, r, "layout")
}

func (s *Server) handleMonthFragment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("month_fragment")
	s.serveMonth(w, r, "month-grid")
}

func (s *Server) serveMonth(w http.ResponseWriter, r *http.Request, name string) {
	year, month, err := parseYearMonth(r.PathValue("year"), r.PathValue("month"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.month.Build(r.Context(), year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := monthView{
		Title:     fmt.Sprintf("%04d-%02d", year, int(month)),
		CSRFToken: client.CSRFToken(r.Context()),
		Page:      page,
	}
	if err := s.pages.render(w, http.StatusOK, pageMonth, name, view); err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleMonthExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("month_export")
	year, month, err := parseYearMonth(r.PathValue("year"), r.PathValue("month"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.month.Build(r.Context(), year, month)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f, err := MonthWorkbook(page, s.cfg.Exports.SheetName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule_%04d-%02d.xlsx"`, year, int(month)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleDayPage(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("day_page")
	s.serveDay(w, r, "layout")
}

func (s *Server) handleDayFragment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("day_fragment")
	s.serveDay(w, r, "day-grid")
}

func (s *Server) serveDay(w http.ResponseWriter, r *http.Request, name string) {
	date, err := s.parseDate(r.PathValue("year"), r.PathValue("month"), r.PathValue("day"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.dayRequest(r, date, r.URL.Query().Get("mode"), r.URL.Query().Get("filter"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.day.Build(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view := dayView{
		Title:     page.DateString(),
		CSRFToken: client.CSRFToken(r.Context()),
		Page:      page,
		Grid: gridView{
			Grid:        page.Grid,
			Date:        page.DateString(),
			Mode:        page.Mode,
			Filter:      page.Filter,
			Diagnostics: page.Diagnostics,
		},
		Filters:     statusFilters,
		NextURL:     dayURL("/daily", page.Next, page.Mode, page.Filter),
		FragmentURL: dayURL("/api/v1/day", page.Date, page.Mode, page.Filter),
	}
	if _, err := s.day.Navigate(page.Date, -1, page.Mode); err == nil {
		view.PrevURL = dayURL("/daily", page.Prev, page.Mode, page.Filter)
	}
	if err := s.pages.render(w, http.StatusOK, pageDay, name, view); err != nil {
		s.fail(w, r, err)
	}
}

type clickResponse struct {
	Actions []dispatch.Action `json:"actions"`
}

// handleClick rebuilds the day the click came from and fires the listeners
// of the clicked cell.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slot_click")
	date, err := time.ParseInLocation(models.DateLayout, r.PostFormValue("date"), s.loc)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %q", errBadDate, r.PostFormValue("date")))
		return
	}
	room, err := strconv.Atoi(r.PostFormValue("room"))
	if err != nil || !models.ValidRoom(room) {
		s.fail(w, r, fmt.Errorf("%w: room %q", errBadParam, r.PostFormValue("room")))
		return
	}
	slot, err := strconv.Atoi(r.PostFormValue("slot"))
	if err != nil || slot < 0 {
		s.fail(w, r, fmt.Errorf("%w: slot %q", errBadParam, r.PostFormValue("slot")))
		return
	}
	req, err := s.dayRequest(r, date, r.PostFormValue("mode"), r.PostFormValue("filter"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	actions, err := s.day.Click(r.Context(), req, room, slot)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if isHTMX(r) {
		s.respondHTMX(w, r, actions)
		return
	}
	writeJSON(w, http.StatusOK, clickResponse{Actions: actions})
}

// respondHTMX turns the first meaningful action into HTMX response headers.
func (s *Server) respondHTMX(w http.ResponseWriter, r *http.Request, actions []dispatch.Action) {
	for _, a := range actions {
		switch a.Kind {
		case dispatch.ActionRedirect:
			w.Header().Set("HX-Redirect", a.Location)
			w.WriteHeader(http.StatusNoContent)
			return
		case dispatch.ActionSelect:
			trigger, err := json.Marshal(map[string]any{"slot-selected": a.Fields})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.Header().Set("HX-Trigger", string(trigger))
			w.WriteHeader(http.StatusNoContent)
			return
		case dispatch.ActionNotice:
			if err := s.pages.render(w, http.StatusOK, pageBase, "notice", a.Message); err != nil {
				s.fail(w, r, err)
			}
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("appointment")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, fmt.Errorf("%w: id %q", errBadParam, r.PathValue("id")))
		return
	}
	detail, err := s.backend.Appointment(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.pages.render(w, http.StatusOK, pageBase, "appointment", detail); err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleDosutypes(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("dosutypes")
	patientID, err := strconv.ParseInt(r.PathValue("patientID"), 10, 64)
	if err != nil || patientID <= 0 {
		s.fail(w, r, fmt.Errorf("%w: patient %q", errBadParam, r.PathValue("patientID")))
		return
	}
	types, err := s.backend.Dosutypes(r.Context(), patientID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	list := make([]models.Dosutype, 0, len(types))
	for _, t := range types {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	if err := s.pages.render(w, http.StatusOK, pageBase, "dosutypes", list); err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) dayRequest(r *http.Request, date time.Time, mode, filter string) (calendar.DayRequest, error) {
	m, err := calendar.ParseMode(mode)
	if err != nil {
		return calendar.DayRequest{}, fmt.Errorf("%w: %w", errBadParam, err)
	}
	f := models.StatusActive
	if filter != "" {
		if f, err = models.ParseStatus(filter); err != nil {
			return calendar.DayRequest{}, fmt.Errorf("%w: %w", errBadParam, err)
		}
	}
	return calendar.DayRequest{
		Date:      date,
		Privilege: s.privilege(r),
		Filter:    f,
		Mode:      m,
	}, nil
}

// privilege reads the caller's privilege level, 0 when absent or malformed.
func (s *Server) privilege(r *http.Request) int {
	v := strings.TrimSpace(r.Header.Get(s.cfg.Schedule.PrivilegeHeader))
	if v == "" {
		return 0
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 {
		return 0
	}
	return p
}

func (s *Server) parseDate(y, m, d string) (time.Time, error) {
	year, month, err := parseYearMonth(y, m)
	if err != nil {
		return time.Time{}, err
	}
	day, err := strconv.Atoi(d)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: day %q", errBadDate, d)
	}
	date := time.Date(year, month, day, 0, 0, 0, 0, s.loc)
	if date.Day() != day || date.Month() != month {
		return time.Time{}, fmt.Errorf("%w: %d-%02d-%s", errBadDate, year, int(month), d)
	}
	return date, nil
}

func parseYearMonth(y, m string) (int, time.Month, error) {
	year, err := strconv.Atoi(y)
	if err != nil || year < 1 {
		return 0, 0, fmt.Errorf("%w: year %q", errBadDate, y)
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: month %q", errBadDate, m)
	}
	return year, time.Month(month), nil
}

func dayURL(prefix string, date time.Time, mode calendar.Mode, filter models.Status) string {
	q := url.Values{}
	q.Set("mode", string(mode))
	q.Set("filter", string(filter))
	return fmt.Sprintf("%s/%d/%d/%d?%s", prefix, date.Year(), int(date.Month()), date.Day(), q.Encode())
}

// fail maps an error to a status. Nothing has been written to w yet.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	var statusErr *client.StatusError
	switch {
	case errors.Is(err, errBadDate), errors.Is(err, errBadParam), errors.Is(err, calendar.ErrPastDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, calendar.ErrNoCell), errors.Is(err, client.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, calendar.ErrFetch), errors.As(err, &statusErr):
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Backend request failed")
		http.Error(w, "schedule backend unavailable", http.StatusBadGateway)
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func isHTMX(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("HX-Request"), "true")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
