package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"dosu/internal/calendar"
	"dosu/internal/grid"
	"dosu/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageDay   = "day"
	pageMonth = "month"
	pageBase  = "base"
)

// gridView is the data of one rendered grid.
type gridView struct {
	Grid        *grid.Grid
	Date        string
	Mode        calendar.Mode
	Filter      models.Status
	Diagnostics []*grid.AppointmentError
}

type dayView struct {
	Title       string
	CSRFToken   string
	Page        *calendar.DayPage
	Grid        gridView
	Filters     []models.Status
	PrevURL     string
	NextURL     string
	FragmentURL string
}

type monthView struct {
	Title     string
	CSRFToken string
	Page      *calendar.MonthPage
}

func monthGridView(md *calendar.MonthDay) gridView {
	return gridView{
		Grid:        md.Grid,
		Date:        md.Date.Format(models.DateLayout),
		Diagnostics: md.Diagnostics,
	}
}

// renderer holds one template set per page; every set shares the layout
// and the grid fragments.
type renderer struct {
	sets map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	funcs := template.FuncMap{
		"join":     strings.Join,
		"gridView": monthGridView,
	}
	base, err := template.New(pageBase).Funcs(funcs).ParseFS(templateFS,
		"templates/layout.html", "templates/grid.html", "templates/appointment.html")
	if err != nil {
		return nil, fmt.Errorf("parse base templates: %w", err)
	}

	rd := &renderer{sets: map[string]*template.Template{pageBase: base}}
	for _, page := range []string{pageDay, pageMonth} {
		set, err := template.Must(base.Clone()).ParseFS(templateFS, "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s templates: %w", page, err)
		}
		rd.sets[page] = set
	}
	return rd, nil
}

// render executes name into a buffer first so a failing template never
// leaves a partial response.
func (rd *renderer) render(w http.ResponseWriter, status int, set, name string, data any) error {
	t, ok := rd.sets[set]
	if !ok {
		return fmt.Errorf("unknown template set %q", set)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("execute %s/%s: %w", set, name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
