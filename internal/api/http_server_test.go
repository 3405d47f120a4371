package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"dosu/internal/config"
	"dosu/internal/events"
	"dosu/internal/models"
	"dosu/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend struct {
	db      *store.DB
	ts      *httptest.Server
	patient models.Patient
	manual  models.Dosutype
}

func newTestBackend(t *testing.T, cfg config.APIConfig) *testBackend {
	t.Helper()
	logger := zerolog.Nop()
	db, err := store.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.EnsureDefaults(ctx))

	b := &testBackend{
		db:      db,
		patient: models.Patient{MRN: 1201, Name: "Kim"},
		manual:  models.Dosutype{Name: "Manual 60", SlotQuantity: 2, Price: 50000, Available: true},
	}
	require.NoError(t, db.UpsertPatient(ctx, &b.patient))
	require.NoError(t, db.UpsertDosutype(ctx, &b.manual))
	require.NoError(t, db.CreateWorker(ctx, &models.Worker{Name: "Lee", Room: 1, Available: true}))
	require.NoError(t, db.CreateWorker(ctx, &models.Worker{Name: "Park", Room: 2, Available: true}))

	srv := NewHTTPServer(cfg, db, db, &logger)
	b.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(b.ts.Close)
	return b
}

func (b *testBackend) book(t *testing.T, date string, room, slot int) models.AppointmentDetail {
	t.Helper()
	a := models.AppointmentDetail{
		Appointment: models.Appointment{Date: date, Room: room, Slot: slot},
		PatientID:   b.patient.ID,
		DosutypeID:  b.manual.ID,
	}
	require.NoError(t, b.db.CreateAppointment(context.Background(), &a))
	return a
}

func postJSON(t *testing.T, target, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(target, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetScheduleDay(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	a := b.book(t, "2024-03-04", 1, 2)

	resp := postJSON(t, b.ts.URL+"/dosusess/get_schedule", `{"date": "2024-03-04"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var day models.DaySchedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&day))
	assert.Equal(t, models.DefaultTimeslotConfig(), day.TimeslotConfig)
	require.Len(t, day.Schedule, 1)
	assert.Equal(t, a.ID, day.Schedule[0].ID)
	assert.Equal(t, 2, day.Schedule[0].SlotQuantity)
}

func TestGetScheduleMonth(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	b.book(t, "2024-03-04", 1, 2)
	b.book(t, "2024-03-09", 2, 0)

	resp := postJSON(t, b.ts.URL+"/dosusess/get_schedule", `{"year": "2024", "month": "3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var month models.MonthSchedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&month))
	assert.Len(t, month.ForDay(4), 1)
	assert.Len(t, month.ForDay(9), 1)
	assert.Empty(t, month.ForDay(5))
	require.Len(t, month.NewPatientCount, 1)
	assert.Equal(t, "Lee", month.NewPatientCount[0].WorkerName)
}

func TestGetScheduleBadRequests(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})

	tests := []struct {
		name string
		body string
	}{
		{"NotJSON", `date=2024-03-04`},
		{"BadDate", `{"date": "04/03/2024"}`},
		{"BadMonth", `{"year": "2024", "month": "13"}`},
		{"Empty", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, b.ts.URL+"/dosusess/get_schedule", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetAppointment(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	a := b.book(t, "2024-03-04", 1, 8)

	resp, err := http.Get(b.ts.URL + "/dosusess/get_dosusess/" + itoa(a.ID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Dosusess models.AppointmentDetail `json:"dosusess"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Manual 60", body.Dosusess.DosutypeName)
	assert.Equal(t, "14:00", body.Dosusess.SlotDisplay)

	for path, code := range map[string]int{
		"/dosusess/get_dosusess/999": http.StatusNotFound,
		"/dosusess/get_dosusess/abc": http.StatusBadRequest,
	} {
		resp, err := http.Get(b.ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, code, resp.StatusCode, path)
	}
}

func TestGetDosutypes(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})

	resp, err := http.Get(b.ts.URL + "/dosutype/get_dosutypes/" + itoa(b.patient.ID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Dosutypes map[string]models.Dosutype `json:"dosutypes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Dosutypes, 1)
	assert.Equal(t, "Manual 60", body.Dosutypes[itoa(b.manual.ID)].Name)
}

func TestSlotSelectedRedirects(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	form := url.Values{"sess_date": {"2024-03-04"}, "room": {"2"}, "slot": {"5"}}
	resp, err := client.PostForm(b.ts.URL+"/dosusess/available_slot_selected", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, SelectPatientPath, loc.Path)
	assert.Equal(t, "5", loc.Query().Get("slot"))

	form.Set("room", "3")
	resp, err = client.PostForm(b.ts.URL+"/dosusess/available_slot_selected", form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndCancel(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	body := `{"sess_date": "2024-03-04", "room": 1, "slot": 3, "patient_id": ` + itoa(b.patient.ID) + `, "dosutype_id": ` + itoa(b.manual.ID) + `}`

	resp := postJSON(t, b.ts.URL+"/dosusess/create", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Dosusess models.AppointmentDetail `json:"dosusess"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = postJSON(t, b.ts.URL+"/dosusess/create", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "overlapping booking")

	resp = postJSON(t, b.ts.URL+"/dosusess/"+itoa(created.Dosusess.ID)+"/status", `{"status": "canceled"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, b.ts.URL+"/dosusess/create", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "canceled slot is free again")

	resp = postJSON(t, b.ts.URL+"/dosusess/"+itoa(created.Dosusess.ID)+"/status", `{"status": "archived"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNewPatientCountEndpoint(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	b.book(t, "2024-03-04", 2, 0)

	resp, err := http.Get(b.ts.URL + "/stats/new_patient_count/2024/3")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Counts []models.NewPatientCount `json:"newPatientCount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Counts, 1)
	assert.Equal(t, "Park", body.Counts[0].WorkerName)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("closed") }

func TestReadiness(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewHTTPServer(config.APIConfig{}, nil, failingPinger{}, &logger)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppointmentEvents(t *testing.T) {
	b := newTestBackend(t, config.APIConfig{})
	logger := zerolog.Nop()
	srv := NewHTTPServer(config.APIConfig{}, b.db, b.db, &logger)

	bus := events.NewEventBus()
	var got []events.AppointmentPayload
	record := func(e *events.Event) error {
		var p events.AppointmentPayload
		require.NoError(t, e.Decode(&p))
		got = append(got, p)
		return nil
	}
	bus.Subscribe(events.EventAppointmentCreated, record)
	bus.Subscribe(events.EventAppointmentStatus, record)
	srv.UseEvents(bus)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"sess_date": "2024-03-05", "room": 2, "slot": 1, "patient_id": ` + itoa(b.patient.ID) + `, "dosutype_id": ` + itoa(b.manual.ID) + `}`
	resp := postJSON(t, ts.URL+"/dosusess/create", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, got, 1)

	resp = postJSON(t, ts.URL+"/dosusess/"+itoa(got[0].AppointmentID)+"/status", `{"status": "noshow"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, got, 2)
	assert.Equal(t, events.AppointmentPayload{AppointmentID: got[0].AppointmentID, Date: "2024-03-05", Room: 2, Slot: 1, SlotQuantity: 2, Status: "active"}, got[0])
	assert.Equal(t, "noshow", got[1].Status)
}
