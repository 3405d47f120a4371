package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dosu/internal/domain"
	"dosu/internal/logging"
	"dosu/internal/metrics"
	"dosu/internal/models"
	"dosu/internal/worker"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the backend answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx backend response.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Endpoint, e.Code)
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	CSRFHeader string
	Retry      worker.RetryPolicy
	Logger     *zerolog.Logger
}

// Client calls the clinic schedule backend.
type Client struct {
	baseURL    *url.URL
	csrfHeader string
	retry      worker.RetryPolicy
	httpClient *http.Client
	noRedirect *http.Client
	logger     *zerolog.Logger

	cache    domain.Cache
	cacheTTL time.Duration
}

var _ domain.Backend = (*Client)(nil)

// New constructs a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CSRFHeader == "" {
		opts.CSRFHeader = "X-CSRF-Token"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	return &Client{
		baseURL:    base,
		csrfHeader: opts.CSRFHeader,
		retry:      opts.Retry,
		httpClient: &http.Client{Timeout: opts.Timeout},
		noRedirect: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: opts.Logger,
	}, nil
}

// UseCache configures optional caching of idempotent lookups.
func (c *Client) UseCache(cache domain.Cache, ttl time.Duration) {
	c.cache = cache
	c.cacheTTL = ttl
}

type dosutypesResponse struct {
	Dosutypes map[string]models.Dosutype `json:"dosutypes"`
}

// Dosutypes lists the treatment types available to a patient.
func (c *Client) Dosutypes(ctx context.Context, patientID int64) (map[string]models.Dosutype, error) {
	cacheKey := fmt.Sprintf("dosutypes:%d", patientID)
	var resp dosutypesResponse
	if c.readCache(ctx, cacheKey, &resp) {
		return resp.Dosutypes, nil
	}

	path := "/dosutype/get_dosutypes/" + strconv.FormatInt(patientID, 10)
	if err := c.fetch(ctx, "get_dosutypes", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return resp.Dosutypes, nil
}

// DaySchedule fetches the hours and appointments of date.
func (c *Client) DaySchedule(ctx context.Context, date time.Time) (*models.DaySchedule, error) {
	body := map[string]string{"date": date.Format(models.DateLayout)}
	var resp models.DaySchedule
	if err := c.fetch(ctx, "get_schedule_day", http.MethodPost, "/dosusess/get_schedule", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MonthSchedule fetches the hours, appointments and new-patient tally of a month.
func (c *Client) MonthSchedule(ctx context.Context, year int, month time.Month) (*models.MonthSchedule, error) {
	body := map[string]string{
		"year":  strconv.Itoa(year),
		"month": strconv.Itoa(int(month)),
	}
	var resp models.MonthSchedule
	if err := c.fetch(ctx, "get_schedule_month", http.MethodPost, "/dosusess/get_schedule", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type appointmentResponse struct {
	Dosusess *models.AppointmentDetail `json:"dosusess"`
}

// Appointment fetches the detail record of one appointment.
func (c *Client) Appointment(ctx context.Context, id int64) (*models.AppointmentDetail, error) {
	var resp appointmentResponse
	path := "/dosusess/get_dosusess/" + strconv.FormatInt(id, 10)
	if err := c.fetch(ctx, "get_dosusess", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Dosusess == nil {
		return nil, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return resp.Dosusess, nil
}

// SelectSlot posts the chosen slot and returns the location the backend
// redirects to. The redirect is not followed and the call is not retried.
func (c *Client) SelectSlot(ctx context.Context, sel models.SlotSelection) (string, error) {
	const endpoint = "available_slot_selected"
	defer metrics.ObserveBackend(endpoint, time.Now())

	form := url.Values{}
	form.Set("csrf_token", CSRFToken(ctx))
	form.Set("sess_date", sel.Date)
	form.Set("room", strconv.Itoa(sel.Room))
	form.Set("slot", strconv.Itoa(sel.Slot))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/dosusess/available_slot_selected"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.addHeaders(ctx, req)

	resp, err := c.noRedirect.Do(req)
	if err != nil {
		metrics.IncBackendError(endpoint)
		return "", fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		metrics.IncBackendError(endpoint)
		return "", &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}
	loc, err := resp.Location()
	if err != nil {
		metrics.IncBackendError(endpoint)
		return "", fmt.Errorf("%s: %w", endpoint, err)
	}
	return loc.String(), nil
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/healthz"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &StatusError{Endpoint: "healthz", Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// fetch performs one JSON call with retries and decodes the answer into out.
func (c *Client) fetch(ctx context.Context, name, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = data
	}

	start := time.Now()
	defer metrics.ObserveBackend(name, start)

	attempt := 0
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := c.do(ctx, name, method, path, payload, out)
		if err != nil && attempt <= c.retry.MaxRetries {
			c.logger.Warn().Err(err).Str("endpoint", name).Int("attempt", attempt).Msg("Backend call failed")
		}
		return err
	})
	if err != nil {
		metrics.IncBackendError(name)
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, name, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return worker.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.addHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return worker.Permanent(fmt.Errorf("%s: %w", name, ErrNotFound))
	case resp.StatusCode >= 500:
		return &StatusError{Endpoint: name, Code: resp.StatusCode}
	case resp.StatusCode >= 300:
		return worker.Permanent(&StatusError{Endpoint: name, Code: resp.StatusCode})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return worker.Permanent(fmt.Errorf("%s: decode response: %w", name, err))
	}
	return nil
}

func (c *Client) addHeaders(ctx context.Context, req *http.Request) {
	if tok := CSRFToken(ctx); tok != "" {
		req.Header.Set(c.csrfHeader, tok)
	}
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.cache == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache backend response")
	}
}
