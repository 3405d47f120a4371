package web

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dosu/internal/client"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWithRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithRecovery, WithRequestID(&logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Panic recovered")
	assert.Contains(t, buf.String(), rec.Header().Get(requestIDHeader))
}

func TestWithRequestIDKeepsIncomingID(t *testing.T) {
	logger := zerolog.Nop()
	h := WithRequestID(&logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(requestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestWithCSRF(t *testing.T) {
	var seen string
	h := WithCSRF("X-CSRF-Token")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = client.CSRFToken(r.Context())
	}))

	tests := []struct {
		name string
		req  func() *http.Request
		want string
	}{
		{
			name: "Header",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("X-CSRF-Token", "h")
				return r
			},
			want: "h",
		},
		{
			name: "Form",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("csrf_token=f"))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			want: "f",
		},
		{
			name: "JSONBodyUntouched",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"csrf_token":"j"}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = "unset"
			h.ServeHTTP(httptest.NewRecorder(), tt.req())
			assert.Equal(t, tt.want, seen)
		})
	}
}
