package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"dosu/internal/config"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestGuardCSRF(t *testing.T) {
	guard := NewGuard(config.APIConfig{
		CSRF: config.APICSRFConfig{Enabled: true, Header: "X-CSRF-Token", Tokens: []string{"secret"}},
	})
	h := guard.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		req  func() *http.Request
		want int
	}{
		{
			name: "GetIsNotChecked",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/x", nil) },
			want: http.StatusNoContent,
		},
		{
			name: "HeaderToken",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
				r.Header.Set("X-CSRF-Token", "secret")
				return r
			},
			want: http.StatusNoContent,
		},
		{
			name: "FormToken",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(url.Values{"csrf_token": {"secret"}}.Encode()))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			want: http.StatusNoContent,
		},
		{
			name: "Missing",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodPost, "/x", nil) },
			want: http.StatusForbidden,
		},
		{
			name: "Wrong",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/x", nil)
				r.Header.Set("X-CSRF-Token", "guess")
				return r
			},
			want: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGuardRateLimit(t *testing.T) {
	guard := NewGuard(config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}})
	h := guard.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"), "same host shares a bucket")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	guard := NewGuard(config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}})
	interceptor := guard.RateLimitUnaryInterceptor()
	handler := func(_ context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}})

	resp, err := interceptor(ctx, "req", info, handler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(ctx, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(nil)
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/m"},
		func(_ context.Context, req any) (any, error) { return req, nil })
	assert.NoError(t, err)
	assert.Equal(t, "req", resp)
}
