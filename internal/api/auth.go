package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"dosu/internal/config"
	"dosu/internal/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	csrfFormField    = "csrf_token"
	clientKeyUnknown = "unknown"
)

var (
	errMissingCSRF = errors.New("missing csrf token")
	errInvalidCSRF = errors.New("invalid csrf token")
	errRateLimited = errors.New("rate limit exceeded")
)

// Guard enforces the CSRF token on state-changing requests and rate limits
// every client by remote host.
type Guard struct {
	cfg     config.APICSRFConfig
	limiter *rateLimiter
}

func NewGuard(cfg config.APIConfig) *Guard {
	return &Guard{cfg: cfg.CSRF, limiter: newRateLimiter(cfg.RateLimit)}
}

func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		if g.cfg.Enabled && r.Method == http.MethodPost {
			if err := g.checkCSRF(r); err != nil {
				writeError(w, http.StatusForbidden, err.Error())
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkCSRF accepts the token from the configured header or, for form
// posts, the csrf_token field.
func (g *Guard) checkCSRF(r *http.Request) error {
	header := g.cfg.Header
	if header == "" {
		header = "X-CSRF-Token"
	}
	token := strings.TrimSpace(r.Header.Get(header))
	if token == "" && strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		token = strings.TrimSpace(r.PostFormValue(csrfFormField))
	}
	if token == "" {
		return errMissingCSRF
	}

	for _, valid := range g.cfg.Tokens {
		if subtle.ConstantTimeCompare([]byte(valid), []byte(token)) == 1 {
			return nil
		}
	}
	return errInvalidCSRF
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// RateLimitUnaryInterceptor applies the HTTP rate limits to gRPC peers.
func (g *Guard) RateLimitUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !g.limiter.allow(peerKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}
		return handler(ctx, req)
	}
}

func peerKey(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := logging.Component(logger, "grpc")

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", peerKey(ctx)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

const requestIDHeader = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDHeader); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}

func requestIDFromHeader(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}
