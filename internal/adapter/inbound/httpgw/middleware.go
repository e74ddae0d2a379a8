// Package httpgw is the inbound HTTP adapter: it resolves the caller
// context, routes the governed tool API, and maps pipeline errors to
// HTTP responses.
package httpgw

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/ctxkey"
	"github.com/toolgate/toolgate/internal/domain/reqctx"
	"github.com/toolgate/toolgate/internal/metrics"
)

// CorrelationIDMiddleware honors an inbound X-Correlation-ID or generates
// one, enriches the request logger with it, and echoes it on the response.
func CorrelationIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = "req-" + uuid.NewString()
			}

			enriched := logger.With("correlation_id", correlationID)
			ctx := context.WithValue(r.Context(), ctxkey.LoggerKey{}, enriched)

			w.Header().Set("X-Correlation-ID", correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// AuthAuditor records authentication attempt outcomes.
type AuthAuditor interface {
	LogAuthEvent(ctx context.Context, action, correlationID, userID, status string, details map[string]any)
}

// RequestContextMiddleware resolves the caller context once at request
// entry. Resolution order:
//
//  1. API key (X-API-Key) when an authenticator is configured.
//  2. Bearer token claims when a JWT secret is configured.
//  3. Plain identity headers (X-User-ID, X-User-Roles, X-Scopes,
//     X-Client-ID), only when trustHeaders is set, for deployments
//     that terminate auth upstream.
//
// A presented credential that fails verification resolves to an anonymous
// context and is reported to the auditor. The resolved context is
// immutable downstream.
func RequestContextMiddleware(auth *APIKeyAuthenticator, jwtSecret string, trustHeaders bool, auditor AuthAuditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, failedMethod := resolveRequestContext(r, auth, jwtSecret, trustHeaders)
			rc.CorrelationID = w.Header().Get("X-Correlation-ID")
			rc.SourceIP = clientIP(r)

			if failedMethod != "" && auditor != nil {
				auditor.LogAuthEvent(r.Context(), "authenticate", rc.CorrelationID, "",
					"failure", map[string]any{
						"method":    failedMethod,
						"source_ip": rc.SourceIP,
					})
			}

			ctx := context.WithValue(r.Context(), ctxkey.RequestContextKey{}, rc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestContextFromContext retrieves the resolved caller context.
func RequestContextFromContext(ctx context.Context) *reqctx.RequestContext {
	if rc, ok := ctx.Value(ctxkey.RequestContextKey{}).(*reqctx.RequestContext); ok {
		return rc
	}
	return &reqctx.RequestContext{}
}

// resolveRequestContext maps request credentials to a caller context. The
// second return names the rejected credential type ("api_key" or
// "bearer_token"), empty when nothing failed.
func resolveRequestContext(r *http.Request, auth *APIKeyAuthenticator, jwtSecret string, trustHeaders bool) (*reqctx.RequestContext, string) {
	if auth != nil {
		if key := r.Header.Get("X-API-Key"); key != "" {
			if identity, ok := auth.Authenticate(key); ok {
				return &reqctx.RequestContext{
					UserID:   identity.UserID,
					Roles:    append([]string(nil), identity.Roles...),
					ClientID: r.Header.Get("X-Client-ID"),
				}, ""
			}
			// An invalid key falls through to an anonymous context; the
			// pipeline denies it on empty roles.
			return &reqctx.RequestContext{}, "api_key"
		}
	}

	if token := bearerToken(r); token != "" && jwtSecret != "" {
		if rc := contextFromJWT(token, jwtSecret); rc != nil {
			return rc, ""
		}
		return &reqctx.RequestContext{}, "bearer_token"
	}

	if !trustHeaders {
		return &reqctx.RequestContext{}, ""
	}

	return &reqctx.RequestContext{
		UserID:   r.Header.Get("X-User-ID"),
		Roles:    reqctx.ParseListClaim(r.Header.Get("X-User-Roles")),
		Scopes:   reqctx.ParseListClaim(r.Header.Get("X-Scopes")),
		ClientID: r.Header.Get("X-Client-ID"),
	}, ""
}

// contextFromJWT verifies an HS256 token and maps its claims. Returns nil
// for invalid tokens.
func contextFromJWT(token, secret string) *reqctx.RequestContext {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}

	rc := &reqctx.RequestContext{
		Roles:       reqctx.ParseListClaim(claims["roles"]),
		Scopes:      reqctx.ParseListClaim(claims["scope"]),
		TokenClaims: map[string]any(claims),
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		rc.UserID = sub
	}
	if azp, _ := claims["azp"].(string); azp != "" {
		rc.ClientID = azp
	}
	return rc
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// MetricsMiddleware records request counts and latency per route pattern.
// The endpoint label is the chi route pattern, never the raw path, so
// per-tool paths do not explode metric cardinality.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			endpoint := r.URL.Path
			if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
				if pattern := routeCtx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}
			m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(recorder.status)).Inc()
			m.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
		})
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
