package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neocore-ai/swarm/api/handlers"
	"github.com/neocore-ai/swarm/config"
	"github.com/neocore-ai/swarm/internal/ctxkeys"
	"github.com/neocore-ai/swarm/internal/metrics"
	"github.com/neocore-ai/swarm/types"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one listed is outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	wrapped := h
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// Recovery turns panics into a 500 envelope instead of a dropped connection.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.Any("error", err),
					)
					handlers.WriteError(w, r, types.NewInternalError("internal server error"), nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID assigns each request a uuid, echoed in the X-Request-ID header
// and carried in the context for the response envelope. A client-provided id
// is preserved.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := ctxkeys.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hardeningHeaders go on every response. The CSP is restrictive because this
// API never serves HTML.
var hardeningHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"X-XSS-Protection":        "1; mode=block",
	"Content-Security-Policy": "default-src 'self'",
}

// SecurityHeaders adds common hardening headers to every response.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for name, value := range hardeningHeaders {
				w.Header().Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger emits one structured log line per served request.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			reqID, _ := ctxkeys.RequestID(r.Context())
			logger.Info("request",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// CORS allows the configured origins. An empty allow-list sets no CORS
// headers at all, so browsers reject cross-origin use by default.
func CORS(allowedOrigins []string) Middleware {
	originSet := stringSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(originSet) == 0 {
				if origin != "" && r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			} else if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OTelTracing opens a server span per request using the global tracer, so
// spans appear once telemetry.Init has installed a real provider.
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(
				r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := otel.Tracer("neocore/http").Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLFull(r.URL.String()),
				),
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
		})
	}
}

// visitorSet holds one token bucket per client IP.
type visitorSet struct {
	mu    sync.Mutex
	seen  map[string]*visitor
	rps   float64
	burst int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (vs *visitorSet) bucket(ip string) *rate.Limiter {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.seen[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(vs.rps), vs.burst)}
		vs.seen[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// sweep drops entries idle for longer than maxIdle.
func (vs *visitorSet) sweep(maxIdle time.Duration) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for ip, v := range vs.seen {
		if time.Since(v.lastSeen) > maxIdle {
			delete(vs.seen, ip)
		}
	}
}

// idleVisitorTTL bounds how long an inactive client keeps its token bucket.
const idleVisitorTTL = 3 * time.Minute

// clientIP strips the port from RemoteAddr, falling back to the raw value
// for listeners that hand over bare addresses.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimiter applies a per-client token bucket keyed by remote IP. Idle
// client entries are dropped by a background sweep bound to ctx.
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	vs := &visitorSet{seen: make(map[string]*visitor), rps: rps, burst: burst}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				vs.sweep(idleVisitorTTL)
			case <-ctx.Done():
				return
			}
		}
	}()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !vs.bucket(ip).Allow() {
				logger.Debug("client rate limited", zap.String("ip", ip))
				handlers.WriteError(w, r, types.NewRateLimitedError("too many requests"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyAuth requires a configured key in the X-API-Key header. Paths in
// skipPaths are exempt. When allowQueryAPIKey is set the key may also arrive
// as ?api_key= for clients that cannot set headers.
func APIKeyAuth(validKeys []string, skipPaths []string, allowQueryAPIKey bool, logger *zap.Logger) Middleware {
	keySet := stringSet(validKeys)
	skipSet := stringSet(skipPaths)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, exempt := skipSet[r.URL.Path]; exempt {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" && allowQueryAPIKey {
				key = r.URL.Query().Get("api_key")
			}
			if _, ok := keySet[key]; !ok {
				logger.Debug("API key rejected", zap.String("path", r.URL.Path))
				handlers.WriteError(w, r, types.NewAuthenticationError("invalid or missing API key"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseRSAPublicKey extracts an RSA public key from PEM-encoded PKIX text,
// returning nil when the text does not contain one.
func parseRSAPublicKey(pemText string) *rsa.PublicKey {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil
	}
	key, _ := pub.(*rsa.PublicKey)
	return key
}

// JWTAuth validates bearer tokens from the Authorization header. HS256
// tokens verify against the configured secret, RS256 against the PEM public
// key. Paths in skipPaths are exempt.
func JWTAuth(cfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := stringSet(skipPaths)
	hmacSecret := []byte(cfg.Secret)

	var rsaKey *rsa.PublicKey
	if cfg.PublicKey != "" {
		if rsaKey = parseRSAPublicKey(cfg.PublicKey); rsaKey == nil {
			logger.Warn("failed to parse RSA public key, RS256 verification disabled")
		}
	}

	parserOpts := make([]jwt.ParserOption, 0, 3)
	parserOpts = append(parserOpts, jwt.WithValidMethods([]string{"HS256", "RS256"}))
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}

	// WithValidMethods has already constrained the algorithm by the time the
	// parser asks for a key, so only the two expected families appear here.
	keyFunc := func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(hmacSecret) == 0 {
				return nil, fmt.Errorf("HS256 token but no secret configured")
			}
			return hmacSecret, nil
		case *jwt.SigningMethodRSA:
			if rsaKey == nil {
				return nil, fmt.Errorf("RS256 token but no public key configured")
			}
			return rsaKey, nil
		default:
			return nil, fmt.Errorf("unsupported signing method %s", token.Method.Alg())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, exempt := skipSet[r.URL.Path]; exempt {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				handlers.WriteError(w, r,
					types.NewAuthenticationError("missing or malformed Authorization header"), nil)
				return
			}

			token, err := jwt.Parse(tokenStr, keyFunc, parserOpts...)
			if err != nil || !token.Valid {
				logger.Debug("JWT validation failed", zap.Error(err))
				handlers.WriteError(w, r,
					types.NewAuthenticationError("invalid or expired token"), nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// metricsResponseWriter adds response-size tracking on top of the status
// capture the handlers wrapper already does.
type metricsResponseWriter struct {
	*handlers.ResponseWriter
	bytesWritten int64
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// MetricsMiddleware records request counts, durations, sizes, and the
// in-flight gauge. Path labels are normalized so identifiers in the URL do
// not explode Prometheus cardinality.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			collector.HTTPInFlightInc()
			defer collector.HTTPInFlightDec()

			mrw := &metricsResponseWriter{ResponseWriter: handlers.NewResponseWriter(w)}
			next.ServeHTTP(mrw, r)

			collector.RecordHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				mrw.StatusCode,
				time.Since(start),
				max(r.ContentLength, 0),
				mrw.bytesWritten,
			)
		})
	}
}

// pathSegmentPattern matches path segments that look like dynamic
// identifiers: UUIDs, hex strings (8+ chars), or numeric ids.
var pathSegmentPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8,}(-[0-9a-f]{4,}){0,4}$|^\d+$`)

// normalizePath replaces dynamic path segments with ":id" to keep the
// Prometheus path label bounded.
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/version", "/metrics",
		"/v1/swarm/batch", "/v1/swarm/decide":
		return path
	}

	segments := strings.Split(path, "/")
	changed := false
	for i, seg := range segments {
		if seg != "" && pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			changed = true
		}
	}
	if changed {
		return strings.Join(segments, "/")
	}
	return path
}
