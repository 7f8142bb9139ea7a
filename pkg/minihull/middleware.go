package minihull

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"hullclient/pkg/logger"
	"hullclient/pkg/token"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "reqid"
	ctxKeyClaims    ctxKey = "claims"
	ctxKeyRequest   ctxKey = "request"
)

func requestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
		})
	}
}

// RequestIDFrom returns the id assigned to the inbound request.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func recoverer(log logger.Sugared) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorw("panic", "err", rec, "stack", string(debug.Stack()))
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate accepts the connector secret itself or a JWT signed with it.
// Verified JWT claims are put in the request context. With an empty secret
// every request passes, and JWTs are not verified.
func authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Hull-App-Id") == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "missing Hull-App-Id"})
				return
			}
			tok := r.Header.Get("Hull-Access-Token")
			if tok == secret {
				next.ServeHTTP(w, r)
				return
			}
			if strings.Count(tok, ".") == 2 {
				if claims, err := token.Decode(tok, secret); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
					return
				}
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid access token"})
		})
	}
}

// ClaimsFrom returns the verified token claims of the inbound request.
func ClaimsFrom(ctx context.Context) map[string]any {
	c, _ := ctx.Value(ctxKeyClaims).(map[string]any)
	return c
}

func withRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, ctxKeyRequest, req)
}

func current(r *http.Request) Request {
	req, _ := r.Context().Value(ctxKeyRequest).(Request)
	return req
}
