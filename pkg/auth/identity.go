package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"convod/pkg/config"
	"convod/pkg/logger"
	"convod/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxUserKey struct{}

// RequireSignedUser verifies HMAC signature headers and injects the
// verified user id into the request context.
func RequireSignedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Determine caller role set earlier by gateway middleware
		role := r.Header.Get("X-Role-Name")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		// Backend/admin callers: allow missing signature entirely, or accept
		// a header-provided user without a signature. If a signature is
		// present we will verify it below.
		if role == "backend" || role == "admin" {
			if sig == "" {
				// No signature provided; allow the request through. Handlers may
				// accept a user from body or X-User-ID header as appropriate.
				next.ServeHTTP(w, r)
				return
			}
			// signature present -> fallthrough to verification logic
		}

		// If we reach here and there's no signature, the caller is not a
		// trusted backend/admin and we must require signature headers.
		if sig == "" || userID == "" {
			logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		// Retrieve signing keys from the canonical config package.
		keys := config.GetSigningKeys()
		if len(keys) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		// Try all configured signing keys.
		ok := false
		for k := range keys {
			mac := hmac.New(sha256.New, []byte(k))
			mac.Write([]byte(userID))
			expected := hex.EncodeToString(mac.Sum(nil))
			if hmac.Equal([]byte(expected), []byte(sig)) {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("invalid_signature", "user", userID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, userID)
		r = r.WithContext(ctx)
		// do not set headers; handlers should use context via UserIDFromContext
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns the verified user id or empty string.
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateUser(a string) (bool, string) {
	if a == "" {
		return false, "user required"
	}
	if len(a) > 128 {
		return false, "user too long"
	}
	return true, ""
}

// ResolveUserFromRequest is the single canonical resolver handlers should
// call. It prefers a signature-verified user (in context). If a signature
// is present it is authoritative and any conflicting user provided via
// header, body or query causes a 403. When no signature is present,
// backend/admin roles may supply a user via body, header (X-User-ID) or
// query. Frontend callers require a signature and receive 401 when missing.
func ResolveUserFromRequest(r *http.Request, bodyUser string) (string, int, string) {
	if id := UserIDFromContext(r.Context()); id != "" {
		if q := strings.TrimSpace(r.URL.Query().Get("user_id")); q != "" && q != id {
			logger.Warn("user_mismatch_signature_query", "signature", id, "query", q, "path", r.URL.Path)
			return "", http.StatusForbidden, "user mismatch between signature and query param"
		}
		if h := strings.TrimSpace(r.Header.Get("X-User-ID")); h != "" && h != id {
			logger.Warn("user_mismatch_signature_header", "signature", id, "header", h, "path", r.URL.Path)
			return "", http.StatusForbidden, "user mismatch between signature and header"
		}
		if bodyUser != "" && bodyUser != id {
			logger.Warn("user_mismatch_signature_body", "signature", id, "body", bodyUser, "path", r.URL.Path)
			return "", http.StatusForbidden, "user mismatch between signature and body user"
		}
		return id, 0, ""
	}

	// No signature; allow backend/admins to supply a user via body/header/query.
	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		for _, cand := range []string{
			bodyUser,
			strings.TrimSpace(r.Header.Get("X-User-ID")),
			strings.TrimSpace(r.URL.Query().Get("user_id")),
		} {
			if cand == "" {
				continue
			}
			if ok, msg := validateUser(cand); !ok {
				logger.Warn("invalid_backend_user", "user", cand, "path", r.URL.Path)
				return "", http.StatusBadRequest, msg
			}
			return cand, 0, ""
		}
		logger.Warn("backend_missing_user", "path", r.URL.Path)
		return "", http.StatusBadRequest, "user required for backend requests"
	}

	logger.Warn("missing_user_signature", "role", role, "path", r.URL.Path)
	return "", http.StatusUnauthorized, "missing or invalid user signature"
}
