// Package auth implements the session gate: a single configured admin
// credential pair exchanged for a signed cookie-carried token, and the
// middleware that checks it on every request.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GFrasson/personal-drive/internal/config"
	"github.com/GFrasson/personal-drive/internal/logging"
	"github.com/GFrasson/personal-drive/internal/metrics"
)

// CookieName is the session cookie carrying the signed token.
const CookieName = "personal_drive_session"

const roleAdmin = "admin"

// ErrInvalidCredentials is returned on a login mismatch. It carries no
// detail about which field was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

type contextKey string

const claimsContextKey contextKey = "claims"

// Claims holds the session token claims.
type Claims struct {
	Role     string `json:"role"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth issues and verifies session tokens for the single admin identity.
type Auth struct {
	cfg    *config.Config
	secret []byte
}

// New creates an Auth gate from the configuration.
func New(cfg *config.Config) *Auth {
	return &Auth{
		cfg:    cfg,
		secret: []byte(cfg.SessionSecret),
	}
}

// CheckCredentials compares the supplied credentials against the configured
// admin identity. Comparison is constant-time; when a bcrypt hash is
// configured it is used instead of the plaintext password.
func (a *Auth) CheckCredentials(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.AdminUser)) == 1

	var passOK bool
	if a.cfg.AdminPasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.cfg.AdminPasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.AdminPassword)) == 1
	}

	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// Issue mints a signed session token for the admin identity.
func (a *Auth) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.cfg.SessionTTL)
	claims := &Claims{
		Role:     roleAdmin,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   roleAdmin,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenStr, expires, nil
}

// Verify checks a token's signature, expiry and role claim. It returns nil
// on any failure — malformed token, wrong signing method, bad signature,
// expiry, wrong role — so callers cannot leak why verification failed.
func (a *Auth) Verify(tokenStr string) *Claims {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}
	if claims.Role != roleAdmin {
		return nil
	}
	return claims
}

// GetClaims extracts verified claims from the request context, or nil.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// claimsFromRequest verifies the cookie-carried token on a request.
func (a *Auth) claimsFromRequest(r *http.Request) *Claims {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return a.Verify(cookie.Value)
}

// HandleLogin handles POST /api/login.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if err := a.CheckCredentials(req.Username, req.Password); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed", zap.String("remote_addr", r.RemoteAddr))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokenStr, expires, err := a.Issue(req.Username)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("failed to sign session token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, a.sessionCookie(tokenStr, int(a.cfg.SessionTTL.Seconds())))

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful",
		zap.String("username", req.Username),
		zap.Time("expires", expires))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// HandleLogout handles POST /api/logout. Sessions are stateless, so this
// only clears the cookie on the requesting client; a copy of the token
// stays valid until its natural expiry.
func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.sessionCookie("", -1))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (a *Auth) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware gates API routes: requests without a valid session token get
// an unauthorized JSON response and never reach the handler.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := a.claimsFromRequest(r)
		if claims == nil {
			sendAuthError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// PageMiddleware gates page routes: unauthenticated browsers are redirected
// to the login page.
func (a *Auth) PageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := a.claimsFromRequest(r)
		if claims == nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// LoginPageMiddleware wraps the login page: a browser that already has a
// valid session is sent back home instead of seeing the login UI again.
func (a *Auth) LoginPageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.claimsFromRequest(r) != nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
