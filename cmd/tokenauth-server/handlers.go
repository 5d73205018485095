package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aivle-project/tokenauth"
	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/middleware"
)

const maxBodyBytes = 1 << 16

type api struct {
	engine   *tokenauth.Engine
	accounts tokenauth.AccountProvider
	logger   *zap.Logger
	metrics  http.Handler
	health   func(ctx context.Context) error
	proxies  []netip.Prefix
}

func (a *api) routes() *mux.Router {
	r := mux.NewRouter()
	guard := middleware.Guard(a.engine)

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", a.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", a.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", a.logout).Methods(http.MethodPost)
	auth.Handle("/logout-all", guard(http.HandlerFunc(a.logoutAll))).Methods(http.MethodPost)
	auth.Handle("/password", guard(http.HandlerFunc(a.changePassword))).Methods(http.MethodPost)
	auth.Handle("/sessions", guard(http.HandlerFunc(a.sessions))).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(guard, middleware.RequireRole("ROLE_ADMIN"))
	admin.HandleFunc("/unlock", a.unlock).Methods(http.MethodPost)

	if a.metrics != nil {
		r.Handle("/metrics", a.metrics).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	return r
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceInfo string `json:"deviceInfo"`
}

type tokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	TokenType        string `json:"tokenType"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
	DeviceID         string `json:"deviceId"`
	PasswordExpired  bool   `json:"passwordExpired,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type passwordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type unlockRequest struct {
	Email string `json:"email"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "email and password are required"})
		return
	}

	ip := a.clientIP(r)
	res, err := a.engine.Login(tokenauth.WithClientIP(r.Context(), ip), tokenauth.LoginInput{
		Identity:   req.Email,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceInfo: firstNonEmpty(req.DeviceInfo, r.UserAgent()),
		IP:         ip,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        res.AccessExpiresIn,
		RefreshExpiresIn: res.RefreshExpiresIn,
		DeviceID:         res.DeviceID,
		PasswordExpired:  res.PasswordExpired,
	})
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := a.engine.Refresh(tokenauth.WithClientIP(r.Context(), a.clientIP(r)), req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        res.AccessExpiresIn,
		RefreshExpiresIn: res.RefreshExpiresIn,
		DeviceID:         res.DeviceID,
	})
}

// logout revokes the refresh token in the body. A valid bearer access token,
// when sent, is denylisted as well; an invalid one is ignored.
func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := tokenauth.WithClientIP(r.Context(), a.clientIP(r))

	var claims *jwt.AccessClaims
	if token, ok := bearer(r); ok {
		if res, err := a.engine.ValidateAccess(ctx, token); err == nil {
			claims = res.Claims
		}
	}

	if err := a.engine.Logout(ctx, req.RefreshToken, claims); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	ctx := tokenauth.WithClientIP(r.Context(), a.clientIP(r))
	if err := a.engine.LogoutAll(ctx, res.UserID, res.UserKey); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	ctx := tokenauth.WithClientIP(r.Context(), a.clientIP(r))

	account, err := a.accounts.GetAccountByID(ctx, res.UserID)
	if err != nil {
		if errors.Is(err, tokenauth.ErrPrincipalNotFound) {
			err = tokenauth.ErrTokenInvalid
		} else {
			err = errors.Join(tokenauth.ErrStoreUnavailable, err)
		}
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.ChangePassword(ctx, account, req.OldPassword, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "email is required"})
		return
	}
	ctx := tokenauth.WithClientIP(r.Context(), a.clientIP(r))
	if err := a.engine.UnlockIdentity(ctx, req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) sessions(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	list, err := a.engine.ActiveSessions(r.Context(), res.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case tokenauth.IsInfrastructure(err), errors.Is(err, tokenauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, tokenauth.ErrLoginLocked):
		return http.StatusLocked
	case errors.Is(err, tokenauth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, tokenauth.ErrEmailVerificationRequired),
		errors.Is(err, tokenauth.ErrPasswordExpired):
		return http.StatusForbidden
	case errors.Is(err, tokenauth.ErrPasswordPolicy),
		errors.Is(err, tokenauth.ErrPasswordReuse):
		return http.StatusBadRequest
	case tokenauth.ErrorCode(err) != "":
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

var messages = map[string]string{
	"INVALID_CREDENTIALS":         "Invalid email or password",
	"EMAIL_VERIFICATION_REQUIRED": "Email verification required",
	"PASSWORD_EXPIRED":            "Password expired",
	"LOGIN_LOCKED":                "Too many failed attempts, try again later",
	"INVALID_REFRESH_TOKEN":       "Invalid refresh token",
	"PASSWORD_REUSE":              "New password must differ from the current one",
	"PASSWORD_POLICY":             "Password does not satisfy policy",
	"TOKEN_REVOKED":               "Access token revoked",
	"INVALID_TOKEN":               "Invalid access token",
	"RATE_LIMITED":                "Too many requests",
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		writeJSON(w, status, errorResponse{Code: "SERVICE_UNAVAILABLE", Message: "Service temporarily unavailable"})
		return
	}

	code := tokenauth.ErrorCode(err)
	writeJSON(w, status, errorResponse{Code: code, Message: messages[code]})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientIP returns the socket peer unless that peer is a trusted proxy. Behind
// a trusted proxy, X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins.
func (a *api) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !a.trusted(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	client := ""
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		client = hop
		if !a.trusted(hop) {
			break
		}
	}
	if client == "" {
		return host
	}
	return client
}

func (a *api) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
