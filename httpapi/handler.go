package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/httpx"
	"github.com/MrEthical07/authcore/middleware"
)

const (
	refreshCookieName = "refresh_token"
	maxBodyBytes      = 16 << 10
)

// Engine is the subset of *authcore.Engine the handlers use.
type Engine interface {
	Register(ctx context.Context, req authcore.RegisterRequest) (*authcore.AuthSuccess, error)
	Login(ctx context.Context, req authcore.LoginRequest) (*authcore.AuthSuccess, error)
	Logout(ctx context.Context, req authcore.LogoutRequest) (bool, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.AuthSuccess, error)
	Authenticate(ctx context.Context, accessToken string) (*authcore.Principal, error)
	Sessions(ctx context.Context, userID string) ([]authcore.SessionInfo, error)
	LogoutOthers(ctx context.Context, userID, keep string) (int, error)
}

// Options tunes the handlers.
type Options struct {
	// RefreshCookie also delivers the refresh token as an HttpOnly cookie
	// and accepts it from there on /refresh.
	RefreshCookie bool
	// SecureCookie marks the refresh cookie Secure.
	SecureCookie bool
	Logger       zerolog.Logger
}

type handler struct {
	engine Engine
	opts   Options
	logger zerolog.Logger
}

// UserBody is the user part of the success envelope.
type UserBody struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// SuccessBody is the success envelope.
type SuccessBody struct {
	User         UserBody  `json:"user"`
	SessionID    string    `json:"sessionId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Register mounts the endpoints on mux.
func Register(mux *http.ServeMux, engine Engine, opts Options) {
	h := &handler{
		engine: engine,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "httpapi").Logger(),
	}
	guard := middleware.Guard(engine)

	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.Handle("POST /logout", guard(http.HandlerFunc(h.logout)))
	mux.Handle("GET /sessions", guard(http.HandlerFunc(h.sessions)))
	mux.Handle("POST /sessions/revoke-others", guard(http.HandlerFunc(h.revokeOthers)))
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Fingerprint string `json:"deviceFingerprint"`
	}
	if !decode(w, r, &body) {
		return
	}

	res, err := h.engine.Register(middleware.RequestContext(r), authcore.RegisterRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Device:      authcore.Device{Fingerprint: body.Fingerprint},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, r, http.StatusCreated, res)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		RememberMe  bool   `json:"rememberMe"`
		Fingerprint string `json:"deviceFingerprint"`
	}
	if !decode(w, r, &body) {
		return
	}

	res, err := h.engine.Login(middleware.RequestContext(r), authcore.LoginRequest{
		Email:      body.Email,
		Password:   body.Password,
		RememberMe: body.RememberMe,
		Device:     authcore.Device{Fingerprint: body.Fingerprint},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, r, http.StatusOK, res)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.RefreshToken == "" && h.opts.RefreshCookie {
		if c, err := r.Cookie(refreshCookieName); err == nil {
			body.RefreshToken = c.Value
		}
	}

	res, err := h.engine.Refresh(middleware.RequestContext(r), body.RefreshToken)
	if err != nil {
		h.clearCookie(w)
		h.fail(w, r, err)
		return
	}
	h.success(w, r, http.StatusOK, res)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		All bool `json:"all"`
	}
	if !decode(w, r, &body) {
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))

	existed, err := h.engine.Logout(r.Context(), authcore.LogoutRequest{
		SessionID:   p.SessionID.String(),
		AccessToken: token,
		All:         body.All,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.clearCookie(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"loggedOut": existed})
}

type sessionBody struct {
	ID             string    `json:"id"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	list, err := h.engine.Sessions(r.Context(), p.User.ID.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]sessionBody, 0, len(list))
	for _, s := range list {
		out = append(out, sessionBody{
			ID:             s.ID.String(),
			Current:        s.ID == p.SessionID,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastAccessedAt: s.LastAccessedAt,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handler) revokeOthers(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	n, err := h.engine.LogoutOthers(r.Context(), p.User.ID.String(), p.SessionID.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *handler) success(w http.ResponseWriter, r *http.Request, status int, res *authcore.AuthSuccess) {
	if h.opts.RefreshCookie {
		http.SetCookie(w, &http.Cookie{
			Name:     refreshCookieName,
			Value:    res.RefreshToken,
			Path:     "/",
			Expires:  res.RefreshExpiresAt,
			HttpOnly: true,
			Secure:   h.opts.SecureCookie || r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})
	}

	httpx.WriteJSON(w, status, SuccessBody{
		User: UserBody{
			ID:          res.User.ID.String(),
			Email:       res.User.Email,
			DisplayName: res.User.DisplayName,
		},
		SessionID:    res.SessionID.String(),
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
	})
}

func (h *handler) clearCookie(w http.ResponseWriter) {
	if !h.opts.RefreshCookie {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if authcore.KindOf(err).Public() == authcore.KindServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	httpx.WriteError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{
			Type:    string(authcore.KindValidation),
			Message: "malformed request body",
		})
		return false
	}
	return true
}
