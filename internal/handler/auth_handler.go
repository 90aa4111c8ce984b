// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/importdash/internal/auth"
	"github.com/hitoshi/importdash/internal/middleware"
	"github.com/hitoshi/importdash/internal/model"
)

// oauthStateCookieName はOAuthコールバックのCSRF対策用stateを保持するCookie名。
const oauthStateCookieName = "oauth_state"

// AuthService は認証ハンドラーが依存する認証サービスのインターフェース。
type AuthService interface {
	SignUp(ctx context.Context, input auth.SignUpInput) (*model.User, error)
	AuthenticateCredentials(ctx context.Context, email, password string) (*model.Session, error)
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	ResolveSession(ctx context.Context, sessionID string) (*model.User, error)
}

// CookieConfig はセッションCookieの属性設定。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // 秒
}

// AuthHandler は認証関連のHTTPエンドポイントを提供する。
type AuthHandler struct {
	auth    AuthService
	cookies CookieConfig
	baseURL string
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(authService AuthService, cookies CookieConfig, baseURL string) *AuthHandler {
	return &AuthHandler{
		auth:    authService,
		cookies: cookies,
		baseURL: baseURL,
	}
}

type signUpRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
	}
}

// SignUp はメール/パスワードでの新規登録を処理する。
// POST /auth/signup
func (h *AuthHandler) SignUp() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signUpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewBadInputError("request body must be valid JSON"))
			return
		}

		if err := validateSignUp(req); err != nil {
			h.writeError(w, err)
			return
		}

		user, err := h.auth.SignUp(r.Context(), auth.SignUpInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Password:  req.Password,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toUserResponse(user))
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はメール/パスワードでのログインを処理する。
// POST /auth/login
// 失敗理由（ユーザー不在・パスワード未設定・不一致）はレスポンスから区別できない。
func (h *AuthHandler) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewBadInputError("request body must be valid JSON"))
			return
		}

		session, err := h.auth.AuthenticateCredentials(r.Context(), req.Email, req.Password)
		if err != nil {
			h.writeError(w, err)
			return
		}

		h.setSessionCookie(w, session.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Logout はセッションを失効させる。
// POST /auth/logout
// セッションが無効・不在でも常にCookieを削除して成功を返す（冪等）。
func (h *AuthHandler) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
			sessionID = cookie.Value
		}

		if err := h.auth.Logout(r.Context(), sessionID); err != nil {
			// 失効の失敗はログのみに残す。クライアントには常に成功を返す。
			slog.Error("failed to revoke session on logout",
				slog.String("error", err.Error()),
			)
		}

		h.clearSessionCookie(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Me は現在のユーザーを返す。
// GET /auth/me （セッションミドルウェアの背後に配置される）
func (h *AuthHandler) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toUserResponse(user))
	}
}

// GoogleLogin はGoogle OAuthの認証フローを開始する。
// GET /auth/google/login
// CSRF対策のstateを生成してCookieに保存し、プロバイダーへリダイレクトする。
func (h *AuthHandler) GoogleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := generateState()
		if err != nil {
			slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     oauthStateCookieName,
			Value:    state,
			Path:     "/",
			Domain:   h.cookies.Domain,
			MaxAge:   600, // 10分
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, h.auth.GetLoginURL(state), http.StatusFound)
	}
}

// GoogleCallback はGoogle OAuthのコールバックを処理する。
// GET /auth/google/callback?code=...&state=...
// stateがCookieの値と一致しない場合は処理せずに拒否する。
func (h *AuthHandler) GoogleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stateCookie, err := r.Cookie(oauthStateCookieName)
		if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
			slog.Warn("oauth callback rejected: state mismatch")
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewBadInputError("state parameter does not match"))
			return
		}
		h.clearStateCookie(w)

		code := r.URL.Query().Get("code")
		if code == "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewBadInputError("code parameter must not be empty"))
			return
		}

		session, err := h.auth.HandleCallback(r.Context(), code)
		if err != nil {
			slog.Error("oauth callback failed", slog.String("error", err.Error()))
			h.writeError(w, err)
			return
		}

		h.setSessionCookie(w, session.ID)
		http.Redirect(w, r, h.baseURL, http.StatusFound)
	}
}

// validateSignUp は登録入力の制約を検証する。
func validateSignUp(req signUpRequest) error {
	if req.FirstName == "" {
		return model.NewBadInputError("firstName must not be empty")
	}
	if req.LastName == "" {
		return model.NewBadInputError("lastName must not be empty")
	}
	if !validEmail(req.Email) {
		return model.NewBadInputError("email must contain '@'")
	}
	if len(req.Password) < 6 {
		return model.NewBadInputError("password must be at least 6 characters")
	}
	return nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	for _, c := range email {
		if c == '@' {
			return true
		}
	}
	return false
}

// writeError はサービス層のエラーをHTTPレスポンスに変換する。
func (h *AuthHandler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	slog.Error("auth request failed", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   h.cookies.MaxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はOAuthフローのCSRF対策用stateを生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
