package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/importdash/internal/auth"
	"github.com/hitoshi/importdash/internal/middleware"
	"github.com/hitoshi/importdash/internal/model"
)

type mockAuthService struct {
	signUpFn                  func(ctx context.Context, input auth.SignUpInput) (*model.User, error)
	authenticateCredentialsFn func(ctx context.Context, email, password string) (*model.Session, error)
	getLoginURLFn             func(state string) string
	handleCallbackFn          func(ctx context.Context, code string) (*model.Session, error)
	logoutFn                  func(ctx context.Context, sessionID string) error
	resolveSessionFn          func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, input auth.SignUpInput) (*model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAuthService) AuthenticateCredentials(ctx context.Context, email, password string) (*model.Session, error) {
	if m.authenticateCredentialsFn != nil {
		return m.authenticateCredentialsFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://provider.example/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) ResolveSession(ctx context.Context, sessionID string) (*model.User, error) {
	if m.resolveSessionFn != nil {
		return m.resolveSessionFn(ctx, sessionID)
	}
	return nil, nil
}

// compile-time interface check
var _ AuthService = (*mockAuthService)(nil)

func newTestAuthHandler(svc AuthService) *AuthHandler {
	return NewAuthHandler(svc, CookieConfig{MaxAge: 86400}, "http://localhost:3000")
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestSignUp_Created(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, input auth.SignUpInput) (*model.User, error) {
			return &model.User{
				ID:        "user-1",
				Email:     input.Email,
				Name:      input.FirstName + " " + input.LastName,
				CreatedAt: time.Now(),
			}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"firstName":"Taro","lastName":"Yamada","email":"taro@x.com","password":"secret1"}`))
	rec := httptest.NewRecorder()
	h.SignUp()(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var body userResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Email != "taro@x.com" || body.Name != "Taro Yamada" {
		t.Errorf("body = %+v", body)
	}
}

// 入力制約違反が400で拒否され、サービスが呼ばれないことを検証
func TestSignUp_BadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty firstName", `{"firstName":"","lastName":"Y","email":"a@x.com","password":"secret1"}`},
		{"empty lastName", `{"firstName":"T","lastName":"","email":"a@x.com","password":"secret1"}`},
		{"email without @", `{"firstName":"T","lastName":"Y","email":"not-an-email","password":"secret1"}`},
		{"short password", `{"firstName":"T","lastName":"Y","email":"a@x.com","password":"12345"}`},
		{"malformed json", `{broken`},
	}

	for _, tc := range cases {
		svc := &mockAuthService{
			signUpFn: func(ctx context.Context, input auth.SignUpInput) (*model.User, error) {
				t.Errorf("%s: SignUp must not be called", tc.name)
				return nil, nil
			},
		}
		h := newTestAuthHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		h.SignUp()(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, input auth.SignUpInput) (*model.User, error) {
			return nil, model.NewConflictError("email already registered")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"firstName":"T","lastName":"Y","email":"dup@x.com","password":"secret1"}`))
	rec := httptest.NewRecorder()
	h.SignUp()(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// ログイン成功でセッションCookieが設定されることを検証
func TestLogin_SetsSessionCookie(t *testing.T) {
	svc := &mockAuthService{
		authenticateCredentialsFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return &model.Session{ID: "session-token", UserID: "user-1"}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"taro@x.com","password":"secret1"}`))
	rec := httptest.NewRecorder()
	h.Login()(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	cookie := sessionCookieFrom(t, rec)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if cookie.Value != "session-token" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "session-token")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
}

// ログイン失敗が常に同一の401レスポンスで、Cookieが設定されないことを検証
func TestLogin_FailureIsGeneric(t *testing.T) {
	svc := &mockAuthService{
		authenticateCredentialsFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"taro@x.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login()(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
	}
	if sessionCookieFrom(t, rec) != nil {
		t.Error("session cookie must not be set on failure")
	}
}

// ログアウトがCookieの有無に関わらず204を返し、Cookieを削除することを検証
func TestLogout_AlwaysSucceeds(t *testing.T) {
	var revoked string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			revoked = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	// Cookieあり
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "token-1"})
	rec := httptest.NewRecorder()
	h.Logout()(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if revoked != "token-1" {
		t.Errorf("revoked = %q, want %q", revoked, "token-1")
	}
	cookie := sessionCookieFrom(t, rec)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Error("session cookie must be cleared")
	}

	// Cookieなしでも成功
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec = httptest.NewRecorder()
	h.Logout()(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status without cookie = %d, want 204", rec.Code)
	}
}

// stateが一致しないコールバックが拒否され、コード交換が行われないことを検証
func TestGoogleCallback_StateMismatch(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			t.Error("HandleCallback must not be called on state mismatch")
			return nil, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=attacker", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookieName, Value: "expected"})
	rec := httptest.NewRecorder()
	h.GoogleCallback()(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// 正常なコールバックでセッションCookieとリダイレクトが返ることを検証
func TestGoogleCallback_Success(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "auth-code" {
				t.Errorf("code = %q, want %q", code, "auth-code")
			}
			return &model.Session{ID: "oauth-session", UserID: "user-1"}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state=st", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookieName, Value: "st"})
	rec := httptest.NewRecorder()
	h.GoogleCallback()(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	cookie := sessionCookieFrom(t, rec)
	if cookie == nil || cookie.Value != "oauth-session" {
		t.Error("session cookie not set after callback")
	}
	if loc := rec.Header().Get("Location"); loc != "http://localhost:3000" {
		t.Errorf("Location = %q, want %q", loc, "http://localhost:3000")
	}
}

// GoogleLoginがstate Cookieを設定してプロバイダーへリダイレクトすることを検証
func TestGoogleLogin_RedirectsWithState(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	rec := httptest.NewRecorder()
	h.GoogleLogin()(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	var state string
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookieName {
			state = c.Value
		}
	}
	if state == "" {
		t.Fatal("state cookie not set")
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "state="+state) {
		t.Errorf("Location %q does not carry state %q", loc, state)
	}
}
