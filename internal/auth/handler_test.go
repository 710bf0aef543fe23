package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drugshop-serverless/internal/observability"
)

func newTestMux(env *testEnv) http.Handler {
	h := NewHandler(env.service, observability.NewLoggerTo(env.logs, true))
	requireAuth := RequireAuth(env.service)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /refresh", h.Refresh)
	mux.HandleFunc("POST /logout", h.Logout)
	mux.HandleFunc("POST /request-reset", h.RequestReset)
	mux.HandleFunc("POST /verify-code", h.VerifyCode)
	mux.HandleFunc("POST /reset-password", h.ResetPassword)
	mux.Handle("GET /session", requireAuth(http.HandlerFunc(h.Session)))
	mux.Handle("GET /admin/ping", requireAuth(RequireAdmin(env.credentials)(http.HandlerFunc(h.AdminPing))))
	return mux
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler_RegisterResponseShape(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	rec := doJSON(t, mux, http.MethodPost, "/register", "", map[string]string{
		"email": "alice@x.com", "password": "Secret123", "first_name": "Alice", "last_name": "Nakato",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])

	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@x.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "password_hash")
	assert.NotContains(t, rec.Body.String(), "Secret123")
}

func TestHandler_RegisterValidationAndConflict(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	rec := doJSON(t, mux, http.MethodPost, "/register", "", map[string]string{
		"email": "alice@x.com", "password": "short", "first_name": "Alice", "last_name": "Nakato",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]any)
	assert.Contains(t, fields, "password")

	valid := map[string]string{"email": "alice@x.com", "password": "Secret123", "first_name": "Alice", "last_name": "Nakato"}
	require.Equal(t, http.StatusCreated, doJSON(t, mux, http.MethodPost, "/register", "", valid).Code)
	assert.Equal(t, http.StatusConflict, doJSON(t, mux, http.MethodPost, "/register", "", valid).Code)
}

func TestHandler_RejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	rec := doJSON(t, mux, http.MethodPost, "/login", "", map[string]string{
		"email": "alice@x.com", "password": "Secret123", "is_admin": "true",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_LoginUniformFailure(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, "alice@x.com", "Secret123")

	wrong := doJSON(t, mux, http.MethodPost, "/login", "", map[string]string{"email": "alice@x.com", "password": "Wrong1234"})
	unknown := doJSON(t, mux, http.MethodPost, "/login", "", map[string]string{"email": "nobody@x.com", "password": "Wrong1234"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestHandler_LoginMissingFields(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	rec := doJSON(t, mux, http.MethodPost, "/login", "", map[string]string{"email": "alice@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]any)
	assert.Contains(t, fields, "password")
	assert.NotContains(t, fields, "email")
}

func TestHandler_RefreshFromHeaderAndBody(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	result := env.register(t, "alice@x.com", "Secret123")

	rec := doJSON(t, mux, http.MethodPost, "/refresh", result.RefreshToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody(t, rec)["access_token"])

	rec = doJSON(t, mux, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": result.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/refresh", result.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_RefreshDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	result := env.register(t, "alice@x.com", "Secret123")
	env.users.delete(result.User.ID)

	rec := doJSON(t, mux, http.MethodPost, "/refresh", result.RefreshToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_LogoutThenReuseFails(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	result := env.register(t, "alice@x.com", "Secret123")

	assert.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/session", result.AccessToken, nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodPost, "/logout", result.AccessToken, nil).Code)

	rec := doJSON(t, mux, http.MethodGet, "/session", result.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token has been revoked", decodeBody(t, rec)["error"])

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, mux, http.MethodPost, "/logout", result.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, mux, http.MethodPost, "/logout", "", nil).Code)
}

func TestHandler_Session(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	result := env.register(t, "alice@x.com", "Secret123")

	rec := doJSON(t, mux, http.MethodGet, "/session", result.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, result.User.ID, body["user_id"])
	assert.NotEmpty(t, body["token_id"])

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, mux, http.MethodGet, "/session", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, mux, http.MethodGet, "/session", result.RefreshToken, nil).Code)
}

func TestHandler_AdminPing(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	user := env.register(t, "user@x.com", "Secret123")
	admin := env.register(t, "admin@x.com", "Secret123")
	env.users.setAdmin(admin.User.ID)

	assert.Equal(t, http.StatusForbidden, doJSON(t, mux, http.MethodGet, "/admin/ping", user.AccessToken, nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/admin/ping", admin.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, mux, http.MethodGet, "/admin/ping", "", nil).Code)
}

func TestHandler_ResetFlow(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, "alice@x.com", "Secret123")

	known := doJSON(t, mux, http.MethodPost, "/request-reset", "", map[string]string{"email": "alice@x.com"})
	unknown := doJSON(t, mux, http.MethodPost, "/request-reset", "", map[string]string{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())

	assert.Equal(t, http.StatusBadRequest, doJSON(t, mux, http.MethodPost, "/request-reset", "", map[string]string{"email": "nope"}).Code)

	code := env.mailer.lastResetCode()
	assert.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodPost, "/verify-code", "", map[string]string{
		"email": "alice@x.com", "verification_code": code,
	}).Code)

	bad := doJSON(t, mux, http.MethodPost, "/reset-password", "", map[string]string{
		"email": "alice@x.com", "verification_code": "abcdef", "new_password": "NewSecret456",
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "invalid or expired verification code", decodeBody(t, bad)["error"])

	ok := doJSON(t, mux, http.MethodPost, "/reset-password", "", map[string]string{
		"email": "alice@x.com", "verification_code": code, "new_password": "NewSecret456",
	})
	assert.Equal(t, http.StatusOK, ok.Code)

	again := doJSON(t, mux, http.MethodPost, "/reset-password", "", map[string]string{
		"email": "alice@x.com", "verification_code": code, "new_password": "NewSecret456",
	})
	assert.Equal(t, http.StatusBadRequest, again.Code)
}

func TestHandler_StorageFailureIsGeneric500(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.users.failErr = storageError("query user by email", assert.AnError)

	rec := doJSON(t, mux, http.MethodPost, "/login", "", map[string]string{"email": "alice@x.com", "password": "Secret123"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to login", decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	assert.Contains(t, env.logged(), "auth_request_failed")
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ErrInvalidCredentials:            http.StatusUnauthorized,
		ErrExpiredToken:                  http.StatusUnauthorized,
		ErrRevokedToken:                  http.StatusUnauthorized,
		ErrInvalidCode:                   http.StatusBadRequest,
		newValidationError("email", "x"): http.StatusBadRequest,
		ErrUserNotFound:                  http.StatusNotFound,
		ErrDuplicateEmail:                http.StatusConflict,
		ErrStorage:                       http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
