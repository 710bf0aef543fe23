package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"drugshop-serverless/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	DateOfBirth string `json:"date_of_birth"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenBody struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email            string `json:"email"`
	VerificationCode string `json:"verification_code"`
}

type resetPasswordRequest struct {
	Email            string `json:"email"`
	VerificationCode string `json:"verification_code"`
	NewPassword      string `json:"new_password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	UserID           string    `json:"user_id"`
	TokenID          string    `json:"token_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Register(r.Context(), RegisterInput{
		Email:       body.Email,
		Password:    body.Password,
		FirstName:   body.FirstName,
		LastName:    body.LastName,
		PhoneNumber: body.PhoneNumber,
		DateOfBirth: body.DateOfBirth,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	missing := map[string]string{}
	if strings.TrimSpace(body.Email) == "" {
		missing["email"] = "this field is required"
	}
	if body.Password == "" {
		missing["password"] = "this field is required"
	}
	if len(missing) > 0 {
		writeValidationError(w, &ValidationError{Fields: missing})
		return
	}

	result, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeServiceError(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Refresh reads the refresh token from the Authorization header, falling back to the body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		var body tokenBody
		if !decodeJSON(w, r, &body, true) {
			return
		}
		token = strings.TrimSpace(body.RefreshToken)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	result, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
		return
	}

	var body tokenBody
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if err := h.service.Logout(r.Context(), token, body.RefreshToken); err != nil {
		h.writeServiceError(w, err, "failed to logout")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		h.writeServiceError(w, err, "failed to request password reset")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "if an account exists for this email, a verification code has been sent",
	})
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var body verifyCodeRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.VerifyResetCode(r.Context(), body.Email, body.VerificationCode); err != nil {
		h.writeServiceError(w, err, "failed to verify code")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code is valid"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), body.Email, body.VerificationCode, body.NewPassword); err != nil {
		h.writeServiceError(w, err, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "password has been reset"})
}

// Session describes the access token that authenticated the request.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	expiresAt := claims.Expiry()
	remaining := int64(time.Until(expiresAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:           claims.Subject,
		TokenID:          claims.ID,
		ExpiresAt:        expiresAt,
		ExpiresInSeconds: remaining,
	})
}

func (h *Handler) AdminPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "admin access granted"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		writeValidationError(w, validationErr)
		return
	}

	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		sentry.CaptureException(err)
		h.logger.Error("auth_request_failed", map[string]any{"error": err.Error()})
		writeError(w, status, fallback)
		return
	}

	writeError(w, status, publicMessage(err))
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr), errors.Is(err, ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), IsTokenError(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateEmail):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid email or password"
	case errors.Is(err, ErrInvalidCode):
		return "invalid or expired verification code"
	case errors.Is(err, ErrUserNotFound):
		return "user not found"
	case errors.Is(err, ErrDuplicateEmail):
		return "email already registered"
	case IsTokenError(err):
		return tokenErrorMessage(err)
	default:
		return "request failed"
	}
}

// decodeJSON writes a 400 and returns false on malformed input. An empty body is
// accepted only when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeValidationError(w http.ResponseWriter, err *ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": err.Fields,
	})
}
